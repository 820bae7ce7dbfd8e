package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rpattn/marketsync/internal/domain"
)

const maxUploadMemory = 32 << 20

// Handler exposes ingestion as an HTTP endpoint.
type Handler struct {
	service *Service
}

// NewHTTPHandler wraps the service with a POST endpoint taking a multipart "file" and "locale".
func NewHTTPHandler(service *Service) http.Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		http.Error(w, fmt.Sprintf("invalid form data: %v", err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, fmt.Sprintf("file required: %v", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	locale, err := domain.ParseLocale(strings.TrimSpace(r.FormValue("locale")))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid locale: %v", err), http.StatusBadRequest)
		return
	}

	result, err := h.service.Ingest(r.Context(), Request{
		Locale:   locale,
		FileName: header.Filename,
		Source:   file,
		Origin:   domain.IngestionOriginUpload,
	})
	if err != nil {
		http.Error(w, err.Error(), StatusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// StatusFor maps an ingestion error to an HTTP status. Problems with the
// uploaded file are the caller's fault; repository and lookup failures are not.
func StatusFor(err error) int {
	var malformed *MalformedRowError
	switch {
	case errors.Is(err, ErrMissingColumns),
		errors.Is(err, ErrUnsupportedFormat),
		errors.Is(err, ErrNoHeader),
		errors.Is(err, ErrUnreadableInput),
		errors.Is(err, ErrUnknownLocale),
		errors.As(err, &malformed):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
