package reports

import (
	"strings"
	"time"

	"github.com/rpattn/marketsync/internal/domain"
)

const (
	namingDateLayout = "2006-01-02"
	documentExt      = ".tsv"
)

// Naming determines the local file name of a downloaded report.
type Naming struct {
	ReportType string
	Locale     domain.Locale
	Start      *time.Time
	End        *time.Time
}

// NamingFor derives the file naming from a report request.
func NamingFor(req domain.ReportRequest) Naming {
	return Naming{
		ReportType: req.ReportType,
		Locale:     req.Locale,
		Start:      req.DataStartTime,
		End:        req.DataEndTime,
	}
}

// FileName renders <reportType>_<locale>[_<start>][_<end>].tsv.
func (n Naming) FileName() string {
	parts := []string{sanitizeFileComponent(n.ReportType, "report"), sanitizeFileComponent(n.Locale.String(), "unknown")}
	if n.Start != nil {
		parts = append(parts, n.Start.UTC().Format(namingDateLayout))
	}
	if n.End != nil {
		parts = append(parts, n.End.UTC().Format(namingDateLayout))
	}
	return strings.Join(parts, "_") + documentExt
}

func sanitizeFileComponent(value, fallback string) string {
	value = strings.TrimSpace(value)
	builder := strings.Builder{}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			builder.WriteRune(r)
		case r >= '0' && r <= '9':
			builder.WriteRune(r)
		case r == '-' || r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('-')
		}
	}
	result := strings.Trim(builder.String(), "-")
	if result == "" {
		return fallback
	}
	return result
}
