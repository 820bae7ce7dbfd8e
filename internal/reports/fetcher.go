package reports

import (
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/rpattn/marketsync/internal/domain"
)

const maxDocumentErrorBody = 8 << 10

// Archiver keeps a copy of every downloaded document.
type Archiver interface {
	Archive(ctx context.Context, path, key string) error
}

// Fetcher downloads report documents, inflating gzip bodies on the fly.
type Fetcher struct {
	client   *http.Client
	dir      string
	archiver Archiver
	logger   *slog.Logger
}

// NewFetcher builds a fetcher writing into dir. archiver may be nil.
func NewFetcher(client *http.Client, dir string, archiver Archiver, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	if dir == "" {
		dir = os.TempDir()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{client: client, dir: dir, archiver: archiver, logger: logger}
}

// Open streams the decoded document body. The caller must close it.
func (f *Fetcher) Open(ctx context.Context, doc domain.ReportDocument) (io.ReadCloser, error) {
	if doc.URL == "" {
		return nil, fmt.Errorf("report document %s has no url", doc.ReportDocumentID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, doc.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build document request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &domain.NetworkError{Method: http.MethodGet, Endpoint: redactURL(doc.URL), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxDocumentErrorBody))
		return nil, &domain.NetworkError{Method: http.MethodGet, Endpoint: redactURL(doc.URL), StatusCode: resp.StatusCode, Body: string(raw)}
	}

	if !doc.Compressed() {
		return resp.Body, nil
	}
	zr, err := gzip.NewReader(resp.Body)
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	return &gzipBody{Reader: zr, body: resp.Body}, nil
}

// Fetch downloads the document into the fetcher directory and returns the file path.
// The file appears under its final name only once fully written.
func (f *Fetcher) Fetch(ctx context.Context, doc domain.ReportDocument, naming Naming) (string, error) {
	wrap := func(err error) error {
		return fmt.Errorf("fetch %s/%s from %s: %w", naming.ReportType, naming.Locale, redactURL(doc.URL), err)
	}

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return "", wrap(fmt.Errorf("failed to create download directory: %w", err))
	}

	body, err := f.Open(ctx, doc)
	if err != nil {
		return "", wrap(err)
	}
	defer body.Close()

	finalPath := filepath.Join(f.dir, naming.FileName())
	tmp, err := os.CreateTemp(f.dir, naming.FileName()+".*.part")
	if err != nil {
		return "", wrap(fmt.Errorf("failed to create temp file: %w", err))
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	start := time.Now()
	buffered := bufio.NewWriter(tmp)
	counter := &countingWriter{writer: buffered}
	if _, err := io.Copy(counter, body); err != nil {
		tmp.Close()
		return "", wrap(fmt.Errorf("failed to stream document: %w", err))
	}
	if err := buffered.Flush(); err != nil {
		tmp.Close()
		return "", wrap(fmt.Errorf("failed to flush document: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return "", wrap(fmt.Errorf("failed to close temp file: %w", err))
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", wrap(fmt.Errorf("failed to move document into place: %w", err))
	}
	committed = true

	f.logger.Info("report document downloaded",
		"report_type", naming.ReportType,
		"locale", naming.Locale.String(),
		"path", finalPath,
		"bytes", counter.count,
		"compression", doc.CompressionAlgorithm,
		"duration", time.Since(start),
	)

	if f.archiver != nil {
		if err := f.archiver.Archive(ctx, finalPath, naming.FileName()); err != nil {
			return "", wrap(fmt.Errorf("failed to archive document: %w", err))
		}
	}
	return finalPath, nil
}

type gzipBody struct {
	*gzip.Reader
	body io.ReadCloser
}

func (g *gzipBody) Close() error {
	zerr := g.Reader.Close()
	if err := g.body.Close(); err != nil {
		return err
	}
	return zerr
}

type countingWriter struct {
	writer *bufio.Writer
	count  int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.writer.Write(p)
	c.count += int64(n)
	return n, err
}

// redactURL drops the query, which carries presigned credentials.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	u.RawQuery = ""
	u.User = nil
	return u.String()
}
