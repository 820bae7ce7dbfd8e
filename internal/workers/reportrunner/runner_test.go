package reportrunner

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/marketsync/internal/domain"
	"github.com/rpattn/marketsync/internal/ingestion"
	"github.com/rpattn/marketsync/internal/reports"
	"github.com/rpattn/marketsync/internal/repository"
)

type memoryQueue struct {
	mu       sync.Mutex
	pending  []domain.ReportRequest
	created  []domain.ReportRequest
	released []uuid.UUID
	claimErr error
}

func (q *memoryQueue) Create(ctx context.Context, req domain.ReportRequest) (domain.ReportRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.created = append(q.created, req)
	return req, nil
}

func (q *memoryQueue) ClaimNext(ctx context.Context) (domain.ReportRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.claimErr != nil {
		return domain.ReportRequest{}, q.claimErr
	}
	if len(q.pending) == 0 {
		return domain.ReportRequest{}, repository.ErrNotFound
	}
	req := q.pending[0]
	q.pending = q.pending[1:]
	return req, nil
}

func (q *memoryQueue) Release(ctx context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.released = append(q.released, id)
	return nil
}

func (q *memoryQueue) releasedIDs() []uuid.UUID {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]uuid.UUID(nil), q.released...)
}

type recordingProcessor struct {
	mu    sync.Mutex
	seen  map[uuid.UUID]int
	done  chan struct{}
	want  int
	block bool
	err   error
}

func newRecordingProcessor(want int) *recordingProcessor {
	return &recordingProcessor{seen: make(map[uuid.UUID]int), done: make(chan struct{}), want: want}
}

func (p *recordingProcessor) Process(ctx context.Context, req *domain.ReportRequest) (domain.IngestionResult, error) {
	p.mu.Lock()
	p.seen[req.ID]++
	if len(p.seen) == p.want {
		close(p.done)
	}
	p.mu.Unlock()

	if p.block {
		<-ctx.Done()
		return domain.IngestionResult{}, ctx.Err()
	}
	if p.err != nil {
		return domain.IngestionResult{}, p.err
	}
	result := domain.NewIngestionResult()
	result.Processed = 1
	result.Inserted = 1
	return result, nil
}

func newRequests(n int) []domain.ReportRequest {
	out := make([]domain.ReportRequest, n)
	for i := range out {
		out[i] = domain.NewReportRequest("GET_MERCHANT_LISTINGS_ALL_DATA", domain.LocaleDE, nil, nil, nil)
	}
	return out
}

func runInBackground(ctx context.Context, queue Queue, processor Processor, concurrency int) <-chan struct{} {
	finished := make(chan struct{})
	go func() {
		Run(ctx, queue, processor, concurrency, 5*time.Millisecond, nil)
		close(finished)
	}()
	return finished
}

func TestRunProcessesEveryPendingRequestOnce(t *testing.T) {
	queue := &memoryQueue{pending: newRequests(5)}
	processor := newRecordingProcessor(5)

	ctx, cancel := context.WithCancel(context.Background())
	finished := runInBackground(ctx, queue, processor, 2)

	select {
	case <-processor.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for requests to be processed")
	}
	cancel()
	<-finished

	processor.mu.Lock()
	defer processor.mu.Unlock()
	for id, count := range processor.seen {
		if count != 1 {
			t.Fatalf("request %s processed %d times", id, count)
		}
	}
}

func TestRunReleasesInterruptedRequests(t *testing.T) {
	reqs := newRequests(1)
	queue := &memoryQueue{pending: reqs}
	processor := newRecordingProcessor(1)
	processor.block = true

	ctx, cancel := context.WithCancel(context.Background())
	finished := runInBackground(ctx, queue, processor, 1)

	select {
	case <-processor.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for request to start")
	}
	cancel()
	<-finished

	released := queue.releasedIDs()
	if len(released) != 1 || released[0] != reqs[0].ID {
		t.Fatalf("expected interrupted request to be released, got %v", released)
	}
}

func TestRunKeepsGoingAfterProcessingFailure(t *testing.T) {
	queue := &memoryQueue{pending: newRequests(2)}
	processor := newRecordingProcessor(2)
	processor.err = errors.New("upstream said no")

	ctx, cancel := context.WithCancel(context.Background())
	finished := runInBackground(ctx, queue, processor, 1)

	select {
	case <-processor.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected both requests to be attempted")
	}
	cancel()
	<-finished

	if got := queue.releasedIDs(); len(got) != 0 {
		t.Fatalf("failed requests must not be released, got %v", got)
	}
}

func TestRunWithoutWorkersReturnsImmediately(t *testing.T) {
	done := make(chan struct{})
	go func() {
		Run(context.Background(), &memoryQueue{}, newRecordingProcessor(1), 0, time.Millisecond, nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected Run to return without workers")
	}
}

func TestProcessInlineStoresThenProcesses(t *testing.T) {
	queue := &memoryQueue{}
	processor := newRecordingProcessor(1)
	req := newRequests(1)[0]

	stored, result, err := ProcessInline(context.Background(), queue, processor, req)
	if err != nil {
		t.Fatalf("process inline: %v", err)
	}
	if stored.ID != req.ID || len(queue.created) != 1 {
		t.Fatalf("expected request to be stored first, created=%d", len(queue.created))
	}
	if result.Inserted != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
}

type stubLifecycle struct {
	doc domain.ReportDocument
	err error
}

func (s stubLifecycle) Run(ctx context.Context, req *domain.ReportRequest) (domain.ReportDocument, error) {
	if s.err != nil {
		return domain.ReportDocument{}, s.err
	}
	req.Status = domain.ReportStatusDone
	return s.doc, nil
}

type fileDownloader struct {
	dir     string
	content string
	naming  reports.Naming
	err     error
}

func (d *fileDownloader) Fetch(ctx context.Context, doc domain.ReportDocument, naming reports.Naming) (string, error) {
	d.naming = naming
	if d.err != nil {
		return "", d.err
	}
	path := filepath.Join(d.dir, naming.FileName())
	return path, os.WriteFile(path, []byte(d.content), 0o600)
}

type capturingIngester struct {
	req  ingestion.Request
	body string
}

func (c *capturingIngester) Ingest(ctx context.Context, req ingestion.Request) (domain.IngestionResult, error) {
	c.req = req
	data, err := io.ReadAll(req.Source)
	if err != nil {
		return domain.IngestionResult{}, err
	}
	c.body = string(data)
	result := domain.NewIngestionResult()
	result.Inserted = 7
	return result, nil
}

func TestPipelineFetchesAndIngestsAsReportOrigin(t *testing.T) {
	downloader := &fileDownloader{dir: t.TempDir(), content: "ASIN\tTitle\nB000\tWidget\n"}
	ingester := &capturingIngester{}
	pipeline := NewPipeline(
		stubLifecycle{doc: domain.ReportDocument{ReportDocumentID: "doc-1", URL: "https://example.invalid/doc"}},
		downloader,
		ingester,
		nil,
		nil,
	)

	req := newRequests(1)[0]
	result, err := pipeline.Process(context.Background(), &req)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Inserted != 7 {
		t.Fatalf("unexpected result %+v", result)
	}
	if ingester.req.Origin != domain.IngestionOriginReport || ingester.req.Locale != domain.LocaleDE {
		t.Fatalf("unexpected ingestion request %+v", ingester.req)
	}
	if ingester.req.FileName != "GET_MERCHANT_LISTINGS_ALL_DATA_DE.tsv" {
		t.Fatalf("unexpected file name %q", ingester.req.FileName)
	}
	if ingester.body != downloader.content {
		t.Fatalf("ingester read %q", ingester.body)
	}
	if downloader.naming.ReportType != req.ReportType {
		t.Fatalf("unexpected naming %+v", downloader.naming)
	}
}

func TestPipelineStopsWhenLifecycleFails(t *testing.T) {
	boom := &domain.ReportFatalError{RequestID: "r", Reason: "poll report failed"}
	ingester := &capturingIngester{}
	pipeline := NewPipeline(stubLifecycle{err: boom}, &fileDownloader{dir: t.TempDir()}, ingester, nil, nil)

	req := newRequests(1)[0]
	_, err := pipeline.Process(context.Background(), &req)
	var fatal *domain.ReportFatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if ingester.req.FileName != "" {
		t.Fatalf("ingester must not run after a lifecycle failure")
	}
}

type savedStates struct {
	saved []domain.ReportRequest
}

func (s *savedStates) Save(ctx context.Context, req domain.ReportRequest) error {
	s.saved = append(s.saved, req)
	return nil
}

func TestPipelineRecordsFetchFailureAfterDone(t *testing.T) {
	downloader := &fileDownloader{dir: t.TempDir(), err: &domain.NetworkError{Method: "GET", Endpoint: "https://example.invalid/doc", StatusCode: 503}}
	ingester := &capturingIngester{}
	store := &savedStates{}
	pipeline := NewPipeline(stubLifecycle{doc: domain.ReportDocument{ReportDocumentID: "doc-1"}}, downloader, ingester, store, nil)

	req := newRequests(1)[0]
	if _, err := pipeline.Process(context.Background(), &req); err == nil {
		t.Fatalf("expected fetch failure")
	}
	if ingester.req.FileName != "" {
		t.Fatalf("ingester must not run after a fetch failure")
	}
	if len(store.saved) != 1 {
		t.Fatalf("expected one recorded state, got %d", len(store.saved))
	}
	saved := store.saved[0]
	if saved.Status != domain.ReportStatusDone {
		t.Fatalf("expected DONE to be kept, got %s", saved.Status)
	}
	if saved.ErrorMessage == nil || *saved.ErrorMessage == "" {
		t.Fatalf("expected the fetch error to be recorded")
	}
	if !saved.AwaitingIngestion() {
		t.Fatalf("request must stay claimable for another ingestion attempt: %+v", saved)
	}
}

func TestPipelineMarksIngestedOnSuccess(t *testing.T) {
	downloader := &fileDownloader{dir: t.TempDir(), content: "ASIN\tTitle\nB000\tWidget\n"}
	store := &savedStates{}
	pipeline := NewPipeline(stubLifecycle{doc: domain.ReportDocument{ReportDocumentID: "doc-1"}}, downloader, &capturingIngester{}, store, nil)

	req := newRequests(1)[0]
	previous := "ingestion failed: earlier attempt"
	req.ErrorMessage = &previous
	if _, err := pipeline.Process(context.Background(), &req); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(store.saved) != 1 {
		t.Fatalf("expected one recorded state, got %d", len(store.saved))
	}
	saved := store.saved[0]
	if saved.Status != domain.ReportStatusDone || saved.IngestedAt == nil || saved.ErrorMessage != nil {
		t.Fatalf("expected ingested DONE request without error, got %+v", saved)
	}
	if saved.AwaitingIngestion() {
		t.Fatalf("ingested request must not be claimed again")
	}
}

func TestPipelineSkipsRecordingWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	downloader := &fileDownloader{dir: t.TempDir(), err: context.Canceled}
	store := &savedStates{}
	pipeline := NewPipeline(stubLifecycle{doc: domain.ReportDocument{ReportDocumentID: "doc-1"}}, downloader, &capturingIngester{}, store, nil)

	req := newRequests(1)[0]
	if _, err := pipeline.Process(ctx, &req); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(store.saved) != 0 || req.ErrorMessage != nil {
		t.Fatalf("cancelled work must not be recorded as a failure")
	}
}
