package reports

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rpattn/marketsync/internal/domain"
	"github.com/rpattn/marketsync/internal/spapi"
)

type stubReportAPI struct {
	createID    string
	createErr   error
	reports     []spapi.Report
	getErr      error
	document    domain.ReportDocument
	docErr      error
	getCalls    int
	createCalls int
	docCalls    int
}

func (s *stubReportAPI) CreateReport(ctx context.Context, spec spapi.CreateReportSpecification) (string, error) {
	s.createCalls++
	return s.createID, s.createErr
}

func (s *stubReportAPI) GetReport(ctx context.Context, reportID string) (spapi.Report, error) {
	s.getCalls++
	if s.getErr != nil {
		return spapi.Report{}, s.getErr
	}
	idx := s.getCalls - 1
	if idx >= len(s.reports) {
		idx = len(s.reports) - 1
	}
	return s.reports[idx], nil
}

func (s *stubReportAPI) GetReportDocument(ctx context.Context, documentID string) (domain.ReportDocument, error) {
	s.docCalls++
	if s.docErr != nil {
		return domain.ReportDocument{}, s.docErr
	}
	doc := s.document
	doc.ReportDocumentID = documentID
	return doc, nil
}

type recordingStore struct {
	statuses []domain.ReportStatus
	err      error
}

func (r *recordingStore) Save(ctx context.Context, req domain.ReportRequest) error {
	r.statuses = append(r.statuses, req.Status)
	return r.err
}

func strPtr(s string) *string { return &s }

func fastPolicy(attempts int) PollPolicy {
	return PollPolicy{Interval: time.Millisecond, MaxAttempts: attempts}
}

func newTestRequest() domain.ReportRequest {
	return domain.NewReportRequest("GET_MERCHANT_LISTINGS_ALL_DATA", domain.LocaleDE, nil, nil, nil)
}

func TestRunPollsUntilDocumentAppears(t *testing.T) {
	api := &stubReportAPI{
		createID: "R-1",
		reports: []spapi.Report{
			{ReportID: "R-1", ProcessingStatus: spapi.ProcessingStatusInQueue},
			{ReportID: "R-1", ProcessingStatus: spapi.ProcessingStatusInProgress},
			{ReportID: "R-1", ProcessingStatus: spapi.ProcessingStatusDone, ReportDocumentID: strPtr("X")},
		},
		document: domain.ReportDocument{URL: "https://example.com/x", CompressionAlgorithm: domain.CompressionGzip},
	}
	store := &recordingStore{}
	orch := NewOrchestrator(api, store, fastPolicy(10), nil)

	req := newTestRequest()
	doc, err := orch.Run(context.Background(), &req)
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	if api.getCalls != 3 {
		t.Fatalf("expected 3 polls, got %d", api.getCalls)
	}
	if req.Status != domain.ReportStatusDone || req.ReportID != "R-1" || req.ReportDocumentID == nil || *req.ReportDocumentID != "X" {
		t.Fatalf("unexpected request state %+v", req)
	}
	if req.Attempts != 3 {
		t.Fatalf("expected 3 attempts recorded, got %d", req.Attempts)
	}
	if doc.ReportDocumentID != "X" || !doc.Compressed() {
		t.Fatalf("unexpected document %+v", doc)
	}
	want := []domain.ReportStatus{domain.ReportStatusInProgress, domain.ReportStatusDone}
	if len(store.statuses) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, store.statuses)
	}
	for i := range want {
		if store.statuses[i] != want[i] {
			t.Fatalf("expected transitions %v, got %v", want, store.statuses)
		}
	}
}

func TestPollExhaustionIsFatal(t *testing.T) {
	api := &stubReportAPI{reports: []spapi.Report{{ReportID: "R-1", ProcessingStatus: spapi.ProcessingStatusInProgress}}}
	store := &recordingStore{}
	orch := NewOrchestrator(api, store, fastPolicy(4), nil)

	req := newTestRequest()
	req.Status = domain.ReportStatusInProgress
	req.ReportID = "R-1"

	err := orch.Poll(context.Background(), &req)
	var fatal *domain.ReportFatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if !errors.Is(err, domain.ErrPollExhausted) {
		t.Fatalf("expected exhaustion cause, got %v", err)
	}
	if api.getCalls != 4 {
		t.Fatalf("expected 4 polls, got %d", api.getCalls)
	}
	if req.Status != domain.ReportStatusFatal || req.ErrorMessage == nil {
		t.Fatalf("expected FATAL with message, got %+v", req)
	}
	if store.statuses[len(store.statuses)-1] != domain.ReportStatusFatal {
		t.Fatalf("expected FATAL to be recorded, got %v", store.statuses)
	}
}

func TestPollCancelledProcessingStatusIsFatal(t *testing.T) {
	api := &stubReportAPI{reports: []spapi.Report{{ReportID: "R-1", ProcessingStatus: spapi.ProcessingStatusCancelled}}}
	orch := NewOrchestrator(api, nil, fastPolicy(10), nil)

	req := newTestRequest()
	req.Status = domain.ReportStatusInProgress
	req.ReportID = "R-1"

	err := orch.Poll(context.Background(), &req)
	var fatal *domain.ReportFatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if api.getCalls != 1 {
		t.Fatalf("expected polling to stop at the cancelled status, got %d calls", api.getCalls)
	}
	if fatal.ReportType != "GET_MERCHANT_LISTINGS_ALL_DATA" || fatal.Locale != domain.LocaleDE || fatal.ReportID != "R-1" {
		t.Fatalf("fatal error lacks context: %+v", fatal)
	}
}

func TestRequestPropagatesNetworkError(t *testing.T) {
	netErr := &domain.NetworkError{Method: "POST", Endpoint: "/reports/2021-06-30/reports", StatusCode: 500, Body: "boom"}
	api := &stubReportAPI{createErr: netErr}
	store := &recordingStore{}
	orch := NewOrchestrator(api, store, fastPolicy(1), nil)

	req := newTestRequest()
	_, err := orch.Run(context.Background(), &req)

	var got *domain.NetworkError
	if !errors.As(err, &got) || got.StatusCode != 500 {
		t.Fatalf("expected network error to be reachable, got %v", err)
	}
	if req.Status != domain.ReportStatusFatal {
		t.Fatalf("expected FATAL, got %s", req.Status)
	}
	if api.getCalls != 0 {
		t.Fatalf("expected no polling after a failed create")
	}
}

func TestRunResumesFromDone(t *testing.T) {
	api := &stubReportAPI{document: domain.ReportDocument{URL: "https://example.com/y"}}
	orch := NewOrchestrator(api, nil, fastPolicy(1), nil)

	req := newTestRequest()
	req.Status = domain.ReportStatusDone
	req.ReportID = "R-9"
	req.ReportDocumentID = strPtr("Y")

	doc, err := orch.Run(context.Background(), &req)
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if api.createCalls != 0 || api.getCalls != 0 || api.docCalls != 1 {
		t.Fatalf("expected only document resolution, got create=%d get=%d doc=%d", api.createCalls, api.getCalls, api.docCalls)
	}
	if doc.ReportDocumentID != "Y" {
		t.Fatalf("unexpected document %+v", doc)
	}
}

func doneRequest() domain.ReportRequest {
	req := newTestRequest()
	req.Status = domain.ReportStatusDone
	req.ReportID = "R-1"
	req.ReportDocumentID = strPtr("X")
	return req
}

func TestResolveFailureKeepsDone(t *testing.T) {
	api := &stubReportAPI{docErr: &domain.NetworkError{Method: "GET", Endpoint: "/reports/2021-06-30/documents/X", StatusCode: 503}}
	store := &recordingStore{}
	orch := NewOrchestrator(api, store, fastPolicy(3), nil)

	req := doneRequest()
	_, err := orch.Run(context.Background(), &req)
	var netErr *domain.NetworkError
	if !errors.As(err, &netErr) || netErr.StatusCode != 503 {
		t.Fatalf("expected wrapped 503 network error, got %v", err)
	}
	var fatal *domain.ReportFatalError
	if errors.As(err, &fatal) {
		t.Fatalf("resolve failure must not be fatal, got %v", err)
	}
	if req.Status != domain.ReportStatusDone {
		t.Fatalf("expected DONE to be kept, got %s", req.Status)
	}
	if len(store.statuses) != 0 {
		t.Fatalf("expected no transitions to be saved, got %v", store.statuses)
	}
	if api.createCalls != 0 || api.getCalls != 0 {
		t.Fatalf("expected no create or poll calls, got %d and %d", api.createCalls, api.getCalls)
	}
}

func TestResolveCancelledKeepsDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	api := &stubReportAPI{docErr: &domain.NetworkError{Method: "GET", Endpoint: "/reports/2021-06-30/documents/X", Err: context.Canceled}}
	store := &recordingStore{}
	orch := NewOrchestrator(api, store, fastPolicy(3), nil)

	req := doneRequest()
	_, err := orch.Run(ctx, &req)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if req.Status != domain.ReportStatusDone || req.ErrorMessage != nil {
		t.Fatalf("expected untouched DONE request, got %+v", req)
	}
	if len(store.statuses) != 0 {
		t.Fatalf("expected no transitions to be saved, got %v", store.statuses)
	}
}

func TestResolveWithoutDocumentIDKeepsDone(t *testing.T) {
	api := &stubReportAPI{}
	store := &recordingStore{}
	orch := NewOrchestrator(api, store, fastPolicy(3), nil)

	req := doneRequest()
	req.ReportDocumentID = nil
	if _, err := orch.Resolve(context.Background(), &req); err == nil {
		t.Fatalf("expected error for missing document id")
	}
	if req.Status != domain.ReportStatusDone || len(store.statuses) != 0 || api.docCalls != 0 {
		t.Fatalf("expected untouched DONE request, got %+v saved %v", req, store.statuses)
	}
}

func TestRunRejectsFatalRequest(t *testing.T) {
	orch := NewOrchestrator(&stubReportAPI{}, nil, fastPolicy(1), nil)
	req := newTestRequest()
	req.Status = domain.ReportStatusFatal

	if _, err := orch.Run(context.Background(), &req); !errors.Is(err, domain.ErrReportTerminal) {
		t.Fatalf("expected terminal error, got %v", err)
	}
}

func TestPollStopsOnContextCancel(t *testing.T) {
	api := &stubReportAPI{reports: []spapi.Report{{ReportID: "R-1"}}}
	orch := NewOrchestrator(api, nil, PollPolicy{Interval: time.Hour, MaxAttempts: 5}, nil)

	req := newTestRequest()
	req.Status = domain.ReportStatusInProgress
	req.ReportID = "R-1"

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := orch.Poll(ctx, &req)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if req.Status != domain.ReportStatusInProgress {
		t.Fatalf("cancelled poll must leave the request resumable, got %s", req.Status)
	}
}

func TestNamingFileName(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		naming Naming
		want   string
	}{
		{Naming{ReportType: "GET_MERCHANT_LISTINGS_ALL_DATA", Locale: domain.LocaleDE}, "GET_MERCHANT_LISTINGS_ALL_DATA_DE.tsv"},
		{Naming{ReportType: "GET_SALES", Locale: domain.LocaleUS, Start: &start}, "GET_SALES_US_2024-03-01.tsv"},
		{Naming{ReportType: "GET_SALES", Locale: domain.LocaleUS, Start: &start, End: &end}, "GET_SALES_US_2024-03-01_2024-03-31.tsv"},
		{Naming{ReportType: "../etc", Locale: domain.LocaleUK}, "etc_UK.tsv"},
	}
	for _, tc := range cases {
		if got := tc.naming.FileName(); got != tc.want {
			t.Fatalf("expected %s, got %s", tc.want, got)
		}
	}
}
