// Package reports drives asynchronous marketplace reports from creation to a local document file.
package reports

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rpattn/marketsync/internal/domain"
	"github.com/rpattn/marketsync/internal/spapi"
)

const (
	DefaultPollInterval    = 60 * time.Second
	DefaultMaxPollAttempts = 60
)

// ReportAPI is the subset of the Reports API the orchestrator drives.
type ReportAPI interface {
	CreateReport(ctx context.Context, spec spapi.CreateReportSpecification) (string, error)
	GetReport(ctx context.Context, reportID string) (spapi.Report, error)
	GetReportDocument(ctx context.Context, documentID string) (domain.ReportDocument, error)
}

// StatusRecorder persists every state transition of a request.
type StatusRecorder interface {
	Save(ctx context.Context, req domain.ReportRequest) error
}

// PollPolicy bounds the wait for a report document.
type PollPolicy struct {
	Interval    time.Duration
	MaxAttempts int
}

func (p PollPolicy) withDefaults() PollPolicy {
	if p.Interval <= 0 {
		p.Interval = DefaultPollInterval
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxPollAttempts
	}
	return p
}

// Orchestrator moves a ReportRequest through REQUESTED, IN_PROGRESS and DONE.
// An unrecoverable failure before DONE moves it to FATAL.
type Orchestrator struct {
	api     ReportAPI
	store   StatusRecorder
	policy  PollPolicy
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewOrchestrator builds an orchestrator. store may be nil when transitions need not be persisted.
func NewOrchestrator(api ReportAPI, store StatusRecorder, policy PollPolicy, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		api:     api,
		store:   store,
		policy:  policy.withDefaults(),
		logger:  logger,
		nowFunc: time.Now,
	}
}

// Run resumes the request from its current state and returns the resolved document.
func (o *Orchestrator) Run(ctx context.Context, req *domain.ReportRequest) (domain.ReportDocument, error) {
	if req.Status == domain.ReportStatusFatal {
		return domain.ReportDocument{}, fmt.Errorf("report request %s: %w", req.ID, domain.ErrReportTerminal)
	}
	if req.Status == domain.ReportStatusRequested {
		if err := o.Request(ctx, req); err != nil {
			return domain.ReportDocument{}, err
		}
	}
	if req.Status == domain.ReportStatusInProgress {
		if err := o.Poll(ctx, req); err != nil {
			return domain.ReportDocument{}, err
		}
	}
	return o.Resolve(ctx, req)
}

// Request creates the report upstream and records its id.
func (o *Orchestrator) Request(ctx context.Context, req *domain.ReportRequest) error {
	if req.Status != domain.ReportStatusRequested {
		return fmt.Errorf("report request %s: cannot create report in status %s", req.ID, req.Status)
	}
	logger := o.requestLogger(req)

	reportID, err := o.api.CreateReport(ctx, spapi.CreateReportSpecification{
		ReportType:     req.ReportType,
		MarketplaceIDs: req.MarketplaceIDs,
		DataStartTime:  req.DataStartTime,
		DataEndTime:    req.DataEndTime,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return o.fail(ctx, req, "create report", err)
	}

	req.ReportID = reportID
	req.Status = domain.ReportStatusInProgress
	if err := o.save(ctx, req); err != nil {
		return err
	}
	logger.Info("report requested", "report_id", reportID)
	return nil
}

// Poll checks the report until a document id appears, the attempts run out or ctx ends.
func (o *Orchestrator) Poll(ctx context.Context, req *domain.ReportRequest) error {
	if req.Status != domain.ReportStatusInProgress {
		return fmt.Errorf("report request %s: cannot poll in status %s", req.ID, req.Status)
	}
	if req.ReportID == "" {
		return o.fail(ctx, req, "poll report", errors.New("request has no report id"))
	}
	logger := o.requestLogger(req).With("report_id", req.ReportID)

	for attempt := 1; attempt <= o.policy.MaxAttempts; attempt++ {
		report, err := o.api.GetReport(ctx, req.ReportID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return o.fail(ctx, req, "poll report", err)
		}
		req.Attempts++

		err = checkReport(report)
		switch {
		case err == nil:
			req.ReportDocumentID = report.ReportDocumentID
			req.Status = domain.ReportStatusDone
			if err := o.save(ctx, req); err != nil {
				return err
			}
			logger.Info("report ready", "document_id", *report.ReportDocumentID, "attempts", req.Attempts)
			return nil
		case !errors.Is(err, domain.ErrReportNotReady):
			return o.fail(ctx, req, "poll report", err)
		}

		logger.Debug("report not ready", "attempt", attempt, "processing_status", report.ProcessingStatus)
		if attempt == o.policy.MaxAttempts {
			break
		}
		if err := sleep(ctx, o.policy.Interval); err != nil {
			return err
		}
	}

	return o.fail(ctx, req, "poll report", fmt.Errorf("%w after %d attempts", domain.ErrPollExhausted, o.policy.MaxAttempts))
}

// Resolve turns the document id of a finished report into a download descriptor.
func (o *Orchestrator) Resolve(ctx context.Context, req *domain.ReportRequest) (domain.ReportDocument, error) {
	if req.Status != domain.ReportStatusDone {
		return domain.ReportDocument{}, fmt.Errorf("report request %s: cannot resolve document in status %s", req.ID, req.Status)
	}
	if req.ReportDocumentID == nil || *req.ReportDocumentID == "" {
		return domain.ReportDocument{}, fmt.Errorf("report request %s: resolve document: request has no document id", req.ID)
	}

	// A failed lookup keeps DONE; the document is resolved again on the next claim.
	doc, err := o.api.GetReportDocument(ctx, *req.ReportDocumentID)
	if err != nil {
		if ctx.Err() != nil {
			return domain.ReportDocument{}, ctx.Err()
		}
		o.requestLogger(req).Warn("report document lookup failed", "document_id", *req.ReportDocumentID, "error", err)
		return domain.ReportDocument{}, fmt.Errorf("report request %s: resolve document: %w", req.ID, err)
	}
	o.requestLogger(req).Info("report document resolved", "document_id", doc.ReportDocumentID, "compression", doc.CompressionAlgorithm)
	return doc, nil
}

// checkReport maps a getReport payload onto ready, not ready or fatal.
func checkReport(report spapi.Report) error {
	if report.ReportDocumentID != nil && *report.ReportDocumentID != "" {
		return nil
	}
	switch report.ProcessingStatus {
	case spapi.ProcessingStatusCancelled, spapi.ProcessingStatusFatal:
		return fmt.Errorf("report processing ended with status %s", report.ProcessingStatus)
	}
	return domain.ErrReportNotReady
}

func (o *Orchestrator) fail(ctx context.Context, req *domain.ReportRequest, step string, cause error) error {
	reason := step + " failed"
	message := reason + ": " + cause.Error()
	req.Status = domain.ReportStatusFatal
	req.ErrorMessage = &message

	o.requestLogger(req).Error("report request failed", "step", step, "error", cause)

	fatal := &domain.ReportFatalError{
		RequestID:  req.ID.String(),
		ReportType: req.ReportType,
		Locale:     req.Locale,
		ReportID:   req.ReportID,
		Reason:     reason,
		Err:        cause,
	}
	// ctx may already be cancelled; the FATAL state must still be written.
	if err := o.save(context.WithoutCancel(ctx), req); err != nil {
		return errors.Join(fatal, err)
	}
	return fatal
}

func (o *Orchestrator) save(ctx context.Context, req *domain.ReportRequest) error {
	req.UpdatedAt = o.nowFunc().UTC()
	if o.store == nil {
		return nil
	}
	if err := o.store.Save(ctx, *req); err != nil {
		return fmt.Errorf("failed to record report request %s as %s: %w", req.ID, req.Status, err)
	}
	return nil
}

func (o *Orchestrator) requestLogger(req *domain.ReportRequest) *slog.Logger {
	return o.logger.With("request_id", req.ID.String(), "report_type", req.ReportType, "locale", req.Locale.String())
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
