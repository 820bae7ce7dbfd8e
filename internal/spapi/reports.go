package spapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rpattn/marketsync/internal/domain"
)

const reportsBasePath = "/reports/2021-06-30"

// Processing statuses reported by getReport.
const (
	ProcessingStatusInQueue    = "IN_QUEUE"
	ProcessingStatusInProgress = "IN_PROGRESS"
	ProcessingStatusDone       = "DONE"
	ProcessingStatusCancelled  = "CANCELLED"
	ProcessingStatusFatal      = "FATAL"
)

// CreateReportSpecification is the body of createReport.
type CreateReportSpecification struct {
	ReportType     string            `json:"reportType"`
	MarketplaceIDs []string          `json:"marketplaceIds"`
	DataStartTime  *time.Time        `json:"dataStartTime,omitempty"`
	DataEndTime    *time.Time        `json:"dataEndTime,omitempty"`
	ReportOptions  map[string]string `json:"reportOptions,omitempty"`
}

// CreateReportScheduleSpecification is the body of createReportSchedule.
type CreateReportScheduleSpecification struct {
	ReportType             string            `json:"reportType" validate:"required"`
	MarketplaceIDs         []string          `json:"marketplaceIds" validate:"required,min=1"`
	Period                 string            `json:"period" validate:"required,startswith=P"`
	NextReportCreationTime *time.Time        `json:"nextReportCreationTime,omitempty"`
	ReportOptions          map[string]string `json:"reportOptions,omitempty"`
}

// Report is the getReport payload; ReportDocumentID is set once the report is DONE.
type Report struct {
	ReportID         string     `json:"reportId"`
	ReportType       string     `json:"reportType"`
	ProcessingStatus string     `json:"processingStatus,omitempty"`
	ReportDocumentID *string    `json:"reportDocumentId,omitempty"`
	CreatedTime      *time.Time `json:"createdTime,omitempty"`
}

type createReportResponse struct {
	ReportID string `json:"reportId"`
}

type createScheduleResponse struct {
	ReportScheduleID string `json:"reportScheduleId"`
}

// CreateReport requests a new report and returns its id.
func (c *Client) CreateReport(ctx context.Context, spec CreateReportSpecification) (string, error) {
	var out createReportResponse
	if err := c.send(ctx, OperationCreateReport, http.MethodPost, reportsBasePath+"/reports", nil, spec, &out); err != nil {
		return "", fmt.Errorf("create report %s: %w", spec.ReportType, err)
	}
	if out.ReportID == "" {
		return "", fmt.Errorf("create report %s: response has no reportId", spec.ReportType)
	}
	return out.ReportID, nil
}

// GetReport fetches the current state of a report.
func (c *Client) GetReport(ctx context.Context, reportID string) (Report, error) {
	var out Report
	endpoint := reportsBasePath + "/reports/" + url.PathEscape(reportID)
	if err := c.send(ctx, OperationGetReport, http.MethodGet, endpoint, nil, nil, &out); err != nil {
		return Report{}, fmt.Errorf("get report %s: %w", reportID, err)
	}
	return out, nil
}

// GetReportDocument resolves a document id into a download url.
func (c *Client) GetReportDocument(ctx context.Context, documentID string) (domain.ReportDocument, error) {
	var out domain.ReportDocument
	endpoint := reportsBasePath + "/documents/" + url.PathEscape(documentID)
	if err := c.send(ctx, OperationGetReportDocument, http.MethodGet, endpoint, nil, nil, &out); err != nil {
		return domain.ReportDocument{}, fmt.Errorf("get report document %s: %w", documentID, err)
	}
	if strings.TrimSpace(out.URL) == "" {
		return domain.ReportDocument{}, fmt.Errorf("get report document %s: response has no url", documentID)
	}
	if out.ReportDocumentID == "" {
		out.ReportDocumentID = documentID
	}
	if out.CompressionAlgorithm == "" {
		out.CompressionAlgorithm = domain.CompressionNone
	}
	return out, nil
}

// CreateReportSchedule registers a recurring report and returns the schedule id.
func (c *Client) CreateReportSchedule(ctx context.Context, spec CreateReportScheduleSpecification) (string, error) {
	var out createScheduleResponse
	if err := c.send(ctx, OperationCreateReportSchedule, http.MethodPost, reportsBasePath+"/schedules", nil, spec, &out); err != nil {
		return "", fmt.Errorf("create report schedule %s: %w", spec.ReportType, err)
	}
	return out.ReportScheduleID, nil
}
