package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rpattn/marketsync/internal/db"
	"github.com/rpattn/marketsync/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DefaultClaimLease is how long a claimed request stays hidden from other workers.
const DefaultClaimLease = 2 * time.Hour

const reportColumns = `id, report_type, marketplace_ids, locale, data_start_time, data_end_time,
	status, report_id, report_document_id, attempts, error_message, ingested_at, created_at, updated_at`

type reportRepository struct {
	conn  *db.Connection
	lease time.Duration
}

// NewReportRepository wires a repository backed by the shared connection.
func NewReportRepository(conn *db.Connection, lease time.Duration) ReportRepository {
	if lease <= 0 {
		lease = DefaultClaimLease
	}
	return &reportRepository{conn: conn, lease: lease}
}

func (r *reportRepository) Create(ctx context.Context, req domain.ReportRequest) (domain.ReportRequest, error) {
	if r.conn == nil || r.conn.Pool == nil {
		return domain.ReportRequest{}, fmt.Errorf("report repository not initialized")
	}
	row := r.conn.Pool.QueryRow(ctx,
		`INSERT INTO report_requests
			(id, report_type, marketplace_ids, locale, data_start_time, data_end_time,
			 status, report_id, report_document_id, attempts, error_message, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING `+reportColumns,
		req.ID, req.ReportType, req.MarketplaceIDs, string(req.Locale), req.DataStartTime, req.DataEndTime,
		string(req.Status), req.ReportID, req.ReportDocumentID, req.Attempts, req.ErrorMessage, req.CreatedAt, req.UpdatedAt,
	)
	created, err := scanReportRequest(row)
	if err != nil {
		return domain.ReportRequest{}, fmt.Errorf("failed to create report request: %w", err)
	}
	return created, nil
}

func (r *reportRepository) Get(ctx context.Context, id uuid.UUID) (domain.ReportRequest, error) {
	if r.conn == nil || r.conn.Pool == nil {
		return domain.ReportRequest{}, fmt.Errorf("report repository not initialized")
	}
	row := r.conn.Pool.QueryRow(ctx, `SELECT `+reportColumns+` FROM report_requests WHERE id = $1`, id)
	req, err := scanReportRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ReportRequest{}, fmt.Errorf("report request %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.ReportRequest{}, fmt.Errorf("failed to load report request %s: %w", id, err)
	}
	return req, nil
}

// ClaimNext leases the oldest request that still needs work: a pending report
// or a finished one whose document has not been ingested yet.
func (r *reportRepository) ClaimNext(ctx context.Context) (domain.ReportRequest, error) {
	if r.conn == nil || r.conn.Pool == nil {
		return domain.ReportRequest{}, fmt.Errorf("report repository not initialized")
	}

	var claimed domain.ReportRequest
	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT `+reportColumns+` FROM report_requests
			WHERE (status IN ('REQUESTED', 'IN_PROGRESS')
			       OR (status = 'DONE' AND ingested_at IS NULL AND report_document_id IS NOT NULL))
			  AND (claimed_until IS NULL OR claimed_until < now())
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1`)
		req, err := scanReportRequest(row)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE report_requests SET claimed_until = now() + $2::interval WHERE id = $1`,
			req.ID, r.lease.String(),
		); err != nil {
			return fmt.Errorf("failed to claim report request %s: %w", req.ID, err)
		}
		claimed = req
		return nil
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ReportRequest{}, ErrNotFound
	}
	if err != nil {
		return domain.ReportRequest{}, err
	}
	return claimed, nil
}

// Save writes the request state. FATAL rows never change and DONE rows may only
// stay DONE; either attempt returns domain.ErrReportTerminal.
func (r *reportRepository) Save(ctx context.Context, req domain.ReportRequest) error {
	if r.conn == nil || r.conn.Pool == nil {
		return fmt.Errorf("report repository not initialized")
	}
	tag, err := r.conn.Pool.Exec(ctx,
		`UPDATE report_requests
		 SET status = $2, report_id = $3, report_document_id = $4, attempts = $5,
		     error_message = $6, ingested_at = $7, updated_at = $8,
		     claimed_until = CASE
		         WHEN $2 = 'FATAL' OR ($2 = 'DONE' AND $7::timestamptz IS NOT NULL) THEN NULL
		         ELSE claimed_until
		     END
		 WHERE id = $1
		   AND status <> 'FATAL'
		   AND (status <> 'DONE' OR $2 = 'DONE')`,
		req.ID, string(req.Status), req.ReportID, req.ReportDocumentID, req.Attempts, req.ErrorMessage, req.IngestedAt, req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save report request %s: %w", req.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("report request %s is missing or already terminal: %w", req.ID, domain.ErrReportTerminal)
	}
	return nil
}

func (r *reportRepository) Release(ctx context.Context, id uuid.UUID) error {
	if r.conn == nil || r.conn.Pool == nil {
		return fmt.Errorf("report repository not initialized")
	}
	if _, err := r.conn.Pool.Exec(ctx, `UPDATE report_requests SET claimed_until = NULL WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to release report request %s: %w", id, err)
	}
	return nil
}

func scanReportRequest(row pgx.Row) (domain.ReportRequest, error) {
	var (
		req    domain.ReportRequest
		locale string
		status string
	)
	err := row.Scan(
		&req.ID,
		&req.ReportType,
		&req.MarketplaceIDs,
		&locale,
		&req.DataStartTime,
		&req.DataEndTime,
		&status,
		&req.ReportID,
		&req.ReportDocumentID,
		&req.Attempts,
		&req.ErrorMessage,
		&req.IngestedAt,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return domain.ReportRequest{}, err
	}
	req.Locale = domain.Locale(locale)
	req.Status = domain.ReportStatus(status)
	return req, nil
}
