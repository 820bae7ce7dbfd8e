package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/rpattn/marketsync/internal/categoryloader"
	"github.com/rpattn/marketsync/internal/domain"
	"github.com/rpattn/marketsync/internal/repository"
	"github.com/rpattn/marketsync/pkg/validator"

	"github.com/google/uuid"
)

var (
	// ErrMissingColumns is returned when a file lacks columns every row needs.
	ErrMissingColumns = errors.New("missing required columns")
	// ErrUnknownLocale is returned for a locale without a marketplace.
	ErrUnknownLocale = errors.New("unknown locale")
)

const (
	defaultLookupWindow = 256
	defaultLookupWait   = 2 * time.Millisecond
)

// Notifier is told about every finished ingestion run.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Notification summarises a finished run.
type Notification struct {
	RunID      uuid.UUID              `json:"runId"`
	Locale     domain.Locale          `json:"locale"`
	FileName   string                 `json:"fileName"`
	Origin     domain.IngestionOrigin `json:"origin"`
	Result     domain.IngestionResult `json:"result"`
	FinishedAt time.Time              `json:"finishedAt"`
}

// Service turns untrusted product rows into validated, deduplicated records and bulk-persists them.
type Service struct {
	products   repository.ProductRepository
	categories repository.CategoryRepository
	logRepo    repository.IngestionLogRepository
	notifier   Notifier
	layout     *Layout
	logger     *slog.Logger
	window     int
	lookupWait time.Duration
}

// Option customises a Service.
type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithLayout(layout *Layout) Option {
	return func(s *Service) {
		if layout != nil {
			s.layout = layout
		}
	}
}

// WithLookupWindow sets how many rows are read ahead so their category lookups share a batch.
func WithLookupWindow(rows int) Option {
	return func(s *Service) {
		if rows > 0 {
			s.window = rows
		}
	}
}

// NewService creates a new ingestion service. logRepo may be nil.
func NewService(
	products repository.ProductRepository,
	categories repository.CategoryRepository,
	logRepo repository.IngestionLogRepository,
	opts ...Option,
) *Service {
	s := &Service{
		products:   products,
		categories: categories,
		logRepo:    logRepo,
		layout:     DefaultLayout(),
		logger:     slog.Default(),
		window:     defaultLookupWindow,
		lookupWait: defaultLookupWait,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request describes one ingestion batch. Either Rows or Source must be set.
type Request struct {
	Locale   domain.Locale
	FileName string
	Source   io.Reader
	Rows     RowReader
	Origin   domain.IngestionOrigin
}

type run struct {
	id      uuid.UUID
	req     Request
	logger  *slog.Logger
	binding binding
	seen    map[string]struct{}
	loaders map[domain.Locale]*categoryloader.Loader
}

type pending struct {
	row      Row
	asin     string
	locale   domain.Locale
	category string
	thunk    categoryloader.Thunk
	outcome  *Outcome
}

// Ingest streams the rows, folds each row outcome into the result and persists the
// surviving records in a single bulk insert once the stream is drained.
func (s *Service) Ingest(ctx context.Context, req Request) (domain.IngestionResult, error) {
	result := domain.NewIngestionResult()

	if req.Locale.MarketplaceID() == "" {
		return result, fmt.Errorf("%w %q", ErrUnknownLocale, req.Locale)
	}
	if s.products == nil || s.categories == nil {
		return result, errors.New("ingestion service is missing its repositories")
	}
	if req.Origin == "" {
		req.Origin = domain.IngestionOriginUpload
	}

	rows := req.Rows
	if rows == nil {
		var err error
		rows, err = NewRowReader(req.FileName, req.Source)
		if err != nil {
			return result, err
		}
	}
	if closer, ok := rows.(io.Closer); ok {
		defer closer.Close()
	}

	bound, err := s.bind(rows.Headers())
	if err != nil {
		return result, err
	}

	r := &run{
		id:      uuid.New(),
		req:     req,
		binding: bound,
		seen:    make(map[string]struct{}),
		loaders: make(map[domain.Locale]*categoryloader.Loader),
	}
	r.logger = s.logger.With("run_id", r.id.String(), "locale", req.Locale.String(), "file", req.FileName, "origin", string(req.Origin))
	start := time.Now()
	r.logger.Info("ingestion started", "columns", len(bound.columns))

	tally := NewTally()
	window := make([]pending, 0, s.window)
	for {
		row, err := rows.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var malformed *MalformedRowError
			if !errors.As(err, &malformed) {
				return tally.Result, fmt.Errorf("%w: failed to read %s: %w", ErrUnreadableInput, req.FileName, err)
			}
			o := invalidOutcome(malformed.Line, "", &domain.ValidationError{Field: "row", Reason: malformed.Err.Error()})
			window = append(window, pending{row: Row{Number: malformed.Line}, outcome: &o})
		} else {
			window = append(window, s.prepare(ctx, r, row))
		}

		if len(window) >= s.window {
			if tally, err = s.settle(ctx, r, tally, window); err != nil {
				return tally.Result, err
			}
			window = window[:0]
		}
	}
	if tally, err = s.settle(ctx, r, tally, window); err != nil {
		return tally.Result, err
	}

	result = tally.Result
	result.RunID = r.id
	if len(tally.Records) > 0 {
		inserted, err := s.products.BulkInsert(ctx, tally.Records, repository.BulkInsertOptions{IgnoreDuplicates: true})
		if err != nil {
			r.logger.Error("bulk insert failed", "records", len(tally.Records), "error", err)
			return result, &domain.PersistenceError{
				Locale:   req.Locale,
				FileName: req.FileName,
				Records:  len(tally.Records),
				Err:      err,
			}
		}
		result.Inserted = inserted
	}

	r.logger.Info("ingestion finished",
		"processed", result.Processed,
		"accepted", result.Accepted,
		"inserted", result.Inserted,
		"duplicates", result.Duplicates,
		"missing_lookups", len(result.MissingLookups),
		"errors", len(result.Errors),
		"duration", time.Since(start),
	)
	s.notify(ctx, r, result)
	return result, nil
}

// prepare runs the in-order checks (dedup first) and queues the category lookup.
func (s *Service) prepare(ctx context.Context, r *run, row Row) pending {
	p := pending{row: row, locale: r.req.Locale}
	p.asin = r.binding.value(row, FieldASIN)

	if p.asin == "" {
		o := invalidOutcome(row.Number, "", &domain.ValidationError{Field: FieldASIN, Reason: "value is required"})
		p.outcome = &o
		return p
	}

	if raw := r.binding.value(row, FieldLocale); raw != "" {
		locale, err := domain.ParseLocale(raw)
		if err != nil {
			o := invalidOutcome(row.Number, p.asin, &domain.ValidationError{Field: FieldLocale, Value: raw, Reason: "unknown locale"})
			p.outcome = &o
			return p
		}
		p.locale = locale
	}

	key := domain.DedupKey(p.asin, p.locale)
	if _, dup := r.seen[key]; dup {
		o := duplicateOutcome(row.Number, key)
		p.outcome = &o
		return p
	}
	r.seen[key] = struct{}{}

	p.category = r.binding.value(row, FieldCategory)
	if p.category == "" {
		o := missingOutcome(row.Number, p.asin, "", "category is empty")
		p.outcome = &o
		return p
	}
	p.thunk = s.loaderFor(r, p.locale).Load(ctx, p.category)
	return p
}

// settle resolves queued lookups in row order and folds every outcome into the tally.
func (s *Service) settle(ctx context.Context, r *run, tally Tally, window []pending) (Tally, error) {
	for _, p := range window {
		var o Outcome
		switch {
		case p.outcome != nil:
			o = *p.outcome
		default:
			category, err := p.thunk()
			if err != nil {
				return tally, err
			}
			if category == nil {
				o = missingOutcome(p.row.Number, p.asin, p.category, fmt.Sprintf("no category named %q for locale %s", p.category, p.locale))
				break
			}
			record, verr := s.buildRecord(r, p, *category)
			if verr != nil {
				o = invalidOutcome(p.row.Number, p.asin, verr)
				break
			}
			o = okOutcome(p.row.Number, record)
		}
		tally = Reduce(tally, o)
		s.logOutcome(ctx, r, o)
	}
	return tally, nil
}

func (s *Service) loaderFor(r *run, locale domain.Locale) *categoryloader.Loader {
	loader, ok := r.loaders[locale]
	if !ok {
		loader = categoryloader.New(s.categories, locale, s.lookupWait, s.window)
		r.loaders[locale] = loader
	}
	return loader
}

// buildRecord coerces every bound column; the first failing field rejects the row.
func (s *Service) buildRecord(r *run, p pending, category domain.Category) (domain.ProductRecord, *domain.ValidationError) {
	record := domain.NewProductRecord(p.asin, p.locale)
	record.CategoryID = category.ID
	record.CategoryName = category.Name(p.locale)
	if record.CategoryName == "" {
		record.CategoryName = p.category
	}
	record.Source = string(r.req.Origin) + ":" + r.req.FileName

	for _, bc := range r.binding.columns {
		col := bc.column
		switch col.Field {
		case FieldASIN, FieldCategory, FieldLocale:
			continue
		}
		raw := p.row.Fields[bc.header]

		switch col.Kind {
		case KindNumber:
			value, err := validator.Number(raw, col.Rule)
			if err != nil {
				return domain.ProductRecord{}, fieldError(col.Field, raw, err)
			}
			record.Metrics[col.Field] = value
		case KindDate:
			value, err := validator.Date(raw, col.AllowNull)
			if err != nil {
				return domain.ProductRecord{}, fieldError(col.Field, raw, err)
			}
			if col.Field == FieldListedSince {
				record.ListedSince = value
			} else if value != nil {
				record.Attributes[col.Field] = value.Format(time.RFC3339)
			}
		default:
			value, err := validator.Text(raw, col.MaxLen, col.AllowNull)
			if err != nil {
				return domain.ProductRecord{}, fieldError(col.Field, raw, err)
			}
			switch {
			case col.Field == FieldTitle:
				record.Title = *value
			case col.Field == FieldBrand:
				record.Brand = value
			case value != nil:
				record.Attributes[col.Field] = *value
			}
		}
	}
	return record, nil
}

func fieldError(field, raw string, err error) *domain.ValidationError {
	var fe *validator.FieldError
	if errors.As(err, &fe) {
		return &domain.ValidationError{Field: field, Value: raw, Reason: fe.Reason}
	}
	return &domain.ValidationError{Field: field, Value: raw, Reason: err.Error()}
}

func (s *Service) logOutcome(ctx context.Context, r *run, o Outcome) {
	var (
		kind       string
		externalID string
		err        error
	)
	switch o.Kind {
	case OutcomeDuplicate:
		kind, err = domain.IngestionLogKindDuplicate, o.Duplicate
	case OutcomeMissingLookup:
		kind, externalID = domain.IngestionLogKindMissingLookup, o.Missing.ExternalID
		err = errors.New(o.Missing.Reason)
	case OutcomeInvalid:
		kind, externalID = domain.IngestionLogKindInvalid, o.Invalid.ExternalID
		err = &domain.ValidationError{Field: o.Invalid.Field, Value: o.Invalid.Value, Reason: o.Invalid.Reason}
	default:
		return
	}
	r.logger.Debug("row skipped", "row", o.RowNumber, "outcome", o.Kind.String(), "external_id", externalID, "reason", err.Error())
	s.summaryRowError(ctx, r, o.RowNumber, externalID, kind, err)
}

func (s *Service) summaryRowError(ctx context.Context, r *run, rowNumber int, externalID, kind string, err error) {
	if s.logRepo == nil || err == nil {
		return
	}
	entry := domain.IngestionLogEntry{
		RunID:        r.id,
		Locale:       r.req.Locale,
		Origin:       r.req.Origin,
		FileName:     r.req.FileName,
		RowNumber:    &rowNumber,
		ExternalID:   externalID,
		Kind:         kind,
		ErrorMessage: err.Error(),
	}
	if recErr := s.logRepo.Record(ctx, entry); recErr != nil {
		r.logger.Warn("failed to record ingestion log", "row", rowNumber, "error", recErr)
	}
}

func (s *Service) notify(ctx context.Context, r *run, result domain.IngestionResult) {
	if s.notifier == nil {
		return
	}
	n := Notification{
		RunID:      r.id,
		Locale:     r.req.Locale,
		FileName:   r.req.FileName,
		Origin:     r.req.Origin,
		Result:     result,
		FinishedAt: time.Now().UTC(),
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		r.logger.Warn("ingestion notification failed", "error", err)
	}
}

type boundColumn struct {
	column Column
	header string
}

type binding struct {
	columns []boundColumn
	headers map[string]string
}

func (b binding) value(row Row, field string) string {
	header, ok := b.headers[field]
	if !ok {
		return ""
	}
	return strings.TrimSpace(row.Fields[header])
}

// bind maps file headers onto layout columns. Unknown headers are ignored; the first
// header matching a field wins.
func (s *Service) bind(headers []string) (binding, error) {
	b := binding{headers: make(map[string]string)}
	for _, header := range headers {
		col, ok := s.layout.Lookup(header)
		if !ok {
			continue
		}
		if _, taken := b.headers[col.Field]; taken {
			continue
		}
		b.headers[col.Field] = header
	}

	var missing []string
	for _, col := range s.layout.Columns() {
		header, ok := b.headers[col.Field]
		if !ok {
			if col.Required() {
				missing = append(missing, col.Headers[0])
			}
			continue
		}
		b.columns = append(b.columns, boundColumn{column: col, header: header})
	}
	if len(missing) > 0 {
		return binding{}, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}
	return b, nil
}
