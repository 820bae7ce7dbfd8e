package ingestion

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rpattn/marketsync/internal/categoryloader"
	"github.com/rpattn/marketsync/internal/domain"
	"github.com/rpattn/marketsync/internal/repository"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

const testHeader = "ASIN,Title,Categories: Root,Reviews: Rating,Buy Box: Current\n"

func TestServiceIngestDeduplicatesWithinBatch(t *testing.T) {
	service, products, _, _ := newTestService()

	data := testHeader +
		"B000000001,Alpha,Toys,4.5,19.99\n" +
		"B000000002,Beta,Toys,4.0,9.99\n" +
		"B000000001,Alpha again,Toys,3.0,18.00\n"

	result, err := service.Ingest(context.Background(), Request{
		Locale:   domain.LocaleUS,
		FileName: "products.csv",
		Source:   strings.NewReader(data),
	})
	if err != nil {
		t.Fatalf("ingest returned error: %v", err)
	}

	if result.Processed != 3 || result.Duplicates != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(result.DuplicateKeys) != 1 || result.DuplicateKeys[0] != "B000000001|US" {
		t.Fatalf("unexpected duplicate keys: %v", result.DuplicateKeys)
	}

	count := 0
	for _, record := range products.inserted {
		if record.ASIN == "B000000001" {
			count++
			if record.Title != "Alpha" {
				t.Fatalf("expected first sighting to win, got title %q", record.Title)
			}
		}
	}
	if count != 1 || len(products.inserted) != 2 {
		t.Fatalf("expected 2 records with one for B000000001, got %d records (%d for A)", len(products.inserted), count)
	}
	if products.calls != 1 {
		t.Fatalf("expected a single bulk insert, got %d", products.calls)
	}
	if !products.ignoreDuplicates {
		t.Fatalf("expected bulk insert to ignore duplicates")
	}
}

func TestServiceIngestRecordsMissingLookup(t *testing.T) {
	service, products, _, logs := newTestService()

	data := testHeader +
		"B000000001,Alpha,Toys,4.5,19.99\n" +
		"B000000003,Gamma,Garden Gnomes,4.1,5.00\n"

	result, err := service.Ingest(context.Background(), Request{
		Locale:   domain.LocaleUS,
		FileName: "products.csv",
		Source:   strings.NewReader(data),
	})
	if err != nil {
		t.Fatalf("ingest returned error: %v", err)
	}

	if len(result.MissingLookups) != 1 {
		t.Fatalf("expected one missing lookup, got %+v", result.MissingLookups)
	}
	missing := result.MissingLookups[0]
	if missing.ExternalID != "B000000003" || missing.RawValue != "Garden Gnomes" || missing.RowNumber != 3 {
		t.Fatalf("unexpected missing lookup: %+v", missing)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("expected errors to be unaffected, got %+v", result.Errors)
	}
	for _, record := range products.inserted {
		if record.ASIN == "B000000003" {
			t.Fatalf("row with unresolved category must not be persisted")
		}
	}
	if len(logs.entries) != 1 || logs.entries[0].Kind != domain.IngestionLogKindMissingLookup {
		t.Fatalf("expected a missing lookup log entry, got %+v", logs.entries)
	}
}

func TestServiceIngestValidatesFields(t *testing.T) {
	service, products, _, _ := newTestService()

	data := testHeader +
		"B000000001,Alpha,Toys,-1,19.99\n" +
		"B000000002,Beta,Toys,4.56,\n"

	result, err := service.Ingest(context.Background(), Request{
		Locale:   domain.LocaleUS,
		FileName: "products.csv",
		Source:   strings.NewReader(data),
	})
	if err != nil {
		t.Fatalf("ingest returned error: %v", err)
	}

	if len(result.Errors) != 1 {
		t.Fatalf("expected one row error, got %+v", result.Errors)
	}
	rowErr := result.Errors[0]
	if rowErr.Field != domain.FieldRating || rowErr.Value != "-1" || rowErr.RowNumber != 2 || rowErr.ExternalID != "B000000001" {
		t.Fatalf("unexpected row error: %+v", rowErr)
	}

	if len(products.inserted) != 1 || products.inserted[0].ASIN != "B000000002" {
		t.Fatalf("expected only the valid row to persist, got %+v", products.inserted)
	}
	record := products.inserted[0]
	value, present := record.Metrics[domain.FieldBuyBoxCurrent]
	if !present || value != nil {
		t.Fatalf("expected empty nullable buy box to map to null, got %v (present=%v)", value, present)
	}
	if rating := record.Metric(domain.FieldRating); rating == nil || *rating != 4.6 {
		t.Fatalf("expected rating rounded to 4.6, got %v", rating)
	}
	if record.CategoryID != 1 || record.CategoryName != "Toys" {
		t.Fatalf("unexpected category on record: %d %q", record.CategoryID, record.CategoryName)
	}
}

func TestServiceIngestEndToEnd(t *testing.T) {
	service, products, _, logs := newTestService()
	notifier := &stubNotifier{}
	WithNotifier(notifier)(service)

	data := testHeader +
		"B000000001,Alpha,Toys,4.5,19.99\n" +
		"B000000001,Alpha,Toys,4.5,19.99\n" +
		"B000000004,Delta,Nowhere,4.0,1.00\n" +
		"B000000005,Epsilon,Toys,7,1.00\n"

	result, err := service.Ingest(context.Background(), Request{
		Locale:   domain.LocaleUS,
		FileName: "products.csv",
		Source:   strings.NewReader(data),
		Origin:   domain.IngestionOriginReport,
	})
	if err != nil {
		t.Fatalf("ingest returned error: %v", err)
	}

	if result.Processed != 4 || result.Duplicates != 1 || len(result.MissingLookups) != 1 || len(result.Errors) != 1 || result.Inserted != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(products.inserted) != 1 || products.inserted[0].Source != "report:products.csv" {
		t.Fatalf("unexpected persisted records: %+v", products.inserted)
	}
	if len(logs.entries) != 3 {
		t.Fatalf("expected 3 log entries, got %d", len(logs.entries))
	}
	runID := logs.entries[0].RunID
	for _, entry := range logs.entries {
		if entry.RunID != runID || entry.RunID == uuid.Nil {
			t.Fatalf("expected all log entries to share one run id")
		}
	}
	if len(notifier.sent) != 1 || notifier.sent[0].Result.Inserted != 1 || notifier.sent[0].RunID != runID {
		t.Fatalf("unexpected notifications: %+v", notifier.sent)
	}
}

func TestServiceIngestPersistenceFailure(t *testing.T) {
	service, products, _, _ := newTestService()
	products.err = errors.New("connection reset")

	data := testHeader + "B000000001,Alpha,Toys,4.5,19.99\n"

	result, err := service.Ingest(context.Background(), Request{
		Locale:   domain.LocaleUS,
		FileName: "products.csv",
		Source:   strings.NewReader(data),
	})

	var persistErr *domain.PersistenceError
	if !errors.As(err, &persistErr) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if persistErr.Records != 1 || persistErr.Locale != domain.LocaleUS || persistErr.FileName != "products.csv" {
		t.Fatalf("persistence error lacks context: %+v", persistErr)
	}
	if result.Inserted != 0 || result.Processed != 1 {
		t.Fatalf("unexpected result on failure: %+v", result)
	}
}

func TestServiceIngestGermanTSVGzip(t *testing.T) {
	service, products, categories, _ := newTestService()

	data := "\xEF\xBB\xBFASIN\tTitel\tKategorien: Stamm\tBewertungen: Bewertung\tBuy Box: Aktuell\tVerkaufsrang: Aktuell\n" +
		"B000000001\tSpielzeugauto\tSpielzeug\t4,5\t19,99 €\t1.234\n" +
		"B000000002\tPuppe\tspielzeug\t3,9\t\t\n"

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write([]byte(data))
	_ = zw.Close()

	result, err := service.Ingest(context.Background(), Request{
		Locale:   domain.LocaleDE,
		FileName: "listing.tsv.gz",
		Source:   &buf,
	})
	if err != nil {
		t.Fatalf("ingest returned error: %v", err)
	}
	if result.Processed != 2 || result.Inserted != 2 || len(result.Errors) != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	record := products.inserted[0]
	if price := record.Metric(domain.FieldBuyBoxCurrent); price == nil || *price != 19.99 {
		t.Fatalf("expected buy box 19.99, got %v", price)
	}
	if rank := record.Metric(domain.FieldSalesRankCurrent); rank == nil || *rank != 1234 {
		t.Fatalf("expected sales rank 1234, got %v", rank)
	}
	if record.CategoryName != "Spielzeug" {
		t.Fatalf("expected German category name, got %q", record.CategoryName)
	}
	if n := categories.lookups(categoryloader.Key("Spielzeug")); n != 1 {
		t.Fatalf("expected one lookup for the shared category, got %d", n)
	}
}

func TestServiceIngestWorkbook(t *testing.T) {
	service, products, _, _ := newTestService()

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"ASIN", "Title", "Categories: Root", "Reviews: Rating", "Listed since"},
		{"B000000001", "Alpha", "Toys", 4.5, "2021-06-30"},
	}
	for idx, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, idx+1)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("failed to write row: %v", err)
		}
	}
	payload, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("failed to write workbook: %v", err)
	}

	result, err := service.Ingest(context.Background(), Request{
		Locale:   domain.LocaleUK,
		FileName: "products.xlsx",
		Source:   payload,
	})
	if err != nil {
		t.Fatalf("ingest returned error: %v", err)
	}
	if result.Inserted != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	record := products.inserted[0]
	if record.ListedSince == nil || record.ListedSince.Year() != 2021 {
		t.Fatalf("expected listed since to be parsed, got %v", record.ListedSince)
	}
}

func TestServiceIngestRejectsMissingColumns(t *testing.T) {
	service, products, _, _ := newTestService()

	_, err := service.Ingest(context.Background(), Request{
		Locale:   domain.LocaleUS,
		FileName: "products.csv",
		Source:   strings.NewReader("ASIN,Title\nB000000001,Alpha\n"),
	})
	if !errors.Is(err, ErrMissingColumns) {
		t.Fatalf("expected missing columns error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Categories: Root") || !strings.Contains(err.Error(), "Reviews: Rating") {
		t.Fatalf("error should name the missing columns: %v", err)
	}
	if products.calls != 0 {
		t.Fatalf("expected no persistence")
	}
}

func TestServiceIngestRowLocaleColumn(t *testing.T) {
	service, products, _, _ := newTestService()

	rows := NewSliceRowReader(
		[]string{"ASIN", "Locale", "Title", "Categories: Root", "Reviews: Rating"},
		[][]string{
			{"B000000001", "US", "Alpha", "Toys", "4"},
			{"B000000001", "UK", "Alpha", "Toys", "4"},
			{"B000000001", "moon", "Alpha", "Toys", "4"},
		},
	)
	result, err := service.Ingest(context.Background(), Request{Locale: domain.LocaleUS, FileName: "mixed", Rows: rows})
	if err != nil {
		t.Fatalf("ingest returned error: %v", err)
	}
	if result.Duplicates != 0 || len(result.Errors) != 1 || result.Inserted != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if products.inserted[1].Locale != domain.LocaleUK {
		t.Fatalf("expected row locale to override the batch locale")
	}
}

func TestReduceCountsOutcomes(t *testing.T) {
	tally := NewTally()
	tally = Reduce(tally, okOutcome(2, domain.NewProductRecord("A", domain.LocaleUS)))
	tally = Reduce(tally, duplicateOutcome(3, "A|US"))
	tally = Reduce(tally, missingOutcome(4, "B", "Nope", "no match"))
	tally = Reduce(tally, invalidOutcome(5, "C", &domain.ValidationError{Field: "f", Reason: "bad"}))

	r := tally.Result
	if r.Processed != 4 || r.Accepted != 1 || r.Duplicates != 1 || len(r.MissingLookups) != 1 || len(r.Errors) != 1 {
		t.Fatalf("unexpected tally: %+v", r)
	}
	if len(tally.Records) != 1 {
		t.Fatalf("expected one record, got %d", len(tally.Records))
	}
}

func newTestService() (*Service, *stubProductRepo, *stubCategoryRepo, *stubLogRepo) {
	products := &stubProductRepo{}
	categories := &stubCategoryRepo{
		categories: []domain.Category{
			{ID: 1, Names: map[domain.Locale]string{domain.LocaleUS: "Toys", domain.LocaleUK: "Toys", domain.LocaleDE: "Spielzeug"}},
			{ID: 2, Names: map[domain.Locale]string{domain.LocaleUS: "Garden", domain.LocaleDE: "Garten"}},
		},
	}
	logs := &stubLogRepo{}
	return NewService(products, categories, logs), products, categories, logs
}

type stubProductRepo struct {
	inserted         []domain.ProductRecord
	calls            int
	ignoreDuplicates bool
	err              error
}

func (s *stubProductRepo) BulkInsert(ctx context.Context, records []domain.ProductRecord, opts repository.BulkInsertOptions) (int, error) {
	s.calls++
	s.ignoreDuplicates = opts.IgnoreDuplicates
	if s.err != nil {
		return 0, s.err
	}
	s.inserted = append(s.inserted, records...)
	return len(records), nil
}

type stubCategoryRepo struct {
	mu         sync.Mutex
	categories []domain.Category
	requested  map[string]int
	err        error
}

func (s *stubCategoryRepo) FindByNames(ctx context.Context, locale domain.Locale, names []string) (map[string]domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.requested == nil {
		s.requested = make(map[string]int)
	}
	if s.err != nil {
		return nil, s.err
	}
	found := make(map[string]domain.Category)
	for _, name := range names {
		s.requested[name]++
		for _, category := range s.categories {
			if categoryloader.Key(category.Name(locale)) == name {
				found[name] = category
			}
		}
	}
	return found, nil
}

func (s *stubCategoryRepo) Upsert(ctx context.Context, category domain.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories = append(s.categories, category)
	return nil
}

func (s *stubCategoryRepo) lookups(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requested[key]
}

type stubLogRepo struct {
	entries []domain.IngestionLogEntry
}

func (s *stubLogRepo) Record(ctx context.Context, entry domain.IngestionLogEntry) error {
	s.entries = append(s.entries, entry)
	return nil
}

func (s *stubLogRepo) List(ctx context.Context, runID uuid.UUID, limit int, offset int) ([]domain.IngestionLogEntry, error) {
	return s.entries, nil
}

type stubNotifier struct {
	sent []Notification
}

func (s *stubNotifier) Notify(ctx context.Context, n Notification) error {
	s.sent = append(s.sent, n)
	return nil
}
