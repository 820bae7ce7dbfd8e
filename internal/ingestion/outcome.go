package ingestion

import "github.com/rpattn/marketsync/internal/domain"

// OutcomeKind classifies how a single row was handled.
type OutcomeKind int

const (
	OutcomeOK OutcomeKind = iota
	OutcomeDuplicate
	OutcomeMissingLookup
	OutcomeInvalid
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "ok"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeMissingLookup:
		return "missing_lookup"
	case OutcomeInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Outcome is the verdict for one row. Exactly one of Record, Duplicate, Missing or Invalid is set,
// matching Kind.
type Outcome struct {
	Kind      OutcomeKind
	RowNumber int
	Record    *domain.ProductRecord
	Duplicate *domain.DuplicateError
	Missing   *domain.MissingLookup
	Invalid   *domain.RowError
}

func okOutcome(row int, record domain.ProductRecord) Outcome {
	return Outcome{Kind: OutcomeOK, RowNumber: row, Record: &record}
}

func duplicateOutcome(row int, key string) Outcome {
	return Outcome{Kind: OutcomeDuplicate, RowNumber: row, Duplicate: &domain.DuplicateError{Key: key, RowNumber: row}}
}

func missingOutcome(row int, externalID, raw, reason string) Outcome {
	return Outcome{Kind: OutcomeMissingLookup, RowNumber: row, Missing: &domain.MissingLookup{
		RowNumber:  row,
		ExternalID: externalID,
		RawValue:   raw,
		Reason:     reason,
	}}
}

func invalidOutcome(row int, externalID string, verr *domain.ValidationError) Outcome {
	return Outcome{Kind: OutcomeInvalid, RowNumber: row, Invalid: &domain.RowError{
		RowNumber:  row,
		ExternalID: externalID,
		Field:      verr.Field,
		Value:      verr.Value,
		Reason:     verr.Reason,
	}}
}

// Tally is the running fold of row outcomes.
type Tally struct {
	Result  domain.IngestionResult
	Records []domain.ProductRecord
}

// NewTally returns an empty tally.
func NewTally() Tally {
	return Tally{Result: domain.NewIngestionResult()}
}

// Reduce folds one outcome into the tally and returns the new tally.
func Reduce(t Tally, o Outcome) Tally {
	t.Result.Processed++
	switch o.Kind {
	case OutcomeOK:
		t.Records = append(t.Records, *o.Record)
		t.Result.Accepted++
	case OutcomeDuplicate:
		t.Result.Duplicates++
		t.Result.DuplicateKeys = append(t.Result.DuplicateKeys, o.Duplicate.Key)
	case OutcomeMissingLookup:
		t.Result.MissingLookups = append(t.Result.MissingLookups, *o.Missing)
	case OutcomeInvalid:
		t.Result.Errors = append(t.Result.Errors, *o.Invalid)
	}
	return t
}
