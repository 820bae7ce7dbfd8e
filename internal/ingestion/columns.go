package ingestion

import (
	"strings"

	"github.com/rpattn/marketsync/pkg/validator"
)

// ColumnKind selects how a raw cell is coerced.
type ColumnKind int

const (
	KindText ColumnKind = iota
	KindNumber
	KindDate
)

// Identity fields are mapped onto dedicated record members instead of metrics/attributes.
const (
	FieldASIN        = "asin"
	FieldTitle       = "title"
	FieldBrand       = "brand"
	FieldCategory    = "category_root"
	FieldListedSince = "listed_since"
	FieldLocale      = "locale"
)

// Column describes one source column and its destination field.
type Column struct {
	Field   string
	Headers []string
	Kind    ColumnKind
	Rule    validator.NumberRule
	// MaxLen and AllowNull apply to text and date columns.
	MaxLen    int
	AllowNull bool
}

// Required reports whether a file must carry the column.
func (c Column) Required() bool {
	switch c.Kind {
	case KindNumber:
		return !c.Rule.AllowNull
	default:
		return !c.AllowNull
	}
}

// Layout is the set of columns understood by the engine, indexed by normalised header label.
type Layout struct {
	columns []Column
	byLabel map[string]int
}

// NewLayout indexes columns by every header alias and by field name.
func NewLayout(columns []Column) *Layout {
	l := &Layout{columns: columns, byLabel: make(map[string]int, len(columns)*3)}
	for idx, col := range columns {
		l.byLabel[normalizeLabel(col.Field)] = idx
		for _, h := range col.Headers {
			l.byLabel[normalizeLabel(h)] = idx
		}
	}
	return l
}

// Columns returns the layout columns in declaration order.
func (l *Layout) Columns() []Column {
	return l.columns
}

// Lookup resolves a file header label to a column.
func (l *Layout) Lookup(label string) (Column, bool) {
	idx, ok := l.byLabel[normalizeLabel(label)]
	if !ok {
		return Column{}, false
	}
	return l.columns[idx], true
}

func normalizeLabel(label string) string {
	return strings.Join(strings.Fields(strings.ToLower(label)), " ")
}

type period struct {
	suffix string
	en     string
	de     string
}

var pricePeriods = []period{
	{"current", "Current", "Aktuell"},
	{"avg_30", "30 days avg.", "Durchschnitt 30 Tage"},
	{"avg_90", "90 days avg.", "Durchschnitt 90 Tage"},
	{"avg_180", "180 days avg.", "Durchschnitt 180 Tage"},
	{"lowest", "Lowest", "Niedrigster"},
	{"highest", "Highest", "Höchster"},
}

var windows = []period{
	{"30", "30 days", "30 Tage"},
	{"90", "90 days", "90 Tage"},
	{"180", "180 days", "180 Tage"},
}

var (
	priceRule = validator.NumberRule{Min: validator.Bound(0), Decimals: validator.Places(2), AllowNull: true}
	countRule = validator.NumberRule{Min: validator.Bound(0), Integer: true, AllowNull: true}
	shareRule = validator.NumberRule{Min: validator.Bound(0), Max: validator.Bound(1), Decimals: validator.Places(4), AllowNull: true, Percent: true}
	sizeRule  = validator.NumberRule{Min: validator.Bound(0), Decimals: validator.Places(2), AllowNull: true}
)

func series(field, en, de string, rule validator.NumberRule) []Column {
	cols := make([]Column, 0, len(pricePeriods))
	for _, p := range pricePeriods {
		cols = append(cols, Column{
			Field:   field + "_" + p.suffix,
			Headers: []string{en + ": " + p.en, de + ": " + p.de},
			Kind:    KindNumber,
			Rule:    rule,
		})
	}
	return cols
}

func windowed(field, en, de string, rule validator.NumberRule) []Column {
	cols := make([]Column, 0, len(windows))
	for _, w := range windows {
		cols = append(cols, Column{
			Field:   field + "_" + w.suffix,
			Headers: []string{en + " " + w.en, de + " " + w.de},
			Kind:    KindNumber,
			Rule:    rule,
		})
	}
	return cols
}

func number(field, en, de string, rule validator.NumberRule) Column {
	return Column{Field: field, Headers: []string{en, de}, Kind: KindNumber, Rule: rule}
}

func text(field, en, de string, maxLen int, allowNull bool) Column {
	return Column{Field: field, Headers: []string{en, de}, Kind: KindText, MaxLen: maxLen, AllowNull: allowNull}
}

// DefaultColumns is the product snapshot export layout, with English and German header labels.
func DefaultColumns() []Column {
	cols := []Column{
		text(FieldASIN, "ASIN", "ASIN", 10, false),
		text(FieldTitle, "Title", "Titel", 1024, false),
		text(FieldBrand, "Brand", "Marke", 256, true),
		text(FieldCategory, "Categories: Root", "Kategorien: Stamm", 256, false),
		{Field: FieldListedSince, Headers: []string{"Listed since", "Gelistet seit"}, Kind: KindDate, AllowNull: true},
		{Field: FieldLocale, Headers: []string{"Locale", "Marketplace", "Marktplatz"}, Kind: KindText, MaxLen: 8, AllowNull: true},

		text("parent_asin", "Parent ASIN", "Eltern-ASIN", 10, true),
		text("manufacturer", "Manufacturer", "Hersteller", 256, true),
		text("product_group", "Product Group", "Produktgruppe", 128, true),
		text("model", "Model", "Modell", 128, true),
		text("color", "Color", "Farbe", 128, true),
		text("size", "Size", "Größe", 128, true),
		text("ean", "Product Codes: EAN", "Produktcodes: EAN", 512, true),
		text("upc", "Product Codes: UPC", "Produktcodes: UPC", 512, true),
	}

	cols = append(cols, series("sales_rank", "Sales Rank", "Verkaufsrang", countRule)...)
	cols = append(cols, series("buy_box", "Buy Box", "Buy Box", priceRule)...)
	cols = append(cols, series("amazon", "Amazon", "Amazon", priceRule)...)
	cols = append(cols, series("new", "New", "Neu", priceRule)...)
	cols = append(cols, series("used", "Used", "Gebraucht", priceRule)...)
	cols = append(cols, series("new_fba", "New, 3rd Party FBA", "Neu, Drittanbieter FBA", priceRule)...)
	cols = append(cols, series("new_fbm", "New, 3rd Party FBM", "Neu, Drittanbieter FBM", priceRule)...)
	cols = append(cols, series("list_price", "List Price", "Listenpreis", priceRule)...)
	cols = append(cols, series("warehouse", "Warehouse Deals", "Warehouse Deals", priceRule)...)
	cols = append(cols, series("new_offer_count", "New Offer Count", "Anzahl Neu-Angebote", countRule)...)

	cols = append(cols, windowed("sales_rank_drops", "Sales Rank: Drops last", "Verkaufsrang: Drops letzte", countRule)...)
	cols = append(cols, windowed("buy_box_amazon_share", "Buy Box: % Amazon", "Buy Box: % Amazon", shareRule)...)
	cols = append(cols, windowed("buy_box_winner_count", "Buy Box: Winner Count", "Buy Box: Anzahl Gewinner", countRule)...)

	cols = append(cols,
		number("reviews_rating", "Reviews: Rating", "Bewertungen: Bewertung",
			validator.NumberRule{Min: validator.Bound(0), Max: validator.Bound(5), Decimals: validator.Places(1)}),
		number("reviews_count", "Reviews: Review Count", "Bewertungen: Anzahl", countRule),
		number("reviews_count_change_30", "Reviews: Review Count - 30 days change", "Bewertungen: Anzahl - Änderung 30 Tage",
			validator.NumberRule{Integer: true, AllowNull: true}),
		number("referral_fee_pct", "Referral Fee %", "Verkaufsgebühr %", shareRule),
		number("fba_fee", "FBA Pick&Pack Fee", "FBA Pick&Pack Gebühr", priceRule),
		number("return_rate", "Return Rate", "Rücksendequote", shareRule),
		number("bought_past_month", "Bought in past month", "Im letzten Monat gekauft", countRule),
		number("package_weight_g", "Package: Weight (g)", "Verpackung: Gewicht (g)", sizeRule),
		number("package_length_cm", "Package: Length (cm)", "Verpackung: Länge (cm)", sizeRule),
		number("package_width_cm", "Package: Width (cm)", "Verpackung: Breite (cm)", sizeRule),
		number("package_height_cm", "Package: Height (cm)", "Verpackung: Höhe (cm)", sizeRule),
		number("item_weight_g", "Item: Weight (g)", "Artikel: Gewicht (g)", sizeRule),
		number("number_of_items", "Number of Items", "Anzahl Artikel", countRule),
		number("variation_count", "Variation Count", "Anzahl Varianten", countRule),
		number("image_count", "Image Count", "Anzahl Bilder", countRule),
	)
	return cols
}

var defaultLayout = NewLayout(DefaultColumns())

// DefaultLayout returns the shared product layout.
func DefaultLayout() *Layout {
	return defaultLayout
}
