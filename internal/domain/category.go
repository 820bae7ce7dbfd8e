package domain

import (
	"fmt"
	"strings"
)

// categoryNameColumns maps each storefront to the categories column holding its display name.
var categoryNameColumns = map[Locale]string{
	LocaleUS: "name_en",
	LocaleCA: "name_en",
	LocaleUK: "name_en",
	LocaleMX: "name_es",
	LocaleES: "name_es",
	LocaleDE: "name_de",
	LocaleFR: "name_fr",
	LocaleIT: "name_it",
	LocaleJP: "name_jp",
}

// CategoryNameColumn returns the lookup column for a locale.
func CategoryNameColumn(locale Locale) (string, error) {
	column, ok := categoryNameColumns[locale]
	if !ok {
		return "", fmt.Errorf("no category name column for locale %q", locale)
	}
	return column, nil
}

// Name returns the display name for a locale, if known.
func (c Category) Name(locale Locale) string {
	if c.Names == nil {
		return ""
	}
	return c.Names[locale]
}

// CategoryKey normalises a category label for matching: lower case, single spaces.
func CategoryKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
