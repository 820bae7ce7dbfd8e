package domain

import (
	"fmt"
	"strings"
)

// Locale identifies a marketplace storefront (US, DE, ...).
type Locale string

const (
	LocaleUS Locale = "US"
	LocaleCA Locale = "CA"
	LocaleMX Locale = "MX"
	LocaleUK Locale = "UK"
	LocaleDE Locale = "DE"
	LocaleFR Locale = "FR"
	LocaleIT Locale = "IT"
	LocaleES Locale = "ES"
	LocaleJP Locale = "JP"
)

// Locales lists every supported storefront in a stable order.
var Locales = []Locale{LocaleUS, LocaleCA, LocaleMX, LocaleUK, LocaleDE, LocaleFR, LocaleIT, LocaleES, LocaleJP}

var marketplaceIDs = map[Locale]string{
	LocaleUS: "ATVPDKIKX0DER",
	LocaleCA: "A2EUQ1WTGCTBG2",
	LocaleMX: "A1AM78C64UM0Y8",
	LocaleUK: "A1F83G8C2ARO7P",
	LocaleDE: "A1PA6795UKMFR9",
	LocaleFR: "A13V1IB3VIYZZH",
	LocaleIT: "APJ6JRA9NG5V4",
	LocaleES: "A1RKKUPIHCS9HS",
	LocaleJP: "A1VC38T7YXB528",
}

// ParseLocale normalises user input ("de", " GB ") into a Locale.
func ParseLocale(raw string) (Locale, error) {
	value := strings.ToUpper(strings.TrimSpace(raw))
	if value == "GB" {
		value = string(LocaleUK)
	}
	locale := Locale(value)
	if _, ok := marketplaceIDs[locale]; !ok {
		return "", fmt.Errorf("unsupported locale %q", raw)
	}
	return locale, nil
}

// MarketplaceID returns the marketplace identifier for the storefront.
func (l Locale) MarketplaceID() string {
	return marketplaceIDs[l]
}

// LocaleForMarketplace reverses MarketplaceID.
func LocaleForMarketplace(marketplaceID string) (Locale, bool) {
	for locale, id := range marketplaceIDs {
		if id == marketplaceID {
			return locale, true
		}
	}
	return "", false
}

func (l Locale) String() string {
	return string(l)
}
