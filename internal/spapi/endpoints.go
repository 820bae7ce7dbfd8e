package spapi

import (
	"fmt"
	"strings"

	"github.com/rpattn/marketsync/internal/domain"
)

// SigningService is the service name bound into every request signature.
const SigningService = "execute-api"

// Endpoint is one regional API host and the AWS region its signatures are scoped to.
type Endpoint struct {
	Name      string
	Host      string
	AWSRegion string
}

var endpoints = map[string]Endpoint{
	"na": {Name: "na", Host: "sellingpartnerapi-na.amazon.com", AWSRegion: "us-east-1"},
	"eu": {Name: "eu", Host: "sellingpartnerapi-eu.amazon.com", AWSRegion: "eu-west-1"},
	"fe": {Name: "fe", Host: "sellingpartnerapi-fe.amazon.com", AWSRegion: "us-west-2"},
}

var localeRegions = map[domain.Locale]string{
	domain.LocaleUS: "na",
	domain.LocaleCA: "na",
	domain.LocaleMX: "na",
	domain.LocaleUK: "eu",
	domain.LocaleDE: "eu",
	domain.LocaleFR: "eu",
	domain.LocaleIT: "eu",
	domain.LocaleES: "eu",
	domain.LocaleJP: "fe",
}

// LookupEndpoint resolves a region name (na, eu, fe).
func LookupEndpoint(region string) (Endpoint, error) {
	ep, ok := endpoints[strings.ToLower(strings.TrimSpace(region))]
	if !ok {
		return Endpoint{}, fmt.Errorf("unknown selling partner region %q", region)
	}
	return ep, nil
}

// EndpointForLocale returns the regional endpoint serving a storefront.
func EndpointForLocale(locale domain.Locale) (Endpoint, error) {
	region, ok := localeRegions[locale]
	if !ok {
		return Endpoint{}, fmt.Errorf("no region for locale %q", locale)
	}
	return endpoints[region], nil
}
