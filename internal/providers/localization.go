// Package providers translates domain parameters into external provider
// requests and normalizes responses into raw candidate records.
package providers

import "strings"

// Locale carries the search-engine localization hints for a country.
type Locale struct {
	Language      string
	SearchCountry string
	SearchDomain  string
}

// locales maps ISO country codes to localization hints. Unknown codes fall
// back to the GB entry rather than failing the search.
var locales = map[string]Locale{
	"GB": {Language: "en", SearchCountry: "uk", SearchDomain: "google.co.uk"},
	"US": {Language: "en", SearchCountry: "us", SearchDomain: "google.com"},
	"IE": {Language: "en", SearchCountry: "ie", SearchDomain: "google.ie"},
	"CA": {Language: "en", SearchCountry: "ca", SearchDomain: "google.ca"},
	"AU": {Language: "en", SearchCountry: "au", SearchDomain: "google.com.au"},
	"DE": {Language: "de", SearchCountry: "de", SearchDomain: "google.de"},
	"FR": {Language: "fr", SearchCountry: "fr", SearchDomain: "google.fr"},
	"ES": {Language: "es", SearchCountry: "es", SearchDomain: "google.es"},
	"IT": {Language: "it", SearchCountry: "it", SearchDomain: "google.it"},
	"NL": {Language: "nl", SearchCountry: "nl", SearchDomain: "google.nl"},
	"PT": {Language: "pt", SearchCountry: "pt", SearchDomain: "google.pt"},
	"PL": {Language: "pl", SearchCountry: "pl", SearchDomain: "google.pl"},
	"SE": {Language: "sv", SearchCountry: "se", SearchDomain: "google.se"},
	"CH": {Language: "de", SearchCountry: "ch", SearchDomain: "google.ch"},
	"IN": {Language: "en", SearchCountry: "in", SearchDomain: "google.co.in"},
	"SG": {Language: "en", SearchCountry: "sg", SearchDomain: "google.com.sg"},
	"AE": {Language: "en", SearchCountry: "ae", SearchDomain: "google.ae"},
	"BR": {Language: "pt", SearchCountry: "br", SearchDomain: "google.com.br"},
	"MX": {Language: "es", SearchCountry: "mx", SearchDomain: "google.com.mx"},
	"JP": {Language: "ja", SearchCountry: "jp", SearchDomain: "google.co.jp"},
}

const defaultCountry = "GB"

// LocaleFor returns the localization hints for a country code.
func LocaleFor(countryCode string) Locale {
	if l, ok := locales[strings.ToUpper(strings.TrimSpace(countryCode))]; ok {
		return l
	}
	return locales[defaultCountry]
}
