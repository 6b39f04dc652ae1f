// Package country maps dialled digits to a display country and flag glyph.
package country

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

const (
	// UnknownName is returned when the digits do not resolve to a region.
	UnknownName = "Unknown"
	// UnknownFlag is the white flag used for unresolved numbers.
	UnknownFlag = "🏳️"
)

// Info is the resolved display pair.
type Info struct {
	Region string
	Name   string
	Flag   string
}

// Resolve maps a raw digit string (international format, no plus) to a
// country. It never fails; unresolvable input yields Unknown.
func Resolve(digits string) Info {
	clean := onlyDigits(digits)
	if clean == "" {
		return unknown()
	}
	num, err := phonenumbers.Parse("+"+clean, "")
	if err != nil {
		return unknown()
	}
	region := phonenumbers.GetRegionCodeForNumber(num)
	name := RegionName(region)
	if name == "" {
		return unknown()
	}
	return Info{Region: region, Name: name, Flag: Flag(region)}
}

// RegionName returns the English name of an ISO 3166 alpha-2 region.
func RegionName(code string) string {
	if len(code) != 2 {
		return ""
	}
	region, err := language.ParseRegion(strings.ToUpper(code))
	if err != nil || !region.IsCountry() {
		return ""
	}
	return display.English.Regions().Name(region)
}

// Flag converts an alpha-2 code to its regional-indicator emoji pair.
func Flag(code string) string {
	if len(code) != 2 {
		return UnknownFlag
	}
	code = strings.ToUpper(code)
	var b strings.Builder
	for _, c := range code {
		if c < 'A' || c > 'Z' {
			return UnknownFlag
		}
		b.WriteRune(0x1F1E6 + (c - 'A'))
	}
	return b.String()
}

func unknown() Info {
	return Info{Name: UnknownName, Flag: UnknownFlag}
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
