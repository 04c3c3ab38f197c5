// Package format converts raw listing-table cells into typed records.
package format

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/businessdata-uk/endole-crawler/internal/scrape"
)

// The portal renders absent values as an en-dash.
const emptyCell = "–"

// Portal date cells look like "12 Mar 2019".
const portalDateLayout = "2 Jan 2006"

var currencyMultipliers = map[string]int64{
	"k": 1_000,
	"m": 1_000_000,
	"b": 1_000_000_000,
}

// Row is one raw table row keyed by the portal's column headers.
type Row map[string]string

// Record builds a BusinessRecord from a raw Row. Cells that fail to parse
// are left null rather than failing the whole row; the portal's formatting
// drifts and a partial record is still worth keeping.
func Record(row Row, postcode string, scrapedAt time.Time) scrape.BusinessRecord {
	company, address := SplitCompany(cell(row, "Company"))
	if address == "" {
		address = cell(row, "Address")
	}

	return scrape.BusinessRecord{
		Company:   company,
		Status:    cell(row, "Status"),
		NetAssets: currency(row, "Net Assets"),
		Turnover:  currency(row, "Turnover"),
		Name:      cell(row, "Name"),
		RegNo:     cell(row, "Reg. No."),
		Type:      cell(row, "Type"),
		Size:      cell(row, "Size"),
		Employees: cell(row, "Employees"),
		Adversity: number(row, "Adversity"),
		Accounts:  number(row, "Accounts"),
		Directors: cell(row, "Directors"),

		Incorporation:    date(row, "Incorporation"),
		AccountsYearEnd:  date(row, "Acc. Year End"),
		AccountsDueBy:    date(row, "Acc. Due By"),
		AccountsLastMade: date(row, "Acc. Last Made"),

		Website: cell(row, "Website"),
		Address: address,
		County:  cell(row, "County"),
		SICCode: cell(row, "SIC Code"),

		CurrentAssets:      currency(row, "Current Assets"),
		TotalAssets:        currency(row, "Total Assets"),
		CurrentLiabilities: currency(row, "Current Liab."),
		TotalLiabilities:   currency(row, "Total Liab."),

		CurrentAssetsPct:       percent(row, "Current Assets %"),
		FixedAssetsPct:         percent(row, "Fixed Assets %"),
		TotalAssetsPct:         percent(row, "Total Assets %"),
		NetAssetsPct:           percent(row, "Net Assets %"),
		CurrentLiabilitiesPct:  percent(row, "Current Liab. %"),
		LongTermLiabilitiesPct: percent(row, "Long Term Liab. %"),
		TotalLiabilitiesPct:    percent(row, "Total Liab. %"),
		TurnoverPct:            percent(row, "Turnover %"),

		Postcode:  postcode,
		ScrapedAt: scrapedAt,
	}
}

// SplitCompany separates the combined company cell into company name and
// address. The portal joins them with a run of two or more spaces.
func SplitCompany(combined string) (company, address string) {
	combined = clean(combined)
	if i := strings.Index(combined, "  "); i >= 0 {
		return strings.TrimSpace(combined[:i]), strings.TrimSpace(combined[i:])
	}
	return combined, ""
}

// ParseCurrency converts cells like "£1.2k", "3m" or "-870" into an integer
// number of pounds.
func ParseCurrency(s string) (int64, error) {
	s = clean(s)
	if s == "" {
		return 0, fmt.Errorf("empty currency cell")
	}
	var digits, alpha strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.', r == '-':
			digits.WriteRune(r)
		case r >= 'a' && r <= 'z':
			alpha.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			alpha.WriteRune(r + ('a' - 'A'))
		}
	}
	value, err := strconv.ParseFloat(digits.String(), 64)
	if err != nil {
		return 0, fmt.Errorf("parse currency %q: %w", s, err)
	}
	if suffix := alpha.String(); suffix != "" {
		mult, ok := currencyMultipliers[suffix]
		if !ok {
			return 0, fmt.Errorf("unknown currency suffix %q in %q", suffix, s)
		}
		value *= float64(mult)
	}
	return int64(value), nil
}

// ParseDate parses a portal date cell.
func ParseDate(s string) (time.Time, error) {
	s = clean(s)
	t, err := time.Parse(portalDateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// ParsePercent converts "12.3%" into the fraction 0.123, rounded to four
// decimal places.
func ParsePercent(s string) (float64, error) {
	s = clean(s)
	var digits strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return 0, fmt.Errorf("no numerals in percent cell %q", s)
	}
	value, err := strconv.ParseFloat(digits.String(), 64)
	if err != nil {
		return 0, fmt.Errorf("parse percent %q: %w", s, err)
	}
	return math.Round(value/100*10000) / 10000, nil
}

func cell(row Row, key string) string {
	return clean(row[key])
}

func currency(row Row, key string) *int64 {
	v, err := ParseCurrency(row[key])
	if err != nil {
		return nil
	}
	return &v
}

func date(row Row, key string) *time.Time {
	v, err := ParseDate(row[key])
	if err != nil {
		return nil
	}
	return &v
}

func percent(row Row, key string) *float64 {
	v, err := ParsePercent(row[key])
	if err != nil {
		return nil
	}
	return &v
}

func number(row Row, key string) *float64 {
	s := clean(row[key])
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

// clean trims a cell and maps the portal's placeholder dash to empty.
func clean(s string) string {
	s = strings.TrimSpace(s)
	if s == emptyCell || s == "-" {
		return ""
	}
	return s
}
