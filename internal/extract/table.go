package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/businessdata-uk/endole-crawler/internal/format"
)

// ParseTable reads the first results table out of an HTML fragment and
// returns one Row per data row, keyed by the header cells. The portal emits
// its header as the first <tr> using <td> cells, so both td and th headers
// are accepted.
func ParseTable(html string) ([]format.Row, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse table html: %w", err)
	}

	table := doc.Find("table").First()
	if table.Length() == 0 {
		return nil, fmt.Errorf("no table in page snapshot")
	}

	trs := table.Find("tr")
	if trs.Length() < 1 {
		return nil, fmt.Errorf("results table has no rows")
	}

	var headers []string
	trs.First().Find("td, th").Each(func(_ int, cell *goquery.Selection) {
		headers = append(headers, strings.TrimSpace(cell.Text()))
	})
	if len(headers) == 0 {
		return nil, fmt.Errorf("results table has no header cells")
	}

	var rows []format.Row
	trs.Slice(1, trs.Length()).Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() == 0 {
			return
		}
		row := format.Row{}
		cells.Each(func(i int, cell *goquery.Selection) {
			if i >= len(headers) || headers[i] == "" {
				return
			}
			row[headers[i]] = strings.TrimSpace(cell.Text())
		})
		if len(row) > 0 {
			rows = append(rows, row)
		}
	})
	return rows, nil
}

// mergeRows appends rows from cycle into base, dropping rows whose company
// cell was already seen. Sort-order cycling re-serves the same companies in
// a different order; the company cell is the dedupe key.
func mergeRows(base, cycle []format.Row) []format.Row {
	seen := make(map[string]struct{}, len(base))
	for _, row := range base {
		seen[companyKey(row)] = struct{}{}
	}
	for _, row := range cycle {
		key := companyKey(row)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		base = append(base, row)
	}
	return base
}

func companyKey(row format.Row) string {
	company, _ := format.SplitCompany(row["Company"])
	return company
}
