package extract

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/businessdata-uk/endole-crawler/internal/format"
)

const listingTableHTML = `<html><body>
<table id="explorer-table">
	<tr><td>Company</td><td>Status</td><td>Net Assets</td></tr>
	<tr><td>ACME WIDGETS LTD  1 High Street</td><td>Active</td><td>£1.2k</td></tr>
	<tr><td>BORING PIPES LTD  2 Low Street</td><td>Dissolved</td><td>–</td></tr>
</table>
</body></html>`

func TestParseTable(t *testing.T) {
	t.Parallel()

	rows, err := ParseTable(listingTableHTML)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.Equal(t, "ACME WIDGETS LTD  1 High Street", rows[0]["Company"])
	require.Equal(t, "Active", rows[0]["Status"])
	require.Equal(t, "£1.2k", rows[0]["Net Assets"])
	require.Equal(t, "Dissolved", rows[1]["Status"])
}

func TestParseTableAcceptsThHeaders(t *testing.T) {
	t.Parallel()

	rows, err := ParseTable(`<table>
		<tr><th>Company</th><th>Status</th></tr>
		<tr><td>ACME LTD</td><td>Active</td></tr>
	</table>`)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "ACME LTD", rows[0]["Company"])
}

func TestParseTableErrors(t *testing.T) {
	t.Parallel()

	_, err := ParseTable(`<html><body><p>no table</p></body></html>`)
	require.Error(t, err)

	_, err = ParseTable(`<table><tr></tr></table>`)
	require.Error(t, err)
}

func TestMergeRowsDeduplicatesOnCompany(t *testing.T) {
	t.Parallel()

	base := []format.Row{
		{"Company": "ACME LTD  1 High Street"},
		{"Company": "BORING LTD  2 Low Street"},
	}
	cycle := []format.Row{
		// Same company re-served under a different sort order.
		{"Company": "ACME LTD  1 High Street"},
		{"Company": "CHEERY LTD  3 Mid Street"},
		{"Company": ""},
	}

	merged := mergeRows(base, cycle)
	require.Len(t, merged, 3)
	require.Equal(t, "CHEERY LTD  3 Mid Street", merged[2]["Company"])
}
