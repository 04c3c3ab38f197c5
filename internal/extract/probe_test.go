package extract

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProbeCompanyCount(t *testing.T) {
	t.Parallel()

	var gotPath atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)
		fmt.Fprint(w, `<html><body>
			<div class="explorer-header"><h2>1,204 Companies in SE14 6AB</h2></div>
		</body></html>`)
	}))
	defer srv.Close()

	probe, err := NewProbe(ProbeConfig{BaseURL: srv.URL + "/explorer/postcode"})
	require.NoError(t, err)

	count, err := probe.CompanyCount(context.Background(), "SE14-6AB")
	require.NoError(t, err)
	require.Equal(t, 1204, count)
	require.Equal(t, "/explorer/postcode/se14-6ab", gotPath.Load())
}

func TestProbeCompanyCountHeaderMissing(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><h1>Somewhere else</h1></body></html>`)
	}))
	defer srv.Close()

	probe, err := NewProbe(ProbeConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = probe.CompanyCount(context.Background(), "SE14")
	require.Error(t, err)
}

func TestProbeCompanyCountFetchError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusInternalServerError)
	}))
	defer srv.Close()

	probe, err := NewProbe(ProbeConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = probe.CompanyCount(context.Background(), "SE14")
	require.Error(t, err)
}

func TestParseCompanyCount(t *testing.T) {
	t.Parallel()

	count, err := parseCompanyCount("1,204 Companies in SE14 6AB")
	require.NoError(t, err)
	require.Equal(t, 1204, count)

	count, err = parseCompanyCount("0 Companies")
	require.NoError(t, err)
	require.Zero(t, count)

	_, err = parseCompanyCount("Companies")
	require.Error(t, err)
	_, err = parseCompanyCount("  ")
	require.Error(t, err)
}

func TestListingURL(t *testing.T) {
	t.Parallel()

	base := "https://suite.example.co.uk/explorer/postcode/"
	require.Equal(t, "https://suite.example.co.uk/explorer/postcode/se14-6ab", ListingURL(base, "SE14-6AB"))
	require.Equal(t, "https://suite.example.co.uk/explorer/postcode/se14", ListingURL(base, "SE14"))
}
