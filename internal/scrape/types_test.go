package scrape

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTaskKey(t *testing.T) {
	t.Parallel()

	require.Equal(t, "SE14", Task{Outward: "SE14"}.Key())
	require.Equal(t, "SE14-6AB", Task{Outward: "SE14", Inward: "6AB"}.Key())
}

func TestScrapeErrorWrapsCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("timeout")
	err := NewScrapeError("SE14-6AB", "scrape", cause)

	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "SE14-6AB")
	require.Contains(t, err.Error(), "scrape")
}
