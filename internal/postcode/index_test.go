package postcode

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIndexSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	idx := Index{"SE14": {"6AB", "5DX"}, "AB1": {"2CD"}}
	path := filepath.Join(t.TempDir(), "postcodes.json")

	require.NoError(t, idx.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, idx, loaded)
}

func TestLoadRejectsMissingAndEmpty(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, Index{}.Save(path))
	_, err = Load(path)
	require.Error(t, err)
}

func TestIndexOutwardsAndFullKeysSorted(t *testing.T) {
	t.Parallel()

	idx := Index{"se14": {"6AB"}, "AB1": {"2CD", "1AA"}}

	require.Equal(t, []string{"AB1", "SE14"}, idx.Outwards())
	require.Equal(t, []string{"AB1-1AA", "AB1-2CD", "SE14-6AB"}, idx.FullKeys())
}

func TestIndexAddDeduplicates(t *testing.T) {
	t.Parallel()

	idx := Index{}
	idx.Add("se14", "6ab")
	idx.Add("SE14", "6AB")
	idx.Add("SE14", "5DX")
	idx.Add("", "1AA")
	idx.Add("SE14", " ")

	require.Equal(t, Index{"SE14": {"6AB", "5DX"}}, idx)
}

func TestJoinAndSplit(t *testing.T) {
	t.Parallel()

	require.Equal(t, "SE14-6AB", Join(" se14 ", "6ab"))

	outward, inward := Split("se14-6ab")
	require.Equal(t, "SE14", outward)
	require.Equal(t, "6AB", inward)

	outward, inward = Split("SE14")
	require.Equal(t, "SE14", outward)
	require.Empty(t, inward)
}
