package barcode

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWhitelist(t *testing.T) {
	wl := NewWhitelist([]string{"AAAA", "acgt", "TTTT", ""})
	assert.Equal(t, 3, wl.Size())
	assert.Equal(t, 4, wl.SeqLen())
	assert.True(t, wl.Contains("AAAA"))
	assert.True(t, wl.Contains("ACGT"))
	assert.False(t, wl.Contains("acgt"))
	assert.False(t, wl.Contains("CCCC"))
	assert.False(t, wl.Contains(""))
}

func TestWhitelistMixedLengths(t *testing.T) {
	wl := NewWhitelist([]string{"AAAA", "CCCCCC"})
	assert.Equal(t, 2, wl.Size())
	assert.Equal(t, 0, wl.SeqLen())
}

func TestWhitelistEmpty(t *testing.T) {
	wl := NewWhitelist(nil)
	assert.Equal(t, 0, wl.Size())
	assert.Equal(t, 0, wl.SeqLen())
	assert.False(t, wl.Contains("AAAA"))
}

func TestReadWriteWhitelist(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	barcodes := []string{"GGGG", "AAAA", "TTTT"}

	for _, name := range []string{"whitelist.txt", "whitelist.txt.gz"} {
		path := filepath.Join(tempDir, name)
		require.NoError(t, WriteWhitelist(ctx, path, barcodes))
		wl, err := ReadWhitelist(ctx, path)
		require.NoError(t, err, name)
		assert.Equal(t, len(barcodes), wl.Size(), name)
		assert.Equal(t, 4, wl.SeqLen(), name)
		for _, bc := range barcodes {
			assert.True(t, wl.Contains(bc), "%s: %s", name, bc)
		}
	}
}

func TestKnee(t *testing.T) {
	// 20 cell barcodes with deep counts, 400 ambient barcodes with
	// shallow counts. The knee must separate the two populations.
	counts := map[string]int64{}
	cells := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		bc := "CELL" + string(rune('A'+i))
		cells = append(cells, bc)
		counts[bc] = 5000 + int64(i)
	}
	for i := 0; i < 400; i++ {
		bc := "AMB" + string(rune('A'+i%26)) + string(rune('A'+i/26))
		counts[bc] += 1 + int64(i%4)
	}
	got, threshold := Knee(counts)
	assert.True(t, threshold >= 5000, "threshold %d", threshold)
	sort.Strings(got)
	sort.Strings(cells)
	assert.Equal(t, cells, got)
}

func TestKneeDegenerate(t *testing.T) {
	got, threshold := Knee(nil)
	assert.Empty(t, got)
	assert.Equal(t, int64(0), threshold)

	got, threshold = Knee(map[string]int64{"AAAA": 7})
	assert.Equal(t, []string{"AAAA"}, got)
	assert.Equal(t, int64(7), threshold)

	// A flat curve has no knee; everything is kept.
	got, _ = Knee(map[string]int64{"AAAA": 3, "CCCC": 3, "GGGG": 3})
	assert.Equal(t, 3, len(got))
}

func TestMain(m *testing.M) {
	shutdown := grail.Init()
	defer shutdown()
	os.Exit(m.Run())
}
