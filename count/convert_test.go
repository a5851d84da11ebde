package count

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/scrna/barcode"
	"github.com/grailbio/scrna/encoding/bus"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

// newTestECTable returns a table with EC0→{G1}, EC1→{G1,G2},
// EC2→{G2,G3}, EC3→{G2}, EC4→{} and GeneIDs G1=0, G2=1, G3=2.
func newTestECTable() *ECTable {
	return NewECTable([][]string{
		{"G1"},
		{"G1", "G2"},
		{"G2", "G3"},
		{"G2"},
		{},
	})
}

func convertText(t *testing.T, input string, wl *barcode.Whitelist, opts Opts) (*Matrix, Stats, error) {
	return Convert(vcontext.Background(), bus.NewScanner(strings.NewReader(input)), newTestECTable(), wl, opts)
}

func TestConvert(t *testing.T) {
	wl := barcode.NewWhitelist([]string{"AAAA"})
	// One UMI over {G1,G2}, a second UMI observed twice whose sets
	// intersect to {G2}.
	m, stats, err := convertText(t,
		"AAAA\tGATTACA\t1\nAAAA\tTTTTAAA\t2\nAAAA\tTTTTAAA\t3\n", wl, Opts{})
	assert.NoError(t, err)
	expect.EQ(t, m.Barcodes, []string{"AAAA"})
	expect.EQ(t, m.Genes, []string{"G1", "G2"})
	expect.EQ(t, m.ColPtr, []int64{0, 2})
	expect.EQ(t, m.RowIndices, []int32{0, 1})
	expect.EQ(t, m.Values, []float64{0.5, 1.5})
	expect.EQ(t, stats.Records, int64(3))
	expect.EQ(t, stats.Reads, int64(3))
	expect.EQ(t, stats.Barcodes, int64(1))
	expect.EQ(t, stats.UMIs, int64(2))
	expect.EQ(t, stats.Genes, int64(2))
	expect.EQ(t, stats.NNZ, int64(2))
}

func TestConvertWhitelistFilter(t *testing.T) {
	wl := barcode.NewWhitelist([]string{"AAAA", "GGGG"})
	m, stats, err := convertText(t,
		"BBBB\tAACC\t0\nBBBB\tAACC\t1\nAAAA\tAACC\t0\nCCCC\tGGTT\t2\n", wl, Opts{})
	assert.NoError(t, err)
	expect.EQ(t, m.Barcodes, []string{"AAAA"})
	expect.EQ(t, m.Genes, []string{"G1"})
	expect.EQ(t, m.Values, []float64{1})
	expect.EQ(t, stats.FilteredRecords, int64(3))
	expect.EQ(t, stats.Barcodes, int64(1))
}

func TestConvertNilWhitelist(t *testing.T) {
	m, stats, err := convertText(t,
		"BBBB\tAACC\t0\nAAAA\tAACC\t0\nCCCC\tGGTT\t2\n", nil, Opts{})
	assert.NoError(t, err)
	expect.EQ(t, m.Barcodes, []string{"BBBB", "AAAA", "CCCC"})
	expect.EQ(t, stats.FilteredRecords, int64(0))
	expect.EQ(t, stats.Barcodes, int64(3))
}

func TestConvertEmptyColumns(t *testing.T) {
	wl := barcode.NewWhitelist([]string{"AAAA", "CCCC", "GGGG"})
	// AAAA and GGGG only hit the geneless EC: their columns stay, empty.
	m, stats, err := convertText(t,
		"AAAA\tACGT\t4\nCCCC\tACGT\t0\nGGGG\tAAAA\t4\nGGGG\tCCCC\t4\n", wl, Opts{})
	assert.NoError(t, err)
	expect.EQ(t, m.Barcodes, []string{"AAAA", "CCCC", "GGGG"})
	expect.EQ(t, m.ColPtr, []int64{0, 0, 1, 1})
	expect.EQ(t, m.Values, []float64{1})
	expect.EQ(t, stats.Barcodes, int64(3))
	expect.EQ(t, stats.SkippedUMIs, int64(3))
}

func TestConvertUnionFallback(t *testing.T) {
	wl := barcode.NewWhitelist([]string{"AAAA"})
	// {G1} and {G2,G3} are disjoint: the UMI splits over the union.
	m, stats, err := convertText(t, "AAAA\tACGT\t0\nAAAA\tACGT\t2\n", wl, Opts{})
	assert.NoError(t, err)
	w := 1.0 / 3.0
	expect.EQ(t, m.Genes, []string{"G1", "G2", "G3"})
	expect.EQ(t, m.Values, []float64{w, w, w})
	expect.EQ(t, stats.UMIs, int64(1))
	expect.EQ(t, stats.AmbiguousUMIs, int64(1))
}

func TestConvertErrors(t *testing.T) {
	wl := barcode.NewWhitelist([]string{"AAAA", "CCCC"})
	tests := []struct {
		name, input, want string
	}{
		{"unknown EC", "AAAA\tACGT\t9\n", "unknown equivalence class 9"},
		{"negative EC", "AAAA\tACGT\t-1\n", "unknown equivalence class -1"},
		{"unsorted input", "AAAA\tACGT\t0\nCCCC\tACGT\t0\nAAAA\tGGTT\t0\n", "not barcode-sorted"},
		{"extra field", "AAAA\tACGT\t0\tx\n", "want 3"},
		{"bad EC text", "AAAA\tACGT\tx\n", "not a 32-bit integer"},
	}
	for _, test := range tests {
		_, _, err := convertText(t, test.input, wl, Opts{})
		if err == nil || !strings.Contains(err.Error(), test.want) {
			t.Errorf("%s: got %v, want error containing %q", test.name, err, test.want)
		}
	}

	// A barcode outside the whitelist may straddle listed runs without
	// tripping the sort check; its records are simply dropped.
	m, _, err := convertText(t, "BBBB\tACGT\t0\nAAAA\tACGT\t0\nBBBB\tGGTT\t0\n",
		barcode.NewWhitelist([]string{"AAAA"}), Opts{})
	assert.NoError(t, err)
	expect.EQ(t, m.Barcodes, []string{"AAAA"})
}

func TestConvertEmptyInput(t *testing.T) {
	m, stats, err := convertText(t, "", barcode.NewWhitelist(nil), Opts{})
	assert.NoError(t, err)
	expect.EQ(t, m.NumRows(), 0)
	expect.EQ(t, m.NumCols(), 0)
	expect.EQ(t, m.NNZ(), int64(0))
	expect.EQ(t, stats.Records, int64(0))
	assert.NoError(t, m.Validate())
}

func TestConvertDeterministic(t *testing.T) {
	wl := barcode.NewWhitelist([]string{"AAAA", "CCCC"})
	const input = "AAAA\tACGT\t1\nAAAA\tGGTT\t2\nAAAA\tGGTT\t3\nAAAA\tTTTT\t0\n" +
		"CCCC\tACGT\t2\nCCCC\tCAGT\t1\n"
	m1, _, err := convertText(t, input, wl, Opts{})
	assert.NoError(t, err)
	// Tiny capacity hints force every growth path; the result must not
	// change.
	m2, _, err := convertText(t, input, wl, Opts{EstCells: 1, EstGenes: 1})
	assert.NoError(t, err)
	expect.EQ(t, *m2, *m1)
	expect.EQ(t, m2.Checksum(), m1.Checksum())
}

func TestConvertProgress(t *testing.T) {
	var snaps []Stats
	wl := barcode.NewWhitelist([]string{"AAAA"})
	opts := Opts{ProgressEvery: 2, Progress: func(s Stats) { snaps = append(snaps, s) }}
	_, _, err := convertText(t,
		"AAAA\tAAAC\t0\nAAAA\tAAAG\t0\nAAAA\tAAAT\t0\nAAAA\tAACA\t0\nAAAA\tAACC\t0\n", wl, opts)
	assert.NoError(t, err)
	expect.EQ(t, len(snaps), 2)
	expect.EQ(t, snaps[0].Records, int64(2))
	expect.EQ(t, snaps[1].Records, int64(4))
}

func writeBinaryFixture(t *testing.T, path string, hdr bus.Header, recs []bus.Record) {
	f, err := os.Create(path)
	assert.NoError(t, err)
	w, err := bus.NewBinaryWriter(f, hdr)
	assert.NoError(t, err)
	for i := range recs {
		assert.NoError(t, w.Write(&recs[i]))
	}
	assert.NoError(t, f.Close())
}

func TestConvertFile(t *testing.T) {
	ctx := vcontext.Background()
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	wl := barcode.NewWhitelist([]string{"AAAA"})
	const input = "AAAA\tGATTACA\t1\nAAAA\tTTTTAAA\t2\nAAAA\tTTTTAAA\t3\n"

	m, stats, err := ConvertFile(ctx, writeFixture(tempDir, "records.txt", input),
		newTestECTable(), wl, Opts{})
	assert.NoError(t, err)
	expect.EQ(t, m.Values, []float64{0.5, 1.5})
	expect.EQ(t, stats.Records, int64(3))

	m, _, err = ConvertFile(ctx, writeGzFixture(tempDir, "records.txt.gz", input),
		newTestECTable(), wl, Opts{})
	assert.NoError(t, err)
	expect.EQ(t, m.Values, []float64{0.5, 1.5})

	// Binary BUS carries per-record read counts; the matrix is the
	// same, only the read total differs.
	binPath := filepath.Join(tempDir, "records.bus")
	writeBinaryFixture(t, binPath, bus.Header{BarcodeLen: 4, UMILen: 7}, []bus.Record{
		{Barcode: "AAAA", UMI: "GATTACA", EC: 1, Count: 1},
		{Barcode: "AAAA", UMI: "TTTTAAA", EC: 2, Count: 2},
		{Barcode: "AAAA", UMI: "TTTTAAA", EC: 3, Count: 1},
	})
	m, stats, err = ConvertFile(ctx, binPath, newTestECTable(), wl, Opts{})
	assert.NoError(t, err)
	expect.EQ(t, m.Values, []float64{0.5, 1.5})
	expect.EQ(t, stats.Records, int64(3))
	expect.EQ(t, stats.Reads, int64(4))
}
