package count

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/klauspost/compress/gzip"
)

// testMatrix is a 2 genes x 3 cells matrix with one empty column.
func testMatrix() *Matrix {
	return &Matrix{
		RowIndices: []int32{0, 1, 1},
		ColPtr:     []int64{0, 2, 2, 3},
		Values:     []float64{0.5, 1.5, 2},
		Barcodes:   []string{"AAAA", "CCCC", "GGGG"},
		Genes:      []string{"ENSG01", "ENSG02"},
		GeneNames:  []string{"GATA3", ""},
	}
}

const (
	wantMTX = "%%MatrixMarket matrix coordinate real general\n" +
		"2\t3\t3\n" +
		"1\t1\t0.5\n" +
		"2\t1\t1.5\n" +
		"2\t3\t2\n"
	wantBarcodes = "AAAA\nCCCC\nGGGG\n"
	// The second gene has no common name and falls back to its ID.
	wantGenes = "ENSG01\tGATA3\nENSG02\tENSG02\n"
)

func TestWriteMatrixMarket(t *testing.T) {
	ctx := vcontext.Background()
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	assert.NoError(t, WriteMatrixMarket(ctx, testMatrix(), tempDir, WriteOpts{}))
	readFile := func(name string) string {
		data, err := ioutil.ReadFile(filepath.Join(tempDir, name))
		assert.NoError(t, err)
		return string(data)
	}
	expect.EQ(t, readFile(MatrixFileName), wantMTX)
	expect.EQ(t, readFile(BarcodesFileName), wantBarcodes)
	expect.EQ(t, readFile(GenesFileName), wantGenes)

	// Without gene names, genes.tsv has a single column.
	plainDir := filepath.Join(tempDir, "plain")
	assert.NoError(t, os.Mkdir(plainDir, 0700))
	m := testMatrix()
	m.GeneNames = nil
	assert.NoError(t, WriteMatrixMarket(ctx, m, plainDir, WriteOpts{}))
	data, err := ioutil.ReadFile(filepath.Join(plainDir, GenesFileName))
	assert.NoError(t, err)
	expect.EQ(t, string(data), "ENSG01\nENSG02\n")
}

func TestWriteMatrixMarketBGzip(t *testing.T) {
	ctx := vcontext.Background()
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	assert.NoError(t, WriteMatrixMarket(ctx, testMatrix(), tempDir, WriteOpts{BGzip: true, Parallelism: 2}))
	readGz := func(name string) string {
		f, err := os.Open(filepath.Join(tempDir, name+".gz"))
		assert.NoError(t, err)
		defer f.Close() // nolint: errcheck
		gz, err := gzip.NewReader(f)
		assert.NoError(t, err)
		data, err := ioutil.ReadAll(gz)
		assert.NoError(t, err)
		return string(data)
	}
	expect.EQ(t, readGz(MatrixFileName), wantMTX)
	expect.EQ(t, readGz(BarcodesFileName), wantBarcodes)
	expect.EQ(t, readGz(GenesFileName), wantGenes)
}
