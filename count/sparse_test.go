package count

import (
	"strings"
	"testing"

	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func TestMatrixBuilder(t *testing.T) {
	b := newMatrixBuilder(2, 2)
	b.appendEntry(0, 0.5)
	b.appendEntry(1, 1.5)
	b.closeColumn()
	b.closeColumn() // empty column
	b.appendEntry(1, 2)
	b.closeColumn()
	m, err := b.build([]string{"AAAA", "CCCC", "GGGG"}, []string{"G1", "G2"}, nil)
	assert.NoError(t, err)
	expect.EQ(t, m.NumRows(), 2)
	expect.EQ(t, m.NumCols(), 3)
	expect.EQ(t, m.NNZ(), int64(3))
	expect.EQ(t, m.RowIndices, []int32{0, 1, 1})
	expect.EQ(t, m.ColPtr, []int64{0, 2, 2, 3})
	expect.EQ(t, m.Values, []float64{0.5, 1.5, 2})
}

func TestMatrixValidate(t *testing.T) {
	valid := func() *Matrix {
		return &Matrix{
			RowIndices: []int32{0, 1, 1},
			ColPtr:     []int64{0, 2, 2, 3},
			Values:     []float64{0.5, 1.5, 2},
			Barcodes:   []string{"AAAA", "CCCC", "GGGG"},
			Genes:      []string{"G1", "G2"},
		}
	}
	assert.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Matrix)
		want   string
	}{
		{"no leading zero", func(m *Matrix) { m.ColPtr[0] = 1 }, "start with 0"},
		{"label mismatch", func(m *Matrix) { m.Barcodes = m.Barcodes[:2] }, "barcode labels"},
		{"value length", func(m *Matrix) { m.Values = m.Values[:2] }, "values"},
		{"final pointer", func(m *Matrix) { m.ColPtr[3] = 5 }, "final column pointer"},
		{"decreasing pointer", func(m *Matrix) { m.ColPtr[1] = 3; m.ColPtr[2] = 1 }, "decreases"},
		{"row out of range", func(m *Matrix) { m.RowIndices[2] = 7 }, "outside"},
		{"gene names length", func(m *Matrix) { m.GeneNames = []string{"partial"} }, "gene names"},
	}
	for _, test := range tests {
		m := valid()
		test.mutate(m)
		err := m.Validate()
		if err == nil || !strings.Contains(err.Error(), test.want) {
			t.Errorf("%s: got %v, want error containing %q", test.name, err, test.want)
		}
	}
}
