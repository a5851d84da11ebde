package count

import "github.com/pkg/errors"

// Matrix is a gene×cell count matrix in compressed sparse column
// (CSC) form. Columns are cells in barcode first-seen order, rows are
// genes in first-flush order. Column j's entries are
// RowIndices[ColPtr[j]:ColPtr[j+1]] with parallel Values; ColPtr
// always starts with 0 and has one entry per column plus one.
// Barcodes with no resolved UMIs keep their (empty) column.
type Matrix struct {
	RowIndices []int32
	ColPtr     []int64
	Values     []float64

	// Barcodes labels columns. Genes and GeneNames label rows;
	// GeneNames is nil when the gene source carries no common names.
	Barcodes  []string
	Genes     []string
	GeneNames []string
}

// NumRows returns the number of gene rows.
func (m *Matrix) NumRows() int { return len(m.Genes) }

// NumCols returns the number of cell columns.
func (m *Matrix) NumCols() int { return len(m.ColPtr) - 1 }

// NNZ returns the number of nonzero entries.
func (m *Matrix) NNZ() int64 { return int64(len(m.Values)) }

// Validate checks the CSC invariants. A matrix assembled by Convert
// always passes; readers of serialized matrices use it to reject
// corrupt input.
func (m *Matrix) Validate() error {
	if len(m.ColPtr) == 0 || m.ColPtr[0] != 0 {
		return errors.New("column pointers must start with 0")
	}
	if len(m.ColPtr)-1 != len(m.Barcodes) {
		return errors.Errorf("%d columns vs %d barcode labels", len(m.ColPtr)-1, len(m.Barcodes))
	}
	if len(m.RowIndices) != len(m.Values) {
		return errors.Errorf("%d row indices vs %d values", len(m.RowIndices), len(m.Values))
	}
	if last := m.ColPtr[len(m.ColPtr)-1]; last != int64(len(m.RowIndices)) {
		return errors.Errorf("final column pointer %d vs %d entries", last, len(m.RowIndices))
	}
	for j := 1; j < len(m.ColPtr); j++ {
		if m.ColPtr[j] < m.ColPtr[j-1] {
			return errors.Errorf("column %d: pointer %d decreases below %d", j, m.ColPtr[j], m.ColPtr[j-1])
		}
	}
	nRows := int32(len(m.Genes))
	for k, r := range m.RowIndices {
		if r < 0 || r >= nRows {
			return errors.Errorf("entry %d: row %d outside [0,%d)", k, r, nRows)
		}
	}
	if m.GeneNames != nil && len(m.GeneNames) != len(m.Genes) {
		return errors.Errorf("%d gene names vs %d genes", len(m.GeneNames), len(m.Genes))
	}
	return nil
}

// maxEntryPrealloc caps hint-driven entry preallocation; wildly
// optimistic hints must not pin memory.
const maxEntryPrealloc = 1 << 22

// matrixBuilder assembles a CSC matrix column by column. Appends
// beyond the initial capacity grow amortized via append.
type matrixBuilder struct {
	rows   []int32
	vals   []float64
	colPtr []int64
}

func newMatrixBuilder(estCells, estGenes int) *matrixBuilder {
	hint := int64(estCells) * int64(estGenes)
	if hint > maxEntryPrealloc {
		hint = maxEntryPrealloc
	}
	return &matrixBuilder{
		rows: make([]int32, 0, hint),
		vals: make([]float64, 0, hint),
		// The leading 0 means every column's entries start where the
		// previous column's ended.
		colPtr: append(make([]int64, 0, estCells+1), 0),
	}
}

func (b *matrixBuilder) appendEntry(row int32, v float64) {
	b.rows = append(b.rows, row)
	b.vals = append(b.vals, v)
}

// closeColumn finalizes the current column, empty or not.
func (b *matrixBuilder) closeColumn() {
	b.colPtr = append(b.colPtr, int64(len(b.rows)))
}

func (b *matrixBuilder) build(barcodes, genes, geneNames []string) (*Matrix, error) {
	m := &Matrix{
		RowIndices: b.rows,
		ColPtr:     b.colPtr,
		Values:     b.vals,
		Barcodes:   barcodes,
		Genes:      genes,
		GeneNames:  geneNames,
	}
	return m, m.Validate()
}
