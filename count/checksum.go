package count

import (
	"encoding/binary"
	"hash"
	"math"

	"blainsmith.com/go/seahash"
	"github.com/grailbio/base/unsafe"
)

// MatrixChecksum is a content signature of a count matrix. Entry hashes
// are keyed by (row, column) and summed, so two matrices with the same
// cells, genes, and values compare equal even if their nonzero entries
// are stored in a different order within a column. Component sums are
// independent, so a mismatch identifies the part that differs.
type MatrixChecksum struct {
	// NRows is the # of gene rows.
	NRows int64
	// NCols is the # of cell columns.
	NCols int64
	// NNZ is the # of stored entries.
	NNZ int64
	// SumEntries is the sum of per-entry hashes of (row, column, value).
	SumEntries uint64
	// SumBarcodes is the sum of column label hashes.
	SumBarcodes uint64
	// SumGenes is the sum of row label hashes. Gene names, when attached,
	// are folded into the same sum.
	SumGenes uint64
}

func hashField(h hash.Hash64, pos [8]byte, value []byte) uint64 {
	h.Reset()
	h.Write(pos[:])
	h.Write(value)
	return h.Sum64()
}

// Checksum computes the matrix signature.
func (m *Matrix) Checksum() MatrixChecksum {
	csum := MatrixChecksum{
		NRows: int64(m.NumRows()),
		NCols: int64(m.NumCols()),
		NNZ:   m.NNZ(),
	}
	h := seahash.New()
	pos := [8]byte{}
	value := [8]byte{}
	for col := 0; col < m.NumCols(); col++ {
		binary.LittleEndian.PutUint32(pos[:], uint32(col))
		for k := m.ColPtr[col]; k < m.ColPtr[col+1]; k++ {
			binary.LittleEndian.PutUint32(pos[4:], uint32(m.RowIndices[k]))
			binary.LittleEndian.PutUint64(value[:], math.Float64bits(m.Values[k]))
			csum.SumEntries += hashField(h, pos, value[:])
		}
	}
	for i, bc := range m.Barcodes {
		binary.LittleEndian.PutUint64(pos[:], uint64(i))
		csum.SumBarcodes += hashField(h, pos, unsafe.StringToBytes(bc))
	}
	for i, gene := range m.Genes {
		binary.LittleEndian.PutUint64(pos[:], uint64(i))
		h.Reset()
		h.Write(pos[:])
		h.Write(unsafe.StringToBytes(gene))
		if m.GeneNames != nil {
			h.Write([]byte{'\t'})
			h.Write(unsafe.StringToBytes(m.GeneNames[i]))
		}
		csum.SumGenes += h.Sum64()
	}
	return csum
}
