package count

// Recordio dump of a count matrix. WriteRecordio stores the CSC entries
// as zstd-compressed column chunks with the labels and column pointers
// in the trailer, and ReadRecordio loads them back. The round trip is
// exact (values keep their IEEE-754 bits), unlike the decimal text in
// matrix.mtx.

import (
	"bytes"
	"context"
	"encoding/gob"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
	"github.com/pkg/errors"
)

// RecordioFileName is the name of the recordio matrix dump within an
// output directory.
const RecordioFileName = "matrix.rio"

const (
	// <matrixVersionHeader, matrixVersion> is stored in a recordio header.
	matrixVersionHeader = "scrnaversion"
	matrixVersion       = "SCRNA_V1"
	// chunkCols is the number of matrix columns packed into one recordio
	// record.
	chunkCols = 4096
)

// matrixTrailer is stored in the trailer section of the recordio file.
type matrixTrailer struct {
	// ColPtr is the full CSC column pointer array, len NumCols+1.
	ColPtr []int64
	// Barcodes, Genes, and GeneNames are the matrix labels. GeneNames is
	// nil when the gene dictionary carried no common names.
	Barcodes  []string
	Genes     []string
	GeneNames []string
}

// matrixChunk holds the entries of a contiguous column range.
type matrixChunk struct {
	// StartCol is the first column covered by this chunk.
	StartCol int
	// Rows and Values hold the concatenated entries of the covered
	// columns. matrixTrailer.ColPtr delimits the individual columns.
	Rows   []int32
	Values []float64
}

// WriteRecordio writes m to path as a zstd-transformed recordio file.
func WriteRecordio(ctx context.Context, m *Matrix, path string) (err error) {
	recordiozstd.Init()
	var out file.File
	if out, err = file.Create(ctx, path); err != nil {
		return
	}
	defer file.CloseAndReport(ctx, out, &err)
	w := recordio.NewWriter(out.Writer(ctx), recordio.WriterOpts{
		Transformers: []string{recordiozstd.Name},
	})
	w.AddHeader(matrixVersionHeader, matrixVersion)
	w.AddHeader(recordio.KeyTrailer, true)
	for start := 0; start < m.NumCols(); start += chunkCols {
		end := start + chunkCols
		if end > m.NumCols() {
			end = m.NumCols()
		}
		lo, hi := m.ColPtr[start], m.ColPtr[end]
		b := bytes.NewBuffer(nil)
		chunk := matrixChunk{
			StartCol: start,
			Rows:     m.RowIndices[lo:hi],
			Values:   m.Values[lo:hi],
		}
		if err = gob.NewEncoder(b).Encode(chunk); err != nil {
			return
		}
		w.Append(b.Bytes())
	}
	b := bytes.NewBuffer(nil)
	trailer := matrixTrailer{
		ColPtr:    m.ColPtr,
		Barcodes:  m.Barcodes,
		Genes:     m.Genes,
		GeneNames: m.GeneNames,
	}
	if err = gob.NewEncoder(b).Encode(trailer); err != nil {
		return
	}
	w.SetTrailer(b.Bytes())
	err = w.Finish()
	return
}

// ReadRecordio reads a matrix written by WriteRecordio and validates
// its CSC invariants.
func ReadRecordio(ctx context.Context, path string) (m *Matrix, err error) {
	recordiozstd.Init()
	var in file.File
	if in, err = file.Open(ctx, path); err != nil {
		return
	}
	defer file.CloseAndReport(ctx, in, &err)
	r := recordio.NewScanner(in.Reader(ctx), recordio.ScannerOpts{})
	versionFound := false
	for _, kv := range r.Header() {
		if kv.Key == matrixVersionHeader {
			if v, ok := kv.Value.(string); !ok || v != matrixVersion {
				return nil, errors.Errorf("%s: version %v, want %s", path, kv.Value, matrixVersion)
			}
			versionFound = true
			break
		}
	}
	if !versionFound {
		return nil, errors.Errorf("%s: not a count matrix recordio file (missing %s header)", path, matrixVersionHeader)
	}
	var trailer matrixTrailer
	if err = gob.NewDecoder(bytes.NewReader(r.Trailer())).Decode(&trailer); err != nil {
		return nil, errors.Wrapf(err, "%s: reading trailer", path)
	}
	m = &Matrix{
		ColPtr:    trailer.ColPtr,
		Barcodes:  trailer.Barcodes,
		Genes:     trailer.Genes,
		GeneNames: trailer.GeneNames,
	}
	if n := len(m.ColPtr); n > 0 {
		nnz := m.ColPtr[n-1]
		m.RowIndices = make([]int32, 0, nnz)
		m.Values = make([]float64, 0, nnz)
	}
	for r.Scan() {
		var chunk matrixChunk
		if err = gob.NewDecoder(bytes.NewReader(r.Get().([]byte))).Decode(&chunk); err != nil {
			return nil, errors.Wrapf(err, "%s: decoding column chunk", path)
		}
		if chunk.StartCol < 0 || chunk.StartCol >= len(m.ColPtr) ||
			m.ColPtr[chunk.StartCol] != int64(len(m.RowIndices)) {
			return nil, errors.Errorf("%s: column chunk starting at %d is out of order", path, chunk.StartCol)
		}
		m.RowIndices = append(m.RowIndices, chunk.Rows...)
		m.Values = append(m.Values, chunk.Values...)
	}
	if err = r.Err(); err != nil {
		return nil, errors.Wrap(err, path)
	}
	if err = m.Validate(); err != nil {
		return nil, errors.Wrap(err, path)
	}
	return m, nil
}
