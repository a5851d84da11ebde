package count

// MatrixMarket text output. WriteMatrixMarket produces the
// (matrix.mtx, barcodes.tsv, genes.tsv) triple understood by scanpy,
// Seurat, and the rest of the single-cell toolchain.

import (
	"context"
	"strconv"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/hts/bgzf"
)

// Names of the files created by WriteMatrixMarket, before the optional
// ".gz" suffix.
const (
	MatrixFileName   = "matrix.mtx"
	BarcodesFileName = "barcodes.tsv"
	GenesFileName    = "genes.tsv"
)

// mtxBanner is the MatrixMarket header line for a real-valued sparse
// matrix in coordinate form.
const mtxBanner = "%%MatrixMarket matrix coordinate real general"

// WriteOpts configures WriteMatrixMarket.
type WriteOpts struct {
	// BGzip compresses every output file with bgzf and appends ".gz" to its
	// name.
	BGzip bool
	// Parallelism bounds the number of bgzf compressor threads per file.
	Parallelism int
}

// WriteMatrixMarket writes m under dir as a MatrixMarket triple:
// matrix.mtx holds one "row col value" line per nonzero entry with
// 1-based indices, genes.tsv holds one row label per line (two columns,
// ID and name, when gene names are attached), and barcodes.tsv holds
// the column labels.
//
// Empty columns contribute no coordinate lines but still count toward
// the dimensions line, so readers reconstruct the full gene x cell
// shape.
func WriteMatrixMarket(ctx context.Context, m *Matrix, dir string, opts WriteOpts) (err error) {
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	if err = writeMatrixFile(ctx, m, dir+"/"+MatrixFileName, opts); err != nil {
		return
	}
	if err = writeBarcodesFile(ctx, m, dir+"/"+BarcodesFileName, opts); err != nil {
		return
	}
	if err = writeGenesFile(ctx, m, dir+"/"+GenesFileName, opts); err != nil {
		return
	}
	suffix := ""
	if opts.BGzip {
		suffix = ".gz"
	}
	log.Printf("WriteMatrixMarket: wrote %d x %d matrix, %d nonzeros to %s/{%s,%s,%s}%s",
		m.NumRows(), m.NumCols(), m.NNZ(), dir, MatrixFileName, BarcodesFileName, GenesFileName, suffix)
	return
}

// writeTSVFile creates path (plus ".gz" under BGzip), hands a tsv.Writer
// to fill, then flushes and closes everything in order.
func writeTSVFile(ctx context.Context, path string, opts WriteOpts, fill func(*tsv.Writer) error) (err error) {
	if opts.BGzip {
		path = path + ".gz"
	}
	var dst file.File
	if dst, err = file.Create(ctx, path); err != nil {
		return
	}
	defer file.CloseAndReport(ctx, dst, &err)

	var tsvw *tsv.Writer
	if !opts.BGzip {
		tsvw = tsv.NewWriter(dst.Writer(ctx))
	} else {
		bgzfWriter := bgzf.NewWriter(dst.Writer(ctx), opts.Parallelism)
		tsvw = tsv.NewWriter(bgzfWriter)
		defer func() {
			if e := bgzfWriter.Close(); e != nil && err == nil {
				err = e
			}
		}()
	}
	if err = fill(tsvw); err != nil {
		return
	}
	err = tsvw.Flush()
	return
}

func writeMatrixFile(ctx context.Context, m *Matrix, path string, opts WriteOpts) error {
	return writeTSVFile(ctx, path, opts, func(tsvw *tsv.Writer) error {
		tsvw.WriteString(mtxBanner)
		if err := tsvw.EndLine(); err != nil {
			return err
		}
		tsvw.WriteString(strconv.Itoa(m.NumRows()))
		tsvw.WriteString(strconv.Itoa(m.NumCols()))
		tsvw.WriteString(strconv.FormatInt(m.NNZ(), 10))
		if err := tsvw.EndLine(); err != nil {
			return err
		}
		for col := 0; col < m.NumCols(); col++ {
			for k := m.ColPtr[col]; k < m.ColPtr[col+1]; k++ {
				tsvw.WriteUint32(uint32(m.RowIndices[k]) + 1)
				tsvw.WriteUint32(uint32(col) + 1)
				tsvw.WriteString(strconv.FormatFloat(m.Values[k], 'g', -1, 64))
				if err := tsvw.EndLine(); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func writeBarcodesFile(ctx context.Context, m *Matrix, path string, opts WriteOpts) error {
	return writeTSVFile(ctx, path, opts, func(tsvw *tsv.Writer) error {
		for _, bc := range m.Barcodes {
			tsvw.WriteString(bc)
			if err := tsvw.EndLine(); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeGenesFile(ctx context.Context, m *Matrix, path string, opts WriteOpts) error {
	return writeTSVFile(ctx, path, opts, func(tsvw *tsv.Writer) error {
		for i, gene := range m.Genes {
			tsvw.WriteString(gene)
			if m.GeneNames != nil {
				name := m.GeneNames[i]
				if name == "" {
					name = gene
				}
				tsvw.WriteString(name)
			}
			if err := tsvw.EndLine(); err != nil {
				return err
			}
		}
		return nil
	})
}
