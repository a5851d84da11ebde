package count

import (
	"bufio"
	"context"
	"io"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/scrna/barcode"
	"github.com/grailbio/scrna/encoding/bus"
	"github.com/pkg/errors"
)

// RecordSource yields BUS records. Both bus.Scanner and
// bus.BinaryReader implement it.
type RecordSource interface {
	Scan(*bus.Record) bool
	Err() error
}

// Convert runs the streaming count over src: records are filtered
// against wl, grouped per barcode, deduplicated by UMI, and
// accumulated into a CSC matrix. A nil wl accepts every barcode. See
// the package documentation for the counting semantics.
//
// src must be barcode-sorted. Convert trusts the order within
// unlisted barcodes, but a whitelisted barcode re-appearing after its
// run has ended would corrupt the column labeling, so that case is an
// error.
func Convert(ctx context.Context, src RecordSource, ecs *ECTable, wl *barcode.Whitelist, opts Opts) (*Matrix, Stats, error) {
	opts = opts.sanitize()
	var (
		stats    Stats
		agg      = newUMIAggregator()
		acc      = newAccumulator()
		barcodes = newDict(opts.EstCells)
		rows     = newGeneRows(ecs.NumGenes(), opts.EstGenes)
		builder  = newMatrixBuilder(opts.EstCells, opts.EstGenes)

		rec      bus.Record
		cur      string
		haveCur  bool
		accepted bool
		nECs     = int32(ecs.NumECs())
	)
	flushColumn := func() {
		if !accepted {
			return
		}
		agg.flush(acc, &stats)
		for _, e := range acc.entries {
			if e.count > 0 {
				builder.appendEntry(rows.assign(e.gene), e.count)
			}
		}
		builder.closeColumn()
		acc.clear()
	}
	for src.Scan(&rec) {
		stats.Records++
		stats.Reads += int64(rec.Count)
		if opts.Progress != nil && stats.Records%opts.ProgressEvery == 0 {
			opts.Progress(stats)
		}
		if rec.EC < 0 || rec.EC >= nECs {
			return nil, stats, errors.Errorf("record %d (barcode %s): unknown equivalence class %d (table has %d)",
				stats.Records, rec.Barcode, rec.EC, nECs)
		}
		if !haveCur || rec.Barcode != cur {
			flushColumn()
			cur = rec.Barcode
			haveCur = true
			accepted = wl == nil || wl.Contains(cur)
			if accepted {
				if _, isNew := barcodes.assign(cur); !isNew {
					return nil, stats, errors.Errorf("record %d: barcode %s re-appears after its run ended; input is not barcode-sorted",
						stats.Records, cur)
				}
				stats.Barcodes++
			}
		}
		if !accepted {
			stats.FilteredRecords++
			continue
		}
		agg.add(rec.UMI, ecs.GeneSet(rec.EC))
	}
	if err := src.Err(); err != nil {
		return nil, stats, err
	}
	flushColumn()

	genes := make([]string, rows.size())
	geneNames := make([]string, rows.size())
	hasNames := false
	for row, g := range rows.genes {
		info := ecs.GeneInfo(g)
		genes[row] = info.Gene
		geneNames[row] = info.Name
		if info.Name != "" {
			hasNames = true
		}
	}
	if !hasNames {
		geneNames = nil
	}
	stats.Genes = int64(rows.size())
	stats.NNZ = int64(len(builder.rows))
	m, err := builder.build(barcodes.keys, genes, geneNames)
	if err != nil {
		return nil, stats, err
	}
	log.Printf("counted %d records: %d cells, %d genes, %d nonzeros (%d records filtered, %d UMIs skipped)",
		stats.Records, stats.Barcodes, stats.Genes, stats.NNZ, stats.FilteredRecords, stats.SkippedUMIs)
	return m, stats, nil
}

// FileSource is a RecordSource reading BUS records from a file,
// created by OpenFile. Close it after the scan.
type FileSource struct {
	in  file.File
	src RecordSource
}

// OpenFile opens path for reading BUS records. Binary BUS streams are
// detected by their magic bytes, anything else is read as text;
// either may be compressed, since detection happens after the
// path-based decompression.
func OpenFile(ctx context.Context, path string) (*FileSource, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	r := io.Reader(in.Reader(ctx))
	if u, ok := compress.NewReaderPath(r, path); ok {
		r = u
	}
	br := bufio.NewReaderSize(r, 1<<20)
	prefix, err := br.Peek(4)
	if err != nil && err != io.EOF {
		in.Close(ctx) // nolint: errcheck
		return nil, errors.Wrap(err, path)
	}
	f := &FileSource{in: in}
	if bus.IsBinary(prefix) {
		binr, err := bus.NewBinaryReader(br)
		if err != nil {
			in.Close(ctx) // nolint: errcheck
			return nil, errors.Wrap(err, path)
		}
		hdr := binr.Header()
		log.Printf("%s: binary BUS v%d (barcode length %d, UMI length %d)",
			path, hdr.Version, hdr.BarcodeLen, hdr.UMILen)
		f.src = binr
	} else {
		f.src = bus.NewScanner(br)
	}
	return f, nil
}

// Scan implements RecordSource.
func (f *FileSource) Scan(rec *bus.Record) bool { return f.src.Scan(rec) }

// Err implements RecordSource.
func (f *FileSource) Err() error { return f.src.Err() }

// Close releases the underlying file.
func (f *FileSource) Close(ctx context.Context) error { return f.in.Close(ctx) }

// ConvertFile opens path with OpenFile and runs Convert on its
// contents.
func ConvertFile(ctx context.Context, path string, ecs *ECTable, wl *barcode.Whitelist, opts Opts) (m *Matrix, stats Stats, err error) {
	src, err := OpenFile(ctx, path)
	if err != nil {
		return nil, stats, err
	}
	defer func() {
		if e := src.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	m, stats, err = Convert(ctx, src, ecs, wl, opts)
	if err != nil {
		return nil, stats, errors.Wrap(err, path)
	}
	return m, stats, nil
}
