package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/scrna/barcode"
	"github.com/grailbio/scrna/count"
	"github.com/grailbio/scrna/encoding/bus"
	"github.com/grailbio/scrna/sorter"
)

var (
	ecPath          = flag.String("ec", "", "Input equivalence class file (matrix.ec); required")
	transcriptsPath = flag.String("transcripts", "", "Input transcript name file, one name per line; required")
	t2gPath         = flag.String("t2g", "", "Input transcript-to-gene map: TSV with transcript, gene and optional gene name columns; required")
	whitelistPath   = flag.String("whitelist", "", "Barcode whitelist path, one barcode per line. If empty, every barcode is counted")
	outDir          = flag.String("out", "sc-count", "Output directory")
	format          = flag.String("format", "mtx", "Output format; 'mtx', 'mtx-bgz' and 'rio' supported")
	correct         = flag.Bool("correct", false, "Snap barcodes within Hamming distance 1 of a unique whitelist entry onto it before counting; requires -whitelist and implies -sort")
	sortRecords     = flag.Bool("sort", false, "Sort records by (barcode, UMI, EC) before counting, for inputs that are not barcode-sorted")
	whitelistOut    = flag.String("whitelist-output", "", "If set, derive a whitelist from the barcode read counts (knee filter), write it to this path, and exit without counting")
	estCells        = flag.Int("est-cells", count.DefaultOpts.EstCells, "Estimated number of cells, used to presize dictionaries")
	estGenes        = flag.Int("est-genes", count.DefaultOpts.EstGenes, "Estimated number of distinct genes hit per run, used to presize dictionaries")
	progressEvery   = flag.Int64("progress-every", count.DefaultOpts.ProgressEvery, "Log progress every this many records; 0 disables progress logging")
	printChecksum   = flag.Bool("checksum", false, "Print a JSON checksum of the result matrix to stdout")
	parallelism     = flag.Int("parallelism", 0, "Maximum number of simultaneous sort and compression jobs; 0 = runtime.NumCPU()")
	sortBatchSize   = flag.Int("sort-batch-size", sorter.DefaultSortBatchSize, "Number of records to sort in memory before spilling a shard to disk")
	tempDir         = flag.String("temp-dir", "", "Directory to write temporary sort shards to (default os.TempDir())")
)

func scCountUsage() {
	fmt.Printf("Usage: %s [OPTIONS] buspath\n", os.Args[0])
	fmt.Printf("Other options:\n")
	flag.PrintDefaults()
}

// makeWhitelist tallies reads per barcode and writes the knee-filtered
// whitelist to outPath.
func makeWhitelist(ctx context.Context, busPath, outPath string) {
	src, err := count.OpenFile(ctx, busPath)
	if err != nil {
		log.Panicf("open %v: %v", busPath, err)
	}
	counts := map[string]int64{}
	nRecs := int64(0)
	rec := bus.Record{}
	for src.Scan(&rec) {
		counts[rec.Barcode] += int64(rec.Count)
		nRecs++
	}
	if err := src.Err(); err != nil {
		log.Panicf("read %v: %v", busPath, err)
	}
	if err := src.Close(ctx); err != nil {
		log.Panicf("close %v: %v", busPath, err)
	}
	barcodes, threshold := barcode.Knee(counts)
	if err := barcode.WriteWhitelist(ctx, outPath, barcodes); err != nil {
		log.Panicf("write %v: %v", outPath, err)
	}
	log.Printf("whitelist: kept %d of %d barcodes (>= %d reads each) from %d records; wrote %s",
		len(barcodes), len(counts), threshold, nRecs, outPath)
}

// convertPreprocessed reads busPath, optionally snapping barcodes onto
// the whitelist, sorts the records externally, and counts the sorted
// stream.
func convertPreprocessed(ctx context.Context, busPath string, ecs *count.ECTable, wl *barcode.Whitelist, opts count.Opts) (*count.Matrix, count.Stats) {
	src, err := count.OpenFile(ctx, busPath)
	if err != nil {
		log.Panicf("open %v: %v", busPath, err)
	}
	var corrector *barcode.Corrector
	if *correct {
		corrector = barcode.NewCorrector(wl)
	}
	s := sorter.NewSorter(sorter.SortOptions{
		SortBatchSize: *sortBatchSize,
		Parallelism:   *parallelism,
		TmpDir:        *tempDir,
	})
	var nRecs, nSnapped, nDropped int64
	rec := bus.Record{}
	for src.Scan(&rec) {
		nRecs++
		if corrector != nil {
			corrected, edits, ok := corrector.Correct(rec.Barcode)
			if !ok {
				nDropped++
				continue
			}
			if edits > 0 {
				nSnapped++
				rec.Barcode = corrected
			}
		}
		s.AddRecord(&rec)
	}
	if err := src.Err(); err != nil {
		log.Panicf("read %v: %v", busPath, err)
	}
	if err := src.Close(ctx); err != nil {
		log.Panicf("close %v: %v", busPath, err)
	}
	if corrector != nil {
		log.Printf("corrected %d of %d records onto the whitelist, dropped %d uncorrectable",
			nSnapped, nRecs, nDropped)
	}
	merger, err := s.Sort()
	if err != nil {
		log.Panicf("sort %v: %v", busPath, err)
	}
	m, stats, err := count.Convert(ctx, merger, ecs, wl, opts)
	if err != nil {
		merger.Close() // nolint: errcheck
		log.Panicf("count %v: %v", busPath, err)
	}
	if err := merger.Close(); err != nil {
		log.Panicf("close sort shards: %v", err)
	}
	return m, stats
}

func writeMatrix(ctx context.Context, m *count.Matrix) {
	// file.Create makes no parent directories, so pre-create local
	// output directories. Object stores have none to create.
	if !strings.Contains(*outDir, "://") {
		if err := os.MkdirAll(*outDir, 0755); err != nil {
			log.Panicf("mkdir %v: %v", *outDir, err)
		}
	}
	switch *format {
	case "mtx", "mtx-bgz":
		opts := count.WriteOpts{BGzip: *format == "mtx-bgz", Parallelism: *parallelism}
		if err := count.WriteMatrixMarket(ctx, m, *outDir, opts); err != nil {
			log.Panicf("write %v: %v", *outDir, err)
		}
	case "rio":
		path := filepath.Join(*outDir, count.RecordioFileName)
		if err := count.WriteRecordio(ctx, m, path); err != nil {
			log.Panicf("write %v: %v", path, err)
		}
	default:
		log.Panicf("unknown -format '%s'", *format)
	}
}

func main() {
	flag.Usage = scCountUsage
	shutdown := grail.Init()
	defer shutdown()

	if flag.NArg() != 1 {
		log.Fatalf("exactly one positional argument (buspath) is required; please check flag syntax: '%s'",
			strings.Join(flag.Args(), " "))
	}
	busPath := flag.Arg(0)
	ctx := vcontext.Background()
	if *parallelism <= 0 {
		*parallelism = runtime.NumCPU()
	}

	if *whitelistOut != "" {
		makeWhitelist(ctx, busPath, *whitelistOut)
		return
	}
	if *ecPath == "" || *transcriptsPath == "" || *t2gPath == "" {
		log.Fatalf("-ec, -transcripts and -t2g are required")
	}
	if *correct && *whitelistPath == "" {
		log.Fatalf("-correct requires -whitelist")
	}
	switch *format {
	case "mtx", "mtx-bgz", "rio":
	default:
		log.Fatalf("unknown -format '%s'; 'mtx', 'mtx-bgz' and 'rio' supported", *format)
	}

	ecs, err := count.ReadECTable(ctx, *ecPath, *transcriptsPath, *t2gPath)
	if err != nil {
		log.Panicf("read equivalence classes: %v", err)
	}
	var wl *barcode.Whitelist
	if *whitelistPath != "" {
		if wl, err = barcode.ReadWhitelist(ctx, *whitelistPath); err != nil {
			log.Panicf("read whitelist %v: %v", *whitelistPath, err)
		}
		log.Printf("%s: %d whitelisted barcodes", *whitelistPath, wl.Size())
	}

	opts := count.Opts{
		EstCells:      *estCells,
		EstGenes:      *estGenes,
		ProgressEvery: *progressEvery,
	}
	if *progressEvery > 0 {
		opts.Progress = func(stats count.Stats) {
			log.Printf("processed %d records: %d cells, %d UMIs so far", stats.Records, stats.Barcodes, stats.UMIs)
		}
	}

	var (
		m     *count.Matrix
		stats count.Stats
	)
	if *correct || *sortRecords {
		m, stats = convertPreprocessed(ctx, busPath, ecs, wl, opts)
	} else if m, stats, err = count.ConvertFile(ctx, busPath, ecs, wl, opts); err != nil {
		log.Panicf("count %v: %v", busPath, err)
	}
	log.Printf("%d reads in %d records; %d UMIs counted (%d ambiguous, %d geneless)",
		stats.Reads, stats.Records, stats.UMIs, stats.AmbiguousUMIs, stats.SkippedUMIs)

	writeMatrix(ctx, m)
	if *printChecksum {
		sum := m.Checksum()
		js, err := json.MarshalIndent(&sum, "", "  ")
		if err != nil {
			log.Panic(err)
		}
		fmt.Println(string(js))
	}
	log.Debug.Printf("exiting")
}
