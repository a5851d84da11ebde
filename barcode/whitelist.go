// Package barcode handles cell barcode whitelists: loading them,
// filtering against them, snapping near-miss barcodes onto them, and
// deriving them from barcode frequencies when no external list is
// available.
package barcode

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/log"
	"github.com/klauspost/compress/gzip"
)

// Whitelist is a set of accepted cell barcodes.
type Whitelist struct {
	set map[string]struct{}
	// seqLen is the common barcode length, or 0 when the list holds
	// mixed lengths.
	seqLen int
}

// NewWhitelist builds a whitelist from the given barcodes. Barcodes
// are uppercased; empty strings are dropped.
func NewWhitelist(barcodes []string) *Whitelist {
	wl := &Whitelist{set: make(map[string]struct{}, len(barcodes)), seqLen: -1}
	for _, bc := range barcodes {
		wl.add(strings.ToUpper(bc))
	}
	if wl.seqLen < 0 {
		wl.seqLen = 0
	}
	return wl
}

// ReadWhitelist reads a whitelist from a file with one barcode per
// line, transparently decompressing gzipped paths.
func ReadWhitelist(ctx context.Context, path string) (wl *Whitelist, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, in, &err)
	reader := io.Reader(in.Reader(ctx))
	switch fileio.DetermineType(path) {
	case fileio.Gzip:
		if reader, err = gzip.NewReader(reader); err != nil {
			return nil, err
		}
	}
	wl = &Whitelist{set: make(map[string]struct{}), seqLen: -1}
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		bc := strings.ToUpper(strings.TrimSpace(scanner.Text()))
		wl.add(bc)
	}
	if err = scanner.Err(); err != nil {
		return nil, err
	}
	if wl.seqLen < 0 {
		wl.seqLen = 0
	}
	log.Printf("%s: read %d whitelist barcodes", path, wl.Size())
	return wl, nil
}

func (w *Whitelist) add(bc string) {
	if bc == "" {
		return
	}
	switch {
	case w.seqLen < 0:
		w.seqLen = len(bc)
	case w.seqLen != len(bc):
		w.seqLen = 0
	}
	w.set[bc] = struct{}{}
}

// Contains reports whether bc is in the whitelist.
func (w *Whitelist) Contains(bc string) bool {
	_, ok := w.set[bc]
	return ok
}

// Size returns the number of barcodes in the whitelist.
func (w *Whitelist) Size() int { return len(w.set) }

// SeqLen returns the common barcode length, or 0 when the whitelist
// holds barcodes of mixed lengths.
func (w *Whitelist) SeqLen() int {
	if w.seqLen < 0 {
		return 0
	}
	return w.seqLen
}

// WriteWhitelist writes barcodes one per line, gzip-compressing when
// the path calls for it.
func WriteWhitelist(ctx context.Context, path string, barcodes []string) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, out, &err)
	w := io.Writer(out.Writer(ctx))
	switch fileio.DetermineType(path) {
	case fileio.Gzip:
		gz := gzip.NewWriter(w)
		defer func() {
			if cerr := gz.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		w = gz
	}
	bw := bufio.NewWriter(w)
	for _, bc := range barcodes {
		bw.WriteString(bc) // nolint: errcheck
		bw.WriteByte('\n') // nolint: errcheck
	}
	return bw.Flush()
}
