package barcode

import (
	"github.com/grailbio/scrna/util"
)

var alphabet = []byte{'A', 'C', 'G', 'T'}

// Corrector implements "snap" correction of cell barcodes. A barcode
// is snappable if exactly one whitelist entry lies within Hamming
// distance 1 of it (substitutions only; indels are not a barcode
// error mode since the instrument reads a fixed cycle count).
//
// Cell barcode whitelists are far too large to precompute a
// correction table over all k-mers the way UMI snapping does, so
// Correct instead probes the 3k single-base variants of a barcode, or
// scans the whitelist when the whitelist is the smaller side.
type Corrector struct {
	wl *Whitelist
}

// NewCorrector creates a corrector that snaps onto wl.
func NewCorrector(wl *Whitelist) *Corrector {
	return &Corrector{wl: wl}
}

// Correct returns the whitelist barcode that bc should count as. A
// whitelist member is returned unchanged with zero edits. Otherwise,
// if exactly one whitelist entry lies within Hamming distance 1, that
// entry is returned with edits == 1. Failing both, Correct returns
// the original barcode, -1, and false.
func (c *Corrector) Correct(bc string) (corrected string, edits int, ok bool) {
	if c.wl.Contains(bc) {
		return bc, 0, true
	}
	// Probing costs 3·len(bc) set lookups, scanning one Hamming pass
	// per whitelist entry. Pick the cheaper side.
	if c.wl.Size() < 3*len(bc) {
		return c.correctScan(bc)
	}
	return c.correctProbe(bc)
}

func (c *Corrector) correctProbe(bc string) (string, int, bool) {
	var (
		buf  = []byte(bc)
		hit  string
		hits int
	)
	for i := 0; i < len(buf); i++ {
		orig := buf[i]
		for _, base := range alphabet {
			if base == orig {
				continue
			}
			buf[i] = base
			if _, found := c.wl.set[string(buf)]; found {
				hits++
				if hits > 1 {
					return bc, -1, false
				}
				hit = string(buf)
			}
		}
		buf[i] = orig
	}
	if hits == 1 {
		return hit, 1, true
	}
	return bc, -1, false
}

func (c *Corrector) correctScan(bc string) (string, int, bool) {
	var (
		hit  string
		hits int
	)
	for w := range c.wl.set {
		if len(w) != len(bc) {
			continue
		}
		if util.Hamming(w, bc) == 1 {
			hits++
			if hits > 1 {
				return bc, -1, false
			}
			hit = w
		}
	}
	if hits == 1 {
		return hit, 1, true
	}
	return bc, -1, false
}
