// Package count converts a barcode-sorted stream of BUS records into
// a sparse gene×cell count matrix.
//
// Records are grouped by barcode (the input must be barcode-sorted;
// see the sorter package), barcodes failing the whitelist are
// dropped, and the records of each surviving barcode are deduplicated
// by UMI: all equivalence-class gene sets observed for one UMI are
// intersected, falling back to their union when the intersection is
// empty. Each resolved UMI then contributes 1/|genes| to every gene
// in its candidate set, so a molecule compatible with two genes adds
// 0.5 to each. Columns are emitted in barcode first-seen order, rows
// in gene first-seen order, as a compressed sparse column (CSC)
// triplet.
//
// The streaming loop is single-threaded; memory stays proportional to
// the output matrix plus one barcode's worth of UMI state.
package count
