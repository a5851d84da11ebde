// Package bus reads and writes BUS records: the (barcode, UMI,
// equivalence class) triples emitted by single-cell RNA-seq
// pseudoaligners. Both the tab-delimited text form and the packed
// binary form are supported. Scanners follow the Scan/Err convention,
// so either form can feed the same downstream consumer.
package bus

import "strings"

// A Record is one observation of a molecular barcode and UMI assigned
// to an equivalence class. Count and Flags are carried by the binary
// format only; the text format stores the bare triple and scanners of
// it report Count == 1.
type Record struct {
	Barcode string
	UMI     string
	EC      int32
	Count   uint32
	Flags   uint32
}

// Compare orders records by (barcode, UMI, EC), the canonical BUS sort
// order. It returns -1, 0, or 1.
func Compare(a, b *Record) int {
	if c := strings.Compare(a.Barcode, b.Barcode); c != 0 {
		return c
	}
	if c := strings.Compare(a.UMI, b.UMI); c != 0 {
		return c
	}
	switch {
	case a.EC < b.EC:
		return -1
	case a.EC > b.EC:
		return 1
	}
	return 0
}
