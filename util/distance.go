package util

import "fmt"

// Hamming computes the Hamming distance between two barcodes: the
// number of positions at which they differ. Substitution is the only
// sequencing error mode considered when snapping cell barcodes to a
// whitelist, so no alignment is involved. Note that s1 and s2 must
// have the same length.
func Hamming(s1, s2 string) (distance int) {
	if len(s1) != len(s2) {
		panic(fmt.Sprintf("s1 and s2 must have equal length: '%s', '%s'", s1, s2))
	}
	for i := 0; i < len(s1); i++ {
		if s1[i] != s2[i] {
			distance++
		}
	}
	return distance
}
