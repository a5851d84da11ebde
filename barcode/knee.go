package barcode

import (
	"math"
	"sort"

	"github.com/grailbio/base/log"
)

// Knee derives a whitelist from per-barcode record counts when no
// external list is available. Barcodes are ranked by descending count
// and the knee of the log-log rank/count curve, the point farthest
// from the chord between the curve's endpoints, separates
// cell-containing barcodes from ambient noise. Knee returns the
// barcodes at or above the knee's count, most frequent first (ties
// broken by barcode), along with the count threshold.
func Knee(counts map[string]int64) (barcodes []string, threshold int64) {
	type ranked struct {
		barcode string
		count   int64
	}
	all := make([]ranked, 0, len(counts))
	for bc, n := range counts {
		if n > 0 {
			all = append(all, ranked{bc, n})
		}
	}
	if len(all) == 0 {
		return nil, 0
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].count != all[j].count {
			return all[i].count > all[j].count
		}
		return all[i].barcode < all[j].barcode
	})

	x := func(i int) float64 { return math.Log10(float64(i + 1)) }
	y := func(i int) float64 { return math.Log10(float64(all[i].count)) }
	var (
		x1, y1  = x(0), y(0)
		x2, y2  = x(len(all) - 1), y(len(all) - 1)
		kneeIdx int
		maxDist float64
	)
	for i := range all {
		d := math.Abs((y2-y1)*x(i) - (x2-x1)*y(i) + x2*y1 - y2*x1)
		if d > maxDist {
			maxDist = d
			kneeIdx = i
		}
	}
	threshold = all[kneeIdx].count
	for _, r := range all {
		if r.count < threshold {
			break
		}
		barcodes = append(barcodes, r.barcode)
	}
	log.Printf("barcode knee at rank %d: %d of %d barcodes with >= %d records",
		kneeIdx+1, len(barcodes), len(all), threshold)
	return barcodes, threshold
}
