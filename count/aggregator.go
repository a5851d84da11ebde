package count

// umiState tracks one UMI within the current barcode run: the running
// intersection and union of every gene set observed for it.
//
// Most UMIs are observed exactly once, so the first observation is
// kept as an alias of the EC table's gene set; owned intersection and
// union slices are materialized only when a second observation
// arrives. Both stay sorted, keeping every merge linear.
type umiState struct {
	first []GeneID // aliases the EC table; nil after the second observation
	inter []GeneID
	union []GeneID
	n     int // observations
}

func (s *umiState) reset() {
	s.first = nil
	s.inter = s.inter[:0]
	s.union = s.union[:0]
	s.n = 0
}

// candidate returns the gene set this UMI's count is split over: the
// intersection of all observed sets, or their union when the
// intersection came up empty. ambiguous reports the union fallback.
func (s *umiState) candidate() (genes []GeneID, ambiguous bool) {
	if s.n == 1 {
		return s.first, false
	}
	if len(s.inter) > 0 {
		return s.inter, false
	}
	return s.union, true
}

// umiAggregator holds the per-barcode UMI states. State is recycled
// across barcodes: maps are emptied and slices truncated, not
// reallocated, since the stream visits millions of barcodes.
type umiAggregator struct {
	byUMI   map[string]int32
	states  []umiState
	n       int
	scratch []GeneID
}

func newUMIAggregator() *umiAggregator {
	return &umiAggregator{byUMI: make(map[string]int32)}
}

// add merges one observed gene set into the state of umi.
func (a *umiAggregator) add(umi string, genes []GeneID) {
	s := a.state(umi)
	s.n++
	switch {
	case s.n == 1:
		s.first = genes
	case s.n == 2:
		s.inter = intersectGeneSets(s.inter[:0], s.first, genes)
		s.union = mergeGeneSets(s.union[:0], s.first, genes)
		s.first = nil
	default:
		// Intersection shrinks, so it can compact in place. Union
		// grows and must merge through a scratch buffer.
		s.inter = intersectGeneSets(s.inter[:0], s.inter, genes)
		a.scratch = mergeGeneSets(a.scratch[:0], s.union, genes)
		s.union, a.scratch = a.scratch, s.union
	}
}

func (a *umiAggregator) state(umi string) *umiState {
	if i, ok := a.byUMI[umi]; ok {
		return &a.states[i]
	}
	if a.n == len(a.states) {
		a.states = append(a.states, umiState{})
	}
	s := &a.states[a.n]
	s.reset()
	a.byUMI[umi] = int32(a.n)
	a.n++
	return s
}

// flush resolves every UMI of the current barcode into the
// accumulator and clears the aggregator. States are visited in UMI
// first-seen order so that downstream row assignment is
// deterministic.
func (a *umiAggregator) flush(acc *accumulator, stats *Stats) {
	for i := 0; i < a.n; i++ {
		genes, ambiguous := a.states[i].candidate()
		if len(genes) == 0 {
			stats.SkippedUMIs++
			continue
		}
		stats.UMIs++
		if ambiguous {
			stats.AmbiguousUMIs++
		}
		w := 1.0 / float64(len(genes))
		for _, g := range genes {
			acc.add(g, w)
		}
	}
	for umi := range a.byUMI {
		delete(a.byUMI, umi)
	}
	a.n = 0
}

// intersectGeneSets appends the intersection of sorted sets a and b
// to out. out may alias a[:0].
func intersectGeneSets(out, a, b []GeneID) []GeneID {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

// mergeGeneSets appends the union of sorted sets a and b to out. out
// must not alias a or b.
func mergeGeneSets(out, a, b []GeneID) []GeneID {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// accEntry is one (gene, running count) cell of the accumulator.
type accEntry struct {
	gene  GeneID
	count float64
}

// accumulator sums fractional counts per gene for one barcode.
// Entries preserve insertion order: column flushes walk entries, not
// the index map, so output order never depends on map iteration.
type accumulator struct {
	index   map[GeneID]int32
	entries []accEntry
}

func newAccumulator() *accumulator {
	return &accumulator{index: make(map[GeneID]int32)}
}

func (c *accumulator) add(g GeneID, w float64) {
	if i, ok := c.index[g]; ok {
		c.entries[i].count += w
		return
	}
	c.index[g] = int32(len(c.entries))
	c.entries = append(c.entries, accEntry{gene: g, count: w})
}

func (c *accumulator) clear() {
	for g := range c.index {
		delete(c.index, g)
	}
	c.entries = c.entries[:0]
}
