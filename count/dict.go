package count

// dict assigns dense indices to string keys in first-seen order. It
// backs the barcode → column mapping.
type dict struct {
	index map[string]int32
	keys  []string
}

func newDict(capacityHint int) *dict {
	return &dict{
		index: make(map[string]int32, capacityHint),
		keys:  make([]string, 0, capacityHint),
	}
}

// assign returns the index of key, inserting it at the next free
// index if absent. isNew reports an insertion.
func (d *dict) assign(key string) (int32, bool) {
	if idx, ok := d.index[key]; ok {
		return idx, false
	}
	idx := int32(len(d.keys))
	d.index[key] = idx
	d.keys = append(d.keys, key)
	return idx, true
}

func (d *dict) size() int { return len(d.keys) }

// geneRows assigns matrix rows to genes in first-flush order. GeneIDs
// are dense, so lookup is an array index rather than a map.
type geneRows struct {
	rowOf []int32  // indexed by GeneID; -1 until assigned
	genes []GeneID // indexed by row
}

func newGeneRows(numGenes, capacityHint int) *geneRows {
	if capacityHint > numGenes {
		capacityHint = numGenes
	}
	r := &geneRows{
		rowOf: make([]int32, numGenes),
		genes: make([]GeneID, 0, capacityHint),
	}
	for i := range r.rowOf {
		r.rowOf[i] = -1
	}
	return r
}

// assign returns the row of gene g, assigning the next free row on
// first sight.
func (r *geneRows) assign(g GeneID) int32 {
	if row := r.rowOf[g]; row >= 0 {
		return row
	}
	row := int32(len(r.genes))
	r.rowOf[g] = row
	r.genes = append(r.genes, g)
	return row
}

func (r *geneRows) size() int { return len(r.genes) }
