package count

// Stats represents high-level statistics of one Convert run.
type Stats struct {
	// Records is the # of BUS records read.
	Records int64
	// Reads is the total read multiplicity over all records. Text
	// records count one read each.
	Reads int64
	// FilteredRecords is the # of records dropped because their
	// barcode is not in the whitelist.
	FilteredRecords int64
	// Barcodes is the # of distinct whitelisted barcodes seen, i.e.
	// the column count of the output matrix.
	Barcodes int64
	// UMIs is the # of UMIs resolved into counts.
	UMIs int64
	// AmbiguousUMIs is the # of UMIs resolved through the union
	// fallback because the intersection of their gene sets was empty.
	AmbiguousUMIs int64
	// SkippedUMIs is the # of UMIs dropped because no observation
	// carried any genes.
	SkippedUMIs int64
	// Genes is the # of distinct genes assigned a row.
	Genes int64
	// NNZ is the # of nonzero entries in the output matrix.
	NNZ int64
}
