package count

// Opts configures Convert.
type Opts struct {
	// EstCells is a capacity hint: the expected number of whitelisted
	// barcodes in the input. Under-estimates cost only reallocation,
	// never correctness.
	EstCells int
	// EstGenes is a capacity hint: the expected number of distinct
	// genes receiving counts.
	EstGenes int

	// ProgressEvery is the record interval between Progress calls.
	ProgressEvery int64
	// Progress, if non-nil, is invoked with a snapshot of the running
	// stats every ProgressEvery records.
	Progress func(Stats)
}

// DefaultOpts sets the default values to Opts.
var DefaultOpts = Opts{
	EstCells:      4096,    // Go: -est-cells
	EstGenes:      32768,   // Go: -est-genes
	ProgressEvery: 5000000, // Go: -progress-every
}

func (o Opts) sanitize() Opts {
	if o.EstCells <= 0 {
		o.EstCells = DefaultOpts.EstCells
	}
	if o.EstGenes <= 0 {
		o.EstGenes = DefaultOpts.EstGenes
	}
	if o.ProgressEvery <= 0 {
		o.ProgressEvery = DefaultOpts.ProgressEvery
	}
	return o
}
