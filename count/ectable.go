package count

import (
	"bufio"
	"context"
	"io"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// GeneID is a dense sequence number (0, 1, 2, ...) assigned to a gene
// when the EC table is built. IDs are valid only within one process
// invocation. Note that a gene's matrix row is assigned separately,
// in flush order, by Convert.
type GeneID int32

// GeneInfo stores the labels of one gene.
type GeneInfo struct {
	// ID is the dense in-process ID.
	ID GeneID
	// Gene is the stable gene identifier, e.g. "ENSG00000243485.5".
	Gene string
	// Name is the common gene name, e.g. "MIR1302-2HG". Empty when the
	// transcript-to-gene mapping carries no name column.
	Name string
}

// ECTable maps equivalence-class indices to gene sets and owns the
// gene label dictionary. Gene sets are sorted ascending and
// duplicate-free, which lets the UMI aggregator intersect and union
// them with linear merges. Thread compatible: read-only after
// construction.
type ECTable struct {
	// names maps gene identifiers to dense IDs.
	names map[string]GeneID
	genes []GeneInfo // indexed by GeneID

	// Gene sets are stored back to back in one arena. Set i spans
	// geneIDs[offsets[i]:offsets[i+1]].
	offsets []int64
	geneIDs []GeneID
}

// NumECs returns the number of equivalence classes.
func (t *ECTable) NumECs() int { return len(t.offsets) - 1 }

// NumGenes returns the number of distinct genes.
func (t *ECTable) NumGenes() int { return len(t.genes) }

// GeneSet returns the gene set of the given equivalence class. The
// returned slice aliases the table and must not be mutated.
//
// REQUIRES: 0 <= ec < NumECs().
func (t *ECTable) GeneSet(ec int32) []GeneID {
	return t.geneIDs[t.offsets[ec]:t.offsets[ec+1]]
}

// GeneInfo gets the GeneInfo given an ID.
//
// REQUIRES: id is valid.
func (t *ECTable) GeneInfo(id GeneID) GeneInfo { return t.genes[id] }

func (t *ECTable) internGene(gene, name string) GeneID {
	if id, ok := t.names[gene]; ok {
		return id
	}
	id := GeneID(len(t.genes))
	t.names[gene] = id
	t.genes = append(t.genes, GeneInfo{ID: id, Gene: gene, Name: name})
	return id
}

// NewECTable builds a table directly from per-EC gene identifier
// lists: geneLists[i] holds the genes of equivalence class i. Genes
// are interned in order of appearance; lists may repeat genes.
func NewECTable(geneLists [][]string) *ECTable {
	t := &ECTable{
		names:   make(map[string]GeneID),
		offsets: make([]int64, 1, len(geneLists)+1),
	}
	for _, list := range geneLists {
		start := len(t.geneIDs)
		for _, g := range list {
			t.geneIDs = append(t.geneIDs, t.internGene(g, ""))
		}
		set := normalizeGeneSet(t.geneIDs[start:])
		t.geneIDs = t.geneIDs[:start+len(set)]
		t.offsets = append(t.offsets, int64(len(t.geneIDs)))
	}
	return t
}

// normalizeGeneSet sorts set ascending and drops duplicates in place,
// returning the shortened slice.
func normalizeGeneSet(set []GeneID) []GeneID {
	sort.Slice(set, func(i, j int) bool { return set[i] < set[j] })
	out := set[:0]
	for _, g := range set {
		if len(out) == 0 || g != out[len(out)-1] {
			out = append(out, g)
		}
	}
	return out
}

// matrix.ec lines can list tens of thousands of transcript indices.
const maxECLineBytes = 1 << 28

// ReadECTable reads a kallisto-style index directory: ecPath
// ("matrix.ec") maps each EC to transcript indices, transcriptsPath
// ("transcripts.txt") lists transcript identifiers one per line in
// index order, and t2gPath maps transcript identifiers to gene
// identifiers (two columns) and optionally common gene names (third
// column). Gzipped paths are decompressed transparently.
//
// Every transcript listed in transcriptsPath must be mapped by
// t2gPath, EC numbering must be dense and in order, and transcript
// indices must be in range; violations are errors, since an
// incomplete table would silently misassign counts.
func ReadECTable(ctx context.Context, ecPath, transcriptsPath, t2gPath string) (*ECTable, error) {
	transcripts, err := readTranscripts(ctx, transcriptsPath)
	if err != nil {
		return nil, err
	}
	t := &ECTable{names: make(map[string]GeneID)}
	txGene, err := t.readT2G(ctx, t2gPath, transcripts)
	if err != nil {
		return nil, err
	}
	if err := t.readECs(ctx, ecPath, txGene); err != nil {
		return nil, err
	}
	log.Printf("%s: read %d equivalence classes over %d genes (%d transcripts)",
		ecPath, t.NumECs(), t.NumGenes(), len(transcripts))
	return t, nil
}

func openText(ctx context.Context, path string) (in file.File, r io.Reader, err error) {
	if in, err = file.Open(ctx, path); err != nil {
		return nil, nil, err
	}
	r = in.Reader(ctx)
	switch fileio.DetermineType(path) {
	case fileio.Gzip:
		if r, err = gzip.NewReader(r); err != nil {
			in.Close(ctx) // nolint: errcheck
			return nil, nil, err
		}
	}
	return in, r, nil
}

func readTranscripts(ctx context.Context, path string) (transcripts []string, err error) {
	in, r, err := openText(ctx, path)
	if err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, in, &err)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		tx := strings.TrimSpace(scanner.Text())
		if tx == "" {
			return nil, errors.Errorf("%s:%d: empty transcript name", path, len(transcripts)+1)
		}
		transcripts = append(transcripts, tx)
	}
	if err = scanner.Err(); err != nil {
		return nil, errors.Wrap(err, path)
	}
	return transcripts, nil
}

// readT2G reads the transcript-to-gene mapping and returns the gene
// of each transcript index, interning genes as it goes.
func (t *ECTable) readT2G(ctx context.Context, path string, transcripts []string) (txGene []GeneID, err error) {
	in, r, err := openText(ctx, path)
	if err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, in, &err)

	type geneRef struct{ gene, name string }
	byTx := make(map[string]geneRef, len(transcripts))
	scanner := bufio.NewScanner(r)
	lineno := 0
	for scanner.Scan() {
		lineno++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 2 {
			return nil, errors.Errorf("%s:%d: want at least 2 fields (transcript, gene), got %d", path, lineno, len(fields))
		}
		ref := geneRef{gene: fields[1]}
		if len(fields) > 2 {
			ref.name = fields[2]
		}
		if prev, ok := byTx[fields[0]]; ok {
			if prev.gene != ref.gene {
				return nil, errors.Errorf("%s:%d: transcript %s mapped to both %s and %s",
					path, lineno, fields[0], prev.gene, ref.gene)
			}
			continue
		}
		byTx[fields[0]] = ref
	}
	if err = scanner.Err(); err != nil {
		return nil, errors.Wrap(err, path)
	}

	// Interning in transcript index order keeps GeneIDs deterministic
	// regardless of t2g line order.
	txGene = make([]GeneID, len(transcripts))
	for i, tx := range transcripts {
		ref, ok := byTx[tx]
		if !ok {
			return nil, errors.Errorf("%s: transcript %s (index %d) has no gene mapping", path, tx, i)
		}
		txGene[i] = t.internGene(ref.gene, ref.name)
	}
	return txGene, nil
}

// readECs parses the matrix.ec file and resolves each EC's transcript
// indices into a normalized gene set.
func (t *ECTable) readECs(ctx context.Context, path string, txGene []GeneID) (err error) {
	in, r, err := openText(ctx, path)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, in, &err)

	// Line scanning is sequential; the per-EC parse and gene-set
	// normalization run in parallel below.
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1<<20), maxECLineBytes)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err = scanner.Err(); err != nil {
		return errors.Wrap(err, path)
	}

	sets := make([][]GeneID, len(lines))
	parallelism := runtime.NumCPU()
	if err = traverse.Each(parallelism, func(job int) error {
		begin := (job * len(lines)) / parallelism
		end := ((job + 1) * len(lines)) / parallelism
		for i := begin; i < end; i++ {
			set, err := parseECLine(path, i, lines[i], txGene)
			if err != nil {
				return err
			}
			sets[i] = set
		}
		return nil
	}); err != nil {
		return err
	}

	var total int64
	for _, set := range sets {
		total += int64(len(set))
	}
	t.offsets = make([]int64, 1, len(sets)+1)
	t.geneIDs = make([]GeneID, 0, total)
	for _, set := range sets {
		t.geneIDs = append(t.geneIDs, set...)
		t.offsets = append(t.offsets, int64(len(t.geneIDs)))
	}
	return nil
}

// parseECLine parses one matrix.ec line of the form
// "<ec>\t<tx>,<tx>,..." for the EC expected at index i.
func parseECLine(path string, i int, line string, txGene []GeneID) ([]GeneID, error) {
	lineno := i + 1
	tab := strings.IndexAny(line, "\t ")
	if tab < 0 {
		return nil, errors.Errorf("%s:%d: want two fields (EC, transcript list)", path, lineno)
	}
	ec, err := strconv.ParseInt(strings.TrimSpace(line[:tab]), 10, 32)
	if err != nil {
		return nil, errors.Errorf("%s:%d: bad EC index %q", path, lineno, line[:tab])
	}
	if ec != int64(i) {
		return nil, errors.Errorf("%s:%d: EC index %d out of order (want %d)", path, lineno, ec, i)
	}
	set := make([]GeneID, 0, 4)
	rest := strings.TrimSpace(line[tab+1:])
	for len(rest) > 0 {
		var tok string
		if c := strings.IndexByte(rest, ','); c >= 0 {
			tok, rest = rest[:c], rest[c+1:]
		} else {
			tok, rest = rest, ""
		}
		tx, err := strconv.ParseInt(tok, 10, 32)
		if err != nil {
			return nil, errors.Errorf("%s:%d: bad transcript index %q", path, lineno, tok)
		}
		if tx < 0 || tx >= int64(len(txGene)) {
			return nil, errors.Errorf("%s:%d: transcript index %d outside [0,%d)", path, lineno, tx, len(txGene))
		}
		set = append(set, txGene[tx])
	}
	return normalizeGeneSet(set), nil
}
