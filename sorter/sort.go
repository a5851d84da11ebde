// Package sorter implements external sorting of BUS records by
// (barcode, UMI, EC). The counting pass requires its input grouped by
// barcode; this package produces that ordering for inputs of
// arbitrary size by spilling sorted batches to temporary shard files
// and merging them back into a single stream.
package sorter

import (
	"io/ioutil"
	"os"
	"sort"
	"sync"

	"github.com/biogo/store/llrb"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/scrna/encoding/bus"
	"v.io/x/lib/vlog"
)

// DefaultSortBatchSize is the default number of records to keep in
// memory before spilling a sorted shard to disk.
const DefaultSortBatchSize = 1 << 20

// DefaultParallelism is the default value for SortOptions.Parallelism.
const DefaultParallelism = 2

// SortOptions controls Sorter.
type SortOptions struct {
	// SortBatchSize is the number of bus.Records to keep in memory
	// before spilling a sorted shard to disk. Not for general use; the
	// default value should suffice for most applications.
	SortBatchSize int

	// Parallelism limits the number of background shard sorts. Max
	// memory consumption of the sorter grows linearly with this value.
	// If <= 0, DefaultParallelism is used.
	Parallelism int

	// NoCompressTmpFiles, if false (default), compresses shards using
	// snappy.
	NoCompressTmpFiles bool

	// TmpDir defines the directory to store shard files created during
	// the sort. "" means the system default, usually /tmp.
	TmpDir string
}

type sortBatch struct {
	seq  int // batches are numbered in creation order
	recs []bus.Record
}

// Sorter sorts a stream of BUS records by (barcode, UMI, EC). Records
// that compare equal are emitted in the order they were added.
//
// Use it like this:
//
//   sorter := NewSorter()
//   for each record { sorter.AddRecord(&rec) }
//   merger, err := sorter.Sort()
//   defer merger.Close()
//   rec := bus.Record{}
//   for merger.Scan(&rec) { use rec }
//
// AddRecord and Sort must be called from one goroutine. Batches are
// sorted and written to disk by background workers.
type Sorter struct {
	options SortOptions
	recs    []bus.Record // current batch under construction
	batches int          // seq assigned to the next batch
	total   int64
	err     errors.Once
	batchCh chan sortBatch

	wg sync.WaitGroup
	mu sync.Mutex
	// shards[i] is the path of the shard written for batch i, or ""
	// if writing the batch failed.
	shards []string
}

// NewSorter creates a Sorter. optList may contain at most one
// element.
func NewSorter(optList ...SortOptions) *Sorter {
	options := SortOptions{}
	if len(optList) > 0 {
		if len(optList) > 1 {
			vlog.Fatalf("more than one options specified: %+v", optList)
		}
		options = optList[0]
	}
	if options.SortBatchSize <= 0 {
		options.SortBatchSize = DefaultSortBatchSize
	}
	if options.Parallelism <= 0 {
		options.Parallelism = DefaultParallelism
	}
	s := &Sorter{
		options: options,
		batchCh: make(chan sortBatch, options.Parallelism),
	}
	for i := 0; i < options.Parallelism; i++ {
		s.wg.Add(1)
		go func() {
			for batch := range s.batchCh {
				path := s.sortBatch(batch.recs)
				s.mu.Lock()
				for len(s.shards) <= batch.seq {
					s.shards = append(s.shards, "")
				}
				s.shards[batch.seq] = path
				s.mu.Unlock()
			}
			s.wg.Done()
		}()
	}
	return s
}

// AddRecord adds one record to the sorter. The record is copied, so
// the caller may reuse it after the call.
func (s *Sorter) AddRecord(rec *bus.Record) {
	s.total++
	s.recs = append(s.recs, *rec)
	if len(s.recs) >= s.options.SortBatchSize {
		s.startSortBatch()
	}
}

func (s *Sorter) startSortBatch() {
	s.batchCh <- sortBatch{seq: s.batches, recs: s.recs}
	s.batches++
	s.recs = nil
}

// sortBatch sorts one batch and writes it to a temp shard file,
// returning the file path. Called on worker goroutines.
func (s *Sorter) sortBatch(recs []bus.Record) string {
	vlog.VI(1).Infof("sorting batch of %d records", len(recs))
	sort.SliceStable(recs, func(i, j int) bool {
		return bus.Compare(&recs[i], &recs[j]) < 0
	})
	temp, err := ioutil.TempFile(s.options.TmpDir, "bussort")
	if err != nil {
		s.err.Set(err)
		return ""
	}
	w := newShardWriter(temp, !s.options.NoCompressTmpFiles)
	for i := range recs {
		w.write(&recs[i])
	}
	s.err.Set(w.finish())
	s.err.Set(temp.Close())
	return temp.Name()
}

// Sort flushes any pending batch and returns a Merger that yields
// every added record in sort order. It must be called exactly once,
// after the last AddRecord; the Sorter must not be used afterwards.
// The returned Merger owns the shard files and removes them on Close.
func (s *Sorter) Sort() (*Merger, error) {
	if len(s.recs) > 0 {
		s.startSortBatch()
	}
	close(s.batchCh)
	s.wg.Wait()
	if err := s.err.Err(); err != nil {
		removeShards(s.shards)
		return nil, err
	}
	vlog.VI(1).Infof("sorted %d records into %d shards", s.total, len(s.shards))
	return newMerger(s.shards, !s.options.NoCompressTmpFiles, &s.err), nil
}

func removeShards(shards []string) {
	for _, path := range shards {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil {
			vlog.Errorf("%v: failed to remove sorter tmp file: %v", path, err)
		}
	}
}

// mergeLeaf wraps one shard inside the merge tree. Leafs order by the
// shard's current record; the batch seq breaks ties so that equal
// records come out in the order they entered the sorter.
type mergeLeaf struct {
	seq    int
	reader *shardReader
}

// Compare implements llrb.Comparable.
func (l *mergeLeaf) Compare(c llrb.Comparable) int {
	other := c.(*mergeLeaf)
	if d := bus.Compare(&l.reader.rec, &other.reader.rec); d != 0 {
		return d
	}
	return l.seq - other.seq
}

// Merger yields records merged from sorted shard files in
// nondecreasing (barcode, UMI, EC) order. It satisfies the record
// source contract of count.Convert.
type Merger struct {
	leafs   llrb.Tree
	readers []*shardReader
	shards  []string
	err     *errors.Once
	// cur is the leaf whose record the previous Scan returned. It
	// stays out of the tree until the next Scan advances it, so that
	// the record handed to the caller is not overwritten early.
	cur *mergeLeaf
}

func newMerger(shards []string, compress bool, errReporter *errors.Once) *Merger {
	m := &Merger{shards: shards, err: errReporter}
	for i, path := range shards {
		if path == "" {
			continue
		}
		reader := newShardReader(path, compress, errReporter)
		m.readers = append(m.readers, reader)
		if reader.scan() {
			m.leafs.Insert(&mergeLeaf{seq: i, reader: reader})
		}
	}
	return m
}

// Scan reads the next record in sort order into *rec. It returns
// false at the end of the stream or on error; check Err after the
// loop.
func (m *Merger) Scan(rec *bus.Record) bool {
	if m.cur != nil {
		if m.cur.reader.scan() {
			m.leafs.Insert(m.cur)
		}
		m.cur = nil
	}
	if m.err.Err() != nil || m.leafs.Len() == 0 {
		return false
	}
	// Detach the smallest leaf so that the record handed to the
	// caller stays valid until the next Scan.
	m.leafs.Do(func(item llrb.Comparable) bool {
		m.cur = item.(*mergeLeaf)
		return true
	})
	m.leafs.DeleteMin()
	*rec = m.cur.reader.rec
	return true
}

// Err returns the first error encountered while sorting or merging.
func (m *Merger) Err() error { return m.err.Err() }

// Close closes the shard readers and removes the shard files.
func (m *Merger) Close() error {
	for _, reader := range m.readers {
		reader.close()
	}
	removeShards(m.shards)
	return m.err.Err()
}
