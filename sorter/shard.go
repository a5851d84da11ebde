package sorter

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/golang/snappy"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/scrna/encoding/bus"
)

// Shard files store one sorted batch of BUS records spilled during an
// external sort. A shard is a flat stream of records with no padding
// in between, each laid out as
//
//   barcodeLen uint32  // len(Record.Barcode)
//   umiLen     uint32  // len(Record.UMI)
//   ec         uint32  // Record.EC, two's complement
//   count      uint32  // Record.Count
//   flags      uint32  // Record.Flags
//   barcode    [barcodeLen]byte
//   umi        [umiLen]byte
//
// with fixed-width fields in little endian. The whole stream is
// framed through snappy unless compression is disabled. Shards
// support only sequential scans. They live in TmpDir for the duration
// of one sort and are removed by Merger.Close.

// shardRecordHeaderSize is the size of the fixed-width prefix of one
// shard record.
const shardRecordHeaderSize = 20

const shardBufSize = 1 << 20

// shardWriter serializes records into one shard file. Errors are
// sticky; the first one is reported by finish.
type shardWriter struct {
	w   io.Writer
	z   *snappy.Writer // non-nil iff the shard is compressed
	b   *bufio.Writer  // non-nil iff the shard is raw
	hdr [shardRecordHeaderSize]byte
	err error
}

func newShardWriter(w io.Writer, compress bool) *shardWriter {
	sw := &shardWriter{}
	if compress {
		sw.z = snappy.NewBufferedWriter(w)
		sw.w = sw.z
	} else {
		sw.b = bufio.NewWriterSize(w, shardBufSize)
		sw.w = sw.b
	}
	return sw
}

func (w *shardWriter) write(rec *bus.Record) {
	if w.err != nil {
		return
	}
	hdr := w.hdr[:]
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(rec.Barcode)))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(rec.UMI)))
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(rec.EC))
	binary.LittleEndian.PutUint32(hdr[12:16], rec.Count)
	binary.LittleEndian.PutUint32(hdr[16:20], rec.Flags)
	if _, w.err = w.w.Write(hdr); w.err != nil {
		return
	}
	if _, w.err = io.WriteString(w.w, rec.Barcode); w.err != nil {
		return
	}
	_, w.err = io.WriteString(w.w, rec.UMI)
}

// finish flushes buffered data. It does not close the underlying
// file.
func (w *shardWriter) finish() error {
	if w.err != nil {
		return w.err
	}
	if w.z != nil {
		return w.z.Close()
	}
	return w.b.Flush()
}

// shardReader scans one shard file sequentially. Errors are reported
// through the shared reporter so that a corrupt shard stops the whole
// merge.
type shardReader struct {
	path string
	f    *os.File
	r    io.Reader
	rec  bus.Record // result of the last successful scan
	hdr  [shardRecordHeaderSize]byte
	buf  []byte
	err  *errors.Once
	done bool
}

func newShardReader(path string, compress bool, errReporter *errors.Once) *shardReader {
	r := &shardReader{path: path, err: errReporter}
	f, err := os.Open(path)
	if err != nil {
		errReporter.Set(err)
		r.done = true
		return r
	}
	r.f = f
	if compress {
		r.r = snappy.NewReader(f)
	} else {
		r.r = bufio.NewReaderSize(f, shardBufSize)
	}
	return r
}

// scan reads the next record into r.rec. It returns false at the end
// of the shard or on error.
func (r *shardReader) scan() bool {
	if r.done {
		return false
	}
	if _, err := io.ReadFull(r.r, r.hdr[:]); err != nil {
		if err != io.EOF {
			r.err.Set(fmt.Errorf("%s: corrupt sort shard: %v", r.path, err))
		}
		r.done = true
		return false
	}
	barcodeLen := int(binary.LittleEndian.Uint32(r.hdr[0:4]))
	umiLen := int(binary.LittleEndian.Uint32(r.hdr[4:8]))
	if cap(r.buf) < barcodeLen+umiLen {
		r.buf = make([]byte, barcodeLen+umiLen)
	}
	r.buf = r.buf[:barcodeLen+umiLen]
	if _, err := io.ReadFull(r.r, r.buf); err != nil {
		// EOF inside a record body is corruption, not a clean end.
		r.err.Set(fmt.Errorf("%s: corrupt sort shard: %v", r.path, err))
		r.done = true
		return false
	}
	r.rec = bus.Record{
		Barcode: string(r.buf[:barcodeLen]),
		UMI:     string(r.buf[barcodeLen:]),
		EC:      int32(binary.LittleEndian.Uint32(r.hdr[8:12])),
		Count:   binary.LittleEndian.Uint32(r.hdr[12:16]),
		Flags:   binary.LittleEndian.Uint32(r.hdr[16:20]),
	}
	return true
}

func (r *shardReader) close() {
	if r.f != nil {
		r.err.Set(r.f.Close())
	}
}
