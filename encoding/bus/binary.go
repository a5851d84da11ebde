package bus

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Binary BUS layout: a fixed little-endian header (magic, version,
// barcode length, UMI length, free-text length + text), followed by
// packed 32-byte records. Barcodes and UMIs are 2-bit encoded with the
// first base in the highest used bits, so packed values sort in
// sequence order.

const (
	// Version is the binary BUS format version this package reads and
	// writes.
	Version = 1
	// MaxSeqLen is the longest barcode or UMI the packed
	// representation can hold.
	MaxSeqLen = 32

	headerSize = 20
	recordSize = 32
)

var magic = [4]byte{'B', 'U', 'S', 0}

// IsBinary reports whether the given stream prefix looks like a
// binary BUS header. Four bytes suffice.
func IsBinary(prefix []byte) bool {
	return len(prefix) >= len(magic) && bytes.Equal(prefix[:len(magic)], magic[:])
}

// Header describes a binary BUS stream.
type Header struct {
	Version    uint32
	BarcodeLen int
	UMILen     int
	// Text is free-form producer metadata carried in the header.
	Text string
}

func (h Header) validate() error {
	if h.Version != Version {
		return errors.Errorf("unsupported BUS version %d (want %d)", h.Version, Version)
	}
	if h.BarcodeLen < 1 || h.BarcodeLen > MaxSeqLen {
		return errors.Errorf("barcode length %d outside [1,%d]", h.BarcodeLen, MaxSeqLen)
	}
	if h.UMILen < 1 || h.UMILen > MaxSeqLen {
		return errors.Errorf("UMI length %d outside [1,%d]", h.UMILen, MaxSeqLen)
	}
	return nil
}

// BinaryReader reads packed binary BUS records. It implements the same
// Scan/Err convention as Scanner.
type BinaryReader struct {
	r   io.Reader
	hdr Header
	buf [recordSize]byte
	n   int64
	err error
}

// NewBinaryReader reads and validates the BUS header from r and
// returns a reader positioned at the first record.
func NewBinaryReader(r io.Reader) (*BinaryReader, error) {
	hdr, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	return &BinaryReader{r: r, hdr: hdr}, nil
}

func readHeader(r io.Reader) (Header, error) {
	var buf [headerSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, errors.Wrap(err, "reading BUS header")
	}
	if !IsBinary(buf[:]) {
		return Header{}, errors.Errorf("bad magic %q: not a binary BUS stream", buf[:4])
	}
	hdr := Header{
		Version:    binary.LittleEndian.Uint32(buf[4:8]),
		BarcodeLen: int(binary.LittleEndian.Uint32(buf[8:12])),
		UMILen:     int(binary.LittleEndian.Uint32(buf[12:16])),
	}
	if err := hdr.validate(); err != nil {
		return Header{}, errors.Wrap(err, "bad BUS header")
	}
	if textLen := binary.LittleEndian.Uint32(buf[16:20]); textLen > 0 {
		text := make([]byte, textLen)
		if _, err := io.ReadFull(r, text); err != nil {
			return Header{}, errors.Wrap(err, "reading BUS header text")
		}
		hdr.Text = string(text)
	}
	return hdr, nil
}

// Header returns the stream header.
func (r *BinaryReader) Header() Header { return r.hdr }

// Scan reads the next record into rec, returning a boolean indicating
// whether the scan succeeded. Check Err after Scan returns false.
func (r *BinaryReader) Scan(rec *Record) bool {
	if r.err != nil {
		return false
	}
	if _, err := io.ReadFull(r.r, r.buf[:]); err != nil {
		if err == io.EOF {
			r.err = errEOF
		} else {
			r.err = errors.Wrapf(err, "truncated BUS record %d", r.n)
		}
		return false
	}
	r.n++
	rec.Barcode = DecodeSeq(binary.LittleEndian.Uint64(r.buf[0:8]), r.hdr.BarcodeLen)
	rec.UMI = DecodeSeq(binary.LittleEndian.Uint64(r.buf[8:16]), r.hdr.UMILen)
	rec.EC = int32(binary.LittleEndian.Uint32(r.buf[16:20]))
	rec.Count = binary.LittleEndian.Uint32(r.buf[20:24])
	rec.Flags = binary.LittleEndian.Uint32(r.buf[24:28])
	return true
}

// Err returns the reading error, if any.
func (r *BinaryReader) Err() error {
	if r.err == errEOF {
		return nil
	}
	return r.err
}

// BinaryWriter writes packed binary BUS records. The first write
// error is sticky.
type BinaryWriter struct {
	w   io.Writer
	hdr Header
	buf [recordSize]byte
	err error
}

// NewBinaryWriter writes the BUS header for hdr to w and returns a
// writer for its records. A zero hdr.Version defaults to Version.
func NewBinaryWriter(w io.Writer, hdr Header) (*BinaryWriter, error) {
	if hdr.Version == 0 {
		hdr.Version = Version
	}
	if err := hdr.validate(); err != nil {
		return nil, err
	}
	buf := make([]byte, headerSize, headerSize+len(hdr.Text))
	copy(buf, magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], hdr.Version)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(hdr.BarcodeLen))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(hdr.UMILen))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(len(hdr.Text)))
	buf = append(buf, hdr.Text...)
	if _, err := w.Write(buf); err != nil {
		return nil, errors.Wrap(err, "writing BUS header")
	}
	return &BinaryWriter{w: w, hdr: hdr}, nil
}

// Write writes one packed record. The record's barcode and UMI must
// have the lengths declared in the header and contain only ACGT.
func (w *BinaryWriter) Write(rec *Record) error {
	if w.err != nil {
		return w.err
	}
	if len(rec.Barcode) != w.hdr.BarcodeLen {
		w.err = errors.Errorf("barcode %q: length %d, header says %d", rec.Barcode, len(rec.Barcode), w.hdr.BarcodeLen)
		return w.err
	}
	if len(rec.UMI) != w.hdr.UMILen {
		w.err = errors.Errorf("UMI %q: length %d, header says %d", rec.UMI, len(rec.UMI), w.hdr.UMILen)
		return w.err
	}
	bc, err := EncodeSeq(rec.Barcode)
	if err != nil {
		w.err = err
		return w.err
	}
	umi, err := EncodeSeq(rec.UMI)
	if err != nil {
		w.err = err
		return w.err
	}
	binary.LittleEndian.PutUint64(w.buf[0:8], bc)
	binary.LittleEndian.PutUint64(w.buf[8:16], umi)
	binary.LittleEndian.PutUint32(w.buf[16:20], uint32(rec.EC))
	binary.LittleEndian.PutUint32(w.buf[20:24], rec.Count)
	binary.LittleEndian.PutUint32(w.buf[24:28], rec.Flags)
	binary.LittleEndian.PutUint32(w.buf[28:32], 0)
	_, w.err = w.w.Write(w.buf[:])
	return w.err
}

var baseChar = [4]byte{'A', 'C', 'G', 'T'}

// DecodeSeq unpacks the low 2n bits of v into an n-base ACGT string.
func DecodeSeq(v uint64, n int) string {
	buf := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		buf[i] = baseChar[v&3]
		v >>= 2
	}
	return string(buf)
}

// EncodeSeq packs s into a uint64, two bits per base (A=0 C=1 G=2
// T=3). It fails on sequences longer than MaxSeqLen or containing
// bases outside ACGT.
func EncodeSeq(s string) (uint64, error) {
	if len(s) > MaxSeqLen {
		return 0, errors.Errorf("sequence %q longer than %d bases", s, MaxSeqLen)
	}
	var v uint64
	for i := 0; i < len(s); i++ {
		var b uint64
		switch s[i] {
		case 'A', 'a':
			b = 0
		case 'C', 'c':
			b = 1
		case 'G', 'g':
			b = 2
		case 'T', 't':
			b = 3
		default:
			return 0, errors.Errorf("sequence %q: base %q is not in ACGT", s, s[i])
		}
		v = v<<2 | b
	}
	return v, nil
}
