package bus

import (
	"bufio"
	"io"
	"strconv"
)

// Writer writes records in the text BUS format: one tab-delimited
// (barcode, UMI, EC) triple per line. Writes are buffered; call Flush
// when done. The first write error is sticky and returned by every
// subsequent Write and Flush.
type Writer struct {
	w       *bufio.Writer
	err     error
	scratch [16]byte
}

// NewWriter constructs a new text BUS writer that writes records to
// the underlying writer w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Write writes the record rec as one text line.
func (w *Writer) Write(rec *Record) error {
	if w.err != nil {
		return w.err
	}
	w.writeString(rec.Barcode)
	w.writeByte('\t')
	w.writeString(rec.UMI)
	w.writeByte('\t')
	w.writeBytes(strconv.AppendInt(w.scratch[:0], int64(rec.EC), 10))
	w.writeByte('\n')
	return w.err
}

// Flush flushes buffered records to the underlying writer.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	w.err = w.w.Flush()
	return w.err
}

func (w *Writer) writeString(s string) {
	if w.err == nil {
		_, w.err = w.w.WriteString(s)
	}
}

func (w *Writer) writeBytes(b []byte) {
	if w.err == nil {
		_, w.err = w.w.Write(b)
	}
}

func (w *Writer) writeByte(b byte) {
	if w.err == nil {
		w.err = w.w.WriteByte(b)
	}
}
