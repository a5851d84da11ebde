package bus

import (
	"bufio"
	"io"
	"strconv"

	"github.com/pkg/errors"
)

var errEOF = errors.New("eof")

// Scanner reads text BUS records: one record per line, exactly three
// fields (barcode, UMI, EC index) separated by runs of tabs or spaces.
// The Scan method fills the next record, returning a boolean
// indicating whether the scan succeeded. Scanners are not threadsafe.
//
// Scanner validates the field count and the EC index; any malformed
// line stops the scan with an error naming the line.
type Scanner struct {
	b    *bufio.Scanner
	err  error
	line int
}

// NewScanner constructs a new Scanner that reads text BUS data from
// the provided reader.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{b: bufio.NewScanner(r)}
}

// Scan the next record into the provided record. Scan returns a
// boolean indicating whether the scan succeeded. Once Scan returns
// false, it never returns true again. Upon completion, the user
// should check the Err method to determine whether scanning stopped
// because of an error or because the end of the stream was reached.
func (s *Scanner) Scan(rec *Record) bool {
	if s.err != nil {
		return false
	}
	if !s.b.Scan() {
		if s.err = s.b.Err(); s.err == nil {
			s.err = errEOF
		}
		return false
	}
	s.line++
	var fields [4][]byte
	n := splitFields(s.b.Bytes(), &fields)
	if n != 3 {
		s.err = errors.Errorf("line %d: got %d fields, want 3 (barcode, UMI, EC)", s.line, n)
		return false
	}
	ec, err := strconv.ParseInt(string(fields[2]), 10, 32)
	if err != nil {
		s.err = errors.Errorf("line %d: EC index %q is not a 32-bit integer", s.line, fields[2])
		return false
	}
	rec.Barcode = string(fields[0])
	rec.UMI = string(fields[1])
	rec.EC = int32(ec)
	rec.Count = 1
	rec.Flags = 0
	return true
}

// Err returns the scanning error, if any.
func (s *Scanner) Err() error {
	if s.err == errEOF {
		return nil
	}
	return s.err
}

// Line returns the number of lines consumed so far.
func (s *Scanner) Line() int { return s.line }

// splitFields splits line on runs of tabs, spaces, and carriage
// returns, storing up to len(fields) tokens and returning the total
// token count.
func splitFields(line []byte, fields *[4][]byte) int {
	n := 0
	for i := 0; i < len(line); {
		for i < len(line) && (line[i] == '\t' || line[i] == ' ' || line[i] == '\r') {
			i++
		}
		if i == len(line) {
			break
		}
		start := i
		for i < len(line) && line[i] != '\t' && line[i] != ' ' && line[i] != '\r' {
			i++
		}
		if n < len(fields) {
			fields[n] = line[start:i]
		}
		n++
	}
	return n
}
