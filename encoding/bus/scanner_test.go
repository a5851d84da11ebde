package bus

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scanAll(s string) ([]Record, error) {
	sc := NewScanner(strings.NewReader(s))
	var (
		recs []Record
		rec  Record
	)
	for sc.Scan(&rec) {
		recs = append(recs, rec)
	}
	return recs, sc.Err()
}

func TestScanner(t *testing.T) {
	recs, err := scanAll("AAAC\tGGG\t0\nAAAC GGT 12\nTTTT\tCCC\t-3\r\n")
	require.NoError(t, err)
	assert.Equal(t, []Record{
		{Barcode: "AAAC", UMI: "GGG", EC: 0, Count: 1},
		{Barcode: "AAAC", UMI: "GGT", EC: 12, Count: 1},
		{Barcode: "TTTT", UMI: "CCC", EC: -3, Count: 1},
	}, recs)
}

func TestScannerEmpty(t *testing.T) {
	recs, err := scanAll("")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestScannerErrors(t *testing.T) {
	tests := []struct{ in, want string }{
		{"AAAC\tGGG\n", "line 1: got 2 fields"},
		{"AAAC\tGGG\t1\textra\n", "line 1: got 4 fields"},
		{"AAAC\tGGG\t1\tx\ty\n", "line 1: got 5 fields"},
		{"\n", "line 1: got 0 fields"},
		{"AAAC\tGGG\t1\nAAAC\tGGG\tx\n", "line 2: EC index \"x\""},
		{"AAAC\tGGG\t99999999999\n", "line 1: EC index"},
	}
	for _, tt := range tests {
		recs, err := scanAll(tt.in)
		require.Error(t, err, "input %q", tt.in)
		assert.Contains(t, err.Error(), tt.want, "input %q", tt.in)
		assert.True(t, len(recs) <= 1, "input %q", tt.in)
	}
}

func TestScannerStopsAfterError(t *testing.T) {
	sc := NewScanner(strings.NewReader("AAAC\tGGG\t1\nbad line\nTTTT\tCCC\t2\n"))
	var rec Record
	require.True(t, sc.Scan(&rec))
	assert.False(t, sc.Scan(&rec))
	assert.False(t, sc.Scan(&rec))
	assert.Error(t, sc.Err())
	assert.Equal(t, 2, sc.Line())
}

func TestWriterRoundTrip(t *testing.T) {
	const text = "AAAC\tGGG\t0\nAAAC\tGGT\t12\nTTTT\tCCC\t3\n"
	recs, err := scanAll(text)
	require.NoError(t, err)
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for i := range recs {
		require.NoError(t, w.Write(&recs[i]))
	}
	require.NoError(t, w.Flush())
	assert.Equal(t, text, buf.String())
}
