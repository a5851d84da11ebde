package util

import (
	"testing"

	"github.com/antzucaro/matchr"
)

func TestHamming(t *testing.T) {
	tests := []struct {
		s1, s2 string
		want   int
	}{
		{"", "", 0},
		{"ACGT", "ACGT", 0},
		{"ACGT", "ACGA", 1},
		{"ACGT", "TGCA", 4},
		{"AAAAAAAA", "ATAAATAA", 2},
		{"GATTACA", "GACTATA", 2},
	}

	for _, test := range tests {
		got := Hamming(test.s1, test.s2)
		if got != test.want {
			t.Errorf("incorrect Hamming result for (%s, %s): got %v, want %v", test.s1, test.s2, got, test.want)
		}
		standard, err := matchr.Hamming(test.s1, test.s2)
		if err != nil {
			t.Fatal(err)
		}
		if standard != got {
			t.Errorf("discrepancy between standard hamming and ours for (%s, %s): standard %v, got %v", test.s1, test.s2, standard, got)
		}
	}
}

func TestHammingUnequalLength(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected a panic for unequal lengths")
		}
	}()
	Hamming("ACGT", "ACG")
}
