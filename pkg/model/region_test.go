package model

import (
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestNewRegion_Validation(t *testing.T) {
	tests := []struct {
		name    string
		start   []int
		stop    []int
		wantErr bool
	}{
		{"valid", []int{0, 0}, []int{10, 5}, false},
		{"negative start", []int{-5, 0}, []int{5, 1}, false},
		{"empty axis", []int{0, 3}, []int{10, 3}, true},
		{"inverted axis", []int{4}, []int{2}, true},
		{"rank mismatch", []int{0, 0}, []int{1}, true},
		{"rank zero", nil, nil, true},
	}
	for _, tt := range tests {
		_, err := NewRegion(tt.start, tt.stop)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestNewRegion_CopiesInput(t *testing.T) {
	start := []int{0, 0}
	stop := []int{2, 2}
	r, err := NewRegion(start, stop)
	if err != nil {
		t.Fatal(err)
	}
	start[0] = 1
	stop[1] = 9
	if r.Start[0] != 0 || r.Stop[1] != 2 {
		t.Errorf("region aliased caller slices: %v", r)
	}
}

func TestRegion_Key(t *testing.T) {
	tests := []struct {
		r    Region
		want string
	}{
		{Region{Start: []int{0, 0, 0}, Stop: []int{50, 50, 15}}, "((0, 0, 0), (50, 50, 15))"},
		{Region{Start: []int{3}, Stop: []int{7}}, "((3,), (7,))"},
	}
	for _, tt := range tests {
		if got := tt.r.Key(); got != tt.want {
			t.Errorf("Key() = %q, want %q", got, tt.want)
		}
	}
}

func TestRegion_Overlaps(t *testing.T) {
	a := Region{Start: []int{0, 0}, Stop: []int{5, 5}}
	tests := []struct {
		b    Region
		want bool
	}{
		{Region{Start: []int{4, 4}, Stop: []int{6, 6}}, true},
		{Region{Start: []int{5, 0}, Stop: []int{10, 5}}, false},
		{Region{Start: []int{0, 5}, Stop: []int{5, 10}}, false},
		{Region{Start: []int{1, 1}, Stop: []int{2, 2}}, true},
	}
	for _, tt := range tests {
		if got := a.Overlaps(tt.b); got != tt.want {
			t.Errorf("%v.Overlaps(%v) = %v, want %v", a, tt.b, got, tt.want)
		}
	}
}

func TestDecodeRegion_Rejects(t *testing.T) {
	inputs := []string{
		"",
		"not-a-region",
		"roi1.!!!",
		"roi2.eyJzdGFydCI6WzBdLCJzdG9wIjpbMV19",
	}
	for _, in := range inputs {
		if _, err := DecodeRegion(in); err == nil {
			t.Errorf("DecodeRegion(%q) should fail", in)
		}
	}
}

func TestEncodeRegion_ShellSafe(t *testing.T) {
	r := Region{Start: []int{-3, 0, 100}, Stop: []int{7, 1, 2000}}
	enc, err := EncodeRegion(r)
	if err != nil {
		t.Fatal(err)
	}
	if strings.ContainsAny(enc, " '\"$`\\;&|<>()[]*?") {
		t.Errorf("encoded region %q contains shell metacharacters", enc)
	}
	// Quoted forms, as produced by some templates, still decode.
	for _, quoted := range []string{`"` + enc + `"`, "'" + enc + "'"} {
		got, err := DecodeRegion(quoted)
		if err != nil {
			t.Fatalf("DecodeRegion(%q): %v", quoted, err)
		}
		if !got.Equal(r) {
			t.Errorf("DecodeRegion(%q) = %v, want %v", quoted, got, r)
		}
	}
}

func TestProperty_RegionRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		rank := rapid.IntRange(1, 6).Draw(t, "rank")
		start := make([]int, rank)
		stop := make([]int, rank)
		for i := 0; i < rank; i++ {
			start[i] = rapid.IntRange(-1<<40, 1<<40).Draw(t, "start")
			stop[i] = start[i] + rapid.IntRange(1, 1<<20).Draw(t, "extent")
		}
		r, err := NewRegion(start, stop)
		if err != nil {
			t.Fatalf("NewRegion: %v", err)
		}

		enc, err := EncodeRegion(r)
		if err != nil {
			t.Fatalf("EncodeRegion: %v", err)
		}
		got, err := DecodeRegion(enc)
		if err != nil {
			t.Fatalf("DecodeRegion(%q): %v", enc, err)
		}
		if !got.Equal(r) {
			t.Fatalf("round trip: got %v, want %v", got, r)
		}
		if got.Key() != r.Key() {
			t.Fatalf("key changed across round trip: %q vs %q", got.Key(), r.Key())
		}
	})
}
