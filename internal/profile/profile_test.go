package profile

import (
	"errors"
	"slices"
	"strings"
	"testing"
)

func TestSamplesFilter(t *testing.T) {
	s := NewSamples(0x30, 0x10, 0x20, 0x10, 0x40)
	got := slices.Collect(s.Samples(0x10, 0x30))
	want := []uint64{0x10, 0x10, 0x20}
	if !slices.Equal(got, want) {
		t.Errorf("Samples = %x, want %x", got, want)
	}
	if got := slices.Collect(s.Samples(0x41, 0x50)); len(got) != 0 {
		t.Errorf("Samples past end = %x", got)
	}
}

func TestLoad(t *testing.T) {
	in := `
# pc count
0x1000
0x1004 3
4100
`
	s, err := Load(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	want := Samples{0x1000, 0x1004, 0x1004, 0x1004, 4100}
	if !slices.Equal(s, want) {
		t.Errorf("Load = %x, want %x", s, want)
	}

	if _, err := Load(strings.NewReader("zzz\n")); !errors.Is(err, ErrBadSample) {
		t.Errorf("err = %v, want ErrBadSample", err)
	}
}

func TestBucket(t *testing.T) {
	s := NewSamples(0x100, 0x101, 0x101, 0x104, 0x200)
	b := Bucket(s, 0x100, 0x108)
	if b.Total != 4 {
		t.Fatalf("Total = %d, want 4", b.Total)
	}
	tests := []struct {
		addr uint64
		n    int
		want uint64
	}{
		{0x100, 2, 3},
		{0x102, 2, 0},
		{0x103, 4, 1},
		{0x0ff, 1, 0},
		{0x107, 8, 0},
	}
	for _, tt := range tests {
		if got := b.Range(tt.addr, tt.n); got != tt.want {
			t.Errorf("Range(0x%x, %d) = %d, want %d", tt.addr, tt.n, got, tt.want)
		}
	}
	if p := b.Percent(1); p != 25 {
		t.Errorf("Percent(1) = %v", p)
	}

	empty := Bucket(nil, 0x10, 0x10)
	if empty.Total != 0 || empty.Percent(0) != 0 || empty.Range(0x10, 4) != 0 {
		t.Errorf("empty buckets = %+v", empty)
	}
}
