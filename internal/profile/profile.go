// Package profile supplies recorded program-counter samples to the
// profiling renderer.
package profile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"slices"
	"strconv"
	"strings"
)

var ErrBadSample = errors.New("profile: bad sample line")

// Source yields sampled program counters inside [begin, end).
type Source interface {
	Samples(begin, end uint64) iter.Seq[uint64]
}

// Samples is an in-memory sample set, kept sorted.
type Samples []uint64

// NewSamples sorts pcs into a sample set.
func NewSamples(pcs ...uint64) Samples {
	s := Samples(slices.Clone(pcs))
	slices.Sort(s)
	return s
}

// Samples yields every sample in [begin, end) in address order.
func (s Samples) Samples(begin, end uint64) iter.Seq[uint64] {
	return func(yield func(uint64) bool) {
		i, _ := slices.BinarySearch(s, begin)
		for ; i < len(s) && s[i] < end; i++ {
			if !yield(s[i]) {
				return
			}
		}
	}
}

// Load parses one sample per line: a hexadecimal or decimal address,
// optionally followed by a repeat count. Blank lines and lines starting
// with '#' are skipped.
func Load(r io.Reader) (Samples, error) {
	var out []uint64
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		pc, err := strconv.ParseUint(fields[0], 0, 64)
		if err != nil {
			return nil, fmt.Errorf("%w %d: %q", ErrBadSample, line, fields[0])
		}
		count := uint64(1)
		if len(fields) > 1 {
			if count, err = strconv.ParseUint(fields[1], 10, 32); err != nil {
				return nil, fmt.Errorf("%w %d: count %q", ErrBadSample, line, fields[1])
			}
		}
		for range count {
			out = append(out, pc)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("profile: read: %w", err)
	}
	return NewSamples(out...), nil
}

// LoadFile reads a sample file.
func LoadFile(path string) (Samples, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Buckets holds per-byte hit counts for one scanned range.
type Buckets struct {
	Begin uint64
	Hits  []uint32
	Total uint64 // samples that fell inside the range
}

// Bucket counts the samples of src falling in [begin, end).
func Bucket(src Source, begin, end uint64) *Buckets {
	if end < begin {
		end = begin
	}
	b := &Buckets{Begin: begin, Hits: make([]uint32, end-begin)}
	if src == nil {
		return b
	}
	for pc := range src.Samples(begin, end) {
		if pc < begin || pc >= end {
			continue
		}
		b.Hits[pc-begin]++
		b.Total++
	}
	return b
}

// Range returns the hits on the n bytes starting at addr.
func (b *Buckets) Range(addr uint64, n int) uint64 {
	if b == nil || addr < b.Begin {
		return 0
	}
	var sum uint64
	off := addr - b.Begin
	for i := uint64(0); i < uint64(n) && off+i < uint64(len(b.Hits)); i++ {
		sum += uint64(b.Hits[off+i])
	}
	return sum
}

// Percent returns hits as a percentage of all samples in the range.
func (b *Buckets) Percent(hits uint64) float64 {
	if b == nil || b.Total == 0 {
		return 0
	}
	return float64(hits) * 100 / float64(b.Total)
}
