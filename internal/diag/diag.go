// Package diag accumulates non-fatal decode and scan diagnostics.
package diag

import "fmt"

// Kind classifies a diagnostic.
type Kind string

const (
	KindUnknown    Kind = "unknown_instruction"
	KindTruncated  Kind = "truncated"
	KindDisallowed Kind = "disallowed_encoding"
	KindCapped     Kind = "capped"
	KindNoProgress Kind = "no_progress"
	KindRawData    Kind = "raw_data"
)

// Diag records a non-fatal issue at an address.
type Diag struct {
	Addr uint64 `json:"addr"`
	Kind Kind   `json:"kind"`
	Msg  string `json:"msg"`
}

func (d Diag) String() string {
	return fmt.Sprintf("[%s] 0x%x: %s", d.Kind, d.Addr, d.Msg)
}

// Diags accumulates diagnostics. The zero value is ready to use.
type Diags struct {
	items []Diag
}

func (d *Diags) Add(addr uint64, kind Kind, msg string) {
	d.items = append(d.items, Diag{Addr: addr, Kind: kind, Msg: msg})
}

func (d *Diags) Addf(addr uint64, kind Kind, format string, args ...any) {
	d.items = append(d.items, Diag{Addr: addr, Kind: kind, Msg: fmt.Sprintf(format, args...)})
}

// Merge appends all of o's diagnostics.
func (d *Diags) Merge(o *Diags) {
	if o == nil {
		return
	}
	d.items = append(d.items, o.items...)
}

func (d *Diags) Items() []Diag { return d.items }
func (d *Diags) Len() int      { return len(d.items) }

// Count returns the number of diagnostics of the given kind.
func (d *Diags) Count(kind Kind) int {
	n := 0
	for _, it := range d.items {
		if it.Kind == kind {
			n++
		}
	}
	return n
}

// DefaultMaxSteps is the default cap on instructions decoded per range.
const DefaultMaxSteps = 1_000_000

// Options bounds how much work a scan may do.
type Options struct {
	MaxSteps int // instruction cap per range; 0 = DefaultMaxSteps
}

func (o Options) EffectiveMaxSteps() int {
	if o.MaxSteps > 0 {
		return o.MaxSteps
	}
	return DefaultMaxSteps
}
