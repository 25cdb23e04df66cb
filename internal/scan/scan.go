// Package scan drives the decoder over a byte range and renders the result
// as annotated text or as profiling XML. A scan never fails on bad code: it
// dumps declared data trailers as raw bytes, caps corrupted regions after a
// soft decode failure, and stops a range that makes no progress.
package scan

import (
	"github.com/charmbracelet/log"

	"jitdis/internal/diag"
	"jitdis/internal/disasm"
	"jitdis/internal/region"
)

// State is the driver's mode.
type State uint8

const (
	Scanning State = iota
	DumpingRaw
	Done
)

func (s State) String() string {
	switch s {
	case Scanning:
		return "scanning"
	case DumpingRaw:
		return "dumping-raw"
	case Done:
		return "done"
	}
	return "?"
}

// rawChunk is the width of one raw-data line.
const rawChunk = 8

// DefaultFailureTail is the number of bytes still scanned after a soft
// decode failure.
const DefaultFailureTail = 256

// Options configures one scan.
type Options struct {
	Disasm disasm.Options

	// FailureTail caps the scan this many bytes past an instruction that set
	// the session's failure flag. 0 = DefaultFailureTail.
	FailureTail int

	// MaxSteps bounds the number of decoded instructions. 0 = diag default.
	MaxSteps int

	Logger *log.Logger
}

// Result summarises a finished scan.
type Result struct {
	Insts    int    // decoded instructions
	RawBytes int    // bytes rendered as raw data
	End      uint64 // address where the scan stopped
	Capped   bool   // range shortened after a soft failure
	Stopped  bool   // stopped on a decode that made no progress
	Diags    diag.Diags
}

type stepKind uint8

const (
	stepInst stepKind = iota
	stepRaw
)

// step is one unit of output: an instruction or a raw-data chunk.
type step struct {
	kind   stepKind
	addr   uint64
	inst   disasm.Inst
	raw    []byte
	before []string // debug and coverage markers for this offset
	remark string
}

type driver struct {
	opts  Options
	s     *disasm.Session
	c     *disasm.ByteCursor
	begin uint64
	limit int // cursor offset where scanning ends
	state State

	reg         region.Region
	trailerAddr uint64
	hasTrailer  bool

	res Result
}

func newDriver(code []byte, begin uint64, opts Options) *driver {
	opts.Disasm.BaseAddr = begin
	d := &driver{
		opts:  opts,
		s:     disasm.NewSession(opts.Disasm),
		c:     disasm.NewCursor(code, begin),
		begin: begin,
		limit: len(code),
		reg:   opts.Disasm.Region,
	}
	if t, ok := d.reg.(region.Trailer); ok {
		if off, ok := t.TrailerOffset(); ok {
			d.trailerAddr, d.hasTrailer = d.reg.Begin()+off, true
		}
	}
	return d
}

func (d *driver) debug(msg string, kv ...any) {
	if d.opts.Logger != nil {
		d.opts.Logger.Debug(msg, kv...)
	}
}

// annotations returns the region's markers for addr, debug info first.
func (d *driver) annotations(addr uint64) ([]string, string) {
	if d.reg == nil || !region.Contains(d.reg, addr) {
		return nil, ""
	}
	off := addr - d.reg.Begin()
	var before []string
	if di, ok := d.reg.(region.DebugInfo); ok {
		before = append(before, di.DebugInfoAt(off)...)
	}
	if cv, ok := d.reg.(region.Coverage); ok {
		before = append(before, cv.CoverageAt(off)...)
	}
	var remark string
	if rm, ok := d.reg.(region.Remarks); ok {
		remark = rm.RemarkAt(off)
	}
	return before, remark
}

func (d *driver) failureTail() int {
	if d.opts.FailureTail > 0 {
		return d.opts.FailureTail
	}
	return DefaultFailureTail
}

// run steps the state machine until Done, handing every step to emit. It
// returns emit's first error.
func (d *driver) run(emit func(step) error) (*Result, error) {
	maxSteps := diag.Options{MaxSteps: d.opts.MaxSteps}.EffectiveMaxSteps()
	var err error
	for d.state != Done {
		pos := d.c.Pos()
		if pos >= d.limit {
			d.state = Done
			break
		}
		addr := d.c.Addr()

		if d.state == Scanning && d.hasTrailer && addr >= d.trailerAddr {
			d.state = DumpingRaw
			d.s.PendingRaw = d.limit - pos
			d.res.Diags.Addf(addr, diag.KindRawData, "%d bytes of trailer data", d.s.PendingRaw)
			d.debug("dumping trailer", "addr", addr, "bytes", d.s.PendingRaw)
		}

		switch d.state {
		case DumpingRaw:
			n := min(rawChunk, d.s.PendingRaw, d.limit-pos)
			chunk := d.c.Snapshot(pos, n)
			d.c.Skip(n)
			d.s.PendingRaw -= n
			d.res.RawBytes += n
			err = emit(step{kind: stepRaw, addr: addr, raw: chunk})
			if d.s.PendingRaw <= 0 {
				d.state = Scanning
			}

		case Scanning:
			if d.res.Insts >= maxSteps {
				d.res.Diags.Addf(addr, diag.KindCapped, "instruction cap %d reached", maxSteps)
				d.state = Done
				break
			}
			before, remark := d.annotations(addr)
			inst := d.s.Decode(d.c)
			if inst.Size == 0 {
				d.res.Stopped = true
				d.res.Diags.Add(addr, diag.KindNoProgress, "decode made no progress")
				d.debug("no progress, stopping range", "addr", addr)
				d.state = Done
				break
			}
			d.res.Insts++
			err = emit(step{kind: stepInst, addr: addr, inst: inst, before: before, remark: remark})
			if d.s.Failed {
				d.s.Failed = false
				capAt := d.c.Pos() + d.failureTail()
				if capAt < d.limit {
					d.limit = capAt
					d.res.Capped = true
					d.res.Diags.Addf(addr, diag.KindCapped, "scan capped at 0x%x after soft failure", d.begin+uint64(capAt))
					d.debug("soft failure, capping range", "addr", addr, "until", d.begin+uint64(capAt))
				}
			}
		}
		if err != nil {
			break
		}
	}
	d.state = Done
	d.res.End = d.c.Addr()
	d.res.Diags.Merge(&d.s.Diags)
	return &d.res, err
}
