package config

import (
	"jitdis/internal/disasm"
	"jitdis/internal/region"
	"jitdis/internal/symbols"
)

// Conventions converts the code generator settings. Validate must have
// succeeded.
func (c *Config) Conventions() disasm.Conventions {
	reg, _ := disasm.ParseReg(c.PreservedRegister)
	return disasm.Conventions{
		StackSize:    uint64(c.StackSize),
		TagBits:      c.TagBits,
		PreservedReg: reg,
		TagMaskBase:  uint64(c.TagMaskBase),
	}
}

// IdiomSet returns the configured idioms in order.
func (c *Config) IdiomSet() (disasm.IdiomSet, error) {
	return disasm.ParseIdioms(c.Idioms)
}

// FieldMap returns the thread and frame field names keyed by provenance.
func (c *Config) FieldMap() disasm.FieldMap {
	fm := disasm.FieldMap{}
	if m, _ := parseFields(c.ThreadFields); m != nil {
		fm[disasm.ThreadPointer] = m
	}
	if m, _ := parseFields(c.FrameFields); m != nil {
		fm[disasm.FramePointer] = m
	}
	return fm
}

// MetadataTables returns the configured metadata tables.
func (c *Config) MetadataTables() []disasm.Table {
	out := make([]disasm.Table, len(c.Tables))
	for i, t := range c.Tables {
		out[i] = disasm.Table{
			Name:      t.Name,
			Base:      uint64(t.Base),
			Size:      uint64(t.Size),
			EntrySize: uint64(t.EntrySize),
		}
	}
	return out
}

func offsetMap[V any](m map[string]V) map[uint64]V {
	if len(m) == 0 {
		return nil
	}
	out := make(map[uint64]V, len(m))
	for k, v := range m {
		if a, err := parseAddr(k); err == nil {
			out[uint64(a)] = v
		}
	}
	return out
}

// CodeRegions builds the live region registry.
func (c *Config) CodeRegions() *region.Registry {
	reg := region.NewRegistry()
	for _, r := range c.Regions {
		s := &region.Static{
			RegionName: r.Name,
			RegionKind: region.Kind(r.Kind),
			Low:        uint64(r.Begin),
			High:       uint64(r.End),
			Owner:      r.Owner,
			TrailerOff: uint64(r.Trailer),
			Debug:      offsetMap(r.Debug),
			Cover:      offsetMap(r.Coverage),
			Notes:      offsetMap(r.Remarks),
		}
		for _, sr := range r.SubRanges {
			id, _ := region.ParseStubID(sr.ID)
			s.Entries = append(s.Entries, region.SubRange{ID: id, Low: uint64(sr.Begin), High: uint64(sr.End)})
		}
		reg.Add(s)
	}
	return reg
}

// Resolver builds the symbol resolver over the configured interpreter, stubs
// and regions, falling back to native.
func (c *Config) Resolver(native symbols.NativeTable) *symbols.Resolver {
	r := &symbols.Resolver{
		Stubs:    symbols.NewStubRegistry(),
		Code:     c.CodeRegions(),
		Native:   native,
		Demangle: c.Demangle,
	}
	if in := c.Interpreter; in != nil {
		r.Interpreter = &symbols.Interpreter{Low: uint64(in.Begin), High: uint64(in.End)}
		for _, rt := range in.Routines {
			r.Interpreter.Routines = append(r.Interpreter.Routines, symbols.Routine{
				Name: rt.Name, Low: uint64(rt.Begin), High: uint64(rt.End),
			})
		}
	}
	for _, s := range c.Stubs {
		r.Stubs.Register(s.Group, s.Name, uint64(s.Begin), uint64(s.End))
	}
	return r
}

// DisasmOptions assembles decoder options for one range. The caller fills
// in the range-specific fields (BaseAddr, Region, SelfName, Memory).
func (c *Config) DisasmOptions(res disasm.Resolver) (disasm.Options, error) {
	idioms, err := c.IdiomSet()
	if err != nil {
		return disasm.Options{}, err
	}
	return disasm.Options{
		MaxSteps:    c.MaxSteps,
		Resolver:    res,
		Conventions: c.Conventions(),
		Idioms:      idioms,
		Fields:      c.FieldMap(),
		Tables:      c.MetadataTables(),
		ImmBase:     c.ImmediateBase,
	}, nil
}
