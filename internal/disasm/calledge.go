package disasm

import "fmt"

// CallEdge represents a call site extracted from disassembly.
type CallEdge struct {
	FromPC     uint64 `json:"from_pc"`
	Kind       string `json:"kind"`                // "call" or "icall"
	TargetPC   uint64 `json:"target_pc,omitempty"` // resolved address for direct calls
	TargetName string `json:"target_name,omitempty"`
	Reg        string `json:"reg,omitempty"` // register for indirect calls through a register
	Via        string `json:"via,omitempty"` // provenance, e.g. "thread._entry" or a memory operand
}

// RegDef records the last definition of a register within the window.
type RegDef struct {
	Annotation string // e.g. "thread._slow_path" or a native symbol
	Age        int    // instructions since definition
}

// RegTracker remembers, for a short window, the symbolic value last loaded
// into each register. It lets "mov r10, imm64; call r10" and loads from
// named thread fields label the indirect call that follows.
type RegTracker struct {
	defs [NumRegs]RegDef
	w    int
}

// NewRegTracker creates a tracker with the given window size.
func NewRegTracker(w int) *RegTracker {
	return &RegTracker{w: w}
}

// Reset clears all tracked definitions. Call between functions.
func (rt *RegTracker) Reset() {
	rt.defs = [NumRegs]RegDef{}
}

// Tick ages all definitions by 1 and expires those beyond the window.
func (rt *RegTracker) Tick() {
	for i := range rt.defs {
		if rt.defs[i].Annotation != "" {
			rt.defs[i].Age++
			if rt.defs[i].Age > rt.w {
				rt.defs[i] = RegDef{}
			}
		}
	}
}

// Define records that register rd was defined with the given annotation.
func (rt *RegTracker) Define(rd int, annotation string) {
	if rd < 0 || rd >= NumRegs {
		return
	}
	rt.defs[rd] = RegDef{Annotation: annotation}
}

// Lookup returns the annotation for register rd, or "" if expired/unknown.
func (rt *RegTracker) Lookup(rd int) string {
	if rd < 0 || rd >= NumRegs {
		return ""
	}
	return rt.defs[rd].Annotation
}

// Kill clears the definition for a register.
func (rt *RegTracker) Kill(rd int) {
	if rd < 0 || rd >= NumRegs {
		return
	}
	rt.defs[rd] = RegDef{}
}

// ExtractCallEdges scans instructions for direct and indirect call sites.
// Indirect calls through a register are labelled with the value the
// register was last loaded with, if that happened within w instructions.
func ExtractCallEdges(insts []Inst, w int) []CallEdge {
	rt := NewRegTracker(w)
	var edges []CallEdge

	for _, inst := range insts {
		switch inst.Branch {
		case BranchCall:
			edges = append(edges, CallEdge{
				FromPC:     inst.Addr,
				Kind:       "call",
				TargetPC:   inst.Target,
				TargetName: inst.TargetName,
			})
			rt.Reset()
			continue
		case BranchIndirectCall:
			e := CallEdge{FromPC: inst.Addr, Kind: "icall", Via: inst.Via}
			if inst.CallReg >= 0 {
				e.Reg = RegName(inst.CallReg, 8, true)
				if v := rt.Lookup(inst.CallReg); v != "" {
					e.Via = v
				}
			} else if inst.Mem != nil && inst.Mem.Field != "" {
				e.Via = fmt.Sprintf("%s.%s", inst.Mem.Prov, inst.Mem.Field)
			}
			edges = append(edges, e)
			rt.Reset()
			continue
		}

		rt.Tick()
		if inst.Dst < 0 {
			continue
		}
		if inst.Value != "" {
			rt.Define(inst.Dst, inst.Value)
		} else {
			rt.Kill(inst.Dst)
		}
	}
	return edges
}
