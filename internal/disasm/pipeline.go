package disasm

import "fmt"

// FuncRecord is one line in functions.jsonl.
type FuncRecord struct {
	PC     string `json:"pc"`
	Size   int    `json:"size"`
	Name   string `json:"name"`
	Owner  string `json:"owner,omitempty"`
	Insts  int    `json:"insts"`
	Issues int    `json:"issues,omitempty"`
}

// CallEdgeRecord is one line in call_edges.jsonl.
type CallEdgeRecord struct {
	FromFunc string `json:"from_func"`
	FromPC   string `json:"from_pc"`
	Kind     string `json:"kind"`             // "call" or "icall"
	Target   string `json:"target,omitempty"` // resolved name or "0x..." for direct calls
	Reg      string `json:"reg,omitempty"`
	Via      string `json:"via,omitempty"`
}

// IssueRecord is one line in issues.jsonl: an instruction that did not
// decode cleanly.
type IssueRecord struct {
	Func   string `json:"func"`
	PC     string `json:"pc"`
	Status string `json:"status"`
	Bytes  string `json:"bytes"`
	Text   string `json:"text"`
}

// StringRefRecord is one line in string_refs.jsonl: a C string referenced by
// an immediate or a rip-relative operand.
type StringRefRecord struct {
	Func  string `json:"func"`
	PC    string `json:"pc"`
	Value string `json:"value"`
}

// NewCallEdgeRecord converts an edge found in fn. Direct calls always carry
// a target: the resolved name or the bare address.
func NewCallEdgeRecord(fn string, e CallEdge) CallEdgeRecord {
	rec := CallEdgeRecord{
		FromFunc: fn,
		FromPC:   fmt.Sprintf("0x%x", e.FromPC),
		Kind:     e.Kind,
		Reg:      e.Reg,
		Via:      e.Via,
	}
	if e.Kind == "call" {
		rec.Target = e.TargetName
		if rec.Target == "" {
			rec.Target = fmt.Sprintf("0x%x", e.TargetPC)
		}
	}
	return rec
}

// IssueRecords lists the instructions of fn that did not decode cleanly.
func IssueRecords(fn string, insts []Inst) []IssueRecord {
	var out []IssueRecord
	for _, inst := range insts {
		if inst.Status == StatusOK {
			continue
		}
		out = append(out, IssueRecord{
			Func:   fn,
			PC:     fmt.Sprintf("0x%x", inst.Addr),
			Status: inst.Status.String(),
			Bytes:  hexPairs(inst.Raw, maxInstLen),
			Text:   inst.Text,
		})
	}
	return out
}

// StringRefRecords lists the C strings referenced by fn.
func StringRefRecords(fn string, insts []Inst) []StringRefRecord {
	var out []StringRefRecord
	for _, inst := range insts {
		if inst.StrRef != "" {
			out = append(out, StringRefRecord{Func: fn, PC: fmt.Sprintf("0x%x", inst.Addr), Value: inst.StrRef})
		}
	}
	return out
}
