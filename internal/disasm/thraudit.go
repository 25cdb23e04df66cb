package disasm

import "fmt"

// ThreadAccess is a memory access addressed off a register believed to hold
// the thread pointer.
type ThreadAccess struct {
	PC       uint64 `json:"pc"`
	InsnText string `json:"insn"`
	Offset   int64  `json:"offset"`
	Field    string `json:"field,omitempty"`
	IsStore  bool   `json:"is_store"`
	Reg      string `json:"reg"`
	Width    int    `json:"width"`
	Resolved bool   `json:"resolved"` // the field map has a name for Offset
}

// ExtractThreadAccesses collects every thread-pointer-relative access.
func ExtractThreadAccesses(insts []Inst) []ThreadAccess {
	var result []ThreadAccess
	for _, inst := range insts {
		m := inst.Mem
		if m == nil || m.Prov != ThreadPointer {
			continue
		}
		result = append(result, ThreadAccess{
			PC:       inst.Addr,
			InsnText: inst.Text,
			Offset:   m.Disp,
			Field:    m.Field,
			IsStore:  m.Store,
			Reg:      RegName(m.Base, 8, true),
			Width:    m.Width,
			Resolved: m.Field != "",
		})
	}
	return result
}

// ThreadAuditRecord is one line in thread_audit.jsonl.
type ThreadAuditRecord struct {
	PC       string   `json:"pc"`
	Insn     string   `json:"insn"`
	Offset   string   `json:"offset"`
	Field    string   `json:"field,omitempty"`
	IsStore  bool     `json:"is_store"`
	Reg      string   `json:"reg"`
	Width    int      `json:"width"`
	FuncName string   `json:"func_name"`
	Resolved bool     `json:"resolved"`
	Context  []string `json:"context"`
}

// BuildAuditRecords converts accesses into audit records with two
// instructions of context on each side.
func BuildAuditRecords(accesses []ThreadAccess, allInsts []Inst, funcName string) []ThreadAuditRecord {
	pcIdx := make(map[uint64]int, len(allInsts))
	for i, inst := range allInsts {
		pcIdx[inst.Addr] = i
	}

	records := make([]ThreadAuditRecord, 0, len(accesses))
	for _, a := range accesses {
		var ctx []string
		if idx, ok := pcIdx[a.PC]; ok {
			for d := -2; d <= 2; d++ {
				j := idx + d
				if j >= 0 && j < len(allInsts) {
					prefix := "  "
					if d == 0 {
						prefix = "> "
					}
					ctx = append(ctx, fmt.Sprintf("%s0x%x: %s", prefix, allInsts[j].Addr, allInsts[j].Text))
				}
			}
		}
		off := fmt.Sprintf("0x%x", a.Offset)
		if a.Offset < 0 {
			off = fmt.Sprintf("-0x%x", -a.Offset)
		}
		records = append(records, ThreadAuditRecord{
			PC:       fmt.Sprintf("0x%x", a.PC),
			Insn:     a.InsnText,
			Offset:   off,
			Field:    a.Field,
			IsStore:  a.IsStore,
			Reg:      a.Reg,
			Width:    a.Width,
			FuncName: funcName,
			Resolved: a.Resolved,
			Context:  ctx,
		})
	}
	return records
}
