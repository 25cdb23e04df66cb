package callgraph

import (
	"fmt"
	"sort"

	"github.com/zboralski/lattice"

	"jitdis/internal/disasm"
)

// maxStringLabel bounds string-reference labels in CFG blocks.
const maxStringLabel = 50

// BuildCFG constructs a lattice.CFGGraph from disassembled functions.
func BuildCFG(funcs []FuncInfo) *lattice.CFGGraph {
	cg := &lattice.CFGGraph{}
	for _, f := range funcs {
		lcfg, _ := BuildFuncCFG(f.Name, f.Insts, f.CallEdges)
		cg.Funcs = append(cg.Funcs, lcfg)
	}
	return cg
}

// BuildFuncCFG builds a single-function lattice.FuncCFG from instructions
// and call edges. C strings the instructions reference appear as quoted
// call sites. The block count is returned for filtering trivial functions.
func BuildFuncCFG(name string, insts []disasm.Inst, edges []disasm.CallEdge) (*lattice.FuncCFG, int) {
	dcfg := disasm.BuildCFG(name, insts)
	lcfg := convertFuncCFG(&dcfg, edges)
	injectStringRefs(lcfg, &dcfg)
	return lcfg, len(dcfg.Blocks)
}

// convertFuncCFG maps a disasm.FuncCFG to a lattice.FuncCFG.
// Call edges are mapped into blocks by matching instruction PCs.
func convertFuncCFG(dcfg *disasm.FuncCFG, edges []disasm.CallEdge) *lattice.FuncCFG {
	edgeByPC := make(map[uint64]disasm.CallEdge, len(edges))
	for _, e := range edges {
		edgeByPC[e.FromPC] = e
	}

	lcfg := &lattice.FuncCFG{Name: dcfg.Name}
	for _, db := range dcfg.Blocks {
		lb := &lattice.BasicBlock{
			ID:    db.ID,
			Start: db.Start,
			End:   db.End,
			Term:  db.IsTerm,
		}
		for _, ds := range db.Succs {
			lb.Succs = append(lb.Succs, lattice.Successor{
				BlockID: ds.BlockID,
				Cond:    ds.Cond,
			})
		}
		for idx := db.Start; idx < db.End && idx < len(dcfg.Insts); idx++ {
			e, ok := edgeByPC[dcfg.Insts[idx].Addr]
			if !ok {
				continue
			}
			callee := calleeName(e)
			if callee == "" {
				callee = "?"
				if e.Reg != "" {
					callee = e.Reg
				}
			}
			lb.Calls = append(lb.Calls, lattice.CallSite{
				Offset: idx,
				Callee: callee,
			})
		}
		lcfg.Blocks = append(lcfg.Blocks, lb)
	}
	return lcfg
}

// injectStringRefs adds a CallSite for every referenced C string.
func injectStringRefs(lcfg *lattice.FuncCFG, dcfg *disasm.FuncCFG) {
	for bi, db := range dcfg.Blocks {
		added := false
		for idx := db.Start; idx < db.End && idx < len(dcfg.Insts); idx++ {
			val := dcfg.Insts[idx].StrRef
			if val == "" {
				continue
			}
			if len(val) > maxStringLabel {
				val = val[:maxStringLabel-3] + "..."
			}
			lcfg.Blocks[bi].Calls = append(lcfg.Blocks[bi].Calls, lattice.CallSite{
				Offset: idx,
				Callee: fmt.Sprintf("%q", val),
			})
			added = true
		}
		if added {
			calls := lcfg.Blocks[bi].Calls
			sort.SliceStable(calls, func(i, j int) bool { return calls[i].Offset < calls[j].Offset })
		}
	}
}
