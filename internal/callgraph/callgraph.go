// Package callgraph converts decoded functions into lattice call graphs and
// per-function control flow graphs.
package callgraph

import (
	"fmt"

	"github.com/zboralski/lattice"

	"jitdis/internal/disasm"
)

// FuncInfo holds the data needed to build call graph and CFG for one function.
type FuncInfo struct {
	Name      string
	Insts     []disasm.Inst
	CallEdges []disasm.CallEdge
}

// calleeName labels the target of e: the resolved name, the provenance of
// an indirect call, or the bare address of an unresolved direct call.
// Indirect calls with nothing known return "".
func calleeName(e disasm.CallEdge) string {
	switch {
	case e.TargetName != "":
		return e.TargetName
	case e.Via != "":
		return e.Via
	case e.Kind == "call":
		return fmt.Sprintf("0x%x", e.TargetPC)
	}
	return ""
}

// BuildCallGraph constructs a lattice.Graph from disassembled functions.
// Each function becomes a node and each labelled call edge becomes an edge.
// Indirect calls with unknown targets are skipped.
func BuildCallGraph(funcs []FuncInfo) *lattice.Graph {
	g := &lattice.Graph{}
	for _, f := range funcs {
		g.Nodes = append(g.Nodes, f.Name)
		for _, e := range f.CallEdges {
			callee := calleeName(e)
			if callee == "" {
				continue
			}
			g.Edges = append(g.Edges, lattice.Edge{
				Caller: f.Name,
				Callee: callee,
			})
		}
	}
	g.Dedup()
	return g
}
