package callgraph

import (
	"fmt"
	"strings"

	"jitdis/internal/disasm"
)

// Theme holds colors for instruction-level CFG rendering.
type Theme struct {
	Background string
	NodeFill   string
	NodeBorder string
	TextColor  string
	EntryColor string // entry block border
	TermFill   string // blocks without successors
	EdgeTaken  string
	EdgeFall   string
	EdgePlain  string
}

// Bauhaus is a monochrome theme with sparse color.
var Bauhaus = Theme{
	Background: "#F5F5F5",
	NodeFill:   "white",
	NodeBorder: "#1A1A1A",
	TextColor:  "#1A1A1A",
	EntryColor: "#0B3D91",
	TermFill:   "#ECEFF1",
	EdgeTaken:  "#0B3D91",
	EdgeFall:   "#FC3D21",
	EdgePlain:  "#424242",
}

// maxBlockLines is the number of instruction lines shown per block before
// the middle is elided.
const maxBlockLines = 12

// dotEscape escapes a string for use in DOT HTML labels.
func dotEscape(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}

// InstDOT renders a basic-block CFG with the instruction text of every
// block. The entry block is highlighted and conditional edges carry T/F
// labels.
func InstDOT(cfg disasm.FuncCFG, t Theme) string {
	if len(cfg.Blocks) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("digraph cfg {\n")
	b.WriteString("  rankdir=TB;\n")
	b.WriteString("  nodesep=0.3;\n")
	b.WriteString("  ranksep=0.4;\n")
	fmt.Fprintf(&b, "  bgcolor=%q;\n", t.Background)
	fmt.Fprintf(&b, "  node [shape=rect, style=filled, fillcolor=%q, color=%q, penwidth=0.5, fontname=\"Courier,monospace\", fontsize=8, fontcolor=%q, margin=\"0.08,0.04\"];\n",
		t.NodeFill, t.NodeBorder, t.TextColor)
	b.WriteString("  edge [penwidth=0.7, arrowsize=0.5, arrowhead=vee];\n")
	b.WriteString("  labelloc=t;\n  labeljust=l;\n")
	fmt.Fprintf(&b, "  label=<<font face=\"Helvetica Neue,Helvetica\" point-size=\"9\" color=\"%s\">%s</font>>;\n",
		t.TextColor, dotEscape(cfg.Name))
	b.WriteByte('\n')

	for _, blk := range cfg.Blocks {
		var lines []string
		for i := blk.Start; i < min(blk.End, len(cfg.Insts)); i++ {
			inst := cfg.Insts[i]
			lines = append(lines, dotEscape(fmt.Sprintf("0x%x: %s", inst.Addr, inst.Text)))
		}
		if len(lines) > maxBlockLines {
			kept := append(lines[:5:5], fmt.Sprintf("... (%d more)", len(lines)-10))
			lines = append(kept, lines[len(lines)-5:]...)
		}
		label := strings.Join(lines, "<br align=\"left\"/>") + "<br align=\"left\"/>"

		attrs := ""
		if blk.IsEntry {
			attrs = fmt.Sprintf(", penwidth=1.5, color=%q", t.EntryColor)
		}
		if blk.IsTerm {
			attrs += fmt.Sprintf(", fillcolor=%q", t.TermFill)
		}
		fmt.Fprintf(&b, "  bb%d [label=<%s>%s];\n", blk.ID, label, attrs)
	}
	b.WriteByte('\n')

	for _, blk := range cfg.Blocks {
		for _, s := range blk.Succs {
			switch s.Cond {
			case "T":
				fmt.Fprintf(&b, "  bb%d -> bb%d [color=%q, label=<<font point-size=\"7\" color=\"%s\">T</font>>];\n",
					blk.ID, s.BlockID, t.EdgeTaken, t.EdgeTaken)
			case "F":
				fmt.Fprintf(&b, "  bb%d -> bb%d [color=%q, label=<<font point-size=\"7\" color=\"%s\">F</font>>];\n",
					blk.ID, s.BlockID, t.EdgeFall, t.EdgeFall)
			default:
				fmt.Fprintf(&b, "  bb%d -> bb%d [color=%q];\n", blk.ID, s.BlockID, t.EdgePlain)
			}
		}
	}

	b.WriteString("}\n")
	return b.String()
}
