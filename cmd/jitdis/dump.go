package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zboralski/lattice"
	"github.com/zboralski/lattice/render"

	"jitdis/internal/callgraph"
	"jitdis/internal/disasm"
	"jitdis/internal/elfx"
	"jitdis/internal/output"
	"jitdis/internal/symbols"
)

// edgeWindow is how many instructions a register load stays attached to a
// later indirect call.
const edgeWindow = 8

type dumpFlags struct {
	outDir string
	limit  int
	filter string
	graph  bool
}

// dumpFiles holds the open JSONL outputs of a dump.
type dumpFiles struct {
	index, funcs, edges, issues, strs *output.JSONL
}

func openDumpFiles(dir string) (*dumpFiles, error) {
	df := &dumpFiles{}
	for _, f := range []struct {
		dst  **output.JSONL
		name string
	}{
		{&df.index, "index.jsonl"},
		{&df.funcs, "functions.jsonl"},
		{&df.edges, "call_edges.jsonl"},
		{&df.issues, "issues.jsonl"},
		{&df.strs, "string_refs.jsonl"},
	} {
		j, err := output.CreateJSONL(filepath.Join(dir, f.name))
		if err != nil {
			df.Close()
			return nil, err
		}
		*f.dst = j
	}
	return df, nil
}

func (df *dumpFiles) Close() {
	for _, j := range []*output.JSONL{df.index, df.funcs, df.edges, df.issues, df.strs} {
		if j != nil {
			j.Close()
		}
	}
}

func newDumpCmd(a *app) *cobra.Command {
	var fl dumpFlags
	cmd := &cobra.Command{
		Use:   "dump <elf>",
		Short: "Disassemble every function symbol into per-function files and JSONL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if fl.outDir == "" {
				return fmt.Errorf("dump: --out is required")
			}
			f, err := elfx.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return a.dump(f, fl)
		},
	}
	cmd.Flags().StringVarP(&fl.outDir, "out", "o", "", "Output directory")
	cmd.Flags().IntVar(&fl.limit, "limit", 0, "Max functions to disassemble (0 = all)")
	cmd.Flags().StringVar(&fl.filter, "filter", "", "Only functions whose name contains this string")
	cmd.Flags().BoolVar(&fl.graph, "graph", false, "Write call graph and per-function CFG DOT files")
	return cmd
}

func (a *app) dump(f *elfx.File, fl dumpFlags) error {
	df, err := openDumpFiles(fl.outDir)
	if err != nil {
		return err
	}
	defer df.Close()

	res := a.resolver(f)
	var (
		syms      []output.SymbolEntry
		funcInfos []callgraph.FuncInfo
		icalls    int
		labelled  int
		cfgCount  int
	)
	for _, sym := range f.FuncSymbols() {
		if sym.Size == 0 || (fl.filter != "" && !strings.Contains(sym.Name, fl.filter)) {
			continue
		}
		if fl.limit > 0 && len(syms) >= fl.limit {
			break
		}
		code, err := f.ReadBytesAtVA(sym.Addr, int(sym.Size))
		if err != nil {
			a.lg.Warn("skipping function", "name", sym.Name, "err", err)
			continue
		}
		opts, err := a.options(res, f, sym.Addr)
		if err != nil {
			return err
		}
		if opts.Region == nil {
			opts.SelfName, opts.SelfEnd = sym.Name, sym.End()
		}
		insts := disasm.Disassemble(code, opts)

		name := sym.Name
		if a.cfg.Demangle {
			name = symbols.CachedDemangle(sym.Name)
		}
		file := output.FileName(sym.Name, sym.Addr)
		if err := output.WriteASM(fl.outDir, file, insts); err != nil {
			return fmt.Errorf("write asm %s: %w", file, err)
		}
		if err := output.WriteBin(fl.outDir, file, code); err != nil {
			return fmt.Errorf("write bin %s: %w", file, err)
		}
		syms = append(syms, output.SymbolEntry{Address: sym.Addr, Name: name, Size: sym.Size})

		issues := disasm.IssueRecords(name, insts)
		err = df.index.Encode(output.IndexEntry{
			Name: name,
			PC:   fmt.Sprintf("0x%x", sym.Addr),
			Size: sym.Size,
			File: filepath.ToSlash(filepath.Join("asm", file+".txt")),
		})
		if err == nil {
			err = df.funcs.Encode(disasm.FuncRecord{
				PC:     fmt.Sprintf("0x%x", sym.Addr),
				Size:   len(code),
				Name:   name,
				Insts:  len(insts),
				Issues: len(issues),
			})
		}
		for _, is := range issues {
			if err == nil {
				err = df.issues.Encode(is)
			}
		}
		for _, sr := range disasm.StringRefRecords(name, insts) {
			if err == nil {
				err = df.strs.Encode(sr)
			}
		}
		edges := disasm.ExtractCallEdges(insts, edgeWindow)
		for _, e := range edges {
			if err == nil {
				err = df.edges.Encode(disasm.NewCallEdgeRecord(name, e))
			}
			if e.Kind == "icall" {
				icalls++
				if e.Via != "" {
					labelled++
				}
			}
		}
		if err != nil {
			return err
		}

		if fl.graph {
			lcfg, nblocks := callgraph.BuildFuncCFG(name, insts, edges)
			if nblocks > 1 {
				g := &lattice.CFGGraph{Funcs: []*lattice.FuncCFG{lcfg}}
				if err := output.WriteDOT(fl.outDir, "cfg", file, render.DOTCFG(g, name)); err != nil {
					return err
				}
				blocks := callgraph.InstDOT(disasm.BuildCFG(name, insts), callgraph.Bauhaus)
				if err := output.WriteDOT(fl.outDir, "blocks", file, blocks); err != nil {
					return err
				}
				cfgCount++
			}
			funcInfos = append(funcInfos, callgraph.FuncInfo{Name: name, CallEdges: edges})
		}
	}

	if err := output.WriteSymbolsJSON(fl.outDir, syms); err != nil {
		return err
	}
	a.lg.Info("wrote function disassemblies", "count", df.funcs.N, "dir", filepath.Join(fl.outDir, "asm"))
	a.lg.Info("wrote call edges", "path", df.edges.Path, "edges", df.edges.N, "icalls", icalls, "labelled", labelled)
	a.lg.Info("wrote decode issues", "path", df.issues.Path, "issues", df.issues.N)
	a.lg.Info("wrote string references", "path", df.strs.Path, "refs", df.strs.N)
	if icalls > 0 {
		a.lg.Info(fmt.Sprintf("indirect call label rate: %.1f%%", float64(labelled)/float64(icalls)*100))
	}
	if entries, hits := symbols.DemangleCacheStats(); entries > 0 {
		a.lg.Debug("demangle cache", "entries", entries, "hits", hits)
	}

	if fl.graph && len(funcInfos) > 0 {
		cg := callgraph.BuildCallGraph(funcInfos)
		if err := output.WriteDOT(fl.outDir, "", "callgraph", render.DOT(cg, "callgraph")); err != nil {
			return err
		}
		a.lg.Info("wrote call graph", "nodes", len(cg.Nodes), "edges", len(cg.Edges), "cfgs", cfgCount)
	}
	return nil
}
