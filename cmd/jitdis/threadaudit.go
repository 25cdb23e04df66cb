package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"jitdis/internal/disasm"
	"jitdis/internal/elfx"
	"jitdis/internal/output"
)

func newThreadAuditCmd(a *app) *cobra.Command {
	var (
		outDir string
		filter string
	)
	cmd := &cobra.Command{
		Use:   "thread-audit <elf>",
		Short: "List every thread-pointer-relative memory access and whether its field is named",
		Long: `thread-audit disassembles every function symbol and records each memory access
made through a register holding the thread pointer. Accesses whose offset has
no entry in thread_fields are reported as unresolved, which is the list of
fields still to name in the configuration.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := elfx.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			out, err := output.CreateJSONL(filepath.Join(outDir, "thread_audit.jsonl"))
			if err != nil {
				return err
			}
			defer out.Close()

			res := a.resolver(f)
			var resolved, unresolved int
			offsets := map[int64]int{}
			for _, sym := range f.FuncSymbols() {
				if sym.Size == 0 || (filter != "" && !strings.Contains(sym.Name, filter)) {
					continue
				}
				code, err := f.ReadBytesAtVA(sym.Addr, int(sym.Size))
				if err != nil {
					continue
				}
				opts, err := a.options(res, f, sym.Addr)
				if err != nil {
					return err
				}
				opts.SelfName, opts.SelfEnd = sym.Name, sym.End()
				insts := disasm.Disassemble(code, opts)
				acc := disasm.ExtractThreadAccesses(insts)
				for _, ac := range acc {
					if ac.Resolved {
						resolved++
					} else {
						unresolved++
						offsets[ac.Offset]++
					}
				}
				for _, rec := range disasm.BuildAuditRecords(acc, insts, sym.Name) {
					if err := out.Encode(rec); err != nil {
						return err
					}
				}
			}
			a.lg.Info("wrote thread audit", "path", out.Path, "accesses", out.N,
				"resolved", resolved, "unresolved", unresolved, "unnamed_offsets", len(offsets))
			for off, n := range offsets {
				a.lg.Debug("unnamed thread field", "offset", fmt.Sprintf("%#x", off), "uses", n)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "Output directory")
	cmd.Flags().StringVar(&filter, "filter", "", "Only functions whose name contains this string")
	return cmd
}
