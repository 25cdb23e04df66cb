package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"jitdis/internal/elfx"
)

func newResolveCmd(a *app) *cobra.Command {
	var elfPath string
	cmd := &cobra.Command{
		Use:   "resolve <addr>...",
		Short: "Name addresses using configured regions, stubs and ELF symbols",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var f *elfx.File
			if elfPath != "" {
				var err error
				if f, err = elfx.Open(elfPath); err != nil {
					return err
				}
				defer f.Close()
			}
			res := a.resolver(f)
			w := cmd.OutOrStdout()
			for _, arg := range args {
				addr, err := parseAddr(arg)
				if err != nil {
					return fmt.Errorf("resolve: %w", err)
				}
				m, ok := res.Resolve(addr)
				if !ok {
					fmt.Fprintf(w, "0x%x\n", addr)
					continue
				}
				fmt.Fprintf(w, "0x%x  %s  [0x%x,0x%x)\n", addr, m.Offset(addr), m.Low, m.High)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&elfPath, "elf", "", "Binary whose symbol table names native addresses")
	return cmd
}
