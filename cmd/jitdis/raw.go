package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// parseHex decodes "55 48 89 e5", "554889e5" or "0x55,0x48" style input.
func parseHex(args []string) ([]byte, error) {
	s := strings.Join(args, "")
	s = strings.NewReplacer(" ", "", ",", "", "\t", "", "\n", "", "0x", "", "\\x", "").Replace(strings.ToLower(s))
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("raw: %w", err)
	}
	return b, nil
}

func newRawCmd(a *app) *cobra.Command {
	var (
		rf   renderFlags
		base string
		file string
	)
	cmd := &cobra.Command{
		Use:   "raw [hex bytes...]",
		Short: "Disassemble bytes given as hex or read from a file",
		Example: `
jitdis raw 55 48 89 e5 c3
jitdis raw --file blob.bin --base 0x7f0000001000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var code []byte
			var err error
			switch {
			case file != "":
				code, err = os.ReadFile(file)
			case len(args) > 0:
				code, err = parseHex(args)
			default:
				return fmt.Errorf("raw: no input (pass hex bytes or --file)")
			}
			if err != nil {
				return err
			}
			begin, err := parseAddr(base)
			if err != nil {
				return fmt.Errorf("raw: --base: %w", err)
			}
			res := a.resolver(nil)
			opts, err := a.options(res, nil, begin)
			if err != nil {
				return err
			}
			result, err := rf.render(cmd.OutOrStdout(), code, begin, a.scanOptions(opts))
			if err != nil {
				return fmt.Errorf("raw: %w", err)
			}
			a.summarize(result)
			return nil
		},
	}
	rf.register(cmd)
	cmd.Flags().StringVar(&base, "base", "0", "Address of the first byte")
	cmd.Flags().StringVar(&file, "file", "", "Read bytes from a file")
	return cmd
}
