//go:build !tinygo

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"ember/emberos/workload"
)

func newValidateCmd() *cobra.Command {
	var dump bool

	cmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Check a scenario file",
		Long:  "Validate parses and checks a scenario. Without a file it checks the built-in scenario.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc := workload.Default()
			if len(args) == 1 {
				var err error
				if sc, err = workload.LoadFile(args[0]); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if dump {
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				if err := enc.Encode(sc); err != nil {
					return fmt.Errorf("encode scenario: %w", err)
				}
				return enc.Close()
			}
			fmt.Fprintf(out, "ok: %s (%d threads, %d queues)\n", sc.Name, len(sc.Threads), len(sc.Queues))
			return nil
		},
	}
	cmd.Flags().BoolVar(&dump, "dump", false, "Print the scenario with defaults applied")
	return cmd
}
