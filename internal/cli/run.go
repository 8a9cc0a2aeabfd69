//go:build !tinygo

package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"ember/app"
	"ember/emberos/workload"
	"ember/hal"
)

func newRunCmd() *cobra.Command {
	var (
		scenario      string
		headless      bool
		hz            int
		frames        uint64
		ticksPerFrame uint64
		maxTicks      uint64
		paced         bool
		traceTicks    bool
		exitOnHalt    bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a workload scenario",
		Long:  "Run boots the kernel and runs a YAML workload (the built-in one by default) in a window or headless.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sc := workload.Default()
			if scenario != "" {
				var err error
				if sc, err = workload.LoadFile(scenario); err != nil {
					return err
				}
			}
			if !cmd.Flags().Changed("exit-on-halt") {
				exitOnHalt = headless
			}

			cfg := app.Config{
				Scenario:   sc,
				MaxTicks:   maxTicks,
				Paced:      paced,
				ExitOnHalt: exitOnHalt,
				TraceTicks: traceTicks,
				LogLevel:   logLevel,
				LogFormat:  flagLogFormat,
			}
			newApp := func(h hal.HAL) func() error {
				step, err := app.New(h, cfg)
				if err != nil {
					return func() error { return err }
				}
				return step
			}

			if !headless {
				return hal.RunWindow(newApp)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			err := hal.RunHeadless(ctx, newApp, hal.HeadlessConfig{
				Hz:            hz,
				Ticks:         frames,
				TicksPerFrame: ticksPerFrame,
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&scenario, "scenario", "s", "", "Scenario YAML file (default: built-in)")
	cmd.Flags().BoolVar(&headless, "headless", false, "Run without a window")
	cmd.Flags().IntVar(&hz, "hz", 60, "Frame rate in headless mode")
	cmd.Flags().Uint64Var(&frames, "frames", 0, "Stop after N frames in headless mode (0 = run until halt)")
	cmd.Flags().Uint64Var(&ticksPerFrame, "ticks-per-frame", 0, "Machine ticks released per headless frame (0 = wall clock)")
	cmd.Flags().Uint64Var(&maxTicks, "max-ticks", 0, "Halt the machine after N ticks (0 = scenario setting)")
	cmd.Flags().BoolVar(&paced, "paced", true, "Pace machine ticks on the host clock")
	cmd.Flags().BoolVar(&traceTicks, "trace-ticks", false, "Record timer ticks in the trace")
	cmd.Flags().BoolVar(&exitOnHalt, "exit-on-halt", false, "Exit once the machine halts (default true when headless)")

	return cmd
}
