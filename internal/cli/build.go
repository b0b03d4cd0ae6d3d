package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hmartens/fieldcap/pkg/pipeline"
	"github.com/hmartens/fieldcap/pkg/solver"
	"github.com/hmartens/fieldcap/pkg/stackup"
)

// buildCommand creates the build command for running a characterization
// sweep.
func (c *CLI) buildCommand() *cobra.Command {
	var (
		opts        pipeline.Options
		output      string
		noCache     bool
		checkMagic  bool
		magicRcfile string
	)

	cmd := &cobra.Command{
		Use:   "build <w1|w2|w1sh> <stackup.toml>",
		Short: "Generate and solve a geometry sweep",
		Long: `Generate and solve a geometry sweep.

Enumerates wire geometries for the chosen pattern over every selected
metal/conductor pair, writes the FasterCap problem files, runs the
solver on a worker pool, and collects the capacitance records into a
result file.

Patterns:
  w1    single wire over a reference plane (area + fringe)
  w2    coupled pair at swept separation (sidewall)
  w1sh  wire over a sliding shield strip (fringe shielding)

Solver results are cached by geometry content, so repeated sweeps only
pay for combinations they have not seen. FASTERCAP_EXEC selects the
solver binary.

With --check-magic each solved geometry is also drawn as a magic layout
and extracted, and the extracted wire-to-reference capacitance is
reported against the solver's; --magic-rcfile names the technology
startup script magic loads.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Mode = args[0]
			if err := pipeline.ValidateMode(opts.Mode); err != nil {
				return err
			}
			doc, err := stackup.Load(args[1])
			if err != nil {
				return err
			}

			runner, err := c.newRunner(noCache, nil)
			if err != nil {
				return fmt.Errorf("initialize runner: %w", err)
			}
			defer runner.Close()
			opts.Logger = c.Logger

			prog := newProgress(c.Logger)
			spin := newSpinnerWithContext(cmd.Context(), "Solving geometries...")
			spin.Start()
			res, err := runner.Execute(cmd.Context(), doc, opts)
			spin.Stop()
			if err != nil {
				if spin.Cancelled() {
					printError("Sweep interrupted")
				}
				return fmt.Errorf("build %s: %w", opts.Mode, err)
			}
			prog.done(fmt.Sprintf("Solved %d geometries (%d cached, %d failed)",
				res.Stats.Solved, res.Stats.Cached, res.Stats.Failed))

			if output == "" {
				output = fmt.Sprintf("results_%s.txt", opts.Mode)
			}
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := pipeline.WriteResults(f, res); err != nil {
				return fmt.Errorf("write results: %w", err)
			}

			printSuccess("Collected %d records", len(res.Records))
			printDetail("Run: %s", res.RunID)
			printFile(output)

			if checkMagic {
				ext := solver.NewMagic(magicRcfile, c.Logger)
				checks, err := runner.CrossCheck(cmd.Context(), doc, res, ext, opts)
				if err != nil {
					return fmt.Errorf("magic check: %w", err)
				}
				for _, chk := range checks {
					printDetail("magic %s/%s w=%.4g s=%.4g: %.6g vs %.6g (%+.1f%%)",
						chk.Record.Metal, chk.Record.Conductor,
						chk.Record.Width, chk.Record.Sep,
						chk.Extracted, chk.Record.Sub, 100*chk.Delta)
				}
				printSuccess("Cross-checked %d of %d records against magic",
					len(checks), len(res.Records))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "result file (default results_<mode>.txt)")
	cmd.Flags().StringSliceVarP(&opts.Metals, "metals", "m", nil, "metal layers to sweep (default: all)")
	cmd.Flags().StringSliceVar(&opts.Conductors, "conductors", nil, "reference conductors (default: all below)")
	cmd.Flags().Float64SliceVarP(&opts.Widths, "widths", "w", nil, "wire widths in microns (default: from limits)")
	cmd.Flags().Float64SliceVarP(&opts.Separations, "seps", "s", nil, "separations in microns (default: from limits)")
	cmd.Flags().Float64VarP(&opts.Tolerance, "tolerance", "t", 0, "starting solver tolerance (default 0.01)")
	cmd.Flags().IntVarP(&opts.Workers, "workers", "j", 0, "concurrent solver processes (default 4)")
	cmd.Flags().BoolVar(&opts.Refresh, "refresh", false, "ignore cached solver results")
	cmd.Flags().StringVar(&opts.WorkDir, "keep-files", "", "keep generated geometry files in this directory")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "disable caching")
	cmd.Flags().BoolVar(&checkMagic, "check-magic", false, "cross-check records against magic layout extraction")
	cmd.Flags().StringVar(&magicRcfile, "magic-rcfile", "", "technology startup script for magic")

	return cmd
}
