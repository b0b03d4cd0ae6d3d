package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hmartens/fieldcap/pkg/fit"
	"github.com/hmartens/fieldcap/pkg/pipeline"
	"github.com/hmartens/fieldcap/pkg/stackup"
)

// fitCommand creates the fit command for coefficient extraction.
func (c *CLI) fitCommand() *cobra.Command {
	var (
		resultFiles []string
		output      string
	)

	cmd := &cobra.Command{
		Use:   "fit <stackup.toml> --results <file> [--results <file> ...]",
		Short: "Fit capacitance model coefficients from sweep results",
		Long: `Fit capacitance model coefficients from sweep results.

Reads the result files produced by 'build' and derives the extraction
coefficients: area and fringe capacitance from w1 sweeps, the sidewall
model from w2 sweeps, and the fringe-shield transitions from w1sh
sweeps. Runs can be combined freely; each file contributes the
coefficients its pattern measures.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(resultFiles) == 0 {
				return fmt.Errorf("at least one --results file is required")
			}
			doc, err := stackup.Load(args[0])
			if err != nil {
				return err
			}

			coeffs := fit.NewCoefficients()
			for _, path := range resultFiles {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				res, err := pipeline.ReadResults(f)
				f.Close()
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				prog := newProgress(c.Logger)
				if err := coeffs.AddRun(doc, res); err != nil {
					return fmt.Errorf("fit %s: %w", path, err)
				}
				prog.done(fmt.Sprintf("Fitted %s (%d records)", res.Mode, len(res.Records)))
			}

			conductors := doc.Layers.Diffusions()
			conductors = append(conductors, doc.Layers.Metals()...)

			out := os.Stdout
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			if err := coeffs.Write(out, doc.Layers.Metals(), conductors); err != nil {
				return fmt.Errorf("write coefficients: %w", err)
			}
			if output != "" {
				printSuccess("Wrote coefficients")
				printFile(output)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&resultFiles, "results", nil, "result file from 'build' (repeatable)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "coefficients file (default stdout)")

	return cmd
}
