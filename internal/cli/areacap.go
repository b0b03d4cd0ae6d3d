package cli

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/hmartens/fieldcap/pkg/fit"
	"github.com/hmartens/fieldcap/pkg/stackup"
)

// areacapCommand creates the areacap command for the analytic plate-cap
// table.
func (c *CLI) areacapCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "areacap <stackup.toml>",
		Short: "Print analytic parallel-plate capacitance per layer pair",
		Long: `Print analytic parallel-plate capacitance per layer pair.

Computes the series-dielectric plate capacitance, in aF/um^2, for every
metal over every conductor below it, straight from the resolved stack
heights. No field solver is involved; these values anchor the fringe
fits and sanity-check solver output.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := stackup.Load(args[0])
			if err != nil {
				return err
			}

			order := make(map[string]int)
			for i, name := range doc.Layers.Names() {
				order[name] = i
			}
			conductors := doc.Layers.Diffusions()
			conductors = append(conductors, doc.Layers.Metals()...)

			var rows [][]string
			for _, metal := range doc.Layers.Metals() {
				for _, cond := range conductors {
					if order[cond] >= order[metal] {
						continue
					}
					area, err := fit.AreaCapFromStack(doc, metal, cond)
					if err != nil {
						if errors.Is(err, fit.ErrNoDielectric) {
							continue
						}
						return fmt.Errorf("areacap %s over %s: %w", metal, cond, err)
					}
					rows = append(rows, []string{metal, cond, fmt.Sprintf("%.3f", area)})
				}
			}

			printKeyValue("process", doc.Process)
			headerStyle := lipgloss.NewStyle().Foreground(colorGray).Bold(true)
			fmt.Println(table.New().
				Border(lipgloss.RoundedBorder()).
				BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
				Headers("Metal", "Conductor", "aF/um^2").
				Rows(rows...).
				StyleFunc(func(row, col int) lipgloss.Style {
					if row == -1 {
						return headerStyle
					}
					return lipgloss.NewStyle()
				}).
				Render())
			return nil
		},
	}

	return cmd
}
