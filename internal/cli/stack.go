package cli

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/hmartens/fieldcap/pkg/stack"
	"github.com/hmartens/fieldcap/pkg/stackup"
)

// stackCommand creates the stack command for resolving and printing a
// process stack.
func (c *CLI) stackCommand() *cobra.Command {
	var (
		reference string
		metals    []string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "stack <stackup.toml>",
		Short: "Resolve and print the ordered dielectric stack",
		Long: `Resolve and print the ordered dielectric stack.

Resolves the process description for the given reference conductor and
active metals, and prints every record from air down to the reference
plane: name, kind, vertical span, lateral offset, and dielectric
constant.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := stackup.Load(args[0])
			if err != nil {
				return err
			}
			if reference == "" {
				diffusions := doc.Layers.Diffusions()
				if len(diffusions) == 0 {
					return fmt.Errorf("%s declares no diffusion plane; use --reference", args[0])
				}
				reference = diffusions[0]
			}

			st, err := stack.Resolve(doc.Layers, reference, metals)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(jsonStack(st))
			}

			printKeyValue("process", doc.Process)
			printKeyValue("reference", reference)
			if len(metals) > 0 {
				printKeyValue("metals", strings.Join(metals, ", "))
			}
			fmt.Println(stackTable(st))
			return nil
		},
	}

	cmd.Flags().StringVarP(&reference, "reference", "r", "", "reference conductor (default: first diffusion)")
	cmd.Flags().StringSliceVarP(&metals, "metals", "m", nil, "active metal layers (comma-separated)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit the resolved stack as JSON")

	return cmd
}

// jsonRecord is the JSON view of one resolved record. The air record's
// infinite top becomes null, which encoding/json cannot express with a
// raw float.
type jsonRecord struct {
	Name     string   `json:"name"`
	Kind     string   `json:"kind"`
	Metal    string   `json:"metal,omitempty"`
	Bottom   float64  `json:"bottom"`
	Top      *float64 `json:"top"`
	TopMetal *float64 `json:"top_metal,omitempty"`
	Offset   float64  `json:"offset"`
	Epsilon  float64  `json:"epsilon,omitempty"`
}

func jsonStack(st stack.Stack) []jsonRecord {
	finite := func(v float64) *float64 {
		if math.IsInf(v, 0) {
			return nil
		}
		return &v
	}
	out := make([]jsonRecord, 0, len(st))
	for _, rec := range st {
		out = append(out, jsonRecord{
			Name:     rec.Name,
			Kind:     rec.Kind.String(),
			Metal:    rec.Metal,
			Bottom:   rec.Bottom,
			Top:      finite(rec.Top),
			TopMetal: finite(rec.TopMetal),
			Offset:   rec.Offset,
			Epsilon:  rec.Epsilon,
		})
	}
	return out
}

// stackTable renders a resolved stack as a bordered table, top record
// first.
func stackTable(st stack.Stack) string {
	headerStyle := lipgloss.NewStyle().Foreground(colorGray).Bold(true)

	rows := make([][]string, 0, len(st))
	for _, rec := range st {
		rows = append(rows, []string{
			rec.Name,
			rec.Kind.String(),
			fmtHeight(rec.Bottom),
			fmtHeight(rec.Top),
			fmtHeight(rec.Offset),
			fmtEpsilon(rec),
		})
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers("Layer", "Kind", "Bottom", "Top", "Offset", "K").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == -1 {
				return headerStyle
			}
			if col == 1 && rows[row][1] == "conductor" {
				return StyleHighlight
			}
			return lipgloss.NewStyle()
		}).
		Render()
}

func fmtHeight(v float64) string {
	if math.IsInf(v, 1) {
		return "inf"
	}
	return fmt.Sprintf("%.4f", v)
}

func fmtEpsilon(rec stack.Resolved) string {
	if rec.Kind != stack.KindDielectric {
		return "-"
	}
	return fmt.Sprintf("%.2f", rec.Epsilon)
}
