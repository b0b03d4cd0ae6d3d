package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hmartens/fieldcap/pkg/stackup"
)

// graphCommand creates the graph command for visualizing layer
// references.
func (c *CLI) graphCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "graph <stackup.toml>",
		Short: "Render the layer-reference graph",
		Long: `Render the layer-reference graph.

Every layer of the description becomes a node, every above/beneath/
associated reference an edge. With no output file the DOT source is
printed to stdout; with -o the format follows the file extension
(.dot, .svg, .png).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := stackup.Load(args[0])
			if err != nil {
				return err
			}
			dot := stackup.ToDOT(doc)

			if output == "" {
				fmt.Print(dot)
				return nil
			}

			var data []byte
			switch ext := strings.ToLower(filepath.Ext(output)); ext {
			case ".dot", ".gv":
				data = []byte(dot)
			case ".svg":
				data, err = stackup.RenderSVG(dot)
			case ".png":
				data, err = stackup.RenderPNG(dot)
			default:
				return fmt.Errorf("unsupported output format %q (use .dot, .svg or .png)", ext)
			}
			if err != nil {
				return err
			}

			if err := os.WriteFile(output, data, 0o644); err != nil {
				return err
			}
			printSuccess("Rendered layer graph")
			printFile(output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (.dot, .svg, .png); default prints DOT")

	return cmd
}
