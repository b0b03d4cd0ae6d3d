package stackup

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-graphviz"

	"github.com/hmartens/fieldcap/pkg/stack"
)

// ToDOT converts a description's layer-reference graph to Graphviz DOT
// format. Each layer becomes a node styled by its type; each above,
// beneath, or associated reference becomes a labeled edge. The resulting
// DOT string can be rendered with [RenderSVG] or [RenderPNG].
func ToDOT(doc *Document) string {
	var buf bytes.Buffer
	buf.WriteString("digraph layers {\n")
	buf.WriteString("  rankdir=BT;\n")
	buf.WriteString("  bgcolor=\"transparent\";\n")
	buf.WriteString("  node [shape=box, style=\"rounded,filled\", fontsize=12, margin=\"0.2,0.1\"];\n")
	buf.WriteString("\n")

	for _, name := range doc.Layers.Names() {
		def, _ := doc.Layers.Get(name)
		fmt.Fprintf(&buf, "  %q [%s];\n", name, strings.Join(nodeAttrs(name, def), ", "))
	}

	buf.WriteString("\n")
	for _, name := range doc.Layers.Names() {
		def, _ := doc.Layers.Get(name)
		for _, e := range edgesOf(name, def) {
			fmt.Fprintf(&buf, "  %q -> %q [label=%q];\n", e.from, e.to, e.label)
		}
	}

	buf.WriteString("}\n")
	return buf.String()
}

type edge struct {
	from, to, label string
}

func edgesOf(name string, def stack.Layer) []edge {
	var edges []edge
	add := func(to, label string) {
		if to != "" {
			edges = append(edges, edge{from: name, to: to, label: label})
		}
	}
	switch d := def.(type) {
	case stack.Diffusion:
		add(d.Above, "above")
	case stack.Dielectric:
		add(d.Beneath, "beneath")
	case stack.Boundary:
		add(d.Beneath, "beneath")
	case stack.Conformal:
		add(d.Associated, "associated")
	case stack.Sidewall:
		add(d.Associated, "associated")
	case stack.Metal:
		add(d.Beneath, "beneath")
		add(d.Above, "above")
	}
	return edges
}

func nodeAttrs(name string, def stack.Layer) []string {
	label := name
	fill := "white"
	switch d := def.(type) {
	case stack.Diffusion:
		fill = "lightyellow"
	case stack.FieldOxide:
		label = fmt.Sprintf("%s\nk=%.2f", name, d.Epsilon)
		fill = "lightblue"
	case stack.Dielectric:
		label = fmt.Sprintf("%s\nk=%.2f", name, d.Epsilon)
		fill = "lightblue"
	case stack.Boundary:
		label = fmt.Sprintf("%s\nk=%.2f", name, d.Epsilon)
		fill = "lightcyan"
	case stack.Conformal:
		label = fmt.Sprintf("%s\nk=%.2f", name, d.Epsilon)
		fill = "paleturquoise"
	case stack.Sidewall:
		label = fmt.Sprintf("%s\nk=%.2f", name, d.Epsilon)
		fill = "paleturquoise"
	case stack.Metal:
		label = fmt.Sprintf("%s\n%.4g..%.4g", name, d.Height, d.Height+d.Thickness)
		fill = "lightgrey"
	}
	return []string{
		fmt.Sprintf("label=%q", label),
		fmt.Sprintf("fillcolor=%q", fill),
	}
}

// RenderSVG renders a DOT graph to SVG using Graphviz.
func RenderSVG(dot string) ([]byte, error) {
	return render(dot, graphviz.SVG)
}

// RenderPNG renders a DOT graph to PNG using Graphviz.
func RenderPNG(dot string) ([]byte, error) {
	return render(dot, graphviz.PNG)
}

func render(dot string, format graphviz.Format) ([]byte, error) {
	ctx := context.Background()
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("init graphviz: %w", err)
	}
	defer gv.Close()

	g, err := graphviz.ParseBytes([]byte(dot))
	if err != nil {
		return nil, fmt.Errorf("parse DOT: %w", err)
	}
	defer g.Close()

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, format, &buf); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return buf.Bytes(), nil
}
