package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/born-ml/micrort/interpreter"
	"github.com/born-ml/micrort/internal/arena"
	"github.com/born-ml/micrort/internal/engine"
	"github.com/born-ml/micrort/internal/graph"
	"github.com/born-ml/micrort/internal/modelstore"
)

func runInfo(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	graphURI := fs.String("graph", "", "graph file: path, file:// or gs:// URI")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *graphURI == "" {
		return fmt.Errorf("info needs -graph")
	}

	buf, err := modelstore.Fetch(ctx, *graphURI)
	if err != nil {
		return err
	}
	g, err := graph.LoadBytes(buf)
	if err != nil {
		return fmt.Errorf("graph %s: %w", *graphURI, err)
	}
	return describe(stdout, g, "")
}

// describe prints g and its nested graphs, indenting nested ones.
func describe(w io.Writer, g *graph.Graph, indent string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	plan, err := engine.NewPlan(g, g.NumOps())
	if err != nil {
		return err
	}

	fmt.Fprintf(tw, "%sgraph\t%s\n", indent, g.Name)
	fmt.Fprintf(tw, "%stensors\t%d (%d constant)\n", indent, len(g.Tensors), countConstants(g))
	fmt.Fprintf(tw, "%soperators\t%d forward, %d backward\n", indent, len(g.Operators), len(g.Backward))
	fmt.Fprintf(tw, "%sarena\t%d bytes, planned peak %d bytes\n", indent, g.ScratchBytes(arena.DefaultAlignment), plan.Peak)
	for _, idx := range g.Inputs {
		fmt.Fprintf(tw, "%sinput\t%s\n", indent, tensorSummary(g, idx))
	}
	for _, idx := range g.Outputs {
		fmt.Fprintf(tw, "%soutput\t%s\n", indent, tensorSummary(g, idx))
	}
	for pos := 0; pos < g.NumOps(); pos++ {
		op := g.Op(pos)
		flags := ""
		if op.Inplace {
			flags = " in-place"
		}
		fmt.Fprintf(tw, "%sop %d\t%s %v -> %v%s\n", indent, pos, op.Code, op.Inputs, op.Outputs, flags)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for i, sg := range g.Subgraphs {
		fmt.Fprintf(w, "%ssubgraph %d:\n", indent, i)
		if err := describe(w, sg, indent+"  "); err != nil {
			return err
		}
	}
	return nil
}

func countConstants(g *graph.Graph) int {
	n := 0
	for i := range g.Tensors {
		if g.Tensors[i].IsConstant() {
			n++
		}
	}
	return n
}

func tensorSummary(g *graph.Graph, idx int) string {
	t := g.Tensor(idx)
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s%v", interpreter.TensorName(g, idx), t.DType, t.Shape)
	if t.Quant != nil && len(t.Quant.Scale) > 0 {
		fmt.Fprintf(&b, " scale=%g zero_point=%d", t.Scale(), t.ZeroPoint())
		if t.Quant.PerChannel() {
			fmt.Fprintf(&b, " per-channel(%d)", len(t.Quant.Scale))
		}
	}
	return b.String()
}
