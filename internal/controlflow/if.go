package controlflow

import (
	"github.com/born-ml/micrort/internal/graph"
	"github.com/born-ml/micrort/internal/kernel"
	"github.com/born-ml/micrort/internal/status"
)

// If runs the then or else subgraph depending on its first input, a single
// bool. The remaining inputs are copied into the chosen branch and the
// branch outputs are copied into the operator's outputs.
func If(c *kernel.Context) error {
	k := c.Kernel
	if k.NumInputs < 1 || k.Inputs[0] == nil {
		return status.Unknownf("%s: missing condition input", c.Op.Code)
	}
	tc, cbuf := k.Input(0)
	if tc.DType != graph.Bool || len(cbuf) != 1 {
		return status.Errorf(status.UnsupportedType, "%s: condition must be a single bool, got %s %v", c.Op.Code, tc.DType, tc.Shape)
	}
	for i := 1; i < k.NumInputs; i++ {
		if k.Inputs[i] == nil {
			return status.Unknownf("%s: branch input %d is absent", c.Op.Code, i)
		}
	}

	idx, role := c.Op.Options.ElseSubgraph, "else"
	if cbuf[0] != 0 {
		idx, role = c.Op.Options.ThenSubgraph, "then"
	}
	g, err := lookupSubgraph(c, idx, role)
	if err != nil {
		return err
	}
	branch := newSubgraph(role, g)
	if err := branch.checkBoundary(k.NumInputs-1, k.NumOutputs); err != nil {
		return err
	}

	c.Logger.V(4).Info("Taking branch", "op", c.OpIndex, "branch", role)
	err = branch.load(inputData(k, 1))
	if err == nil {
		err = branch.run(c)
	}
	if err == nil {
		err = branch.store(outputData(k))
	}
	if rerr := branch.reset(); err == nil {
		err = rerr
	}
	return err
}
