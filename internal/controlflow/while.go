package controlflow

import (
	"github.com/born-ml/micrort/internal/graph"
	"github.com/born-ml/micrort/internal/kernel"
	"github.com/born-ml/micrort/internal/status"
)

// While runs the body subgraph for as long as the condition subgraph
// returns true.
//
// The operator's outputs hold the loop-carried state. They are seeded from
// the inputs, fed to the condition and the body on every iteration, and
// overwritten with the body's outputs. The condition's state is reset after
// every evaluation, true or false, before the body runs. A failing subgraph
// aborts the loop. When c.MaxLoopIterations is positive, a loop that wants
// to run the body more often fails with FailedCheckCondition.
func While(c *kernel.Context) error {
	k := c.Kernel
	if k.NumInputs != k.NumOutputs {
		return status.Unknownf("%s: %d inputs but %d outputs", c.Op.Code, k.NumInputs, k.NumOutputs)
	}
	for i := 0; i < k.NumInputs; i++ {
		if k.Inputs[i] == nil {
			return status.Unknownf("%s: loop input %d is absent", c.Op.Code, i)
		}
	}
	condGraph, err := lookupSubgraph(c, c.Op.Options.CondSubgraph, "condition")
	if err != nil {
		return err
	}
	bodyGraph, err := lookupSubgraph(c, c.Op.Options.BodySubgraph, "body")
	if err != nil {
		return err
	}

	cond := newSubgraph("condition", condGraph)
	body := newSubgraph("body", bodyGraph)
	n := k.NumOutputs
	if err := cond.checkBoundary(n, 1); err != nil {
		return err
	}
	if err := body.checkBoundary(n, n); err != nil {
		return err
	}
	if t := condGraph.Tensor(condGraph.Outputs[0]); t == nil || t.DType != graph.Bool || t.ElementCount() != 1 {
		return status.Unknownf("%s: condition output must be a single bool", c.Op.Code)
	}

	// Seed.
	state := outputData(k)
	for i, in := range inputData(k, 0) {
		if len(in) != len(state[i]) {
			return status.Unknownf("%s: loop input %d holds %d bytes, output %d", c.Op.Code, i, len(in), len(state[i]))
		}
		copy(state[i], in)
	}

	log := c.Logger.WithValues("op", c.OpIndex)
	iterations := 0
	for {
		ok, err := evaluate(c, cond, state)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if c.MaxLoopIterations > 0 && iterations >= c.MaxLoopIterations {
			return status.Errorf(status.FailedCheckCondition, "%s: loop exceeded %d iterations", c.Op.Code, c.MaxLoopIterations)
		}

		err = body.load(state)
		if err == nil {
			err = body.run(c)
		}
		if err == nil {
			err = body.store(state)
		}
		if rerr := body.reset(); err == nil {
			err = rerr
		}
		if err != nil {
			return err
		}
		iterations++
		log.V(4).Info("Loop iteration done", "iteration", iterations)
	}

	log.V(4).Info("Loop finished", "iterations", iterations)
	return nil
}

// evaluate runs the condition subgraph on state and reads its boolean
// result. The condition's state is reset on every path.
func evaluate(c *kernel.Context, cond *subgraph, state [][]byte) (result bool, err error) {
	defer func() {
		if rerr := cond.reset(); err == nil {
			err = rerr
		}
	}()

	if err := cond.load(state); err != nil {
		return false, err
	}
	if err := cond.run(c); err != nil {
		return false, err
	}
	buf, err := cond.st.Resolve(cond.g.Outputs[0])
	if err != nil {
		return false, err
	}
	if len(buf) != 1 {
		return false, status.Unknownf("%s: condition output holds %d bytes", c.Op.Code, len(buf))
	}
	return buf[0] != 0, nil
}
