package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/nlpodyssey/safetensors"
	"k8s.io/klog/v2"

	"github.com/born-ml/micrort/interpreter"
	"github.com/born-ml/micrort/internal/config"
	"github.com/born-ml/micrort/internal/graph"
)

func runGraph(ctx context.Context, global *flag.FlagSet, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	graphURI := fs.String("graph", "", "graph file: path, file:// or gs:// URI")
	inputsPath := fs.String("inputs", "", "safetensors file holding the graph inputs by name")
	outPath := fs.String("out", "", "safetensors file to write the graph outputs to")
	configPath := fs.String("config", "", "YAML configuration file")
	train := fs.Bool("train", false, "run the backward operators too")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *graphURI == "" || *inputsPath == "" || *outPath == "" {
		return fmt.Errorf("run needs -graph, -inputs and -out")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := applyVerbosity(global, cfg); err != nil {
		return err
	}
	log := klog.FromContext(ctx)

	it, err := interpreter.Load(ctx, *graphURI, interpreter.WithConfig(cfg), interpreter.WithLogger(log))
	if err != nil {
		return err
	}

	buf, err := os.ReadFile(*inputsPath)
	if err != nil {
		return fmt.Errorf("reading inputs: %w", err)
	}
	inputs, err := decodeInputs(it.Graph(), buf)
	if err != nil {
		return fmt.Errorf("inputs %s: %w", *inputsPath, err)
	}

	exec := it.Invoke
	if *train {
		exec = it.Train
	}
	startedAt := time.Now()
	outputs, err := exec(ctx, inputs)
	if err != nil {
		return err
	}
	log.Info("graph executed", "graph", it.Graph().Name, "duration", time.Since(startedAt), "peakArenaBytes", it.PeakBytes())

	encoded, err := encodeOutputs(it.Graph(), outputs)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*outPath, encoded, 0o644); err != nil {
		return fmt.Errorf("writing outputs: %w", err)
	}
	fmt.Fprintf(stdout, "wrote %d outputs to %s\n", len(outputs), *outPath)
	return nil
}

// decodeInputs reads the tensors of a safetensors file, checking each
// against the graph input of the same name.
func decodeInputs(g *graph.Graph, buf []byte) (map[string][]byte, error) {
	st, err := safetensors.Deserialize(buf)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*graph.Tensor, len(g.Inputs))
	for _, idx := range g.Inputs {
		byName[interpreter.TensorName(g, idx)] = g.Tensor(idx)
	}

	inputs := make(map[string][]byte, st.Len())
	for _, name := range st.Names() {
		view, _ := st.Tensor(name)
		t, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("graph has no input %q", name)
		}
		dt, err := graph.FromSafetensorsDType(view.DType())
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}
		if dt != t.DType {
			return nil, fmt.Errorf("input %q is %s, graph expects %s", name, dt, t.DType)
		}
		inputs[name] = view.Data()
	}
	return inputs, nil
}

// encodeOutputs writes outputs as a safetensors file, shaped like their
// graph tensors.
func encodeOutputs(g *graph.Graph, outputs map[string][]byte) ([]byte, error) {
	views := make(map[string]safetensors.TensorView, len(outputs))
	for _, idx := range g.Outputs {
		name := interpreter.TensorName(g, idx)
		data, ok := outputs[name]
		if !ok {
			return nil, fmt.Errorf("output %q missing", name)
		}
		t := g.Tensor(idx)
		dt, err := graph.ToSafetensorsDType(t.DType)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", name, err)
		}
		shape := make([]uint64, len(t.Shape))
		for i, d := range t.Shape {
			shape[i] = uint64(d)
		}
		view, err := safetensors.NewTensorView(dt, shape, data)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", name, err)
		}
		views[name] = view
	}
	return safetensors.Serialize(views, map[string]string{"producer": "micrort " + version})
}
