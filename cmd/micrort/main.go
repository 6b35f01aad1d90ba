// Package main provides the micrort CLI.
//
// Usage:
//
//	micrort [klog flags] run -graph <uri> -inputs in.safetensors -out out.safetensors [-config cfg.yaml] [-train]
//	micrort [klog flags] info -graph <uri>
//	micrort version
//
// Graph URIs are local paths, file:// or gs:// URIs.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"k8s.io/klog/v2"

	"github.com/born-ml/micrort/internal/config"
)

const version = "v0.1.0-dev"

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("micrort", flag.ContinueOnError)
	klog.InitFlags(fs)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: micrort [flags] run|info|version [command flags]\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return fmt.Errorf("no command given")
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "run":
		return runGraph(ctx, fs, rest, stdout)
	case "info":
		return runInfo(ctx, rest, stdout)
	case "version":
		fmt.Fprintf(stdout, "micrort %s\n", version)
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// applyVerbosity raises the klog verbosity to the configured level unless
// -v was given on the command line.
func applyVerbosity(fs *flag.FlagSet, cfg config.Config) error {
	if cfg.LogVerbosity == 0 {
		return nil
	}
	explicit := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "v" {
			explicit = true
		}
	})
	if explicit {
		return nil
	}
	return fs.Set("v", strconv.Itoa(cfg.LogVerbosity))
}
