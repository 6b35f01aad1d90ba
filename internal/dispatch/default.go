package dispatch

import (
	"sync"

	"github.com/born-ml/micrort/internal/controlflow"
	"github.com/born-ml/micrort/internal/graph"
	"github.com/born-ml/micrort/internal/kernels"
)

// Default returns the table of every builtin kernel, control flow included.
// It is built once.
var Default = sync.OnceValues(func() (*Table, error) {
	return WithBuiltins().Build()
})

// WithBuiltins returns a builder preloaded with every builtin kernel, to
// which custom kernels can be added.
func WithBuiltins() *Builder {
	b := NewBuilder()
	for code, fn := range kernels.Builtins() {
		b.Builtin(code, fn)
	}
	b.Builtin(graph.OpWhile, controlflow.While)
	b.Builtin(graph.OpIf, controlflow.If)
	return b
}
