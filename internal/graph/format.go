package graph

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/nlpodyssey/safetensors"
	"github.com/x448/float16"
)

// A graph file is a safetensors file. Constant payloads are stored as flat
// tensors named by their path (t3, s0/t1, s0/s2/t4, ...) and the topology is
// JSON under TopologyKey in the safetensors metadata.
const (
	TopologyKey   = "micrort.graph"
	FormatVersion = "1"
	versionKey    = "micrort.version"
)

// MarshalOptions configures graph encoding.
type MarshalOptions struct {
	// HalfPrecision stores float32 constants as F16 payloads. They are
	// widened back to float32 on load.
	HalfPrecision bool
}

// Marshal encodes g as a graph file.
func Marshal(g *Graph, opts ...MarshalOptions) ([]byte, error) {
	var opt MarshalOptions
	if len(opts) > 0 {
		opt = opts[0]
	}

	topology, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("encoding topology: %w", err)
	}

	views := make(map[string]safetensors.TensorView)
	if err := collectConstants(g, "", opt, views); err != nil {
		return nil, err
	}

	meta := map[string]string{
		TopologyKey: string(topology),
		versionKey:  FormatVersion,
	}
	return safetensors.Serialize(views, meta)
}

func collectConstants(g *Graph, prefix string, opt MarshalOptions, views map[string]safetensors.TensorView) error {
	for i := range g.Tensors {
		t := &g.Tensors[i]
		if !t.IsConstant() {
			continue
		}
		name := prefix + "t" + strconv.Itoa(i)

		dt, data, err := encodePayload(t, opt)
		if err != nil {
			return fmt.Errorf("tensor %s: %w", name, err)
		}
		n := uint64(len(data)) / dt.Size()
		view, err := safetensors.NewTensorView(dt, []uint64{n}, data)
		if err != nil {
			return fmt.Errorf("tensor %s: %w", name, err)
		}
		views[name] = view
	}
	for i, sg := range g.Subgraphs {
		if err := collectConstants(sg, prefix+"s"+strconv.Itoa(i)+"/", opt, views); err != nil {
			return err
		}
	}
	return nil
}

func encodePayload(t *Tensor, opt MarshalOptions) (safetensors.DType, []byte, error) {
	if opt.HalfPrecision && t.DType == Float32 {
		out := make([]byte, len(t.Data)/2)
		for i := 0; i < len(t.Data)/4; i++ {
			bits := uint32(t.Data[4*i]) | uint32(t.Data[4*i+1])<<8 | uint32(t.Data[4*i+2])<<16 | uint32(t.Data[4*i+3])<<24
			h := float16.Fromfloat32(math.Float32frombits(bits)).Bits()
			out[2*i] = byte(h)
			out[2*i+1] = byte(h >> 8)
		}
		return safetensors.F16, out, nil
	}
	dt, err := toSafetensorsDType(t.DType)
	if err != nil {
		return 0, nil, err
	}
	return dt, t.Data, nil
}

// LoadBytes decodes a graph file and validates the result.
func LoadBytes(buf []byte) (*Graph, error) {
	st, err := safetensors.Deserialize(buf)
	if err != nil {
		return nil, fmt.Errorf("reading graph file: %w", err)
	}
	_, md, err := safetensors.ReadMetadata(buf)
	if err != nil {
		return nil, fmt.Errorf("reading graph metadata: %w", err)
	}
	meta := md.Metadata()
	topology, ok := meta[TopologyKey]
	if !ok {
		return nil, fmt.Errorf("graph file has no %q metadata", TopologyKey)
	}
	if v := meta[versionKey]; v != "" && v != FormatVersion {
		return nil, fmt.Errorf("unsupported graph format version %q", v)
	}

	g := new(Graph)
	if err := json.Unmarshal([]byte(topology), g); err != nil {
		return nil, fmt.Errorf("decoding topology: %w", err)
	}

	for _, name := range st.Names() {
		view, _ := st.Tensor(name)
		t, err := resolveConstant(g, name)
		if err != nil {
			return nil, err
		}
		if t.Data, err = decodePayload(t, view); err != nil {
			return nil, fmt.Errorf("tensor %s: %w", name, err)
		}
	}

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid graph: %w", err)
	}
	return g, nil
}

// Load reads a whole graph file from r.
func Load(r io.Reader) (*Graph, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading graph: %w", err)
	}
	return LoadBytes(buf)
}

// resolveConstant walks a payload path like s0/s1/t4 to its tensor.
func resolveConstant(g *Graph, name string) (*Tensor, error) {
	parts := strings.Split(name, "/")
	cur := g
	for i, p := range parts {
		if len(p) < 2 {
			return nil, fmt.Errorf("malformed payload name %q", name)
		}
		idx, err := strconv.Atoi(p[1:])
		if err != nil {
			return nil, fmt.Errorf("malformed payload name %q: %w", name, err)
		}
		last := i == len(parts)-1
		switch {
		case p[0] == 's' && !last:
			if cur = cur.Subgraph(idx); cur == nil {
				return nil, fmt.Errorf("payload %q: no such subgraph", name)
			}
		case p[0] == 't' && last:
			t := cur.Tensor(idx)
			if t == nil {
				return nil, fmt.Errorf("payload %q: no such tensor", name)
			}
			return t, nil
		default:
			return nil, fmt.Errorf("malformed payload name %q", name)
		}
	}
	return nil, fmt.Errorf("malformed payload name %q", name)
}

func decodePayload(t *Tensor, view safetensors.TensorView) ([]byte, error) {
	data := view.Data()
	if view.DType() == safetensors.F16 && t.DType == Float32 {
		out := make([]byte, len(data)*2)
		for i := 0; i < len(data)/2; i++ {
			h := float16.Frombits(uint16(data[2*i]) | uint16(data[2*i+1])<<8)
			bits := math.Float32bits(h.Float32())
			out[4*i] = byte(bits)
			out[4*i+1] = byte(bits >> 8)
			out[4*i+2] = byte(bits >> 16)
			out[4*i+3] = byte(bits >> 24)
		}
		return out, nil
	}

	want, err := toSafetensorsDType(t.DType)
	if err != nil {
		return nil, err
	}
	if view.DType() != want {
		return nil, fmt.Errorf("payload type %s does not match %s", view.DType(), t.DType)
	}
	// Own the bytes: the file buffer may be reused by the caller.
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func toSafetensorsDType(dt DType) (safetensors.DType, error) {
	switch dt {
	case Float32:
		return safetensors.F32, nil
	case Int8:
		return safetensors.I8, nil
	case Uint8:
		return safetensors.U8, nil
	case Int16:
		return safetensors.I16, nil
	case Int32:
		return safetensors.I32, nil
	case Int64:
		return safetensors.I64, nil
	case Bool:
		return safetensors.BOOL, nil
	case Float16:
		return safetensors.F16, nil
	default:
		return 0, fmt.Errorf("data type %s has no safetensors encoding", dt)
	}
}

// FromSafetensorsDType maps a safetensors element type to a graph type.
func FromSafetensorsDType(dt safetensors.DType) (DType, error) {
	switch dt {
	case safetensors.F32:
		return Float32, nil
	case safetensors.I8:
		return Int8, nil
	case safetensors.U8:
		return Uint8, nil
	case safetensors.I16:
		return Int16, nil
	case safetensors.I32:
		return Int32, nil
	case safetensors.I64:
		return Int64, nil
	case safetensors.BOOL:
		return Bool, nil
	case safetensors.F16:
		return Float16, nil
	default:
		return 0, fmt.Errorf("unsupported safetensors type %s", dt)
	}
}

// ToSafetensorsDType maps a graph type to a safetensors element type.
func ToSafetensorsDType(dt DType) (safetensors.DType, error) {
	return toSafetensorsDType(dt)
}
