package graph

import "fmt"

// OpCode identifies an operator type.
//
// Builtin codes occupy [0, NumBuiltin). Custom codes are issued starting
// right after the builtin range, at CustomBase.
type OpCode uint16

// Builtin operator codes. Forward kernels first, then control flow, then
// the gradient kernels used in training mode.
const (
	OpAdd OpCode = iota
	OpSub
	OpMul
	OpFullyConnected
	OpRelu
	OpRelu6
	OpLogistic
	OpReshape
	OpQuantize
	OpDequantize
	OpLess
	OpGreater
	OpAveragePool2D
	OpWhile
	OpIf
	OpReluGrad
	OpMulGrad
	OpFullyConnectedGrad

	// NumBuiltin is the size of the builtin code space.
	NumBuiltin
)

// CustomBase is the first custom operator code.
const CustomBase = NumBuiltin + 1

var opNames = [...]string{
	OpAdd:                "ADD",
	OpSub:                "SUB",
	OpMul:                "MUL",
	OpFullyConnected:     "FULLY_CONNECTED",
	OpRelu:               "RELU",
	OpRelu6:              "RELU6",
	OpLogistic:           "LOGISTIC",
	OpReshape:            "RESHAPE",
	OpQuantize:           "QUANTIZE",
	OpDequantize:         "DEQUANTIZE",
	OpLess:               "LESS",
	OpGreater:            "GREATER",
	OpAveragePool2D:      "AVERAGE_POOL_2D",
	OpWhile:              "WHILE",
	OpIf:                 "IF",
	OpReluGrad:           "RELU_GRAD",
	OpMulGrad:            "MUL_GRAD",
	OpFullyConnectedGrad: "FULLY_CONNECTED_GRAD",
}

// IsBuiltin reports whether c is in the builtin range.
func (c OpCode) IsBuiltin() bool {
	return c < NumBuiltin
}

// IsCustom reports whether c is in the custom range.
func (c OpCode) IsCustom() bool {
	return c >= CustomBase
}

// String returns the operator name, or CUSTOM(n) for custom codes.
func (c OpCode) String() string {
	if c.IsBuiltin() {
		return opNames[c]
	}
	if c.IsCustom() {
		return fmt.Sprintf("CUSTOM(%d)", int(c-CustomBase))
	}
	return fmt.Sprintf("OpCode(%d)", int(c))
}

// Activation is the fused activation applied by an operator.
type Activation int

// Fused activation kinds.
const (
	ActNone Activation = iota
	ActRelu
	ActReluN1To1
	ActRelu6
	ActTanh
	ActSignBit
)

func (a Activation) String() string {
	switch a {
	case ActNone:
		return "none"
	case ActRelu:
		return "relu"
	case ActReluN1To1:
		return "relu_n1_to_1"
	case ActRelu6:
		return "relu6"
	case ActTanh:
		return "tanh"
	case ActSignBit:
		return "sign_bit"
	default:
		return fmt.Sprintf("activation(%d)", int(a))
	}
}

// Padding is the spatial padding scheme of pooling operators.
type Padding int

// Padding schemes.
const (
	PaddingValid Padding = iota
	PaddingSame
)
