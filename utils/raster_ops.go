package utils

import "fmt"

// CompareOp names a per-pixel comparison against a scalar.
type CompareOp string

const (
	OpGT  CompareOp = "gt"
	OpGTE CompareOp = "gte"
	OpLT  CompareOp = "lt"
	OpLTE CompareOp = "lte"
	OpEQ  CompareOp = "eq"
	OpNEQ CompareOp = "neq"
)

func (op CompareOp) Eval(a, b float64) (bool, error) {
	switch op {
	case OpGT:
		return a > b, nil
	case OpGTE:
		return a >= b, nil
	case OpLT:
		return a < b, nil
	case OpLTE:
		return a <= b, nil
	case OpEQ:
		return a == b, nil
	case OpNEQ:
		return a != b, nil
	default:
		return false, fmt.Errorf("comparison %q is not supported", string(op))
	}
}
