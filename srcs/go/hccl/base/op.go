package base

import "github.com/pkg/errors"

type ReduceOp int32

const (
	SUM  ReduceOp = iota // 0
	PROD                 // 1
	MAX                  // 2
	MIN                  // 3
	// ReserveOp marks operations that carry no reduction.
	ReserveOp
)

var opNames = map[ReduceOp]string{
	SUM:       "sum",
	PROD:      "prod",
	MAX:       "max",
	MIN:       "min",
	ReserveOp: "reserve",
}

func (op ReduceOp) String() string {
	if s, ok := opNames[op]; ok {
		return s
	}
	return "unknown"
}

func (op ReduceOp) Valid() bool {
	return op >= SUM && op < ReserveOp
}

// Set implements pflag.Value::Set
func (op *ReduceOp) Set(val string) error {
	for k, v := range opNames {
		if v == val && k != ReserveOp {
			*op = k
			return nil
		}
	}
	return errors.Wrapf(ErrPara, "invalid reduce op %q", val)
}

func (op *ReduceOp) Type() string {
	return "op"
}
