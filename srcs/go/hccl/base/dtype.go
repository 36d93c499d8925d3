package base

import "github.com/pkg/errors"

type DataType int32

const (
	I8   DataType = iota // 0
	I16                  // 1
	I32                  // 2
	F16                  // 3
	F32                  // 4
	I64                  // 5
	U64                  // 6
	U8                   // 7
	U16                  // 8
	U32                  // 9
	F64                  // 10
	BF16                 // 11
	I128                 // 12
)

var dtypeSizes = map[DataType]int{
	I8:   1,
	I16:  2,
	I32:  4,
	F16:  2,
	F32:  4,
	I64:  8,
	U64:  8,
	U8:   1,
	U16:  2,
	U32:  4,
	F64:  8,
	BF16: 2,
	I128: 16,
}

var dtypeNames = map[DataType]string{
	I8:   "int8",
	I16:  "int16",
	I32:  "int32",
	F16:  "fp16",
	F32:  "fp32",
	I64:  "int64",
	U64:  "uint64",
	U8:   "uint8",
	U16:  "uint16",
	U32:  "uint32",
	F64:  "fp64",
	BF16: "bfp16",
	I128: "int128",
}

// Size returns the element size in bytes, 0 for an unknown type.
func (t DataType) Size() int {
	return dtypeSizes[t]
}

func (t DataType) Valid() bool {
	_, ok := dtypeSizes[t]
	return ok
}

func (t DataType) String() string {
	if s, ok := dtypeNames[t]; ok {
		return s
	}
	return "unknown"
}

// Set implements pflag.Value::Set
func (t *DataType) Set(val string) error {
	for k, v := range dtypeNames {
		if v == val {
			*t = k
			return nil
		}
	}
	return errors.Wrapf(ErrPara, "invalid data type %q", val)
}

func (t *DataType) Type() string {
	return "dtype"
}
