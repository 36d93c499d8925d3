package base

type CollType int32

const (
	Broadcast CollType = iota
	AllReduce
	Reduce
	Send
	Receive
	AllGather
	ReduceScatter
	AllToAllV
	AllToAllVC
	AllToAll
	Gather
	Scatter
	BatchSendRecv
)

var collNames = map[CollType]string{
	Broadcast:     "Broadcast",
	AllReduce:     "AllReduce",
	Reduce:        "Reduce",
	Send:          "Send",
	Receive:       "Receive",
	AllGather:     "AllGather",
	ReduceScatter: "ReduceScatter",
	AllToAllV:     "AllToAllV",
	AllToAllVC:    "AllToAllVC",
	AllToAll:      "AllToAll",
	Gather:        "Gather",
	Scatter:       "Scatter",
	BatchSendRecv: "BatchSendRecv",
}

func (t CollType) String() string {
	if s, ok := collNames[t]; ok {
		return s
	}
	return "Unknown"
}

// ParseCollType is the inverse of CollType.String.
func ParseCollType(s string) (CollType, error) {
	for k, v := range collNames {
		if v == s {
			return k, nil
		}
	}
	return 0, Errorf(ErrPara, "invalid collective %q", s)
}

// IsReduction reports whether the collective carries a reduction op.
func (t CollType) IsReduction() bool {
	switch t {
	case AllReduce, Reduce, ReduceScatter:
		return true
	}
	return false
}
