package ranktable

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/pkg/errors"
)

// number accepts both "8" and 8. Rank tables written by different tools
// disagree on whether integers are quoted.
type number struct {
	val uint64
	set bool
}

func (n *number) UnmarshalJSON(bs []byte) error {
	s := string(bytes.TrimSpace(bs))
	if s == "null" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(bs, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return errors.Wrapf(base.ErrPara, "invalid integer %s", string(bs))
	}
	n.val, n.set = v, true
	return nil
}

func (n number) u32() uint32 { return uint32(n.val) }

func (n number) i32() int32 { return int32(n.val) }

// required fails with ErrPara if the field was absent.
func (n number) required(what string) (uint32, error) {
	if !n.set {
		return 0, errors.Wrapf(base.ErrPara, "missing %s", what)
	}
	return n.u32(), nil
}

func decode(text string, v interface{}) error {
	if err := json.Unmarshal([]byte(text), v); err != nil {
		if base.CodeOf(err) == base.ErrPara {
			return err
		}
		return errors.Wrapf(base.ErrPara, "invalid rank table json: %v", err)
	}
	return nil
}
