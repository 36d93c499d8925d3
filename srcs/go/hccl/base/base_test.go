package base

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_CodeOf(t *testing.T) {
	assert.Equal(t, Success, CodeOf(nil))
	assert.Equal(t, ErrPara, CodeOf(ErrPara))
	err := errors.Wrapf(Errorf(ErrTimeout, "waited %d ms", 10), "handshake")
	assert.Equal(t, ErrTimeout, CodeOf(err))
	assert.Equal(t, ErrInternal, CodeOf(errors.New("plain")))
	assert.Contains(t, err.Error(), "timeout")
}

func Test_DataType(t *testing.T) {
	assert.Equal(t, 4, F32.Size())
	assert.Equal(t, 16, I128.Size())
	assert.False(t, DataType(99).Valid())
	var d DataType
	require.NoError(t, d.Set("bfp16"))
	assert.Equal(t, BF16, d)
	assert.Error(t, d.Set("fp8"))
}

func Test_ReduceOp(t *testing.T) {
	var op ReduceOp
	require.NoError(t, op.Set("max"))
	assert.Equal(t, MAX, op)
	assert.Error(t, op.Set("reserve"))
	assert.False(t, ReserveOp.Valid())
}

func Test_NicDeploy(t *testing.T) {
	var n NicDeploy
	require.NoError(t, n.Set("device"))
	assert.Equal(t, NicDeployDevice, n)
	assert.Equal(t, "device", n.String())
	assert.Equal(t, ErrPara, CodeOf(n.Set("nic")))
}

func Test_ParseAlgoConfig(t *testing.T) {
	c, err := ParseAlgoConfig("level0:NA;level1:H-D_R;level2:ring")
	require.NoError(t, err)
	assert.True(t, c.HasLevel1)
	assert.Equal(t, Level1HD, c.Level1)
	assert.True(t, c.HasLevel2)
	assert.Equal(t, Level2Ring, c.Level2)

	c, err = ParseAlgoConfig("level1:NHR")
	require.NoError(t, err)
	assert.Equal(t, Level1NHR, c.Level1)
	assert.False(t, c.HasLevel2)

	c, err = ParseAlgoConfig("")
	require.NoError(t, err)
	assert.False(t, c.HasLevel1)

	for _, bad := range []string{"level1", "level3:ring", "level1:foo"} {
		_, err := ParseAlgoConfig(bad)
		assert.Equal(t, ErrPara, CodeOf(err), bad)
	}
}

func Test_Round(t *testing.T) {
	assert.Equal(t, uint64(16384), RoundDown(20000, 16384))
	assert.Equal(t, uint64(32768), RoundUp(20000, 16384))
	assert.Equal(t, uint64(30), TotalSize([]Slice{{0, 10}, {10, 20}}))
}
