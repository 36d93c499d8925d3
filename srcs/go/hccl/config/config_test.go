package config

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_CommConfig(t *testing.T) {
	c := CommConfig{Version: 1, BufferSizeMB: 64, Deterministic: true}
	bs := c.Encode()
	require.Len(t, bs, CommConfigSize)
	got, err := LoadCommConfig(bs)
	require.NoError(t, err)
	assert.Equal(t, c, *got)
	assert.Equal(t, uint64(64*MB), got.BufferSize())

	v0 := CommConfig{Version: 0, BufferSizeMB: 0}.Encode()
	got, err = LoadCommConfig(v0)
	require.NoError(t, err)
	assert.Equal(t, CCLBufferDefaultMB, got.BufferSizeMB)
	assert.False(t, got.Deterministic)
}

func Test_CommConfigInvalid(t *testing.T) {
	bad := func(f func([]byte) []byte) []byte {
		return f(CommConfig{Version: 1, BufferSizeMB: 8}.Encode())
	}
	for name, bs := range map[string][]byte{
		"short":         make([]byte, 8),
		"magic":         bad(func(bs []byte) []byte { binary.LittleEndian.PutUint32(bs[8:], 0); return bs }),
		"buffer":        bad(func(bs []byte) []byte { binary.LittleEndian.PutUint32(bs[24:], 0); return bs }),
		"deterministic": bad(func(bs []byte) []byte { binary.LittleEndian.PutUint32(bs[28:], 2); return bs }),
		"truncated":     bad(func(bs []byte) []byte { return bs[:20] }),
	} {
		_, err := LoadCommConfig(bs)
		assert.Equal(t, base.ErrPara, base.CodeOf(err), name)
	}
}

func Test_RuntimeDefaults(t *testing.T) {
	r, err := FromViper(NewViper())
	require.NoError(t, err)
	assert.Equal(t, 120*time.Second, r.ConnectTimeout)
	assert.Equal(t, CCLBufferDefaultMB, r.BufferSizeMB)
	assert.Equal(t, uint32(60000), r.IfBasePort)
	assert.True(t, r.WhitelistDisable)
	assert.Equal(t, RetryPolicy{}, r.Retry)
	assert.False(t, r.Algo.HasLevel1)
}

func Test_RuntimeEnv(t *testing.T) {
	t.Setenv("HCCL_CONNECT_TIMEOUT", "30")
	t.Setenv("HCCL_LINK_TIMEOUT", "1")
	t.Setenv("HCCL_ALGO", "level0:NA;level1:NHR")
	t.Setenv("HCCL_BUFFSIZE", "1")
	t.Setenv("HCCL_OP_RETRY_ENABLE", "L0:0,L1:1,L2:1")
	t.Setenv("HCCL_SDMA_RDMA_CONCURRENT", "true")
	r, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, r.ConnectTimeout)
	assert.Equal(t, time.Second, r.LinkTimeout)
	assert.True(t, r.Algo.HasLevel1)
	assert.Equal(t, base.Level1NHR, r.Algo.Level1)
	assert.Equal(t, uint32(1), r.BufferSizeMB)
	assert.Equal(t, RetryPolicy{Inter: true, SuperPod: true}, r.Retry)
	assert.Equal(t, "L0:0,L1:1,L2:1", r.Retry.String())
	assert.True(t, r.SdmaRdmaConcurrent)
}

func Test_RuntimeInvalid(t *testing.T) {
	for k, v := range map[string]string{
		"HCCL_CONNECT_TIMEOUT": "-1",
		"HCCL_LINK_TIMEOUT":    "0",
		"HCCL_BUFFSIZE":        "0",
		"HCCL_ALGO":            "level1:foo",
		"HCCL_IF_BASE_PORT":    "70000",
		"HCCL_OP_RETRY_ENABLE": "L3:1",
	} {
		t.Run(k, func(t *testing.T) {
			t.Setenv(k, v)
			_, err := FromEnv()
			assert.Equal(t, base.ErrPara, base.CodeOf(err))
		})
	}
	t.Run("whitelist", func(t *testing.T) {
		t.Setenv("HCCL_WHITELIST_DISABLE", "false")
		_, err := FromEnv()
		assert.Equal(t, base.ErrPara, base.CodeOf(err))
	})
}

func Test_IsHugeData(t *testing.T) {
	p := ProfileOf(base.Dev910B)
	p.SDMASendMaxSize = 1 << 40
	const dev = 8
	boundary := p.RDMASendMaxSize * dev
	assert.False(t, p.IsHugeData(boundary, dev))
	assert.False(t, p.IsHugeData(boundary+dev-1, dev))
	assert.True(t, p.IsHugeData(boundary+dev, dev))

	q := ProfileOf(base.Dev910B)
	assert.False(t, q.IsHugeData(q.SDMASendMaxSize, 16))
	assert.True(t, q.IsHugeData(q.SDMASendMaxSize+1, 16))

	one := ProfileOf(base.Dev910)
	assert.False(t, one.IsHugeData(one.RDMASendMaxSize, 1))
	assert.True(t, one.IsHugeData(one.RDMASendMaxSize+1, 1))
}

func Test_Profiles(t *testing.T) {
	assert.Equal(t, uint64(16*KB), ProfileOf(base.Dev910B).Alignment)
	assert.Equal(t, uint64(128), ProfileOf(base.Dev910).Alignment)
	assert.Equal(t, base.DevNoSOC, ProfileOf(base.DevNoSOC).DevType)
	p := ProfileOf(base.Dev910B)
	assert.True(t, p.SupportsReduce(base.BF16, base.SUM))
	assert.False(t, ProfileOf(base.Dev910).SupportsReduce(base.BF16, base.SUM))
	assert.True(t, p.SupportsSDMAReduce(base.F32, base.MAX))
	assert.False(t, p.SupportsSDMAReduce(base.F32, base.PROD))
	assert.False(t, p.SupportsRDMAReduce(base.F32, base.MAX))
}
