package config

import (
	"encoding/binary"
	"fmt"

	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/pkg/errors"
)

const (
	CommConfigMagic   uint32 = 0xf0f0f0f0
	CommConfigVersion uint32 = 1
	// CommConfigSize is the encoded size of a CommConfig handle.
	CommConfigSize = 32

	MB = 1 << 20
	// CCLBufferMinMB is the smallest communication buffer a config may ask for.
	CCLBufferMinMB uint32 = 1
	// CCLBufferDefaultMB is used when the config or environment is silent.
	CCLBufferDefaultMB uint32 = 200
)

// CommConfig is the per-communicator configuration handle. The encoded form is
//
//	size          uint64  encoded size of the handle
//	magic         uint32  CommConfigMagic
//	version       uint32  >= 1 enables the fields below
//	reserved      uint64
//	bufferSize    uint32  communication buffer size in MB
//	deterministic uint32  0 or 1
//
// all little endian.
type CommConfig struct {
	Version       uint32
	BufferSizeMB  uint32
	Deterministic bool
}

// DefaultCommConfig is used when the caller passes no handle.
func DefaultCommConfig() CommConfig {
	return CommConfig{Version: CommConfigVersion, BufferSizeMB: CCLBufferDefaultMB}
}

func (c CommConfig) BufferSize() uint64 {
	return uint64(c.BufferSizeMB) * MB
}

func (c CommConfig) String() string {
	return fmt.Sprintf("CommConfig{version=%d,buffer=%dMB,deterministic=%v}", c.Version, c.BufferSizeMB, c.Deterministic)
}

// Encode returns the binary handle of c.
func (c CommConfig) Encode() []byte {
	bs := make([]byte, CommConfigSize)
	binary.LittleEndian.PutUint64(bs[0:], CommConfigSize)
	binary.LittleEndian.PutUint32(bs[8:], CommConfigMagic)
	binary.LittleEndian.PutUint32(bs[12:], c.Version)
	binary.LittleEndian.PutUint32(bs[24:], c.BufferSizeMB)
	if c.Deterministic {
		binary.LittleEndian.PutUint32(bs[28:], 1)
	}
	return bs
}

// LoadCommConfig decodes a handle. A handle without the magic word is
// rejected. Version 0 handles carry no fields and load as the defaults.
func LoadCommConfig(bs []byte) (*CommConfig, error) {
	if len(bs) < 16 {
		return nil, errors.Wrapf(base.ErrPara, "comm config of %d bytes is too short", len(bs))
	}
	if magic := binary.LittleEndian.Uint32(bs[8:]); magic != CommConfigMagic {
		return nil, errors.Wrapf(base.ErrPara, "comm config magic %#x is invalid", magic)
	}
	c := DefaultCommConfig()
	c.Version = binary.LittleEndian.Uint32(bs[12:])
	if c.Version < 1 {
		return &c, nil
	}
	if len(bs) < CommConfigSize {
		return nil, errors.Wrapf(base.ErrPara, "comm config version %d needs %d bytes, got %d", c.Version, CommConfigSize, len(bs))
	}
	if size := binary.LittleEndian.Uint64(bs[0:]); size < CommConfigSize {
		return nil, errors.Wrapf(base.ErrPara, "comm config declares size %d", size)
	}
	c.BufferSizeMB = binary.LittleEndian.Uint32(bs[24:])
	if c.BufferSizeMB < CCLBufferMinMB {
		return nil, errors.Wrapf(base.ErrPara, "buffer size %dMB is less than %dMB", c.BufferSizeMB, CCLBufferMinMB)
	}
	switch d := binary.LittleEndian.Uint32(bs[28:]); d {
	case 0:
	case 1:
		c.Deterministic = true
	default:
		return nil, errors.Wrapf(base.ErrPara, "deterministic flag %d is not 0 or 1", d)
	}
	return &c, nil
}
