package rendezvous

import (
	"bytes"
	"fmt"
	"net"
	"time"

	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/lsds/hcomm/srcs/go/plan"
	"github.com/pkg/errors"
)

const (
	RootInfoSize       = 4108
	rootIdentifierSize = 4036
	rootIPSize         = 64
)

// RootInfo is the opaque handle the root rank publishes so that every other
// rank can find the rendezvous server.
type RootInfo struct {
	Identifier string
	IP         net.IP
	Port       uint32
	NicDeploy  base.NicDeploy
}

// NewRootInfo names the handle hostIP_hostPort_devicePhyId_timestamp.
func NewRootInfo(addr plan.NetAddr, devicePhyID int32, nicDeploy base.NicDeploy, now time.Time) RootInfo {
	id := fmt.Sprintf("%s_%d_%d_%d", addr.IP, addr.Port, devicePhyID, now.UnixMicro())
	return RootInfo{
		Identifier: id,
		IP:         addr.IP,
		Port:       addr.Port,
		NicDeploy:  nicDeploy,
	}
}

func (r RootInfo) Addr() plan.NetAddr {
	return plan.NetAddr{IP: r.IP, Port: r.Port}
}

func (r RootInfo) String() string {
	return fmt.Sprintf("root{id=%s,addr=%s,nic=%s}", r.Identifier, r.Addr(), r.NicDeploy)
}

// Encode packs the handle into its fixed size binary form.
func (r RootInfo) Encode() ([]byte, error) {
	if len(r.Identifier) >= rootIdentifierSize {
		return nil, errors.Wrapf(base.ErrPara, "root identifier of %d bytes is too long", len(r.Identifier))
	}
	ip := r.IP.String()
	if r.IP == nil || len(ip) >= rootIPSize {
		return nil, errors.Wrapf(base.ErrPara, "invalid root ip %v", r.IP)
	}
	bs := make([]byte, RootInfoSize)
	copy(bs, r.Identifier)
	copy(bs[rootIdentifierSize:], ip)
	off := rootIdentifierSize + rootIPSize
	endian.PutUint32(bs[off:], r.Port)
	endian.PutUint32(bs[off+4:], uint32(r.NicDeploy))
	return bs, nil
}

// DecodeRootInfo is the inverse of Encode.
func DecodeRootInfo(bs []byte) (*RootInfo, error) {
	if len(bs) != RootInfoSize {
		return nil, errors.Wrapf(base.ErrPara, "root info of %d bytes, expect %d", len(bs), RootInfoSize)
	}
	r := &RootInfo{Identifier: cString(bs[:rootIdentifierSize])}
	ip, err := plan.ParseIP(cString(bs[rootIdentifierSize : rootIdentifierSize+rootIPSize]))
	if err != nil {
		return nil, err
	}
	r.IP = ip
	off := rootIdentifierSize + rootIPSize
	r.Port = endian.Uint32(bs[off:])
	nic := base.NicDeploy(endian.Uint32(bs[off+4:]))
	if nic != base.NicDeployHost && nic != base.NicDeployDevice {
		return nil, errors.Wrapf(base.ErrPara, "invalid nic deploy %d", nic)
	}
	r.NicDeploy = nic
	if r.Port == 0 || r.Port > 65535 {
		return nil, errors.Wrapf(base.ErrPara, "invalid root port %d", r.Port)
	}
	return r, nil
}

func cString(bs []byte) string {
	if i := bytes.IndexByte(bs, 0); i >= 0 {
		bs = bs[:i]
	}
	return string(bs)
}
