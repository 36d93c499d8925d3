package ranktable

import (
	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/pkg/errors"
)

// PoolKind names one family of identifying strings that must be unique
// within a descriptor.
type PoolKind int

const (
	PoolServerID PoolKind = iota
	PoolSuperPodID
	PoolDeviceIP
	PoolPodName
	PoolGroupName
	PoolNodeAddr
)

var poolNames = map[PoolKind]string{
	PoolServerID:   "server_id",
	PoolSuperPodID: "super_pod_id",
	PoolDeviceIP:   "device_ip",
	PoolPodName:    "pod_name",
	PoolGroupName:  "group_name",
	PoolNodeAddr:   "node_addr",
}

func (k PoolKind) String() string { return poolNames[k] }

// pools holds the values already claimed while parsing one descriptor.
type pools map[PoolKind]map[string]struct{}

func newPools() pools {
	return make(pools)
}

// Insert claims v and fails with ErrPara if it was already claimed.
func (p pools) Insert(k PoolKind, v string) error {
	m, ok := p[k]
	if !ok {
		m = make(map[string]struct{})
		p[k] = m
	}
	if _, ok := m[v]; ok {
		return errors.Wrapf(base.ErrPara, "duplicated %s %q", k, v)
	}
	m[v] = struct{}{}
	return nil
}

// Find checks that v was claimed before, without claiming it.
func (p pools) Find(k PoolKind, v string) error {
	if _, ok := p[k][v]; !ok {
		return errors.Wrapf(base.ErrPara, "%s %q not found", k, v)
	}
	return nil
}
