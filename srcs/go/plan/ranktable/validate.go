package ranktable

import (
	"sort"

	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/lsds/hcomm/srcs/go/log"
	"github.com/lsds/hcomm/srcs/go/plan"
	"github.com/pkg/errors"
)

// CheckOptions disable the checks a schema cannot satisfy.
type CheckOptions struct {
	// Heterogeneous clusters mix hosts and devices per node.
	Heterogeneous bool
	// SubGroup topologies take any subset of a validated cluster, so the
	// devices per server need not be a supported ratio.
	SubGroup bool
}

var validDevicesPerServer = map[uint32]bool{1: true, 2: true, 4: true, 8: true, 16: true}

// CheckRankIDContinuous requires the rank ids to be exactly 0..N-1.
func CheckRankIDContinuous(t *plan.RankTopology) error {
	ids := t.Ranks.IDs()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for i, id := range ids {
		if id != uint32(i) {
			if i > 0 && ids[i-1] == id {
				return errors.Wrapf(base.ErrPara, "duplicated rank id %d", id)
			}
			return errors.Wrapf(base.ErrPara, "rank id %d missing, got %d", i, id)
		}
	}
	return nil
}

// CheckAverageDev requires deviceNum / serverNum to be one of 1, 2, 4, 8, 16.
func CheckAverageDev(t *plan.RankTopology) error {
	if t.ServerNum == 0 {
		return errors.Wrap(base.ErrPara, "no server")
	}
	if t.DeviceNum%t.ServerNum != 0 {
		return errors.Wrapf(base.ErrPara, "%d devices can not be evenly spread on %d servers", t.DeviceNum, t.ServerNum)
	}
	avg := t.DeviceNum / t.ServerNum
	if !validDevicesPerServer[avg] {
		return errors.Wrapf(base.ErrPara, "%d devices per server is not supported", avg)
	}
	return nil
}

// CheckDeviceSymmetry requires every server to host deviceNum / serverNum devices.
func CheckDeviceSymmetry(t *plan.RankTopology) error {
	if err := CheckAverageDev(t); err != nil {
		return err
	}
	avg := t.DeviceNum / t.ServerNum
	perServer := t.DevicesPerServer()
	for _, id := range t.Ranks.ServerIDs() {
		if n := perServer[id]; n != avg {
			return errors.Wrapf(base.ErrPara, "server %s has %d devices, expect %d", id, n, avg)
		}
	}
	return nil
}

// CheckIPFamily requires one address family when there is more than one server.
func CheckIPFamily(t *plan.RankTopology) error {
	if t.ServerNum <= 1 || len(t.Ranks) == 0 {
		return nil
	}
	f := t.Ranks[0].Family()
	for _, r := range t.Ranks[1:] {
		if g := r.Family(); g != f {
			return errors.Wrapf(base.ErrPara, "rank %d uses %s while rank %d uses %s", r.RankID, g, t.Ranks[0].RankID, f)
		}
	}
	return nil
}

// CheckSuperPod requires every super pod to have the same number of servers,
// every rank to carry a super device id, and super device ids to be unique
// within a super pod.
func CheckSuperPod(t *plan.RankTopology) error {
	pods := t.SuperPods()
	if len(pods) == 0 {
		for _, r := range t.Ranks {
			if len(r.SuperPodID) > 0 {
				return errors.Wrapf(base.ErrInternal, "rank %d has super pod %s", r.RankID, r.SuperPodID)
			}
		}
		return nil
	}
	n := len(pods[0].Servers)
	for _, p := range pods[1:] {
		if len(p.Servers) != n {
			return errors.Wrapf(base.ErrPara, "super pod %s has %d servers, super pod %s has %d", p.ID, len(p.Servers), pods[0].ID, n)
		}
	}
	sdids := make(map[string]map[uint32]uint32)
	for _, r := range t.Ranks {
		if len(r.SuperPodID) == 0 {
			return errors.Wrapf(base.ErrPara, "rank %d is not in any super pod", r.RankID)
		}
		if r.SuperDeviceID == plan.InvalidSuperDeviceID {
			return errors.Wrapf(base.ErrPara, "rank %d has no super_device_id", r.RankID)
		}
		m, ok := sdids[r.SuperPodID]
		if !ok {
			m = make(map[uint32]uint32)
			sdids[r.SuperPodID] = m
		}
		if other, ok := m[r.SuperDeviceID]; ok {
			return errors.Wrapf(base.ErrPara, "super_device_id %d used by rank %d and rank %d in super pod %s", r.SuperDeviceID, other, r.RankID, r.SuperPodID)
		}
		m[r.SuperDeviceID] = r.RankID
	}
	return nil
}

// CheckDevicePerServer requires device physical ids to be unique on each server.
func CheckDevicePerServer(t *plan.RankTopology) error {
	seen := make(map[string]map[int32]uint32)
	for _, r := range t.Ranks {
		if r.IsHost() {
			continue
		}
		m, ok := seen[r.ServerID]
		if !ok {
			m = make(map[int32]uint32)
			seen[r.ServerID] = m
		}
		if other, ok := m[r.DevicePhyID]; ok {
			return errors.Wrapf(base.ErrPara, "device %d used by rank %d and rank %d on server %s", r.DevicePhyID, other, r.RankID, r.ServerID)
		}
		m[r.DevicePhyID] = r.RankID
	}
	return nil
}

// CheckRankListInfo runs every check over a populated topology. Group
// creation and full init both call it.
func CheckRankListInfo(t *plan.RankTopology, opts CheckOptions) error {
	checks := []func(*plan.RankTopology) error{
		checkCounts,
		CheckRankIDContinuous,
		CheckDevicePerServer,
		CheckIPFamily,
		CheckSuperPod,
	}
	if !opts.Heterogeneous && !opts.SubGroup {
		checks = append(checks, CheckDeviceSymmetry)
	}
	for _, check := range checks {
		if err := check(t); err != nil {
			log.ReportRankTable(err.Error())
			return err
		}
	}
	return nil
}

func checkCounts(t *plan.RankTopology) error {
	if len(t.Ranks) == 0 {
		return errors.Wrap(base.ErrPara, "empty rank list")
	}
	if t.RankNum != uint32(len(t.Ranks)) {
		return errors.Wrapf(base.ErrPara, "rank num %d does not match %d ranks in list", t.RankNum, len(t.Ranks))
	}
	return nil
}
