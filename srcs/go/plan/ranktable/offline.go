package ranktable

import (
	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/lsds/hcomm/srcs/go/plan"
	"github.com/pkg/errors"
)

type offlineItem struct {
	ItemID        number `json:"item_id"`
	RankID        number `json:"rank_id"`
	SuperDeviceID number `json:"super_device_id"`
}

type offlineNode struct {
	NodeID     string        `json:"node_id"`
	SuperPodID string        `json:"super_pod_id"`
	ItemList   []offlineItem `json:"item_list"`
}

type offlineTable struct {
	Version     string        `json:"version"`
	ServerCount number        `json:"server_count"`
	NodeList    []offlineNode `json:"node_list"`
}

// offlineParser reads a node / item id description of a cluster that does
// not exist. Nothing is looked up on the local machine, so it can drive
// planning simulations on any host.
type offlineParser struct {
	parserBase
}

func (p *offlineParser) Init() error {
	var tab offlineTable
	if err := decode(p.text, &tab); err != nil {
		return p.fail(err)
	}
	t, err := p.build(&tab)
	if err != nil {
		return p.fail(err)
	}
	return p.finish(t, CheckOptions{})
}

func (p *offlineParser) build(tab *offlineTable) (*plan.RankTopology, error) {
	t := &plan.RankTopology{Version: tab.Version, Mode: "offline", NicDeploy: base.NicDeployHost}
	if tab.ServerCount.set {
		t.ServerNum = tab.ServerCount.u32()
	}
	var next uint32
	for _, node := range tab.NodeList {
		if err := p.pools.Insert(PoolServerID, node.NodeID); err != nil {
			return nil, err
		}
		if err := t.AddServer(plan.ServerEntry{ServerID: node.NodeID}); err != nil {
			return nil, err
		}
		for _, item := range node.ItemList {
			r := plan.NewRankEntry()
			itemID, err := item.ItemID.required("item_id")
			if err != nil {
				return nil, errors.Wrapf(err, "node %s", node.NodeID)
			}
			r.DevicePhyID = int32(itemID)
			r.ServerID = node.NodeID
			r.RankID = next
			if item.RankID.set {
				r.RankID = item.RankID.u32()
			}
			next++
			r.SuperPodID = node.SuperPodID
			if item.SuperDeviceID.set {
				r.SuperDeviceID = item.SuperDeviceID.u32()
			}
			if err := t.AddRank(r); err != nil {
				return nil, err
			}
		}
	}
	return t, nil
}
