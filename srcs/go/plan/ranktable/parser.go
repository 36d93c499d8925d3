package ranktable

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/lsds/hcomm/srcs/go/log"
	"github.com/lsds/hcomm/srcs/go/plan"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Kind selects a descriptor schema.
type Kind int

const (
	Standard Kind = iota
	Concise
	Heterogeneous
	Offline
	RoleTable
)

var kindNames = map[Kind]string{
	Standard:      "standard",
	Concise:       "concise",
	Heterogeneous: "heterogeneous",
	Offline:       "offline",
	RoleTable:     "roletable",
}

func (k Kind) String() string { return kindNames[k] }

func ParseKind(s string) (Kind, error) {
	for k, v := range kindNames {
		if v == s {
			return k, nil
		}
	}
	return Standard, errors.Wrapf(base.ErrPara, "invalid rank table kind %q", s)
}

// Set implements pflag.Value::Set
func (k *Kind) Set(val string) error {
	v, err := ParseKind(val)
	if err != nil {
		return err
	}
	*k = v
	return nil
}

func (k *Kind) Type() string { return "kind" }

// Parser is implemented by every descriptor schema.
type Parser interface {
	Kind() Kind
	// Init parses and validates the descriptor.
	Init() error
	// GetClusterInfo returns the frozen topology.
	GetClusterInfo() (*plan.RankTopology, error)
	// GetClusterInfoWithLocal also resolves the caller's own rank.
	GetClusterInfoWithLocal(local LocalParams) (*plan.RankTopology, *LocalRank, error)
}

// Options tune parsing.
type Options struct {
	// BasePort is the first port assigned to heterogeneous ranks that do
	// not declare one.
	BasePort uint32
}

const DefaultBasePort = 60000

// New creates the parser of kind over the descriptor text.
func New(kind Kind, text string) Parser {
	return NewWithOptions(kind, text, Options{BasePort: DefaultBasePort})
}

func NewWithOptions(kind Kind, text string, opts Options) Parser {
	b := parserBase{kind: kind, text: text, opts: opts, pools: newPools()}
	switch kind {
	case Concise:
		return &conciseParser{parserBase: b}
	case Heterogeneous:
		return &heteroParser{parserBase: b}
	case Offline:
		return &offlineParser{parserBase: b}
	case RoleTable:
		return &roleTableParser{parserBase: b}
	default:
		return &standardParser{parserBase: b}
	}
}

// Detect selects a schema from the version field.
func Detect(text string) (Kind, error) {
	var probe struct {
		Version *string `json:"version"`
	}
	if err := json.Unmarshal([]byte(text), &probe); err != nil {
		return Standard, errors.Wrapf(base.ErrPara, "invalid rank table json: %v", err)
	}
	if probe.Version == nil {
		return Standard, nil
	}
	switch *probe.Version {
	case "1.0", "1.2":
		return Concise, nil
	case "1.1":
		return Heterogeneous, nil
	case "Standard":
		return Standard, nil
	}
	return Standard, errors.Wrapf(base.ErrPara, "unsupported rank table version %q", *probe.Version)
}

// Load detects, parses and validates a descriptor.
func Load(text string) (*plan.RankTopology, error) {
	kind, err := Detect(text)
	if err != nil {
		log.ReportRankTable(err.Error())
		return nil, err
	}
	p := New(kind, text)
	if err := p.Init(); err != nil {
		return nil, err
	}
	return p.GetClusterInfo()
}

// LoadFile is Load over a file.
func LoadFile(filename string) (*plan.RankTopology, error) {
	bs, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(base.ErrOpenFile, "%v", err)
	}
	return Load(string(bs))
}

// LocalParams identify the calling process.
type LocalParams struct {
	DevicePhyID int32
	// ServerID narrows the lookup when several servers use the same device id.
	ServerID string
	// HostIP narrows the lookup for host ranks and heterogeneous nodes.
	HostIP string
}

// LocalRank is the caller's resolved identity.
type LocalRank struct {
	RankID      uint32
	DevicePhyID int32
	ServerID    string
	LocalRank   uint32
}

type parserBase struct {
	kind  Kind
	text  string
	opts  Options
	pools pools
	topo  *plan.RankTopology
}

func (p *parserBase) Kind() Kind { return p.kind }

// fail reports err to the operator and returns it.
func (p *parserBase) fail(err error) error {
	log.ReportRankTable(err.Error(), zap.String("kind", p.kind.String()))
	return err
}

// finish sorts, indexes, validates and freezes a populated topology.
func (p *parserBase) finish(t *plan.RankTopology, check CheckOptions) error {
	if err := t.SortRanks(); err != nil {
		return err
	}
	if err := t.AssignIndices(); err != nil {
		return err
	}
	declaredDevices, declaredServers := t.DeviceNum, t.ServerNum
	if err := t.Recount(); err != nil {
		return err
	}
	if declaredServers != 0 && declaredServers != t.ServerNum {
		return p.fail(errors.Wrapf(base.ErrPara, "server_count %d does not match %d servers in list", declaredServers, t.ServerNum))
	}
	if declaredDevices != 0 && declaredDevices != t.DeviceNum {
		return p.fail(errors.Wrapf(base.ErrPara, "device_count %d does not match %d devices in list", declaredDevices, t.DeviceNum))
	}
	if err := CheckRankListInfo(t, check); err != nil {
		return err
	}
	t.Freeze()
	p.topo = t
	log.Debugf("parsed %s rank table: %s", p.kind, t)
	return nil
}

func (p *parserBase) GetClusterInfo() (*plan.RankTopology, error) {
	if p.topo == nil {
		return nil, errors.Wrap(base.ErrInternal, "rank table not initialized")
	}
	return p.topo, nil
}

func (p *parserBase) GetClusterInfoWithLocal(local LocalParams) (*plan.RankTopology, *LocalRank, error) {
	t, err := p.GetClusterInfo()
	if err != nil {
		return nil, nil, err
	}
	r, err := findLocal(t, local)
	if err != nil {
		return nil, nil, p.fail(err)
	}
	return t, r, nil
}

func findLocal(t *plan.RankTopology, local LocalParams) (*LocalRank, error) {
	var found []plan.RankEntry
	for _, r := range t.Ranks {
		if r.DevicePhyID != local.DevicePhyID {
			continue
		}
		if len(local.ServerID) > 0 && r.ServerID != local.ServerID {
			continue
		}
		if len(local.HostIP) > 0 && r.HostIP != nil && r.HostIP.String() != local.HostIP && r.NodeAddr != local.HostIP {
			continue
		}
		found = append(found, r)
	}
	switch len(found) {
	case 0:
		return nil, errors.Wrapf(base.ErrNotFound, "no rank with device %d on server %q", local.DevicePhyID, local.ServerID)
	case 1:
		r := found[0]
		return &LocalRank{RankID: r.RankID, DevicePhyID: r.DevicePhyID, ServerID: r.ServerID, LocalRank: r.LocalRank}, nil
	}
	return nil, errors.Wrapf(base.ErrPara, "device %d matches %d ranks, server id required", local.DevicePhyID, len(found))
}

func (l LocalRank) String() string {
	return fmt.Sprintf("rank %d (device %d, server %s)", l.RankID, l.DevicePhyID, l.ServerID)
}
