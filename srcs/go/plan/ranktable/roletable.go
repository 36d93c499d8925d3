package ranktable

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/lsds/hcomm/srcs/go/plan"
	"github.com/pkg/errors"
)

// Role of a participant in a parameter-server style job.
type Role string

const (
	RoleServer Role = "server"
	RoleClient Role = "client"
)

// RoleEntry is one line of a role table.
type RoleEntry struct {
	Role Role
	ID   uint32
	Addr plan.NetAddr
}

func (e RoleEntry) String() string {
	return fmt.Sprintf("%s %d %s", e.Role, e.ID, e.Addr)
}

// RoleTableInfo lists servers and clients separately, each ordered by id.
type RoleTableInfo struct {
	Servers []RoleEntry
	Clients []RoleEntry
}

type roleJSON struct {
	ID   number `json:"id"`
	IP   string `json:"IP"`
	Port number `json:"port"`
}

type roleTableJSON struct {
	Servers []roleJSON `json:"Servers"`
	Clients []roleJSON `json:"Clients"`
}

// ParseRoleTable accepts the JSON form {"Servers": [...], "Clients": [...]}
// or the line form "<server|client> <id> <ip> <port>" with # comments.
func ParseRoleTable(text string) (*RoleTableInfo, error) {
	if strings.HasPrefix(strings.TrimSpace(text), "{") {
		return parseRoleJSON(text)
	}
	return parseRoleLines(text)
}

func parseRoleJSON(text string) (*RoleTableInfo, error) {
	var tab roleTableJSON
	if err := decode(text, &tab); err != nil {
		return nil, err
	}
	var info RoleTableInfo
	convert := func(role Role, rs []roleJSON) ([]RoleEntry, error) {
		var es []RoleEntry
		for _, r := range rs {
			id, err := r.ID.required("id")
			if err != nil {
				return nil, err
			}
			port, err := r.Port.required("port")
			if err != nil {
				return nil, err
			}
			ip, err := plan.ParseIP(r.IP)
			if err != nil {
				return nil, err
			}
			es = append(es, RoleEntry{Role: role, ID: id, Addr: plan.NetAddr{IP: ip, Port: port}})
		}
		return es, nil
	}
	var err error
	if info.Servers, err = convert(RoleServer, tab.Servers); err != nil {
		return nil, err
	}
	if info.Clients, err = convert(RoleClient, tab.Clients); err != nil {
		return nil, err
	}
	return &info, info.check()
}

func parseRoleLines(text string) (*RoleTableInfo, error) {
	var info RoleTableInfo
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(trimComment(line))
		if len(line) == 0 {
			continue
		}
		e, err := parseRoleLine(line)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", i+1)
		}
		switch e.Role {
		case RoleServer:
			info.Servers = append(info.Servers, *e)
		default:
			info.Clients = append(info.Clients, *e)
		}
	}
	return &info, info.check()
}

var errInvalidRoleLine = errors.Wrap(base.ErrPara, "invalid role table line")

func parseRoleLine(line string) (*RoleEntry, error) {
	parts := strings.Fields(line)
	if len(parts) != 4 {
		return nil, errInvalidRoleLine
	}
	role := Role(strings.ToLower(parts[0]))
	if role != RoleServer && role != RoleClient {
		return nil, errors.Wrapf(base.ErrPara, "invalid role %q", parts[0])
	}
	id, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return nil, errInvalidRoleLine
	}
	ip, err := plan.ParseIP(parts[2])
	if err != nil {
		return nil, err
	}
	port, err := strconv.ParseUint(parts[3], 10, 16)
	if err != nil {
		return nil, errInvalidRoleLine
	}
	return &RoleEntry{Role: role, ID: uint32(id), Addr: plan.NetAddr{IP: ip, Port: uint32(port)}}, nil
}

func trimComment(line string) string {
	parts := strings.SplitN(line, "#", 2)
	return parts[0]
}

// check requires dense ids per role and distinct endpoints.
func (info *RoleTableInfo) check() error {
	if len(info.Servers) == 0 {
		return errors.Wrap(base.ErrPara, "role table has no server")
	}
	addrs := make(map[string]struct{})
	for _, es := range [][]RoleEntry{info.Servers, info.Clients} {
		ids := make(map[uint32]struct{})
		for _, e := range es {
			if _, ok := ids[e.ID]; ok {
				return errors.Wrapf(base.ErrPara, "duplicated %s id %d", e.Role, e.ID)
			}
			ids[e.ID] = struct{}{}
			if _, ok := addrs[e.Addr.String()]; ok {
				return errors.Wrapf(base.ErrPara, "duplicated address %s", e.Addr)
			}
			addrs[e.Addr.String()] = struct{}{}
		}
		for i := range es {
			if _, ok := ids[uint32(i)]; !ok {
				return errors.Wrapf(base.ErrPara, "%s id %d missing", es[0].Role, i)
			}
		}
	}
	return nil
}

// Topology lists servers as ranks 0..S-1 followed by clients. Every
// participant is a host rank on the server named by its ip.
func (info *RoleTableInfo) Topology() (*plan.RankTopology, error) {
	t := &plan.RankTopology{Version: "roletable", NicDeploy: base.NicDeployHost}
	seen := make(map[string]struct{})
	add := func(offset uint32, e RoleEntry) error {
		id := e.Addr.IP.String()
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			if err := t.AddServer(plan.ServerEntry{ServerID: id, HostNicIP: e.Addr.IP}); err != nil {
				return err
			}
		}
		r := plan.NewRankEntry()
		r.RankID = offset + e.ID
		r.ServerID = id
		r.HostIP = e.Addr.IP
		r.HostPort = e.Addr.Port
		r.PodName = string(e.Role)
		return t.AddRank(r)
	}
	for _, e := range info.Servers {
		if err := add(0, e); err != nil {
			return nil, err
		}
	}
	for _, e := range info.Clients {
		if err := add(uint32(len(info.Servers)), e); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// MarshalJSON writes the JSON form.
func (info *RoleTableInfo) MarshalJSON() ([]byte, error) {
	type entry struct {
		ID   uint32 `json:"id"`
		IP   string `json:"IP"`
		Port uint32 `json:"port"`
	}
	conv := func(es []RoleEntry) []entry {
		out := []entry{}
		for _, e := range es {
			out = append(out, entry{ID: e.ID, IP: e.Addr.IP.String(), Port: e.Addr.Port})
		}
		return out
	}
	return json.Marshal(struct {
		Servers []entry `json:"Servers"`
		Clients []entry `json:"Clients"`
	}{conv(info.Servers), conv(info.Clients)})
}

type roleTableParser struct {
	parserBase
	info *RoleTableInfo
}

func (p *roleTableParser) Init() error {
	info, err := ParseRoleTable(p.text)
	if err != nil {
		return p.fail(err)
	}
	t, err := info.Topology()
	if err != nil {
		return p.fail(err)
	}
	p.info = info
	return p.finish(t, CheckOptions{Heterogeneous: true})
}

// Roles returns the parsed role table after Init.
func (p *roleTableParser) Roles() *RoleTableInfo { return p.info }
