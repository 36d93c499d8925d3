package plan

import (
	"net"
	"strconv"

	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/pkg/errors"
)

// Family is the IP address family of a rank address.
type Family int

const (
	FamilyNone Family = iota
	FamilyIPv4
	FamilyIPv6
)

func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "IPv4"
	case FamilyIPv6:
		return "IPv6"
	}
	return "none"
}

func FamilyOf(ip net.IP) Family {
	if ip == nil {
		return FamilyNone
	}
	if ip.To4() != nil {
		return FamilyIPv4
	}
	return FamilyIPv6
}

// ParseIP parses a textual IPv4 or IPv6 address.
func ParseIP(host string) (net.IP, error) {
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, errors.Wrapf(base.ErrPara, "invalid ip address %q", host)
	}
	if v4 := ip.To4(); v4 != nil {
		return v4, nil
	}
	return ip, nil
}

func MustParseIP(host string) net.IP {
	ip, err := ParseIP(host)
	if err != nil {
		panic(err)
	}
	return ip
}

// NetAddr is the host:port address of a rank endpoint.
type NetAddr struct {
	IP   net.IP
	Port uint32
}

func (a NetAddr) String() string {
	return net.JoinHostPort(a.IP.String(), strconv.Itoa(int(a.Port)))
}

func (a NetAddr) ColocatedWith(b NetAddr) bool {
	return a.IP.Equal(b.IP)
}

var errInvalidPort = errors.Wrap(base.ErrPara, "invalid port")

func ParseNetAddr(val string) (*NetAddr, error) {
	host, p, err := net.SplitHostPort(val)
	if err != nil {
		return nil, errors.Wrapf(base.ErrPara, "%v", err)
	}
	ip, err := ParseIP(host)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(p)
	if err != nil || port < 0 || port > 65535 {
		return nil, errInvalidPort
	}
	return &NetAddr{IP: ip, Port: uint32(port)}, nil
}
