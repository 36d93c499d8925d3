package base

import "github.com/pkg/errors"

// DevType is the accelerator generation of the local device.
type DevType int32

const (
	Dev910 DevType = iota
	Dev310P3
	Dev910B
	Dev310P1
	Dev910_93
	DevNoSOC
	DevNum
)

var devTypeNames = map[DevType]string{
	Dev910:    "910",
	Dev310P3:  "310P3",
	Dev910B:   "910B",
	Dev310P1:  "310P1",
	Dev910_93: "910_93",
	DevNoSOC:  "nosoc",
}

func (d DevType) String() string {
	if s, ok := devTypeNames[d]; ok {
		return s
	}
	return "unknown"
}

func ParseDevType(s string) (DevType, error) {
	for k, v := range devTypeNames {
		if v == s {
			return k, nil
		}
	}
	return DevNum, errors.Wrapf(ErrPara, "invalid device type %q", s)
}

// Set implements pflag.Value::Set
func (d *DevType) Set(val string) error {
	t, err := ParseDevType(val)
	if err != nil {
		return err
	}
	*d = t
	return nil
}

func (d *DevType) Type() string {
	return "devtype"
}

// LinkType classifies the link between two devices of one server.
type LinkType int32

const (
	LinkOnchip LinkType = iota
	LinkHCCS            // tightly coupled mesh
	LinkPCIe
	LinkRoCE
	LinkSIO
	LinkHCCSSW // switched mesh
	LinkReserved
)

var linkTypeNames = map[LinkType]string{
	LinkOnchip:   "ONCHIP",
	LinkHCCS:     "HCCS",
	LinkPCIe:     "PCIE",
	LinkRoCE:     "ROCE",
	LinkSIO:      "SIO",
	LinkHCCSSW:   "HCCS_SW",
	LinkReserved: "RESERVED",
}

func (l LinkType) String() string {
	if s, ok := linkTypeNames[l]; ok {
		return s
	}
	return "UNKNOWN"
}

func ParseLinkType(s string) (LinkType, error) {
	for k, v := range linkTypeNames {
		if v == s {
			return k, nil
		}
	}
	return LinkReserved, errors.Wrapf(ErrPara, "invalid link type %q", s)
}

// NicDeploy tells whether NICs sit on the host or on the device.
type NicDeploy int32

const (
	NicDeployHost NicDeploy = iota
	NicDeployDevice
)

func (n NicDeploy) String() string {
	if n == NicDeployHost {
		return "host"
	}
	return "device"
}

// Set implements pflag.Value::Set
func (n *NicDeploy) Set(val string) error {
	switch val {
	case "host":
		*n = NicDeployHost
	case "device":
		*n = NicDeployDevice
	default:
		return errors.Wrapf(ErrPara, "invalid nic deploy %q", val)
	}
	return nil
}

func (n *NicDeploy) Type() string {
	return "nic"
}
