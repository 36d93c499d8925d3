package hal

import (
	"os"
	"strconv"

	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/lsds/hcomm/srcs/go/log"
	"github.com/pkg/errors"
)

const (
	DeviceIDEnvKey       = `ASCEND_DEVICE_ID`
	LegacyDeviceIDEnvKey = `DEVICE_ID`
	SimDeviceTypeEnvKey  = `HCCL_SIM_DEVICE_TYPE`
	SimDeviceNumEnvKey   = `HCCL_SIM_DEVICE_NUM`
)

// DeviceFromEnv returns the logic device id the process is bound to.
func DeviceFromEnv() (int32, error) {
	for _, key := range []string{DeviceIDEnvKey, LegacyDeviceIDEnvKey} {
		if _, ok := os.LookupEnv(key); !ok {
			continue
		}
		n, err := requireInt(key)
		if err != nil {
			return 0, err
		}
		if n < 0 {
			return 0, errors.Wrapf(base.ErrPara, "%s=%d is negative", key, n)
		}
		return int32(n), nil
	}
	log.Debugf("%s not set, using device 0", DeviceIDEnvKey)
	return 0, nil
}

// SimFromEnv creates a simulated server described by HCCL_SIM_DEVICE_TYPE
// and HCCL_SIM_DEVICE_NUM, defaulting to eight 910B devices.
func SimFromEnv() (*Sim, error) {
	devType := base.Dev910B
	if val := os.Getenv(SimDeviceTypeEnvKey); len(val) > 0 {
		t, err := base.ParseDevType(val)
		if err != nil {
			return nil, err
		}
		devType = t
	}
	n := 8
	if _, ok := os.LookupEnv(SimDeviceNumEnvKey); ok {
		var err error
		if n, err = requireInt(SimDeviceNumEnvKey); err != nil {
			return nil, err
		}
	}
	if n <= 0 || n > 16 {
		return nil, errors.Wrapf(base.ErrPara, "%s=%d is out of range", SimDeviceNumEnvKey, n)
	}
	log.Infof("simulated server: %d x %s", n, devType)
	return NewSim(devType, uint32(n)), nil
}

func requireInt(key string) (int, error) {
	val := os.Getenv(key)
	if len(val) <= 0 {
		return 0, errors.Wrapf(base.ErrPara, "%s not set", key)
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, errors.Wrapf(base.ErrPara, "%s=%q: %v", key, val, err)
	}
	return n, nil
}
