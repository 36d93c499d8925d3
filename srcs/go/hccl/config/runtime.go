package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Keys read from HCCL_<KEY> environment variables.
const (
	ConnectTimeoutKey     = "connect_timeout"
	LinkTimeoutKey        = "link_timeout"
	AlgoKey               = "algo"
	BuffSizeKey           = "buffsize"
	DeterministicKey      = "deterministic"
	WhitelistDisableKey   = "whitelist_disable"
	WhitelistFileKey      = "whitelist_file"
	IfBasePortKey         = "if_base_port"
	OpRetryEnableKey      = "op_retry_enable"
	SdmaRdmaConcurrentKey = "sdma_rdma_concurrent"
	LogLevelKey           = "log_level"
)

var defaults = map[string]interface{}{
	ConnectTimeoutKey:     120,
	LinkTimeoutKey:        120,
	AlgoKey:               "",
	BuffSizeKey:           CCLBufferDefaultMB,
	DeterministicKey:      false,
	WhitelistDisableKey:   true,
	WhitelistFileKey:      "",
	IfBasePortKey:         60000,
	OpRetryEnableKey:      "L0:0,L1:0,L2:0",
	SdmaRdmaConcurrentKey: false,
	LogLevelKey:           "info",
}

// RetryPolicy enables operator retry per topology level. The flags are
// handed to the execution engines untouched.
type RetryPolicy struct {
	Server   bool // L0, intra server
	Inter    bool // L1, inter server
	SuperPod bool // L2, inter super pod
}

func (r RetryPolicy) String() string {
	b := func(v bool) int {
		if v {
			return 1
		}
		return 0
	}
	return fmt.Sprintf("L0:%d,L1:%d,L2:%d", b(r.Server), b(r.Inter), b(r.SuperPod))
}

// ParseRetryPolicy parses "L0:0,L1:1,L2:0".
func ParseRetryPolicy(val string) (RetryPolicy, error) {
	var r RetryPolicy
	for _, part := range strings.Split(val, ",") {
		part = strings.TrimSpace(part)
		if len(part) == 0 {
			continue
		}
		kv := strings.SplitN(part, ":", 2)
		if len(kv) != 2 || (kv[1] != "0" && kv[1] != "1") {
			return r, errors.Wrapf(base.ErrPara, "invalid retry config %q", part)
		}
		on := kv[1] == "1"
		switch strings.ToUpper(kv[0]) {
		case "L0":
			r.Server = on
		case "L1":
			r.Inter = on
		case "L2":
			r.SuperPod = on
		default:
			return r, errors.Wrapf(base.ErrPara, "invalid retry level %q", kv[0])
		}
	}
	return r, nil
}

// Runtime is the process-level configuration, read once per communicator.
type Runtime struct {
	ConnectTimeout     time.Duration
	LinkTimeout        time.Duration
	Algo               base.AlgoConfig
	AlgoText           string
	BufferSizeMB       uint32
	Deterministic      bool
	WhitelistDisable   bool
	WhitelistFile      string
	IfBasePort         uint32
	Retry              RetryPolicy
	SdmaRdmaConcurrent bool
	LogLevel           string
}

// NewViper returns a viper instance reading HCCL_* environment variables
// with the defaults set. Callers may bind flags into it.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("HCCL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	return v
}

// FromEnv reads the runtime configuration from the environment.
func FromEnv() (*Runtime, error) {
	return FromViper(NewViper())
}

func FromViper(v *viper.Viper) (*Runtime, error) {
	r := &Runtime{
		AlgoText:           v.GetString(AlgoKey),
		Deterministic:      v.GetBool(DeterministicKey),
		WhitelistDisable:   v.GetBool(WhitelistDisableKey),
		WhitelistFile:      v.GetString(WhitelistFileKey),
		SdmaRdmaConcurrent: v.GetBool(SdmaRdmaConcurrentKey),
		LogLevel:           v.GetString(LogLevelKey),
	}
	var err error
	if r.ConnectTimeout, err = seconds(v, ConnectTimeoutKey); err != nil {
		return nil, err
	}
	if r.LinkTimeout, err = seconds(v, LinkTimeoutKey); err != nil {
		return nil, err
	}
	if r.Algo, err = base.ParseAlgoConfig(r.AlgoText); err != nil {
		return nil, err
	}
	bufMB, err := positive(v, BuffSizeKey)
	if err != nil {
		return nil, err
	}
	if bufMB < uint64(CCLBufferMinMB) {
		return nil, errors.Wrapf(base.ErrPara, "HCCL_BUFFSIZE %d is less than %dMB", bufMB, CCLBufferMinMB)
	}
	r.BufferSizeMB = uint32(bufMB)
	port, err := positive(v, IfBasePortKey)
	if err != nil {
		return nil, err
	}
	if port > 65535 {
		return nil, errors.Wrapf(base.ErrPara, "HCCL_IF_BASE_PORT %d is out of range", port)
	}
	r.IfBasePort = uint32(port)
	if r.Retry, err = ParseRetryPolicy(v.GetString(OpRetryEnableKey)); err != nil {
		return nil, err
	}
	if !r.WhitelistDisable && len(r.WhitelistFile) == 0 {
		return nil, errors.Wrap(base.ErrPara, "HCCL_WHITELIST_FILE is required when the whitelist is enabled")
	}
	return r, nil
}

func positive(v *viper.Viper, key string) (uint64, error) {
	s := v.GetString(key)
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(base.ErrPara, "HCCL_%s=%q is not a positive integer", strings.ToUpper(key), s)
	}
	return n, nil
}

func seconds(v *viper.Viper, key string) (time.Duration, error) {
	n, err := positive(v, key)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, errors.Wrapf(base.ErrPara, "HCCL_%s must not be 0", strings.ToUpper(key))
	}
	return time.Duration(n) * time.Second, nil
}
