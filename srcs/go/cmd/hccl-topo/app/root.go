// Package app implements the hccl-topo command line.
package app

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/lsds/hcomm/srcs/go/hccl/config"
	"github.com/lsds/hcomm/srcs/go/log"
	"github.com/lsds/hcomm/srcs/go/monitor"
	"github.com/lsds/hcomm/srcs/go/rendezvous"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const stallPeriod = 10 * time.Second

// state is shared by all sub commands. runtime is filled before any RunE.
type state struct {
	v           *viper.Viper
	runtime     *config.Runtime
	metricsPort int
}

// flags bound into viper, named after the HCCL_* keys they override
var boundFlags = []struct {
	name, key string
}{
	{"log-level", config.LogLevelKey},
	{"buffsize", config.BuffSizeKey},
	{"algo", config.AlgoKey},
	{"deterministic", config.DeterministicKey},
	{"connect-timeout", config.ConnectTimeoutKey},
	{"whitelist-disable", config.WhitelistDisableKey},
	{"whitelist-file", config.WhitelistFileKey},
	{"if-base-port", config.IfBasePortKey},
	{"op-retry-enable", config.OpRetryEnableKey},
	{"sdma-rdma-concurrent", config.SdmaRdmaConcurrentKey},
}

func NewRootCmd() *cobra.Command {
	s := &state{v: config.NewViper()}
	cmd := &cobra.Command{
		Use:           "hccl-topo",
		Short:         "Inspect rank tables, run rendezvous and print collective plans.",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return s.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			monitor.StopServer()
		},
	}
	fs := cmd.PersistentFlags()
	fs.String("log-level", "info", "debug, info, warn or error")
	fs.Uint32("buffsize", config.CCLBufferDefaultMB, "CCL buffer size in MB")
	fs.String("algo", "", `algorithm override, e.g. "level0:NA;level1:ring"`)
	fs.Bool("deterministic", false, "keep reduction order fixed")
	fs.Uint32("connect-timeout", 120, "rendezvous timeout in seconds")
	fs.Bool("whitelist-disable", true, "accept rendezvous agents from any host")
	fs.String("whitelist-file", "", `json file of {"host_ip": [...]}`)
	fs.Uint32("if-base-port", 60000, "first port of heterogeneous ranks")
	fs.String("op-retry-enable", "L0:0,L1:0,L2:0", "operator retry per level")
	fs.Bool("sdma-rdma-concurrent", false, "split inter server stages over both lanes")
	fs.IntVar(&s.metricsPort, "metrics-port", 0, "serve prometheus metrics on this port, 0 disables")
	if err := bindFlags(s.v, fs); err != nil {
		panic(err)
	}
	cmd.AddCommand(newParseCmd(s))
	cmd.AddCommand(newRootInfoCmd())
	cmd.AddCommand(newRendezvousCmd(s))
	cmd.AddCommand(newPlanCmd(s))
	return cmd
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for _, b := range boundFlags {
		if err := v.BindPFlag(b.key, fs.Lookup(b.name)); err != nil {
			return err
		}
	}
	return nil
}

func (s *state) load() error {
	r, err := config.FromViper(s.v)
	if err != nil {
		return err
	}
	var level log.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(r.LogLevel))); err != nil {
		return errors.Wrapf(base.ErrPara, "log level %q", r.LogLevel)
	}
	log.SetLevel(level)
	s.runtime = r
	log.Debugf("runtime: algo=%q buffsize=%dMB retry=%s", r.AlgoText, r.BufferSizeMB, r.Retry)
	if s.metricsPort > 0 {
		monitor.StartServer(s.metricsPort)
	}
	return nil
}

// whitelist returns nil when the whitelist is disabled. The caller closes
// the returned whitelist.
func (s *state) whitelist() (*rendezvous.Whitelist, error) {
	if s.runtime.WhitelistDisable {
		return nil, nil
	}
	w, err := rendezvous.LoadWhitelist(s.runtime.WhitelistFile)
	if err != nil {
		return nil, err
	}
	if err := w.Watch(); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

func printf(w io.Writer, format string, v ...interface{}) {
	fmt.Fprintf(w, format, v...)
}
