package app

import (
	"net"

	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/lsds/hcomm/srcs/go/log"
	"github.com/lsds/hcomm/srcs/go/plan"
	"github.com/lsds/hcomm/srcs/go/rendezvous"
	"github.com/lsds/hcomm/srcs/go/utils"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type rendezvousFlags struct {
	root      string
	serve     bool
	rankSize  uint32
	rank      int64
	serverID  string
	hostIP    string
	deviceID  int32
	deviceIPs []string
}

func newRendezvousCmd(s *state) *cobra.Command {
	var f rendezvousFlags
	cmd := &cobra.Command{
		Use:   "rendezvous",
		Short: "Exchange rank descriptors through a root server and print the merged topology",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := utils.Trap(cmd.Context())
			defer cancel()
			local, err := f.localRank()
			if err != nil {
				return err
			}
			root, err := plan.ParseNetAddr(f.root)
			if err != nil {
				return err
			}
			cfg := rendezvous.AgentConfig{
				ServerAddr: *root,
				RankSize:   f.rankSize,
				Timeout:    s.runtime.ConnectTimeout,
			}
			lt := rendezvous.LocalTopology(local)
			var srv *rendezvous.Server
			if f.serve {
				wl, err := s.whitelist()
				if err != nil {
					return err
				}
				if wl != nil {
					defer wl.Close()
				}
				srv = rendezvous.NewServer(rendezvous.ServerConfig{
					ListenAddr: *root,
					Timeout:    s.runtime.ConnectTimeout,
					Whitelist:  wl,
				})
				if err := srv.Listen(); err != nil {
					return err
				}
				cfg.ServerAddr.Port = srv.Addr().Port
				if cfg.ServerAddr.IP.IsUnspecified() {
					cfg.ServerAddr.IP = net.IPv4(127, 0, 0, 1).To4()
				}
				log.Infof("serving %s", srv.RootInfo(root.IP, local.DevicePhyID, lt.NicDeploy))
			}
			sd := utils.InstallStallDetector("rendezvous", stallPeriod)
			res, err := rendezvous.Bootstrap(ctx, srv, cfg, lt)
			sd.Stop()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			printf(w, "rank %d of %d\n", res.Rank, res.Topology.RankNum)
			printTopology(w, res.Topology)
			return nil
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&f.root, "root", "", "host:port of the rendezvous server")
	fs.BoolVar(&f.serve, "serve", false, "run the server on --root next to this rank")
	fs.Uint32Var(&f.rankSize, "ranks", 1, "number of ranks taking part")
	fs.Int64Var(&f.rank, "rank", -1, "rank id of this rank, assigned by the server when negative")
	fs.StringVar(&f.serverID, "server-id", "", "server id of this rank, defaults to --host-ip")
	fs.StringVar(&f.hostIP, "host-ip", "127.0.0.1", "host ip of this rank")
	fs.Int32Var(&f.deviceID, "device-id", 0, "physical device id, -1 for a host rank")
	fs.StringSliceVar(&f.deviceIPs, "device-ip", nil, "device nic ips of this rank")
	cmd.MarkFlagRequired("root")
	return cmd
}

func (f *rendezvousFlags) localRank() (plan.RankEntry, error) {
	r := plan.NewRankEntry()
	if f.rank >= 0 {
		if f.rank >= int64(f.rankSize) {
			return r, errors.Wrapf(base.ErrPara, "rank %d out of %d ranks", f.rank, f.rankSize)
		}
		r.RankID = uint32(f.rank)
	}
	ip, err := plan.ParseIP(f.hostIP)
	if err != nil {
		return r, err
	}
	r.HostIP = ip
	r.ServerID = f.serverID
	if len(r.ServerID) == 0 {
		r.ServerID = ip.String()
	}
	r.DevicePhyID = f.deviceID
	for _, s := range f.deviceIPs {
		ip, err := plan.ParseIP(s)
		if err != nil {
			return r, err
		}
		r.DeviceIPs = append(r.DeviceIPs, ip)
	}
	return r, nil
}
