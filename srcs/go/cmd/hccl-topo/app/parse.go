package app

import (
	"io"
	"os"

	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/lsds/hcomm/srcs/go/log"
	"github.com/lsds/hcomm/srcs/go/plan"
	"github.com/lsds/hcomm/srcs/go/plan/ranktable"
	"github.com/lsds/hcomm/srcs/go/utils"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newParseCmd(s *state) *cobra.Command {
	var f struct {
		kind     ranktable.Kind
		deviceID int32
		serverID string
		hostIP   string
		json     bool
	}
	cmd := &cobra.Command{
		Use:   "parse FILE",
		Short: "Parse and validate a rank table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var kind *ranktable.Kind
			if cmd.Flags().Changed("kind") {
				kind = &f.kind
			}
			p, err := s.parseFile(args[0], kind)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			var t *plan.RankTopology
			if f.deviceID >= 0 {
				var local *ranktable.LocalRank
				t, local, err = p.GetClusterInfoWithLocal(ranktable.LocalParams{
					DevicePhyID: f.deviceID,
					ServerID:    f.serverID,
					HostIP:      f.hostIP,
				})
				if err != nil {
					return err
				}
				printf(w, "local: %s\n", local)
			} else if t, err = p.GetClusterInfo(); err != nil {
				return err
			}
			if f.json {
				bs, err := plan.Struct2JSON(t, 0)
				if err != nil {
					return err
				}
				_, err = w.Write(append(bs, '\n'))
				return err
			}
			printTopology(w, t)
			return nil
		},
	}
	cmd.Flags().Var(&f.kind, "kind", "standard, concise, heterogeneous, offline or roletable; detected when unset")
	cmd.Flags().Int32Var(&f.deviceID, "device-id", -1, "resolve the local rank of this physical device")
	cmd.Flags().StringVar(&f.serverID, "server-id", "", "server of the local rank")
	cmd.Flags().StringVar(&f.hostIP, "host-ip", "", "host ip of the local rank")
	cmd.Flags().BoolVar(&f.json, "json", false, "print the normalized topology as json")
	return cmd
}

// parseFile reads and validates a rank table, detecting its kind when nil.
func (s *state) parseFile(filename string, kind *ranktable.Kind) (ranktable.Parser, error) {
	bs, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(base.ErrOpenFile, "%v", err)
	}
	text := string(bs)
	var k ranktable.Kind
	if kind != nil {
		k = *kind
	} else if k, err = ranktable.Detect(text); err != nil {
		return nil, err
	}
	p := ranktable.NewWithOptions(k, text, ranktable.Options{BasePort: s.runtime.IfBasePort})
	d, err := utils.Measure(p.Init)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", filename)
	}
	log.Debugf("parsed %s rank table %s in %s", k, filename, d)
	return p, nil
}

func printTopology(w io.Writer, t *plan.RankTopology) {
	printf(w, "%s\n", t)
	for _, p := range t.SuperPods() {
		printf(w, "super pod %s: %s\n", p.ID, utils.Pluralize(len(p.Servers), "server", "servers"))
	}
	for _, id := range t.Ranks.ServerIDs() {
		rs := t.Ranks.On(id)
		printf(w, "server %s: %s\n", id, utils.Pluralize(len(rs), "rank", "ranks"))
		for _, r := range rs {
			printf(w, "  %s\n", r)
		}
	}
}
