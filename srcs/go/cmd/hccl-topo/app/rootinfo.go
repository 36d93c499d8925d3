package app

import (
	"os"
	"time"

	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/lsds/hcomm/srcs/go/plan"
	"github.com/lsds/hcomm/srcs/go/rendezvous"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newRootInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rootinfo",
		Short: "Encode or decode the handle of a rendezvous root",
	}
	cmd.AddCommand(newRootInfoEncodeCmd())
	cmd.AddCommand(newRootInfoDecodeCmd())
	return cmd
}

func newRootInfoEncodeCmd() *cobra.Command {
	var f struct {
		addr     string
		deviceID int32
		nic      base.NicDeploy
		out      string
	}
	f.nic = base.NicDeployDevice
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Write the binary root handle of a server address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := plan.ParseNetAddr(f.addr)
			if err != nil {
				return err
			}
			info := rendezvous.NewRootInfo(*addr, f.deviceID, f.nic, time.Now())
			bs, err := info.Encode()
			if err != nil {
				return err
			}
			if err := os.WriteFile(f.out, bs, 0644); err != nil {
				return errors.Wrapf(base.ErrOpenFile, "%v", err)
			}
			printf(cmd.OutOrStdout(), "%s\n", info)
			return nil
		},
	}
	cmd.Flags().StringVar(&f.addr, "addr", "", "host:port of the rendezvous server")
	cmd.Flags().Int32Var(&f.deviceID, "device-id", 0, "physical device id of the root rank")
	cmd.Flags().Var(&f.nic, "nic", "host or device")
	cmd.Flags().StringVarP(&f.out, "out", "o", "root.info", "output file")
	cmd.MarkFlagRequired("addr")
	return cmd
}

func newRootInfoDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode FILE",
		Short: "Print a binary root handle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bs, err := os.ReadFile(args[0])
			if err != nil {
				return errors.Wrapf(base.ErrOpenFile, "%v", err)
			}
			info, err := rendezvous.DecodeRootInfo(bs)
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "%s\n", info)
			return nil
		},
	}
}
