package main

import (
	"github.com/lsds/hcomm/srcs/go/cmd/hccl-topo/app"
	"github.com/lsds/hcomm/srcs/go/utils"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		utils.ExitErr(err)
	}
}
