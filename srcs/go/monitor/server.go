package monitor

import (
	"net"
	"net/http"
	"strconv"

	"github.com/lsds/hcomm/srcs/go/log"
)

var (
	monitoringServer *http.Server
)

func StartServer(port int) {
	addr := net.JoinHostPort("0.0.0.0", strconv.Itoa(port))
	mux := http.NewServeMux()
	mux.Handle("/metrics", defaultMonitor)
	monitoringServer = &http.Server{
		Handler: mux,
		Addr:    addr,
	}
	go func() {
		if err := monitoringServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics server on %s: %v", addr, err)
		}
	}()
}

func StopServer() {
	if monitoringServer != nil {
		monitoringServer.Close()
	}
}
