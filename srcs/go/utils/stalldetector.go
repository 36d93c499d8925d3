package utils

import (
	"time"

	"github.com/lsds/hcomm/srcs/go/log"
)

type stallDetector struct {
	name    string
	tk      *time.Ticker
	stopped chan struct{}
	done    chan struct{}
}

// InstallStallDetector warns every period until Stop is called.
func InstallStallDetector(name string, period time.Duration) *stallDetector {
	s := &stallDetector{
		name:    name,
		tk:      time.NewTicker(period),
		stopped: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.start()
	return s
}

func (s *stallDetector) start() {
	defer close(s.done)
	t0 := time.Now()
	var hasStalled bool
	for {
		select {
		case <-s.tk.C:
			hasStalled = true
			log.Warnf("%s stalled for %s", s.name, time.Since(t0))
		case <-s.stopped:
			if hasStalled {
				log.Infof("%s recovered after %s", s.name, time.Since(t0))
			}
			return
		}
	}
}

func (s *stallDetector) Stop() {
	s.tk.Stop()
	close(s.stopped)
	<-s.done
}
