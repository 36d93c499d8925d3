package rendezvous

import (
	"encoding/json"
	"net"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/lsds/hcomm/srcs/go/log"
	"github.com/lsds/hcomm/srcs/go/plan"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type whitelistFile struct {
	HostIP []string `json:"host_ip"`
}

// Whitelist gates incoming rendezvous connections by peer ip.
// The file is reloaded whenever it is rewritten.
type Whitelist struct {
	mu    sync.RWMutex
	file  string
	hosts map[string]struct{}

	watcher *fsnotify.Watcher
	done    chan struct{}
}

func NewWhitelist(ips ...net.IP) *Whitelist {
	w := &Whitelist{hosts: make(map[string]struct{})}
	for _, ip := range ips {
		w.hosts[ip.String()] = struct{}{}
	}
	return w
}

// LoadWhitelist reads {"host_ip": [...]} from file.
func LoadWhitelist(file string) (*Whitelist, error) {
	w := &Whitelist{file: file}
	if err := w.Reload(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Whitelist) Reload() error {
	bs, err := os.ReadFile(w.file)
	if err != nil {
		return errors.Wrapf(base.ErrOpenFile, "whitelist %s: %v", w.file, err)
	}
	var wf whitelistFile
	if err := json.Unmarshal(bs, &wf); err != nil {
		return errors.Wrapf(base.ErrPara, "whitelist %s: %v", w.file, err)
	}
	hosts := make(map[string]struct{})
	for _, h := range wf.HostIP {
		ip, err := plan.ParseIP(h)
		if err != nil {
			return errors.Wrapf(err, "whitelist %s", w.file)
		}
		hosts[ip.String()] = struct{}{}
	}
	w.mu.Lock()
	w.hosts = hosts
	w.mu.Unlock()
	log.Infof("loaded %d whitelist entries from %s", len(hosts), w.file)
	return nil
}

func (w *Whitelist) Allowed(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.hosts[ip.String()]
	return ok
}

func (w *Whitelist) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.hosts)
}

// Watch reloads the whitelist on every write to its file until Close.
func (w *Whitelist) Watch() error {
	if len(w.file) == 0 {
		return errors.Wrap(base.ErrPara, "whitelist has no backing file")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrapf(base.ErrSyscall, "watch whitelist: %v", err)
	}
	if err := watcher.Add(w.file); err != nil {
		watcher.Close()
		return errors.Wrapf(base.ErrOpenFile, "watch whitelist %s: %v", w.file, err)
	}
	w.watcher = watcher
	w.done = make(chan struct{})
	go w.watch()
	return nil
}

func (w *Whitelist) watch() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if err := w.Reload(); err != nil {
					log.Warnf("keep previous whitelist: %v", err)
				}
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warnf("whitelist watcher: %v", err)
		}
	}
}

func (w *Whitelist) Close() error {
	if w.watcher == nil {
		return nil
	}
	err := w.watcher.Close()
	<-w.done
	w.watcher = nil
	return err
}

func reportRejected(ip net.IP) {
	log.ReportSink(log.Report{
		Code:  log.CodeWhitelist,
		Cause: "connection from " + ip.String() + " is not in the whitelist",
		Tip:   "Please add the host ip to the whitelist file or disable the whitelist.",
	}, zap.Stringer("peer", ip))
}
