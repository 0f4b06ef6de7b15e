package app

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "dailytask/pkg/logx"
)

// sdNotifier talks to systemd when the unit is Type=notify. Outside systemd
// (no NOTIFY_SOCKET) every call is a no-op.
type sdNotifier struct {
	enabled  bool
	log      logx.Logger
	watchdog time.Duration
	lastTick atomic.Int64 // unix nanos of the last scheduler tick
	send     func(state string) (bool, error)
}

func newSdNotifier(enabled bool, log logx.Logger) *sdNotifier {
	n := &sdNotifier{
		enabled: enabled,
		log:     log,
		send:    func(state string) (bool, error) { return daemon.SdNotify(false, state) },
	}
	if enabled {
		if d, err := daemon.SdWatchdogEnabled(false); err != nil {
			log.Warn("systemd watchdog misconfigured", logx.Err(err))
		} else {
			n.watchdog = d
		}
	}
	return n
}

func (n *sdNotifier) notify(state string) {
	if !n.enabled {
		return
	}
	sent, err := n.send(state)
	if err != nil {
		n.log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Trace("systemd notified", logx.String("state", state))
	}
}

func (n *sdNotifier) Ready()    { n.notify(daemon.SdNotifyReady) }
func (n *sdNotifier) Stopping() { n.notify(daemon.SdNotifyStopping) }

// Ticked pets the watchdog after a scheduler poll.
func (n *sdNotifier) Ticked() {
	n.lastTick.Store(time.Now().UnixNano())
	if n.watchdog > 0 {
		n.notify(daemon.SdNotifyWatchdog)
	}
}

// Heartbeat keeps the watchdog fed between polls for as long as the scheduler
// has ticked within staleAfter. A wedged scheduler stops the pings and lets
// systemd restart the unit.
func (n *sdNotifier) Heartbeat(ctx context.Context, staleAfter func() time.Duration) error {
	if n.watchdog <= 0 || !n.enabled {
		return nil
	}
	t := time.NewTicker(n.watchdog / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			last := time.Unix(0, n.lastTick.Load())
			if time.Since(last) <= staleAfter() {
				n.notify(daemon.SdNotifyWatchdog)
			} else {
				n.log.Warn("scheduler stalled; withholding watchdog ping", logx.Time("last_tick", last))
			}
		}
	}
}
