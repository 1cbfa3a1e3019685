// Package systemd reports service state to the systemd manager over the
// notify socket. Every call is a no-op outside a systemd unit.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "ixfnotify/pkg/logx"
)

// Ready tells systemd startup finished. It reports whether a notify socket
// was present.
func Ready() (bool, error) { return daemon.SdNotify(false, daemon.SdNotifyReady) }

func Stopping() (bool, error) { return daemon.SdNotify(false, daemon.SdNotifyStopping) }

// Status sets the free-form status line shown by systemctl status.
func Status(s string) (bool, error) { return daemon.SdNotify(false, "STATUS="+s) }

// WatchdogInterval returns the configured watchdog timeout, if any.
func WatchdogInterval() (time.Duration, bool) {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

// Watchdog pings systemd at half the watchdog interval until ctx ends.
// It returns at once when the unit has no watchdog.
func Watchdog(ctx context.Context, log logx.Logger) error {
	d, ok := WatchdogInterval()
	if !ok {
		return nil
	}
	every := d / 2
	log.Debug("systemd watchdog enabled", logx.Duration("interval", d))
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				log.Warn("systemd watchdog ping failed", logx.Err(err))
			}
		}
	}
}
