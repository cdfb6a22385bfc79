// Package systemd reports service state to systemd through sd_notify. Every
// call is a no-op outside a Type=notify unit.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notify sends a raw state string. sent is false when NOTIFY_SOCKET is unset.
func Notify(state string) (sent bool, err error) {
	return daemon.SdNotify(false, state)
}

func Ready() (bool, error)    { return Notify(daemon.SdNotifyReady) }
func Stopping() (bool, error) { return Notify(daemon.SdNotifyStopping) }
func Reloading() (bool, error) {
	return Notify(daemon.SdNotifyReloading)
}

// Status sets the free-form status line shown by systemctl status.
func Status(text string) (bool, error) { return Notify("STATUS=" + text) }

// Watchdog pings systemd at half of WatchdogSec until ctx ends. It returns
// at once when the unit has no watchdog configured.
func Watchdog(ctx context.Context) error {
	every, err := daemon.SdWatchdogEnabled(false)
	if err != nil || every <= 0 {
		return err
	}
	t := time.NewTicker(every / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := Notify(daemon.SdNotifyWatchdog); err != nil {
				return err
			}
		}
	}
}
