// Package systemd integrates with systemd socket activation and readiness
// notification.
package systemd

import (
	"fmt"
	"net"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/coreos/go-systemd/v22/daemon"
)

// Listener names expected in the comptrack.socket unit
// (FileDescriptorName=).
const (
	NameHTTP    = "http"
	NameMetrics = "metrics"
)

// Listeners holds the systemd-activated listeners.
type Listeners struct {
	HTTP      net.Listener
	Metrics   net.Listener
	Activated bool
}

// GetListeners retrieves socket-activated listeners. Outside socket
// activation it returns an empty, non-activated set.
func GetListeners() (*Listeners, error) {
	listeners := &Listeners{}

	if len(activation.Files(false)) == 0 {
		return listeners, nil
	}
	listeners.Activated = true

	named, err := activation.ListenersWithNames()
	if err != nil {
		return nil, fmt.Errorf("failed to get systemd listeners: %w", err)
	}

	listeners.HTTP = first(named[NameHTTP])
	listeners.Metrics = first(named[NameMetrics])

	if listeners.HTTP == nil && listeners.Metrics == nil {
		return nil, fmt.Errorf("socket activation passed no %q or %q listener", NameHTTP, NameMetrics)
	}

	return listeners, nil
}

func first(lns []net.Listener) net.Listener {
	if len(lns) == 0 {
		return nil
	}
	return lns[0]
}

// NotifyReady tells systemd the service has finished starting up. It is a
// no-op outside systemd.
func NotifyReady() (bool, error) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		return false, fmt.Errorf("failed to send sd_notify: %w", err)
	}
	return sent, nil
}

// NotifyStopping tells systemd the service is shutting down.
func NotifyStopping() error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		return fmt.Errorf("failed to send sd_notify stopping: %w", err)
	}
	return nil
}
