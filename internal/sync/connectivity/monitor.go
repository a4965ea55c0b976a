// Package connectivity tracks whether the remote backend is reachable.
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gridops/fieldsync/internal/logging"
)

// Options configures a Monitor.
type Options struct {
	// ProbeURL is requested every Interval. Empty disables probing; state then changes only
	// through Set.
	ProbeURL string
	Interval time.Duration
	Timeout  time.Duration
	// Initial is the state before the first probe.
	Initial bool
}

// Monitor holds the current online state.
type Monitor struct {
	online   atomic.Bool
	probeURL string
	interval time.Duration
	client   *http.Client

	mu        sync.Mutex
	listeners []func(online bool)
}

// New creates a Monitor.
func New(opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	m := &Monitor{
		probeURL: opts.ProbeURL,
		interval: opts.Interval,
		client:   &http.Client{Timeout: opts.Timeout},
	}
	m.online.Store(opts.Initial)
	return m
}

// Online reports the current state. It matches the func() bool the services take.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// OnChange registers fn to be called after every transition.
func (m *Monitor) OnChange(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Set records the state and reports whether it changed. Listeners run on the caller's
// goroutine.
func (m *Monitor) Set(online bool) bool {
	if m.online.Swap(online) == online {
		return false
	}

	logging.Info("Connectivity changed", map[string]interface{}{"online": online})
	m.mu.Lock()
	listeners := append([]func(bool){}, m.listeners...)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(online)
	}
	return true
}

// Probe requests the probe URL once and records the outcome. Any response below 500 counts
// as online. Without a probe URL the current state is returned unchanged.
func (m *Monitor) Probe(ctx context.Context) bool {
	if m.probeURL == "" {
		return m.Online()
	}

	online := false
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.probeURL, nil)
	if err == nil {
		resp, doErr := m.client.Do(req)
		if doErr == nil {
			resp.Body.Close()
			online = resp.StatusCode < http.StatusInternalServerError
		} else {
			logging.Debug("Connectivity probe failed", map[string]interface{}{"error": doErr.Error()})
		}
	}
	if ctx.Err() != nil {
		return m.Online()
	}
	m.Set(online)
	return online
}

// Run probes every interval until ctx is cancelled. It always returns nil.
func (m *Monitor) Run(ctx context.Context) error {
	if m.probeURL == "" {
		<-ctx.Done()
		return nil
	}

	m.Probe(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}
