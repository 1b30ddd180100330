package portal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Monitor periodically probes sessions that look active but have not been
// verified recently, so that silent upstream expiry is detected (and the
// session re-established) before a user-facing request trips over it.
type Monitor struct {
	manager         *Manager
	interval        time.Duration
	activityTimeout time.Duration
	requestTimeout  time.Duration
	logger          *slog.Logger

	cron *cron.Cron
}

func NewMonitor(manager *Manager, cfg Config, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		manager:         manager,
		interval:        cfg.MonitorInterval,
		activityTimeout: cfg.ActivityTimeout,
		requestTimeout:  cfg.RequestTimeout,
		logger:          logger,
	}
}

// Start schedules the sweep. It is a no-op if the monitor is already running.
func (m *Monitor) Start() error {
	if m.cron != nil {
		return nil
	}
	c := cron.New()
	spec := fmt.Sprintf("@every %s", m.interval)
	if _, err := c.AddFunc(spec, m.Sweep); err != nil {
		return fmt.Errorf("schedule session sweep: %w", err)
	}
	c.Start()
	m.cron = c
	m.logger.Info("activity monitor started", "interval", m.interval)
	return nil
}

func (m *Monitor) Stop() {
	if m.cron == nil {
		return
	}
	<-m.cron.Stop().Done()
	m.cron = nil
}

// Sweep probes every stale active session once. A probe failure is logged
// and otherwise left to the session's own retry machinery; the sweep itself
// never takes a session down.
func (m *Monitor) Sweep() {
	now := time.Now()
	for _, s := range m.manager.Sessions() {
		if !s.needsProbe(m.activityTimeout, now) {
			continue
		}
		s := s
		ctx, cancel := context.WithTimeout(s.Context(), m.probeDeadline())
		err := m.manager.Probe(ctx, s.Principal())
		cancel()
		if err != nil {
			m.logger.Warn("session probe failed",
				"principal", s.Principal(), "state", s.State().String(), "error", err)
		}
	}
}

func (m *Monitor) probeDeadline() time.Duration {
	if m.requestTimeout > 0 {
		// Leave headroom for transient retries inside the probe.
		return m.requestTimeout * time.Duration(3)
	}
	return 30 * time.Second
}
