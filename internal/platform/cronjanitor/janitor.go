// Package cronjanitor schedules SessionStore's idle-session sweep on a
// recurring interval via robfig/cron.
package cronjanitor

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fernbank/mcos/internal/mcos"
	"github.com/fernbank/mcos/internal/platform/logger"
)

// Janitor wraps a cron.Cron scheduler that periodically invokes
// SessionStore.Sweep.
type Janitor struct {
	c   *cron.Cron
	log *logger.Logger
}

// New schedules sessions.Sweep to run on the given interval (e.g.
// "@every 1m"). The schedule string is a standard cron spec or the
// "@every <duration>" shorthand robfig/cron supports.
func New(log *logger.Logger, sessions *mcos.SessionStore, schedule string) (*Janitor, error) {
	if schedule == "" {
		schedule = "@every 1m"
	}
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		sessions.Sweep(context.Background(), time.Now())
	})
	if err != nil {
		return nil, fmt.Errorf("cronjanitor: invalid schedule %q: %w", schedule, err)
	}
	return &Janitor{c: c, log: log.With("component", "cron_janitor")}, nil
}

func (j *Janitor) Start() { j.c.Start() }

func (j *Janitor) Stop() { <-j.c.Stop().Done() }
