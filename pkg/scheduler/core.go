package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	config "profiler/configs"
	"profiler/pkg/coordination"
	"profiler/pkg/errs"
	"profiler/pkg/logger"
	"profiler/pkg/metrics"
	"profiler/pkg/models"
)

// ElectionName is the campaign schedulers compete in; only the leader runs
// schedules.
const ElectionName = "profiler-scheduler"

// ProfileExecutor runs one profiling request. *executor.Executor implements it.
type ProfileExecutor interface {
	Execute(ctx context.Context, req models.ProfileRequest) (*models.Profile, error)
}

// Entry is a schedule with its next planned run.
type Entry struct {
	Schedule models.Schedule `json:"schedule"`
	NextRun  time.Time       `json:"next_run,omitempty"`
	LastRun  time.Time       `json:"last_run,omitempty"`
	LastID   string          `json:"last_profile_id,omitempty"`
}

type entry struct {
	Entry
	cron cron.Schedule
}

type Core struct {
	executor ProfileExecutor
	nodeID   string
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	entries []*entry
}

// NewCore parses every schedule up front; a bad cron expression fails here.
func NewCore(cfg *config.Config, exec ProfileExecutor, schedules []models.Schedule) (*Core, error) {
	interval := cfg.SchedulerInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	c := &Core{
		executor: exec,
		nodeID:   cfg.NodeID,
		interval: interval,
		logger:   logger.Named("scheduler"),
	}
	for _, s := range schedules {
		sched, err := config.CronParser.Parse(s.Cron)
		if err != nil {
			return nil, errs.Wrap(errs.KindConfiguration, "invalid cron expression", err).
				With(errs.KeyComponent, s.Name).
				With(errs.KeyConfigKey, "cron")
		}
		c.entries = append(c.entries, &entry{Entry: Entry{Schedule: s}, cron: sched})
	}
	return c, nil
}

// Entries returns a snapshot of all schedules.
func (c *Core) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.Entry
	}
	return out
}

// RunDue executes, one at a time, every enabled schedule whose next run is
// at or before now, then advances it past now. Missed runs collapse into
// one. A schedule seen for the first time is planned from now and not run.
// It returns the number of runs started.
func (c *Core) RunDue(ctx context.Context, now time.Time) int {
	c.mu.Lock()
	var due []*entry
	for _, e := range c.entries {
		if !e.Schedule.IsEnabled() {
			continue
		}
		if e.NextRun.IsZero() {
			e.NextRun = e.cron.Next(now)
			continue
		}
		if !e.NextRun.After(now) {
			due = append(due, e)
		}
	}
	c.mu.Unlock()

	ran := 0
	for _, e := range due {
		if ctx.Err() != nil {
			break
		}
		c.runOne(ctx, e, now)
		ran++
	}
	return ran
}

func (c *Core) runOne(ctx context.Context, e *entry, now time.Time) {
	name := e.Schedule.Name
	metrics.SchedulerLag.Observe(time.Since(e.NextRun).Seconds())

	c.logger.Info("Running scheduled profile",
		zap.String("schedule", name),
		zap.Time("planned", e.NextRun),
		zap.String("command", e.Schedule.Request.DisplayCommand()),
	)

	req := e.Schedule.Request
	if req.Labels == nil {
		req.Labels = map[string]string{}
	} else {
		labels := make(map[string]string, len(req.Labels)+1)
		for k, v := range req.Labels {
			labels[k] = v
		}
		req.Labels = labels
	}
	req.Labels["schedule"] = name

	profile, err := c.executor.Execute(ctx, req)

	status := "error"
	if profile != nil {
		status = string(profile.Status)
	}
	metrics.ScheduledRuns.WithLabelValues(name, status).Inc()

	if err != nil {
		c.logger.Warn("Scheduled profile failed",
			zap.String("schedule", name),
			zap.String("status", status),
			logger.Err(err),
		)
	}

	c.mu.Lock()
	e.LastRun = now
	if profile != nil {
		e.LastID = profile.ID.String()
	}
	e.NextRun = e.cron.Next(now)
	c.mu.Unlock()
}

// Run ticks every interval until ctx is done. With an election, runs only
// happen while this node is the leader.
func (c *Core) Run(ctx context.Context, election coordination.Election) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Info("Scheduler started",
		zap.Int("schedules", len(c.entries)),
		zap.Duration("interval", c.interval),
	)
	c.tick(ctx, election)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Scheduler shutting down")
			return
		case <-ticker.C:
			c.tick(ctx, election)
		}
	}
}

func (c *Core) tick(ctx context.Context, election coordination.Election) {
	if election != nil {
		leader, err := coordination.IsLeader(ctx, election, c.nodeID)
		if err != nil {
			c.logger.Warn("Error checking leadership", zap.Error(err))
			return
		}
		if !leader {
			c.logger.Debug("Not the leader, skipping tick")
			return
		}
	}
	c.RunDue(ctx, time.Now())
}
