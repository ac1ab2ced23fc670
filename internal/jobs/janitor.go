package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/forPelevin/hlreel/internal/ports"
)

type ArtifactRemover interface {
	RemoveJob(jobID string) error
}

// Janitor deletes finished jobs and their artifacts once they are older
// than the retention period.
type Janitor struct {
	store     ports.JobStore
	artifacts ArtifactRemover
	retention time.Duration
	schedule  string
	log       zerolog.Logger
	now       func() time.Time

	cron *cron.Cron
}

func NewJanitor(store ports.JobStore, artifacts ArtifactRemover, retention time.Duration, schedule string, log zerolog.Logger) *Janitor {
	if schedule == "" {
		schedule = "@hourly"
	}
	return &Janitor{
		store:     store,
		artifacts: artifacts,
		retention: retention,
		schedule:  schedule,
		log:       log,
		now:       time.Now,
	}
}

func (j *Janitor) Start() error {
	c := cron.New(cron.WithLogger(cronLogger{j.log}))
	if _, err := c.AddFunc(j.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := j.Sweep(ctx); err != nil {
			j.log.Error().Err(err).Msg("retention sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule %q: %w", j.schedule, err)
	}
	c.Start()
	j.cron = c
	j.log.Info().Str("schedule", j.schedule).Dur("retention", j.retention).Msg("janitor started")
	return nil
}

func (j *Janitor) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
}

// Sweep runs one retention pass and returns how many jobs it removed.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	if j.retention <= 0 {
		return 0, nil
	}
	ids, err := j.store.DeleteFinishedBefore(ctx, j.now().Add(-j.retention))
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if j.artifacts == nil {
			break
		}
		if err := j.artifacts.RemoveJob(id); err != nil {
			j.log.Warn().Err(err).Str("job_id", id).Msg("remove artifacts")
		}
	}
	if len(ids) > 0 {
		j.log.Info().Int("jobs", len(ids)).Msg("expired jobs removed")
	}
	return len(ids), nil
}

type cronLogger struct {
	l zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
