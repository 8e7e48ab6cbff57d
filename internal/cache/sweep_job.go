package cache

import (
	"github.com/rs/zerolog"
)

// SweepJob removes expired cache entries on a schedule. The store already
// sweeps lazily on writes; this job bounds staleness for write-idle periods
// (e.g. overnight, when no quotes are being cached).
type SweepJob struct {
	store *Store
	log   zerolog.Logger
}

// NewSweepJob creates a new cache sweep job.
func NewSweepJob(store *Store, log zerolog.Logger) *SweepJob {
	return &SweepJob{
		store: store,
		log:   log.With().Str("job", "cache_sweep").Logger(),
	}
}

// Run executes the sweep, removing all expired entries.
func (j *SweepJob) Run() error {
	removed := j.store.Sweep()
	if removed > 0 {
		j.log.Info().Int("removed", removed).Msg("Swept expired cache entries")
	}
	return nil
}

// Name returns the job name for scheduling and logging.
func (j *SweepJob) Name() string {
	return "cache_sweep"
}
