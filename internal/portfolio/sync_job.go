package portfolio

import (
	"fmt"

	"github.com/rs/zerolog"
)

// SyncJob periodically writes unrealized P&L through to the day's session
// row so the durable record stays close to live even if the process dies.
type SyncJob struct {
	service *Service
	log     zerolog.Logger
}

// NewSyncJob creates the session P&L sync job.
func NewSyncJob(service *Service, log zerolog.Logger) *SyncJob {
	return &SyncJob{
		service: service,
		log:     log.With().Str("job", "session_pnl_sync").Logger(),
	}
}

// Run syncs the current unrealized P&L into the session row.
func (j *SyncJob) Run() error {
	if !j.service.SyncSessionPnL() {
		return fmt.Errorf("session P&L sync failed")
	}
	j.log.Debug().Msg("Session P&L synced")
	return nil
}

// Name returns the job name for scheduler logs.
func (j *SyncJob) Name() string { return "session_pnl_sync" }
