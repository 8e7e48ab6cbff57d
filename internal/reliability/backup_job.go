package reliability

import (
	"context"
	"time"
)

// BackupJob runs the scheduled backup: create, upload, rotate.
type BackupJob struct {
	service *BackupService
}

// NewBackupJob wraps a backup service for the scheduler.
func NewBackupJob(service *BackupService) *BackupJob {
	return &BackupJob{service: service}
}

// Name implements scheduler.Job.
func (j *BackupJob) Name() string {
	return "database_backup"
}

// Run implements scheduler.Job.
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := j.service.CreateAndUploadBackup(ctx); err != nil {
		return err
	}
	return j.service.RotateRemoteBackups(ctx)
}
