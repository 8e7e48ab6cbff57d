// Package reliability provides database backup and off-site archival.
package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/karanmehta/quantdesk/internal/database"
)

const (
	archivePrefix    = "quantdesk-backup-"
	archiveTimestamp = "2006-01-02-150405"
	metadataFilename = "backup-metadata.json"
)

// BackupMetadata describes one backup archive's contents.
type BackupMetadata struct {
	Timestamp time.Time          `json:"timestamp"`
	Version   string             `json:"version"`
	Databases []DatabaseMetadata `json:"databases"`
}

// DatabaseMetadata describes a single database file inside a backup.
type DatabaseMetadata struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// BackupInfo summarizes an archive stored off-site.
type BackupInfo struct {
	Filename  string    `json:"filename"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  int64     `json:"age_hours"`
}

// BackupService snapshots the application databases into verified tar.gz
// archives and optionally ships them to an S3-compatible object store.
// The capital ledger and audit trail are the irreplaceable part; the cache
// is included only because restoring it warm is cheaper than a cold start.
type BackupService struct {
	databases map[string]*database.DB
	store     ObjectStore
	dataDir   string
	keepCount int
	log       zerolog.Logger
}

// ObjectStore is the remote side of the backup pipeline.
type ObjectStore interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64) error
	List(ctx context.Context, prefix string) ([]RemoteObject, error)
	Delete(ctx context.Context, key string) error
}

// RemoteObject is one stored archive as listed by the object store.
type RemoteObject struct {
	Key       string
	SizeBytes int64
}

// NewBackupService creates a backup service. store may be nil, in which case
// archives are only written locally under <dataDir>/backups.
func NewBackupService(databases map[string]*database.DB, store ObjectStore, dataDir string, keepCount int, log zerolog.Logger) *BackupService {
	if keepCount < 1 {
		keepCount = 7
	}
	return &BackupService{
		databases: databases,
		store:     store,
		dataDir:   dataDir,
		keepCount: keepCount,
		log:       log.With().Str("service", "backup").Logger(),
	}
}

// CreateAndUploadBackup snapshots all databases, archives them, and uploads
// the archive when an object store is configured. The local copy is kept
// under <dataDir>/backups and rotated to keepCount archives.
func (s *BackupService) CreateAndUploadBackup(ctx context.Context) error {
	s.log.Info().Msg("Starting backup")
	startTime := time.Now()

	stagingDir := filepath.Join(s.dataDir, "backup-staging")
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	metadata := BackupMetadata{
		Timestamp: time.Now().UTC(),
		Version:   "1.0.0",
		Databases: make([]DatabaseMetadata, 0, len(s.databases)),
	}

	names := make([]string, 0, len(s.databases))
	for name := range s.databases {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		dbPath := filepath.Join(stagingDir, name+".db")

		if err := s.databases[name].BackupTo(dbPath); err != nil {
			return fmt.Errorf("failed to snapshot %s: %w", name, err)
		}
		if err := verifySnapshot(dbPath); err != nil {
			return fmt.Errorf("snapshot verification failed for %s: %w", name, err)
		}

		info, err := os.Stat(dbPath)
		if err != nil {
			return fmt.Errorf("failed to stat %s snapshot: %w", name, err)
		}
		checksum, err := fileChecksum(dbPath)
		if err != nil {
			return fmt.Errorf("failed to checksum %s snapshot: %w", name, err)
		}

		metadata.Databases = append(metadata.Databases, DatabaseMetadata{
			Name:      name,
			Filename:  name + ".db",
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
	}

	metadataPath := filepath.Join(stagingDir, metadataFilename)
	if err := writeMetadata(metadataPath, metadata); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	archiveName := archivePrefix + time.Now().Format(archiveTimestamp) + ".tar.gz"
	localDir := filepath.Join(s.dataDir, "backups")
	if err := os.MkdirAll(localDir, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}
	archivePath := filepath.Join(localDir, archiveName)

	files := make([]string, 0, len(names)+1)
	for _, name := range names {
		files = append(files, name+".db")
	}
	files = append(files, metadataFilename)

	if err := createArchive(archivePath, stagingDir, files); err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}

	archiveInfo, err := os.Stat(archivePath)
	if err != nil {
		return fmt.Errorf("failed to stat archive: %w", err)
	}

	if s.store != nil {
		archiveFile, err := os.Open(archivePath)
		if err != nil {
			return fmt.Errorf("failed to open archive: %w", err)
		}
		defer archiveFile.Close()

		if err := s.store.Upload(ctx, archiveName, archiveFile, archiveInfo.Size()); err != nil {
			return fmt.Errorf("failed to upload archive: %w", err)
		}
	}

	if err := s.rotateLocal(localDir); err != nil {
		s.log.Warn().Err(err).Msg("Failed to rotate local backups")
	}

	s.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Str("archive", archiveName).
		Int64("size_bytes", archiveInfo.Size()).
		Bool("uploaded", s.store != nil).
		Msg("Backup completed")
	return nil
}

// ListRemoteBackups lists archives stored off-site, newest first.
func (s *BackupService) ListRemoteBackups(ctx context.Context) ([]BackupInfo, error) {
	if s.store == nil {
		return []BackupInfo{}, nil
	}

	objects, err := s.store.List(ctx, archivePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list remote backups: %w", err)
	}

	now := time.Now()
	backups := make([]BackupInfo, 0, len(objects))
	for _, obj := range objects {
		ts, ok := parseArchiveTimestamp(obj.Key)
		if !ok {
			continue
		}
		backups = append(backups, BackupInfo{
			Filename:  obj.Key,
			Timestamp: ts,
			SizeBytes: obj.SizeBytes,
			AgeHours:  int64(now.Sub(ts).Hours()),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// RotateRemoteBackups deletes off-site archives beyond keepCount, newest
// retained.
func (s *BackupService) RotateRemoteBackups(ctx context.Context) error {
	if s.store == nil {
		return nil
	}

	backups, err := s.ListRemoteBackups(ctx)
	if err != nil {
		return err
	}
	if len(backups) <= s.keepCount {
		return nil
	}

	deleted := 0
	for _, backup := range backups[s.keepCount:] {
		if err := s.store.Delete(ctx, backup.Filename); err != nil {
			s.log.Error().Err(err).Str("filename", backup.Filename).Msg("Failed to delete old backup")
			continue
		}
		deleted++
	}

	s.log.Info().
		Int("deleted", deleted).
		Int("remaining", len(backups)-deleted).
		Msg("Remote backup rotation completed")
	return nil
}

// rotateLocal trims the local archive directory to keepCount files, oldest
// first.
func (s *BackupService) rotateLocal(localDir string) error {
	entries, err := os.ReadDir(localDir)
	if err != nil {
		return err
	}

	archives := []string{}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), archivePrefix) {
			archives = append(archives, entry.Name())
		}
	}
	if len(archives) <= s.keepCount {
		return nil
	}

	// Timestamped names sort chronologically.
	sort.Strings(archives)
	for _, name := range archives[:len(archives)-s.keepCount] {
		path := filepath.Join(localDir, name)
		if err := os.Remove(path); err != nil {
			s.log.Warn().Err(err).Str("path", path).Msg("Failed to delete old local backup")
		}
	}
	return nil
}

// parseArchiveTimestamp extracts the creation time from an archive name like
// quantdesk-backup-2025-06-02-183000.tar.gz.
func parseArchiveTimestamp(filename string) (time.Time, bool) {
	if !strings.HasPrefix(filename, archivePrefix) || !strings.HasSuffix(filename, ".tar.gz") {
		return time.Time{}, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(filename, archivePrefix), ".tar.gz")
	ts, err := time.Parse(archiveTimestamp, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// verifySnapshot opens a snapshot file and runs an integrity check before it
// is archived. A corrupt backup is worse than no backup.
func verifySnapshot(path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check query failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

// fileChecksum returns the sha256 digest of a file, prefixed for
// self-description in the metadata blob.
func fileChecksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}

func writeMetadata(path string, metadata BackupMetadata) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(metadata)
}

// createArchive writes the named files from sourceDir into a tar.gz archive.
func createArchive(archivePath, sourceDir string, filenames []string) error {
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer archiveFile.Close()

	gzipWriter := gzip.NewWriter(archiveFile)
	defer gzipWriter.Close()

	tarWriter := tar.NewWriter(gzipWriter)
	defer tarWriter.Close()

	for _, filename := range filenames {
		if err := addFileToArchive(tarWriter, filepath.Join(sourceDir, filename), filename); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", filename, err)
		}
	}
	return nil
}

func addFileToArchive(tarWriter *tar.Writer, filePath, nameInArchive string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Name:    nameInArchive,
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}
	if err := tarWriter.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tarWriter, file)
	return err
}
