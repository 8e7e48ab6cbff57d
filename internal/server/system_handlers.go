package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/karanmehta/quantdesk/internal/database"
)

var startTime = time.Now()

// handleSystemStatus returns process and host health for the dashboard
// status bar.
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil || len(cpuPercent) == 0 {
		s.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memPercent := 0.0
	if memStat, err := mem.VirtualMemory(); err == nil {
		memPercent = memStat.UsedPercent
	} else {
		s.log.Warn().Err(err).Msg("Failed to get memory statistics")
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(startTime).Seconds()),
		"cpu_percent":    cpuPercent[0],
		"memory_percent": memPercent,
		"goroutines":     runtime.NumGoroutine(),
		"heap_mb":        memStats.HeapAlloc / 1024 / 1024,
		"token":          s.tokens.Status(),
		"checked_at":     time.Now(),
	})
}

// handleCacheStats returns hit/miss/set/eviction counters.
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cacheStore.Stats())
}

// handleCacheClear drops all cache entries.
func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	removed := s.cacheStore.Clear()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"removed": removed,
	})
}

// handleCacheSweep evicts expired entries immediately.
func (s *Server) handleCacheSweep(w http.ResponseWriter, r *http.Request) {
	evicted := s.cacheStore.Sweep()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"evicted": evicted,
	})
}

// handleDatabaseStats returns file and page statistics for each database.
func (s *Server) handleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{}
	for name, db := range map[string]*database.DB{"cache": s.cacheDB, "state": s.stateDB} {
		if db == nil {
			continue
		}
		dbStats, err := db.GetStats()
		if err != nil {
			stats[name] = map[string]string{"error": err.Error()}
			continue
		}
		stats[name] = map[string]interface{}{
			"size_bytes":     dbStats.SizeBytes,
			"wal_size_bytes": dbStats.WALSizeBytes,
			"page_count":     dbStats.PageCount,
			"page_size":      dbStats.PageSize,
			"freelist_count": dbStats.FreelistCount,
		}
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// handleListBackups lists off-site backup archives.
func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	if s.backup == nil {
		s.writeError(w, http.StatusNotFound, "Backups are not configured")
		return
	}

	backups, err := s.backup.ListRemoteBackups(r.Context())
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"backups": backups,
		"count":   len(backups),
	})
}

// handleTriggerJob runs a registered scheduled job immediately.
func (s *Server) handleTriggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	job, ok := s.jobs[name]
	if !ok {
		s.writeError(w, http.StatusNotFound, "Unknown job: "+name)
		return
	}

	if err := s.sched.RunNow(job); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"job":    name,
	})
}
