package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/tksohan/starline-optimizer/internal/database"
	"github.com/tksohan/starline-optimizer/internal/scheduler"
)

// SystemHandlers serves health, status and maintenance endpoints.
type SystemHandlers struct {
	log       zerolog.Logger
	dataDir   string
	historyDB *database.DB
	cacheDB   *database.DB
	sched     *scheduler.Scheduler
	syncJob   scheduler.Job
	startTime time.Time
}

// NewSystemHandlers creates the system handlers.
func NewSystemHandlers(
	log zerolog.Logger,
	dataDir string,
	historyDB *database.DB,
	cacheDB *database.DB,
	sched *scheduler.Scheduler,
	syncJob scheduler.Job,
) *SystemHandlers {
	return &SystemHandlers{
		log:       log.With().Str("component", "system_handlers").Logger(),
		dataDir:   dataDir,
		historyDB: historyDB,
		cacheDB:   cacheDB,
		sched:     sched,
		syncJob:   syncJob,
		startTime: time.Now(),
	}
}

// HandleHealth is the liveness endpoint.
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

type databaseStatus struct {
	Healthy      bool  `json:"healthy"`
	SizeBytes    int64 `json:"size_bytes"`
	WALSizeBytes int64 `json:"wal_size_bytes"`
}

// HandleSystemStatus reports process, host and database health in one place.
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuAvg, memUsed := h.getSystemStats()

	status := map[string]interface{}{
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    cpuAvg,
		"memory_percent": memUsed,
		"data_dir":       h.dataDir,
		"databases":      h.databaseStatuses(r),
	}
	respondJSON(w, http.StatusOK, status)
}

func (h *SystemHandlers) databaseStatuses(r *http.Request) map[string]databaseStatus {
	statuses := make(map[string]databaseStatus, 2)
	for name, db := range map[string]*database.DB{"history": h.historyDB, "cache": h.cacheDB} {
		if db == nil {
			continue
		}
		st := databaseStatus{Healthy: db.QuickCheck(r.Context()) == nil}
		if stats, err := db.GetStats(); err == nil {
			st.SizeBytes = stats.SizeBytes
			st.WALSizeBytes = stats.WALSizeBytes
		}
		statuses[name] = st
	}
	return statuses
}

// HandleTriggerSync runs the price sync job immediately.
func (h *SystemHandlers) HandleTriggerSync(w http.ResponseWriter, r *http.Request) {
	if h.sched == nil || h.syncJob == nil {
		respondError(w, http.StatusServiceUnavailable, "sync job not configured")
		return
	}

	if err := h.sched.RunNow(h.syncJob); err != nil {
		h.log.Error().Err(err).Msg("Manual sync failed")
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status": "completed",
		"job":    h.syncJob.Name(),
	})
}

func (h *SystemHandlers) getSystemStats() (float64, float64) {
	// 100ms sample keeps the endpoint responsive
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}
