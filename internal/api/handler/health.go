package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	maxHeapBytes   = 300 * 1024 * 1024
	minDiskFreePct = 0.5
	healthCheckTTL = 3 * time.Second
)

type Health struct {
	db *pgxpool.Pool
}

func NewHealth(db *pgxpool.Pool) *Health {
	return &Health{db: db}
}

// Check reports per-indicator status: the database connection, process
// heap in use (runtime HeapAlloc; RSS is not measured) against a 300 MiB
// ceiling, and free disk space against a 50%
// floor. Any failing indicator drops the overall response to 503.
func (h *Health) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTTL)
	defer cancel()

	indicators := map[string]string{}
	healthy := true

	if err := h.db.Ping(ctx); err != nil {
		indicators["db"] = err.Error()
		healthy = false
	} else {
		indicators["db"] = "ok"
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	if mem.HeapAlloc > maxHeapBytes {
		indicators["heap"] = "exceeds 300MiB"
		healthy = false
	} else {
		indicators["heap"] = "ok"
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs("/", &stat); err != nil {
		indicators["disk"] = err.Error()
		healthy = false
	} else {
		freeFrac := float64(stat.Bavail) / float64(stat.Blocks)
		if freeFrac < minDiskFreePct {
			indicators["disk"] = "below 50% free"
			healthy = false
		} else {
			indicators["disk"] = "ok"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(indicators)
}
