package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "quorum",
	})
}

// handleStatus reports process and component health.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	cpuAvg, ramUsed := s.systemUsage()

	response := map[string]interface{}{
		"status":     "running",
		"uptime_sec": int64(time.Since(s.startedAt).Seconds()),
		"goroutines": runtime.NumGoroutine(),
		"memory": map[string]interface{}{
			"alloc_mb": m.Alloc / 1024 / 1024,
			"sys_mb":   m.Sys / 1024 / 1024,
			"num_gc":   m.NumGC,
		},
		"system": map[string]interface{}{
			"cpu_percent": cpuAvg,
			"ram_percent": ramUsed,
		},
		"engine": map[string]interface{}{
			"cycles":           s.engine.Cycles(),
			"pending_messages": s.engine.PendingMessages(),
		},
	}

	s.writeJSON(w, http.StatusOK, response)
}

// systemUsage samples host CPU and memory. A failed sample degrades to zero
// rather than failing the request.
func (s *Server) systemUsage() (float64, float64) {
	// 100ms sample keeps the endpoint responsive.
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	return cpuAvg, memStat.UsedPercent
}

// handleBusStats returns a snapshot of message bus activity.
func (s *Server) handleBusStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.bus.Stats())
}

// handleBusAgents lists the currently registered agents.
func (s *Server) handleBusAgents(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.bus.Agents())
}

// handleCoordinatorStats returns decision/conflict counters and the current
// trust weights.
func (s *Server) handleCoordinatorStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.coordinator.Stats())
}

// handleWeights returns the current normalized trust-weight vector.
func (s *Server) handleWeights(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"weights": s.adjuster.CurrentWeights(),
	})
}

// handleAllocation returns the most recent cycle result, or 404 before the
// first completed cycle.
func (s *Server) handleAllocation(w http.ResponseWriter, r *http.Request) {
	result := s.engine.LastResult()
	if result == nil {
		s.writeError(w, http.StatusNotFound, "no completed cycle yet")
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{
		"error": message,
	})
}
