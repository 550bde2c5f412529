package server

import (
	"encoding/json"
	"net/http"

	"github.com/nninov/ngt/internal/hitl"
	"github.com/nninov/ngt/internal/ingest"
	"github.com/nninov/ngt/internal/ledger"
)

// handleHealth reports service liveness and per-database integrity.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	dbs := make(map[string]string, len(s.databases))
	for _, db := range s.databases {
		if err := db.HealthCheck(r.Context()); err != nil {
			dbs[db.Name()] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		dbs[db.Name()] = "ok"
	}

	healthy := "healthy"
	if status != http.StatusOK {
		healthy = "degraded"
	}
	s.writeJSON(w, status, map[string]interface{}{
		"status":    healthy,
		"service":   "ngt",
		"databases": dbs,
	})
}

// handleStatus summarises the pipeline state: ledger sizes, processed and
// faulty counts and the enrichment queue.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rawPortfolios, err := s.raw.Count(ledger.CollectionPortfolios)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	rawTrades, err := s.raw.Count(ledger.CollectionTrades)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	processedPortfolios, err := s.processed.Count(ingest.ProcessedPortfolios)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	processedTrades, err := s.processed.Count(ingest.ProcessedTrades)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	faultyPortfolios, err := s.faulty.PendingCount(hitl.CollectionPortfolios)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	faultyTrades, err := s.faulty.PendingCount(hitl.CollectionTrades)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	queueStats, err := s.queue.Stats()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"raw": map[string]int{
			"portfolios": rawPortfolios,
			"trades":     rawTrades,
		},
		"processed": map[string]int{
			"portfolios": processedPortfolios,
			"trades":     processedTrades,
		},
		"faulty_pending": map[string]int{
			"portfolios": faultyPortfolios,
			"trades":     faultyTrades,
		},
		"queue": queueStats,
	})
}

// handleQueue reports queue statistics and the oldest outstanding lookups.
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.Stats()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	pending, err := s.queue.Pending(50)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	oldest := make([]map[string]string, 0, len(pending))
	for _, e := range pending {
		oldest = append(oldest, map[string]string{
			"identifier": e.Identifier,
			"ccy":        e.Currency,
			"queued_at":  e.QueuedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"stats":  stats,
		"oldest": oldest,
	})
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
