package daemon

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/longnt/sage/internal/observability"
	"github.com/longnt/sage/internal/slack"
)

func (d *Daemon) buildMux() http.Handler {
	log := d.logger.GetZerolog()

	mux := http.NewServeMux()

	if d.config.Slack.Mode == "events" {
		mux.Handle("POST /slack/events", slack.NewEventsHandler(d.config.Slack.SigningSecret, d.handleMessage, log))
	}

	mux.HandleFunc("GET /healthz", d.handleHealth)
	mux.Handle("GET /metrics", observability.MetricsHandler())
	mux.HandleFunc("GET /threads", d.handleThreads)
	mux.HandleFunc("POST /cleanup-threads/{days}", d.handleCleanupThreads)

	return mux
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleThreads lists the active session keys from the in-memory cache.
func (d *Daemon) handleThreads(w http.ResponseWriter, r *http.Request) {
	keys := d.sessions.Keys()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"threads": keys,
		"count":   len(keys),
	})
}

// handleCleanupThreads evicts sessions idle longer than the given number of
// days and reports how many were removed.
func (d *Daemon) handleCleanupThreads(w http.ResponseWriter, r *http.Request) {
	days, err := strconv.Atoi(r.PathValue("days"))
	if err != nil || days <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "days must be a positive integer"})
		return
	}

	removed, err := d.sessions.EvictStale(r.Context(), time.Duration(days)*24*time.Hour)
	if err != nil {
		log := d.logger.GetZerolog()
		log.Error().Err(err).Msg("Cleanup request failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted": removed,
		"days":    days,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
