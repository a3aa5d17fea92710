package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vortexstudio/yt-collector/internal/pkg/httputil"
	"github.com/vortexstudio/yt-collector/internal/pkg/logger"
)

const dateLayout = "2006-01-02"

// handleHealth reports liveness plus store reachability.
//
//	GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		httputil.JSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy", "database": err.Error(),
		})
		return
	}
	httputil.OK(w, map[string]string{"status": "ok"})
}

// handleLatestRun returns the most recent collection run.
//
//	GET /api/runs/latest
func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.Latest(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if run == nil {
		httputil.NotFound(w, "no runs recorded")
		return
	}
	httputil.OK(w, run)
}

// handleDaily returns daily rows for a channel over a date range,
// defaulting to the trailing 30 days.
//
//	GET /api/channels/{channelID}/daily?from=YYYY-MM-DD&to=YYYY-MM-DD
func (s *Server) handleDaily(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")

	to := time.Now().UTC().Truncate(24 * time.Hour)
	from := to.AddDate(0, 0, -30)
	var err error
	if v := r.URL.Query().Get("from"); v != "" {
		if from, err = time.Parse(dateLayout, v); err != nil {
			httputil.BadRequest(w, "from must be YYYY-MM-DD")
			return
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if to, err = time.Parse(dateLayout, v); err != nil {
			httputil.BadRequest(w, "to must be YYYY-MM-DD")
			return
		}
	}
	if from.After(to) {
		httputil.BadRequest(w, "from is after to")
		return
	}

	rows, err := s.metrics.DailyForChannel(r.Context(), channelID, from, to)
	if err != nil {
		logger.Error("api: daily query failed", "channel_id", channelID, "error", err.Error())
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{
		"channel_id": channelID,
		"from":       from.Format(dateLayout),
		"to":         to.Format(dateLayout),
		"metrics":    rows,
	})
}

// handleTraffic returns the traffic-source breakdown for one day.
//
//	GET /api/channels/{channelID}/traffic?date=YYYY-MM-DD
func (s *Server) handleTraffic(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")

	v := r.URL.Query().Get("date")
	if v == "" {
		httputil.BadRequest(w, "date is required")
		return
	}
	date, err := time.Parse(dateLayout, v)
	if err != nil {
		httputil.BadRequest(w, "date must be YYYY-MM-DD")
		return
	}

	rows, err := s.metrics.TrafficForChannel(r.Context(), channelID, date)
	if err != nil {
		logger.Error("api: traffic query failed", "channel_id", channelID, "error", err.Error())
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{
		"channel_id": channelID,
		"date":       date.Format(dateLayout),
		"sources":    rows,
	})
}
