package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rickgao/paperstream/internal/connection"
	"github.com/rickgao/paperstream/internal/version"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string        `json:"status"`
	Version string        `json:"version"`
	Time    time.Time     `json:"time"`
	Streams StreamsHealth `json:"streams"`
	Pool    PoolTotals    `json:"pool"`
}

// StreamsHealth summarizes the outbound exchange streams.
type StreamsHealth struct {
	Running bool    `json:"running"`
	Total   int     `json:"total"`
	Open    int     `json:"open"`
	Stale   int     `json:"stale"`
	Ratio   float64 `json:"ratio"`
	Healthy bool    `json:"healthy"`
}

// PoolTotals summarizes the inbound connection pool.
type PoolTotals struct {
	Connections   int `json:"connections"`
	Users         int `json:"users"`
	IPs           int `json:"ips"`
	Channels      int `json:"channels"`
	Subscriptions int `json:"subscriptions"`
}

// handleHealth answers 200 when streams are healthy, 503 otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.streams.HealthReport()
	ps := s.pool.Stats()

	resp := HealthResponse{
		Status:  "healthy",
		Version: version.String(),
		Time:    time.Now().UTC(),
		Streams: StreamsHealth{
			Running: h.Running,
			Total:   h.Total,
			Open:    h.Open,
			Stale:   h.Stale,
			Ratio:   h.Ratio,
			Healthy: h.Healthy,
		},
		Pool: PoolTotals{
			Connections:   ps.Connections,
			Users:         ps.Users,
			IPs:           ps.IPs,
			Channels:      ps.Channels,
			Subscriptions: ps.Subscriptions,
		},
	}

	code := http.StatusOK
	if !h.Healthy {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, resp)
}

func (s *Server) handleStreams(w http.ResponseWriter, r *http.Request) {
	streams := s.streams.Streams()
	if streams == nil {
		streams = []connection.StreamInfo{}
	}
	s.writeJSON(w, http.StatusOK, streams)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("encode response", "error", err)
	}
}
