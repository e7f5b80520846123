// Package ops serves the operational HTTP endpoints: health and
// Prometheus metrics. They live on their own listener so the chat port
// stays WebSocket-only.
package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

type health struct {
	Status      string  `json:"status"`
	Connections int     `json:"connections"`
	UsersOnline int     `json:"users_online"`
	CPUPercent  float64 `json:"cpu_percent"`
	RSSBytes    uint64  `json:"rss_bytes"`
	Goroutines  int     `json:"goroutines"`
	UptimeSecs  int64   `json:"uptime_seconds"`
}

// Stats is what the health endpoint reads from the serving side.
type Stats interface {
	Connections() int
	UsersOnline() int
}

type Server struct {
	addr    string
	stats   Stats
	log     zerolog.Logger
	started time.Time
	proc    *process.Process
}

func New(addr string, stats Stats, log zerolog.Logger) *Server {
	proc, _ := process.NewProcess(int32(os.Getpid()))
	return &Server{
		addr:    addr,
		stats:   stats,
		log:     log.With().Str("component", "ops").Logger(),
		started: time.Now(),
		proc:    proc,
	}
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Info().Str("addr", s.addr).Msg("ops endpoints up")

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := health{
		Status:      "ok",
		Connections: s.stats.Connections(),
		UsersOnline: s.stats.UsersOnline(),
		Goroutines:  runtime.NumGoroutine(),
		UptimeSecs:  int64(time.Since(s.started).Seconds()),
	}

	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		h.CPUPercent = pcts[0]
	}
	if s.proc != nil {
		if mem, err := s.proc.MemoryInfo(); err == nil {
			h.RSSBytes = mem.RSS
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h); err != nil {
		s.log.Warn().Err(err).Msg("health encode failed")
	}
}
