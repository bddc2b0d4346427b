package streaminghttp

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metricsHandler builds a dedicated Prometheus registry so tests can stand up
// multiple handlers in one process without collector name collisions.
func (h *Handler) metricsHandler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "relay_active_sessions",
			Help: "Number of live sessions in the registry.",
		}, func() float64 {
			return float64(h.sessions.Len())
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "relay_pending_server_calls",
			Help: "Server-issued calls awaiting a client reply across all sessions.",
		}, func() float64 {
			n := 0
			for _, s := range h.sessions.Snapshot() {
				n += s.Channel().PendingCalls()
			}
			return float64(n)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "relay_rate_limit_windows",
			Help: "Live fixed-window rate limit counters.",
		}, func() float64 {
			return float64(h.limiter.Len())
		}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// healthStatus is the read-only liveness report served at /healthz.
type healthStatus struct {
	Status         string  `json:"status"`
	ActiveSessions int     `json:"active_sessions"`
	CacheEntries   int     `json:"cache_entries"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
	HeapAllocBytes uint64  `json:"heap_alloc_bytes"`
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.Len(r.Context())
	if err != nil {
		entries = -1
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	st := healthStatus{
		Status:         "ok",
		ActiveSessions: h.sessions.Len(),
		CacheEntries:   entries,
		UptimeSeconds:  time.Since(h.startedAt).Seconds(),
		HeapAllocBytes: ms.HeapAlloc,
	}
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(st)
}
