package bridge

import (
	"encoding/json"
	"net/http"
	"time"
)

// DebugHandler 返回 /debug/bridge 所需的 handler。
func (l *Listener) DebugHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snapshot := l.snapshot()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snapshot)
	})
}

type debugSnapshot struct {
	Target      string    `json:"target"`
	Initialized bool      `json:"initialized"`
	InFlight    int64     `json:"inFlight"`
	RateLimit   float64   `json:"rateLimit"`
	Actions     []Action  `json:"actions"`
	Timestamp   time.Time `json:"timestamp"`
}

func (l *Listener) snapshot() debugSnapshot {
	snap := debugSnapshot{
		Target:      l.target,
		Initialized: l.dispatcher.Session().Initialized(),
		InFlight:    l.dispatcher.Inflight(),
		Actions:     Actions(),
		Timestamp:   time.Now(),
	}
	if limiter := l.limiter.Load(); limiter != nil {
		snap.RateLimit = float64(limiter.Limit())
	}
	return snap
}
