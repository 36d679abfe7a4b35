package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/config"
)

// Pinger is the minimal interface for a database pool capable of Ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BuildReadinessCheck returns the `GET /readyz` handler: db reachability plus
// a write probe on DATA_DIR, since recon jobs fail outright without it.
func BuildReadinessCheck(cfg config.Config, pool Pinger) http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := make([]check, 0, 2)
		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				checks = append(checks, check{Name: "db", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "db", OK: true})
			}
		}

		probePath := fmt.Sprintf("%s/.readyz-probe-%d", cfg.DataDir, time.Now().UnixNano())
		if err := os.WriteFile(probePath, []byte("ok"), 0o644); err != nil {
			checks = append(checks, check{Name: "data_dir", OK: false, Details: err.Error()})
		} else {
			_ = os.Remove(probePath)
			checks = append(checks, check{Name: "data_dir", OK: true})
		}

		ok := true
		for _, c := range checks {
			if !c.OK {
				ok = false
				break
			}
		}
		status := http.StatusOK
		if !ok {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{"checks": checks})
	}
}
