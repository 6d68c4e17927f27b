package health

import (
	"encoding/json"
	"net/http"
)

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

type ReadinessReporter interface {
	Readiness() (ready bool, detail string)
}

// Readiness reports ready only when every reporter is ready.
func Readiness(reporters ...ReadinessReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		type resp struct {
			Status string   `json:"status"`
			Detail []string `json:"detail,omitempty"`
		}
		out := resp{Status: "ready"}
		ready := true
		for _, rr := range reporters {
			ok, detail := rr.Readiness()
			if !ok {
				ready = false
			}
			if detail != "" {
				out.Detail = append(out.Detail, detail)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if !ready {
			out.Status = "not_ready"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
