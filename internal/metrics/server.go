package metrics

import (
	"encoding/json"
	"net/http"
	"time"
)

// NewServer returns an HTTP server exposing /metrics, /healthz and
// /connectivity on addr. The caller starts and shuts it down.
func NewServer(addr string, c *Collector) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/connectivity", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		resp := struct {
			Links  []LinkStatus        `json:"links"`
			Events []ConnectivityEvent `json:"events"`
		}{
			Links: []LinkStatus{
				c.connectivity.Status(LinkWAN),
				c.connectivity.Status(LinkLAN),
			},
			Events: c.connectivity.RecentEvents(20),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
