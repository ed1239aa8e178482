package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opd-ai/ovtransport/latency"
	"github.com/opd-ai/ovtransport/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type peerStatus struct {
	ID        uint8                      `json:"id"`
	Addr      string                     `json:"addr"`
	LocalAddr string                     `json:"local_addr,omitempty"`
	Mode      string                     `json:"mode"`
	Received  uint64                     `json:"received"`
	Lost      int64                      `json:"lost"`
	SeqErrIn  uint64                     `json:"seqerr_in"`
	SeqErrOut uint64                     `json:"seqerr_out"`
	Latency   map[string]latency.Summary `json:"latency"`
}

type status struct {
	CallerID     uint8        `json:"caller_id"`
	Running      bool         `json:"running"`
	TxBytes      uint64       `json:"tx_bytes"`
	RxBytes      uint64       `json:"rx_bytes"`
	AuthFailures uint64       `json:"auth_failures"`
	Peers        []peerStatus `json:"peers"`
}

// newRouter serves Prometheus metrics and a JSON status document for src.
func newRouter(src metrics.Source) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewCollector(src))

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(buildStatus(src))
	})
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if !src.Snapshot().Running {
			http.Error(w, "session stopped", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return r
}

func buildStatus(src metrics.Source) status {
	snap := src.Snapshot()
	st := status{
		CallerID:     snap.CallerID,
		Running:      snap.Running,
		TxBytes:      snap.TxBytes,
		RxBytes:      snap.RxBytes,
		AuthFailures: snap.AuthFailures,
		Peers:        make([]peerStatus, 0, len(snap.Peers)),
	}
	for _, p := range snap.Peers {
		ps := peerStatus{
			ID:        p.Endpoint.ID,
			Addr:      p.Endpoint.Addr.String(),
			Mode:      p.Endpoint.Mode.String(),
			Received:  p.Stats.Received,
			Lost:      p.Stats.Lost,
			SeqErrIn:  p.Stats.SeqErrIn,
			SeqErrOut: p.Stats.SeqErrOut,
			Latency:   make(map[string]latency.Summary, len(p.Latency)),
		}
		if p.Endpoint.HasLocalAddr() {
			ps.LocalAddr = p.Endpoint.LocalAddr.String()
		}
		for path, sum := range p.Latency {
			ps.Latency[path.String()] = sum
		}
		st.Peers = append(st.Peers, ps)
	}
	return st
}
