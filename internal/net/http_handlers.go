// Package net assembles the shard's HTTP surface: the websocket endpoint
// plus the small JSON diagnostics API operators poke at.
package net

import (
	"encoding/json"
	"log"
	nethttp "net/http"
	"net/http/pprof"
	"time"

	"gridlock/server"
	"gridlock/server/internal/net/ws"
	"gridlock/server/internal/observability"
)

type HTTPHandlerConfig struct {
	Logger        *log.Logger
	Observability observability.Config
}

// NewHTTPHandler mounts the websocket upgrade path and the diagnostics
// endpoints onto one handler.
func NewHTTPHandler(hub *server.Hub, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	wsHandler := ws.NewHandler(hub, ws.HandlerConfig{Logger: logger})

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/ws", wsHandler.Handle)

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		size, oldest, newest := hub.JournalWindow()
		payload := struct {
			Status     string `json:"status"`
			ServerTime int64  `json:"serverTime"`
			TickRate   int    `json:"tickRate"`
			Sessions   any    `json:"sessions"`
			Telemetry  any    `json:"telemetry"`
			Journal    struct {
				Size   int    `json:"size"`
				Oldest uint64 `json:"oldest"`
				Newest uint64 `json:"newest"`
			} `json:"journal"`
		}{
			Status:     "ok",
			ServerTime: time.Now().UnixMilli(),
			TickRate:   hub.Config().TickRate,
			Sessions:   hub.DiagnosticsSnapshot(),
			Telemetry:  hub.Counters().Snapshot(),
		}
		payload.Journal.Size = size
		payload.Journal.Oldest = oldest
		payload.Journal.Newest = newest

		data, err := json.Marshal(payload)
		if err != nil {
			httpError(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	if cfg.Observability.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	mux.HandleFunc("/config", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodGet {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}

		cfg := hub.Config()
		payload := struct {
			TickRate         int `json:"tickRate"`
			VisibilityRadius int `json:"visibilityRadius"`
			InputWindow      int `json:"inputWindow"`
			KeyframeInterval int `json:"keyframeInterval"`
			Field            struct {
				Cols  int `json:"cols"`
				Rows  int `json:"rows"`
				Scale int `json:"scale"`
			} `json:"field"`
		}{
			TickRate:         cfg.TickRate,
			VisibilityRadius: cfg.VisibilityRadius,
			InputWindow:      cfg.InputWindow,
			KeyframeInterval: cfg.KeyframeInterval,
		}
		payload.Field.Cols = cfg.Field.Cols
		payload.Field.Rows = cfg.Field.Rows
		payload.Field.Scale = cfg.Field.Scale

		data, err := json.Marshal(payload)
		if err != nil {
			httpError(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	return mux
}

func httpError(w nethttp.ResponseWriter, msg string, code int) {
	nethttp.Error(w, msg, code)
}
