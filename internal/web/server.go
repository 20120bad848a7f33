// Package web serves the fusion pipeline over HTTP: a JSON API and a
// websocket stream of snapshots.
package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/gorilla/websocket"

	"sensorfusion/internal/fusion"
	"sensorfusion/internal/sensor"
)

var logf = log.Printf

const (
	probeTimeout   = 10 * time.Second
	wsWriteTimeout = 5 * time.Second
	wsBuffer       = 8
	maxConfigBody  = 64 << 10
)

// Pipeline is the part of *fusion.Pipeline the server drives.
type Pipeline interface {
	Snapshot() (fusion.Snapshot, bool)
	HeadingDegrees() (float64, bool)
	Status() fusion.Status
	Config() fusion.Config
	Update(fn func(*fusion.Config) error) (fusion.Config, error)
	ProbeUnsupportedChannels(ctx context.Context) (sensor.ChannelSet, error)
}

type HeadingResponse struct {
	HeadingDeg float64              `json:"heading_deg"`
	Source     fusion.HeadingSource `json:"source"`
}

type ProbeResponse struct {
	Unsupported sensor.ChannelSet `json:"unsupported"`
}

type StatusResponse struct {
	fusion.Status
	StreamClients int    `json:"stream_clients"`
	StreamDropped uint64 `json:"stream_dropped"`
}

type AboutResponse struct {
	Service    string `json:"service"`
	NowUTC     string `json:"now_utc"`
	GoVersion  string `json:"go_version"`
	ModulePath string `json:"module_path,omitempty"`
	Version    string `json:"version,omitempty"`
	Commit     string `json:"commit,omitempty"`
	Dirty      bool   `json:"dirty,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The stream is read-only telemetry for local clients.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler builds the HTTP API. bc feeds /ws and must be subscribed to p by
// the caller. logs may be nil.
func Handler(p Pipeline, bc *SnapshotBroadcaster, logs *LogBuffer) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/snapshot", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		s, ok := p.Snapshot()
		if !ok {
			http.Error(w, "no fusion cycle yet", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, s)
	})

	mux.HandleFunc("/api/heading", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		h, ok := p.HeadingDegrees()
		if !ok {
			http.Error(w, "no fusion cycle yet", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, HeadingResponse{HeadingDeg: h, Source: p.Status().Heading})
	})

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, http.StatusOK, StatusResponse{
			Status:        p.Status(),
			StreamClients: bc.Clients(),
			StreamDropped: bc.Dropped(),
		})
	})

	mux.HandleFunc("/api/probe", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		defer cancel()
		set, err := p.ProbeUnsupportedChannels(ctx)
		if err != nil {
			http.Error(w, err.Error(), http.StatusGatewayTimeout)
			return
		}
		writeJSON(w, http.StatusOK, ProbeResponse{Unsupported: set})
	})

	mux.HandleFunc("/api/config", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet, http.MethodPost) {
			return
		}
		if r.Method == http.MethodGet {
			writeJSON(w, http.StatusOK, p.Config())
			return
		}
		b, err := io.ReadAll(io.LimitReader(r.Body, maxConfigBody))
		if err != nil {
			http.Error(w, fmt.Sprintf("read body: %v", err), http.StatusBadRequest)
			return
		}
		cfg, err := p.Update(func(cfg *fusion.Config) error {
			return decodeConfig(b, cfg)
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logf("web: fusion reconfigured: %+v", cfg)
		writeJSON(w, http.StatusOK, cfg)
	})

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveStream(w, r, bc)
	})

	if logs != nil {
		mux.Handle("/api/logs", logs.Handler())
	}
	mux.HandleFunc("/api/about", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, http.StatusOK, about())
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprint(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>sensorfusion</title></head><body>")
		_, _ = fmt.Fprint(w, "<h1>sensorfusion</h1><ul>")
		for _, link := range []string{"/api/snapshot", "/api/heading", "/api/status", "/api/config", "/api/logs", "/api/about"} {
			_, _ = fmt.Fprintf(w, "<li><a href=\"%s\">%s</a></li>", link, link)
		}
		_, _ = fmt.Fprint(w, "</ul><p>Live snapshots: websocket at /ws.</p></body></html>")
	})

	return mux
}

// decodeConfig applies a JSON object over cfg. Fields left out keep their
// current values; unknown fields are rejected.
func decodeConfig(b []byte, cfg *fusion.Config) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	next := *cfg
	if err := dec.Decode(&next); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("invalid json: trailing data")
	}
	*cfg = next
	return nil
}

func serveStream(w http.ResponseWriter, r *http.Request, bc *SnapshotBroadcaster) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied.
		logf("web: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	id, ch := bc.Subscribe(wsBuffer)
	defer bc.Unsubscribe(id)

	// Drain client frames so close and ping control messages are handled.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case s, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(s); err != nil {
				return
			}
		}
	}
}

func about() AboutResponse {
	resp := AboutResponse{
		Service:   "sensorfusion",
		NowUTC:    time.Now().UTC().Format(time.RFC3339Nano),
		GoVersion: runtime.Version(),
	}
	if bi, ok := debug.ReadBuildInfo(); ok && bi != nil {
		resp.ModulePath = bi.Main.Path
		resp.Version = bi.Main.Version
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				resp.Commit = s.Value
			case "vcs.modified":
				resp.Dirty = s.Value == "true"
			}
		}
	}
	return resp
}

// Serve runs the HTTP server until ctx ends.
func Serve(ctx context.Context, listenAddr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
