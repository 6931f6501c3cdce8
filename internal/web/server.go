package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"surveyor/internal/state"
)

// Commander is the subset of the command dispatcher exposed to operators.
type Commander interface {
	SetStandby(ctx context.Context) error
	SetStationKeep(ctx context.Context) error
	SetGoToERP(ctx context.Context) error
}

// Deps wires the handlers. Nil members disable their endpoints.
type Deps struct {
	Status   *Status
	Store    *state.Store
	States   *StateBroadcaster
	Logs     *LogBuffer
	Commands Commander
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The status page is served from the vehicle's own address.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 5 * time.Second

func Handler(d Deps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, d.Status.Snapshot(time.Now().UTC()))
	})

	mux.HandleFunc("/api/state", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		if d.Store == nil {
			http.Error(w, "no vehicle session", http.StatusServiceUnavailable)
			return
		}
		msg := StateMessage{Version: d.Store.Version(), Fields: d.Store.Snapshot()}
		if t := d.Store.LastUpdate(); !t.IsZero() {
			msg.UpdatedUTC = t.UTC().Format(time.RFC3339Nano)
		}
		writeJSON(w, msg)
	})

	mux.HandleFunc("/api/command", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		if d.Commands == nil {
			http.Error(w, "commands unavailable", http.StatusNotFound)
			return
		}
		mode, err := decodeCommand(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		switch mode {
		case "standby":
			err = d.Commands.SetStandby(ctx)
		case "station_keep":
			err = d.Commands.SetStationKeep(ctx)
		case "go_to_erp":
			err = d.Commands.SetGoToERP(ctx)
		}
		if err != nil {
			log.Printf("web command failed mode=%s err=%v", mode, err)
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		log.Printf("web command sent mode=%s remote=%s", mode, r.RemoteAddr)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("{\"ok\":true}\n"))
	})

	if d.Logs != nil {
		mux.Handle("/api/logs", d.Logs.Handler())
	}
	if d.States != nil {
		mux.HandleFunc("/ws/state", func(w http.ResponseWriter, r *http.Request) {
			serveStateWS(w, r, d.States)
		})
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		snap := d.Status.Snapshot(time.Now().UTC())
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>Surveyor</title></head><body>")
		_, _ = fmt.Fprintf(w, "<h1>Surveyor</h1><p>uptime %ds. ", snap.UptimeSec)
		_, _ = fmt.Fprintf(w, "See <a href=\"/api/status\">/api/status</a>, <a href=\"/api/state\">/api/state</a>, <a href=\"/api/logs?format=text\">/api/logs</a>.</p>")
		_, _ = fmt.Fprintf(w, "</body></html>")
	})

	return mux
}

// decodeCommand accepts exactly {"mode": "<standby|station_keep|go_to_erp>"}.
func decodeCommand(body io.Reader) (string, error) {
	b, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var in struct {
		Mode *string `json:"mode"`
	}
	if err := dec.Decode(&in); err != nil {
		return "", fmt.Errorf("invalid json: %w", err)
	}
	if dec.More() {
		return "", fmt.Errorf("invalid json: trailing data")
	}
	if in.Mode == nil {
		return "", fmt.Errorf("mode is required")
	}
	switch *in.Mode {
	case "standby", "station_keep", "go_to_erp":
		return *in.Mode, nil
	default:
		return "", fmt.Errorf("mode must be one of standby, station_keep, go_to_erp")
	}
}

func serveStateWS(w http.ResponseWriter, r *http.Request, b *StateBroadcaster) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	id, ch := b.Subscribe(4)
	defer b.Unsubscribe(id)
	defer conn.Close()

	// Reads only detect the client going away.
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
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

func Serve(ctx context.Context, listenAddr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
		// Hijacked websocket handlers watch r.Context(); tie it to ctx.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Printf("web listening addr=%s", listenAddr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
