// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/gogpu/screencap"
	"github.com/gogpu/screencap/adapter/imageconv"
	"github.com/gogpu/screencap/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve frames over HTTP and WebSocket",
	Long: `Serve the selected output over HTTP.

  /frame.png  one frame (any format via ?format=jpeg|bmp|tiff)
  /ws         a WebSocket stream of encoded frames, one binary message
              per frame at serve.fps; frames that are not ready on a tick
              are skipped`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

const wsWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address")
	serveCmd.Flags().Int("fps", 0, "stream frame rate per client")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a, _ := cmd.Flags().GetString("addr"); a != "" {
		cfg.Serve.Addr = a
	}
	if fps, _ := cmd.Flags().GetInt("fps"); fps > 0 {
		cfg.Serve.FPS = fps
	}

	e, err := openEnv(cfg)
	if err != nil {
		return err
	}
	defer e.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              cfg.Serve.Addr,
		Handler:           newServer(ctx, e).routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	fmt.Fprintf(cmd.ErrOrStderr(), "serving %s on http://%s\n", e.comp.Name(), cfg.Serve.Addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// server hands every HTTP client its own capture session.
type server struct {
	ctx context.Context
	env *env
	log *slog.Logger
}

func newServer(ctx context.Context, e *env) *server {
	return &server{ctx: ctx, env: e, log: screencap.Logger().With("component", "serve")}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /frame.png", s.handleFrame)
	mux.HandleFunc("GET /ws", s.handleWS)
	return mux
}

func (s *server) encoder(r *http.Request) (imageconv.Encoder, error) {
	name := r.URL.Query().Get("format")
	if name == "" {
		name = "png"
	}
	f, err := imageconv.ParseFormat(name)
	if err != nil {
		return imageconv.Encoder{}, err
	}
	return imageconv.Encoder{Format: f, Quality: s.env.cfg.Image.Quality}, nil
}

func (s *server) handleFrame(w http.ResponseWriter, r *http.Request) {
	enc, err := s.encoder(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c, err := s.env.capture()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer c.Close()

	data, err := screencap.WaitConvert(c, enc, s.env.cfg.Capture.Timeout)
	if err != nil {
		status := http.StatusInternalServerError
		if screencap.IsTransient(err) {
			status = http.StatusGatewayTimeout
		}
		http.Error(w, err.Error(), status)
		return
	}
	w.Header().Set("Content-Type", enc.Format.ContentType())
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(data)
}

func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	enc, err := s.encoder(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c, err := s.env.capture()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer c.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied.
		return
	}
	defer conn.Close()

	// The read loop notices the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	log := s.log.With("session", c.ID().String(), "remote", r.RemoteAddr)
	log.Info("screencap: stream started")
	defer log.Info("screencap: stream ended")

	ticker := time.NewTicker(time.Second / time.Duration(s.env.cfg.Serve.FPS))
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(time.Second))
			return
		case <-gone:
			return
		case <-ticker.C:
		}

		data, err := screencap.Convert(c, enc)
		switch {
		case err == nil:
		case screencap.IsTransient(err):
			continue
		case errors.Is(err, screencap.ErrSourceInvalidated):
			if rerr := c.Rebind(); rerr != nil {
				log.Warn("screencap: stream source lost", "err", rerr)
				return
			}
			continue
		default:
			log.Warn("screencap: stream capture failed", "err", err)
			return
		}

		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			return
		}
	}
}
