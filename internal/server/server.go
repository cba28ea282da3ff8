package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"smilecam/internal/capture"
	"smilecam/internal/config"
	"smilecam/internal/events"
	"smilecam/internal/metrics"
	"smilecam/internal/stream"
	"smilecam/internal/types"
)

//go:embed web/*
var webFS embed.FS

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10
)

type Options struct {
	Config    config.AppConfig
	Open      capture.Opener
	Processor stream.Processor
	Metrics   *metrics.Counters
	Log       zerolog.Logger
	// StatusFn adds entries to /status, e.g. broker statistics.
	StatusFn func() map[string]any
}

type Server struct {
	upgrader websocket.Upgrader
	clients  map[*websocket.Conn]*sync.Mutex
	mu       sync.Mutex

	cfg      config.AppConfig
	open     capture.Opener
	proc     stream.Processor
	metrics  *metrics.Counters
	log      zerolog.Logger
	statusFn func() map[string]any

	messages chan any
	// One viewer drives the camera at a time.
	streaming atomic.Bool
	started   time.Time
}

func New(opts Options) *Server {
	m := opts.Metrics
	if m == nil {
		m = &metrics.Counters{}
	}
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:  make(map[*websocket.Conn]*sync.Mutex),
		cfg:      opts.Config,
		open:     opts.Open,
		proc:     opts.Processor,
		metrics:  m,
		log:      opts.Log,
		statusFn: opts.StatusFn,
		messages: make(chan any, 64),
		started:  time.Now(),
	}
}

func (s *Server) Handler() (http.Handler, error) {
	sub, err := fs.Sub(webFS, "web")
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.FS(sub)))
	mux.HandleFunc("/video_feed", s.handleVideoFeed)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/config", s.handleConfig)
	mux.HandleFunc("/status", s.handleStatus)
	return mux, nil
}

// Run serves until ctx ends. Open streams are cancelled through their request
// context when ctx ends.
func (s *Server) Run(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(s.cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	go s.broadcast(ctx)

	s.log.Info().Int("port", s.cfg.Port).Msgf("serving at http://localhost:%d", s.cfg.Port)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// EventSink forwards detection events to websocket clients. Events are
// dropped when the broadcast buffer is full.
func (s *Server) EventSink() events.Sink {
	return events.Func("websocket", func(_ context.Context, ev types.Event) error {
		select {
		case s.messages <- map[string]any{"type": "event", "event": ev}:
		default:
		}
		return nil
	})
}

func (s *Server) handleVideoFeed(w http.ResponseWriter, r *http.Request) {
	if !s.streaming.CompareAndSwap(false, true) {
		s.metrics.ViewersRejected.Add(1)
		http.Error(w, "camera busy", http.StatusServiceUnavailable)
		return
	}
	defer s.streaming.Store(false)

	src, err := s.open()
	if err != nil {
		s.log.Error().Err(err).Msg("open capture source failed")
		http.Error(w, "camera unavailable", http.StatusServiceUnavailable)
		return
	}
	feed := stream.NewFeed(src, s.proc, s.cfg.Stream.JPEGQuality, s.metrics)
	defer feed.Close()

	s.metrics.Viewers.Add(1)
	defer s.metrics.Viewers.Add(-1)

	w.Header().Set("Content-Type", stream.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	err = stream.Serve(r.Context(), w, feed)
	faces, smiles := feed.Detections()
	switch {
	case errors.Is(err, capture.ErrClosed):
		s.log.Debug().Uint64("frames", feed.Frames()).Uint64("faces", faces).Uint64("smiles", smiles).Msg("capture closed, stream ended")
	case r.Context().Err() != nil:
		s.log.Debug().Uint64("frames", feed.Frames()).Uint64("faces", faces).Uint64("smiles", smiles).Msg("viewer disconnected")
	default:
		s.log.Warn().Err(err).Uint64("frames", feed.Frames()).Msg("stream aborted")
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	s.mu.Lock()
	writeMu := &sync.Mutex{}
	s.clients[conn] = writeMu
	s.mu.Unlock()

	_ = s.writeJSON(conn, writeMu, s.configPayload())

	go func() {
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(pingEvery)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := s.writeMessage(conn, writeMu, websocket.PingMessage, nil); err != nil {
						_ = conn.Close()
						return
					}
				}
			}
		}()
		defer close(done)
		defer s.removeClient(conn)
		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}
			var request map[string]any
			if err := json.Unmarshal(payload, &request); err != nil {
				continue
			}
			if request["type"] == "status_request" {
				_ = s.writeJSON(conn, writeMu, map[string]any{"type": "status", "status": s.statusPayload()})
			}
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.configPayload())
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.statusPayload())
}

func (s *Server) configPayload() map[string]any {
	return map[string]any{
		"type":          "config",
		"port":          s.cfg.Port,
		"debug":         s.cfg.Debug,
		"camera_device": s.cfg.Camera.Device,
		"face":          s.cfg.Detection.Face,
		"smile":         s.cfg.Detection.Smile,
		"notify_url":    s.cfg.Notify.URL,
		"boundary":      stream.Boundary,
	}
}

func (s *Server) statusPayload() map[string]any {
	payload := map[string]any{}
	if s.statusFn != nil {
		for k, v := range s.statusFn() {
			payload[k] = v
		}
	}
	metricsPayload := s.metrics.Snapshot()
	metricsPayload["ws_clients"] = s.clientCount()
	payload["metrics"] = metricsPayload
	payload["streaming"] = s.streaming.Load()
	payload["uptime_seconds"] = int64(time.Since(s.started).Seconds())
	return payload
}

func (s *Server) broadcast(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case message := <-s.messages:
			payload, err := json.Marshal(message)
			if err != nil {
				continue
			}
			var stale []*websocket.Conn
			s.mu.Lock()
			for conn, writeMu := range s.clients {
				if err := s.writeMessage(conn, writeMu, websocket.TextMessage, payload); err != nil {
					stale = append(stale, conn)
				}
			}
			s.mu.Unlock()
			for _, conn := range stale {
				s.removeClient(conn)
			}
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	conn.Close()
}

func (s *Server) clientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) writeJSON(conn *websocket.Conn, writeMu *sync.Mutex, payload any) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(payload)
}

func (s *Server) writeMessage(conn *websocket.Conn, writeMu *sync.Mutex, messageType int, payload []byte) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, payload)
}
