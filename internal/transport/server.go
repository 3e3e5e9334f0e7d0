package transport

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gobwas/ws"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"driftdb/internal/config"
	"driftdb/internal/conn"
	"driftdb/internal/httpapi"
	"driftdb/internal/metrics"
	"driftdb/internal/store"
)

// Server owns the primary HTTP listener: room REST endpoints, the one-shot
// send adapter, and the WebSocket upgrade route all share one net/http
// server and one gorilla/mux router.
type Server struct {
	cfg     config.Config
	logger  *zap.Logger
	dir     *store.Directory
	metrics *metrics.Registry

	rooms   *httpapi.Rooms
	oneShot *httpapi.OneShot

	httpServer *http.Server
}

// NewServer wires the room directory into a router and an *http.Server
// listening on cfg.Server.Host:cfg.Server.Port.
func NewServer(cfg config.Config, logger *zap.Logger, dir *store.Directory, metricsRegistry *metrics.Registry) *Server {
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		dir:     dir,
		metrics: metricsRegistry,
		rooms:   httpapi.NewRooms(dir, cfg.Rooms.SocketURLBase, cfg.Rooms.HTTPURLBase),
		oneShot: httpapi.NewOneShot(dir),
	}

	router := mux.NewRouter()
	router.HandleFunc("/new", s.rooms.New).Methods(http.MethodPost)
	router.HandleFunc("/room/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.rooms.Get(w, r, mux.Vars(r)["id"])
	}).Methods(http.MethodGet)
	router.HandleFunc("/room/{id}/send", func(w http.ResponseWriter, r *http.Request) {
		s.oneShot.Send(w, r, mux.Vars(r)["id"])
	}).Methods(http.MethodPost)
	router.HandleFunc("/room/{id}/connect", s.handleConnect).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		// bounds how long a client may take sending its request line and
		// headers, including the /connect WebSocket upgrade handshake.
		ReadHeaderTimeout: cfg.Server.HandshakeTimeout,
	}
	return s
}

// Start begins serving in the background and returns without waiting for
// the listener to bind; a bind failure or ListenAndServe's terminal error
// is reported on errCh.
func (s *Server) Start(errCh chan<- error) {
	s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()
}

// Stop gracefully drains in-flight requests within ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handleConnect upgrades /room/{id}/connect to a WebSocket and runs the
// connection until the peer disconnects. Query parameters select wire
// mode: binary=1 switches to CBOR framing, debug=1 subscribes eagerly to
// every key the room creates from here on.
//
// readLoop, and therefore every HandleFrame call it makes, runs on the
// same goroutine net/http's Server.Serve started for this request. net/http
// does not close a hijacked connection after a handler panic, so
// handleConnect recovers a panic itself and closes the Connection, which
// releases its subscriptions and the socket. The writer goroutine started
// by StartWriter recovers on its own.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["id"]
	binary := queryBool(r, "binary")
	debug := queryBool(r, "debug")

	raw, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		if s.metrics != nil {
			s.metrics.Messages.AcceptErrors.Inc()
		}
		s.logger.Debug("websocket upgrade failed", zap.Error(err), zap.String("room", roomID))
		return
	}

	room := s.dir.GetOrCreate(roomID)
	sender := newWSSender(raw, binary)
	c := conn.New(room, sender, conn.Options{
		Binary:     binary,
		Debug:      debug,
		QueueDepth: s.cfg.Rooms.OutboundQueueDepth,
		Logger:     s.logger,
		Metrics:    s.metrics,
	})
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("connection panicked, closing it", zap.Any("panic", r), zap.String("room", roomID))
			_ = c.Close()
		}
	}()

	c.Open()
	c.StartWriter()
	if s.metrics != nil {
		s.metrics.Connections.ActiveConnections.Inc()
		defer s.metrics.Connections.ActiveConnections.Dec()
	}

	err = readLoop(raw, func(payload []byte) {
		c.HandleFrame(payload)
	})
	if err != nil {
		s.logger.Debug("websocket read loop ended", zap.Error(err), zap.String("room", roomID))
	}
	_ = c.Close()
}

func queryBool(r *http.Request, name string) bool {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// DiagnosticsServer serves /healthz and /metrics on a separate listener
// from the room/WebSocket traffic, mirroring the split between client
// traffic and operational surfaces.
type DiagnosticsServer struct {
	httpServer *http.Server
}

// NewDiagnosticsServer builds the /healthz + /metrics listener.
func NewDiagnosticsServer(cfg config.MetricsConfig, dir *store.Directory, registry *metrics.Registry) *DiagnosticsServer {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","rooms":%d,"time":%q}`, dir.RoomCount(), time.Now().UTC().Format(time.RFC3339Nano))
	})
	if registry != nil {
		mux.Handle(cfg.Endpoint, registry.Handler())
	}

	return &DiagnosticsServer{
		httpServer: &http.Server{
			Addr:         cfg.ListenAddr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
	}
}

// Start begins serving; it reports ListenAndServe's terminal error on errCh.
func (d *DiagnosticsServer) Start(errCh chan<- error) {
	go func() {
		errCh <- d.httpServer.ListenAndServe()
	}()
}

// Stop gracefully drains in-flight requests within ctx's deadline.
func (d *DiagnosticsServer) Stop(ctx context.Context) error {
	return d.httpServer.Shutdown(ctx)
}
