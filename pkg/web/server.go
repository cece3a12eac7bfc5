package web

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/param-go/param/pkg/filestore"
	"github.com/param-go/param/pkg/param"
	"github.com/param-go/param/pkg/querysync"
	"github.com/param-go/param/pkg/session"
	"github.com/param-go/param/pkg/widget"
)

// Root declares one named root instance every session gets: the class to
// instantiate, initial values, and the optional query-string mapping
// (attribute path to query key) kept in sync with the page URL.
type Root struct {
	Name    string
	Class   *param.Class
	Initial map[string]any
	Query   map[string]string
}

// Config configures a PanelServer.
type Config struct {
	// Address is the listen address (default ":8686").
	Address string

	// Roots are the root instances built for every session.
	Roots []Root

	// Store persists session snapshots across disconnects and restarts.
	// Default: an in-memory store.
	Store session.SnapshotStore

	// Sessions configures detach windows, per-IP limits, and eviction.
	// Zero value: session.DefaultManagerConfig().
	Sessions session.ManagerConfig

	// Files backs file-reference attributes. When set, uploads are served
	// on POST /upload. Optional.
	Files filestore.Store

	// CheckOrigin validates the WebSocket origin. Default: same-origin.
	CheckOrigin func(r *http.Request) bool

	// TrustForwardedFor reads the client IP from X-Forwarded-For.
	// Enable only behind a trusted proxy.
	TrustForwardedFor bool

	// ReadTimeout is the WebSocket read deadline (default 60s).
	ReadTimeout time.Duration

	// WriteTimeout is the WebSocket write deadline (default 10s).
	WriteTimeout time.Duration

	// PingInterval is the server heartbeat interval (default 30s).
	PingInterval time.Duration

	// ShutdownTimeout bounds graceful shutdown (default 30s).
	ShutdownTimeout time.Duration

	// MaxMessageSize limits inbound WebSocket messages (default 64KB).
	MaxMessageSize int64

	// Logger is the server logger. Default: slog.Default().
	Logger *slog.Logger

	// Metrics overrides the server's Prometheus metrics.
	// Default: NewMetrics().
	Metrics *Metrics

	// Tracing overrides the server's tracer. Default: NewTracing().
	Tracing *TracingConfig
}

func (c *Config) fillDefaults() {
	if c.Address == "" {
		c.Address = ":8686"
	}
	if c.Store == nil {
		c.Store = session.NewMemoryStore()
	}
	if c.Sessions.MaxDetachedSessions == 0 {
		c.Sessions = session.DefaultManagerConfig()
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PingInterval == 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 64 * 1024
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = NewMetrics()
	}
	if c.Tracing == nil {
		c.Tracing = NewTracing()
	}
}

// PanelServer serves auto-generated attribute panels over HTTP: the panel
// shell on /panel, the control transport on /ws, metrics on /metrics, and
// uploads on /upload when a file store is configured.
type PanelServer struct {
	config   *Config
	manager  *session.Manager
	router   chi.Router
	upgrader websocket.Upgrader
	metrics  *Metrics
	tracing  *TracingConfig

	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a PanelServer.
func New(config *Config) *PanelServer {
	if config == nil {
		config = &Config{}
	}
	config.fillDefaults()

	logger := config.Logger.With("component", "web")

	s := &PanelServer{
		config:  config,
		manager: session.NewManager(config.Store, config.Sessions, logger),
		metrics: config.Metrics,
		tracing: config.Tracing,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     config.CheckOrigin,
		},
		logger: logger,
	}
	s.router = s.routes()
	return s
}

func (s *PanelServer) routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/panel", s.handlePanel)
	r.Get("/ws", s.handleWebSocket)
	if s.config.Files != nil {
		r.Method(http.MethodPost, "/upload", filestore.Handler(s.config.Files))
	}
	return r
}

// Handler returns the server's HTTP handler for mounting elsewhere.
func (s *PanelServer) Handler() http.Handler {
	return s.router
}

// Manager returns the server's session manager.
func (s *PanelServer) Manager() *session.Manager {
	return s.manager
}

// ServeHTTP implements http.Handler.
func (s *PanelServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *PanelServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	stats := s.manager.Stats()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"sessions":  stats.Total,
		"connected": stats.Connected,
	})
}

// panelHTML is the minimal shell page. Controls are announced over the
// WebSocket as "ctrl" messages; the page renders whatever it is told.
const panelHTML = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>param panel</title></head>
<body>
<div id="panel"></div>
<script>
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
ws.onopen = () => ws.send(JSON.stringify({
  type: "hello",
  session: sessionStorage.getItem("param-session") || "",
  query: location.search.replace(/^\?/, ""),
}));
ws.onmessage = (e) => {
  const msg = JSON.parse(e.data);
  if (msg.type === "hello") sessionStorage.setItem("param-session", msg.session);
  if (msg.type === "url") {
    const q = new URLSearchParams(location.search);
    q.set(msg.key, msg.val);
    history.replaceState(null, "", location.pathname + "?" + q);
  }
  document.dispatchEvent(new CustomEvent("param", {detail: msg}));
};
</script>
</body>
</html>
`

func (s *PanelServer) handlePanel(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, panelHTML)
}

// handleWebSocket upgrades the connection and runs one panel session until
// the viewer disconnects.
func (s *PanelServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		s.metrics.RecordWebSocketError("upgrade")
		return
	}
	defer conn.Close()

	conn.SetReadLimit(s.config.MaxMessageSize)
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		return nil
	})

	var writeMu sync.Mutex
	send := func(msg Message) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
		return conn.WriteJSON(msg)
	}

	// First frame must be the client hello.
	conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	var hello Message
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != "hello" {
		s.logger.Warn("handshake failed", "error", err)
		s.metrics.RecordWebSocketError("handshake")
		send(Message{Type: "err", Error: "expected hello"})
		return
	}

	ip := s.clientIP(r)
	sess, resumed, err := s.attachSession(hello.Session, ip)
	if err != nil {
		send(Message{Type: "err", Error: err.Error()})
		return
	}

	initial, err := url.ParseQuery(hello.Query)
	if err != nil {
		s.logger.Warn("malformed hello query ignored",
			"session_id", sess.ID(), "error", err)
		initial = url.Values{}
	}

	t := newTransport(sess.ID(), initial, send, s.tracing, s.logger)
	if err := s.attachViews(sess, t); err != nil {
		s.logger.Error("panel construction failed",
			"session_id", sess.ID(), "error", err)
		send(Message{Type: "err", Error: "panel construction failed"})
		s.manager.Remove(sess.ID())
		s.metrics.RecordSessionEnd()
		return
	}

	if err := send(Message{Type: "hello", Session: sess.ID()}); err != nil {
		s.logger.Warn("hello reply failed", "session_id", sess.ID(), "error", err)
		sess.DetachViews()
		s.manager.OnDisconnect(sess.ID())
		s.metrics.RecordSessionDetach()
		return
	}

	s.logger.Info("session attached",
		"session_id", sess.ID(), "ip", ip, "resumed", resumed)

	done := make(chan struct{})
	go s.pingLoop(conn, &writeMu, done)

	s.readLoop(r.Context(), conn, sess, t)
	close(done)

	sess.DetachViews()
	s.manager.OnDisconnect(sess.ID())
	s.metrics.RecordSessionDetach()
	s.logger.Info("session detached", "session_id", sess.ID())
}

// attachSession resumes an existing session or creates a new one.
func (s *PanelServer) attachSession(resumeID, ip string) (*session.Session, bool, error) {
	if resumeID != "" {
		live, snap, err := s.manager.OnReconnect(resumeID)
		switch {
		case err == nil && live != nil:
			// Still in memory: drop the dead connection's views, keep state.
			live.DetachViews()
			s.metrics.RecordSessionResume()
			return live, true, nil

		case err == nil:
			// Snapshot survived a restart; rebuild the session around it.
			sess, nerr := s.newSession(resumeID)
			if nerr != nil {
				return nil, false, nerr
			}
			if rerr := sess.Restore(snap); rerr != nil {
				s.logger.Warn("snapshot restore failed, starting fresh",
					"session_id", resumeID, "error", rerr)
			}
			if rerr := s.manager.Register(sess, ip); rerr != nil {
				sess.Close()
				return nil, false, rerr
			}
			s.metrics.RecordSessionRestore()
			return sess, true, nil

		case errors.Is(err, session.ErrSessionNotFound),
			errors.Is(err, session.ErrSessionExpired):
			s.logger.Info("session not resumable, starting fresh",
				"session_id", resumeID, "reason", err)

		default:
			return nil, false, err
		}
	}

	if err := s.manager.CheckIPLimit(ip); err != nil {
		return nil, false, err
	}
	sess, err := s.newSession(newSessionID())
	if err != nil {
		return nil, false, err
	}
	if err := s.manager.Register(sess, ip); err != nil {
		sess.Close()
		return nil, false, err
	}
	s.metrics.RecordSessionStart()
	return sess, false, nil
}

// newSession builds a session with its dispatcher and configured roots.
func (s *PanelServer) newSession(id string) (*session.Session, error) {
	logger := s.logger.With("session_id", id)
	disp := param.NewDispatcher(
		param.WithLogger(logger),
		param.WithObserver(s.metrics.Observer()),
		param.WithHazardFunc(func(h param.Hazard) {
			logger.Warn("double-invocation hazard", "paths", strings.Join(h.Paths, " "))
		}),
	)

	sess := session.New(id,
		session.WithDispatcher(disp),
		session.WithLogger(logger),
	)
	for _, root := range s.config.Roots {
		if _, err := sess.AddRoot(root.Name, root.Class, root.Initial); err != nil {
			sess.Close()
			return nil, err
		}
	}
	return sess, nil
}

// attachViews builds a panel per root and one syncer over the connection's
// location, all registered on the session for teardown.
func (s *PanelServer) attachViews(sess *session.Session, t *transport) error {
	for _, root := range s.config.Roots {
		inst, ok := sess.Root(root.Name)
		if !ok {
			return fmt.Errorf("web: session %s has no root %q", sess.ID(), root.Name)
		}
		p, err := widget.NewPanel(t, inst,
			widget.WithBindOptions(
				widget.WithBindLogger(s.logger),
				widget.WithErrorFunc(func(err error) {
					t.sendError(err.Error())
				}),
			),
		)
		if err != nil {
			return err
		}
		sess.AttachPanel(p)
	}

	sy := querysync.NewSyncer(t.Location(), querysync.WithSyncLogger(s.logger))
	attached := false
	for _, root := range s.config.Roots {
		if len(root.Query) == 0 {
			continue
		}
		inst, _ := sess.Root(root.Name)
		if err := sy.Sync(inst, root.Query); err != nil {
			sy.Close()
			return err
		}
		attached = true
	}
	if attached {
		sess.AttachSyncer(sy)
	} else {
		sy.Close()
	}
	return nil
}

func (s *PanelServer) readLoop(ctx context.Context, conn *websocket.Conn, sess *session.Session, t *transport) {
	for {
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure) {
				s.logger.Error("read error", "session_id", sess.ID(), "error", err)
				s.metrics.RecordWebSocketError("read")
			}
			return
		}

		sess.Touch()
		s.manager.Touch(sess.ID())

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("malformed message", "session_id", sess.ID(), "error", err)
			s.metrics.RecordWebSocketError("decode")
			t.sendError("malformed message")
			continue
		}
		t.handle(ctx, msg)
	}
}

func (s *PanelServer) pingLoop(conn *websocket.Conn, writeMu *sync.Mutex, done <-chan struct{}) {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (s *PanelServer) clientIP(r *http.Request) string {
	if s.config.TrustForwardedFor {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first := strings.TrimSpace(strings.Split(fwd, ",")[0])
			if first != "" {
				return first
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// newSessionID returns a 128-bit random hex identifier.
func newSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(b)
}

// Run starts the server and blocks until a shutdown signal or a listen
// error.
func (s *PanelServer) Run() error {
	s.httpServer = &http.Server{
		Addr:              s.config.Address,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "address", s.config.Address)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != http.ErrServerClosed {
			return err
		}
		return nil

	case <-shutdown:
		s.logger.Info("shutting down...")
		return s.Shutdown(context.Background())
	}
}

// Shutdown persists sessions and stops the HTTP server.
func (s *PanelServer) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.manager.Shutdown(ctx); err != nil {
		s.logger.Error("session shutdown error", "error", err)
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.logger.Info("server shutdown complete")
	return nil
}
