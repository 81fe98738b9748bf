// Package statusapi — HTTP API состояния узла: снимок сессии, оценщика,
// очереди и задачи моторов, отчёт метрик и поток обновлений по websocket.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/shiwa/lockstep/internal/logger"
	"github.com/shiwa/lockstep/internal/metrics"
	"github.com/shiwa/lockstep/internal/motor"
	"github.com/shiwa/lockstep/internal/session"
)

// DefaultPushInterval — период рассылки по /ws.
const DefaultPushInterval = time.Second

const (
	writeWait       = 2 * time.Second
	shutdownTimeout = 2 * time.Second
)

// Node — узел сессии (Primary или Secondary).
type Node interface {
	Status() session.Status
}

// Motor — счётчики задачи моторов.
type Motor interface {
	State() motor.State
	Executed() uint64
	Failures() uint64
}

// MotorStatus — состояние задачи моторов.
type MotorStatus struct {
	State    string `json:"state"`
	Executed uint64 `json:"executed"`
	Failures uint64 `json:"failures"`
}

// Report — ответ GET /status и сообщение потока /ws.
type Report struct {
	Session session.Status   `json:"session"`
	Motor   *MotorStatus     `json:"motor,omitempty"`
	Metrics metrics.Snapshot `json:"metrics"`
}

// Server отдаёт состояние узла по HTTP.
type Server struct {
	node     Node
	motor    Motor
	metrics  *metrics.Metrics
	push     time.Duration
	upgrader websocket.Upgrader
	router   *mux.Router
	log      logger.Component
}

// Option настраивает Server.
type Option func(*Server)

// WithMotor добавляет в отчёт счётчики задачи моторов.
func WithMotor(m Motor) Option { return func(s *Server) { s.motor = m } }

// WithPushInterval меняет период рассылки по /ws.
func WithPushInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.push = d
		}
	}
}

// New создаёт сервер. node и m обязательны.
func New(node Node, m *metrics.Metrics, opts ...Option) (*Server, error) {
	if node == nil || m == nil {
		return nil, errors.New("statusapi: nil node or metrics")
	}
	s := &Server{
		node:    node,
		metrics: m,
		push:    DefaultPushInterval,
		log:     logger.With("status"),
	}
	for _, o := range opts {
		o(s)
	}
	s.upgrader = websocket.Upgrader{
		// API только для чтения, без cookie
		CheckOrigin: func(*http.Request) bool { return true },
	}

	r := mux.NewRouter()
	r.HandleFunc("/status", s.status).Methods(http.MethodGet)
	r.HandleFunc("/metrics/report", s.report).Methods(http.MethodGet)
	r.HandleFunc("/metrics/{action:enable|disable|reset}", s.metricsAction).Methods(http.MethodPost)
	r.HandleFunc("/ws", s.stream)
	s.router = r
	return s, nil
}

// Handler — корневой обработчик (для тестов и встраивания).
func (s *Server) Handler() http.Handler { return s.router }

// Snapshot собирает текущий отчёт.
func (s *Server) Snapshot() Report {
	rep := Report{
		Session: s.node.Status(),
		Metrics: s.metrics.Snapshot(),
	}
	if s.motor != nil {
		rep.Motor = &MotorStatus{
			State:    s.motor.State().String(),
			Executed: s.motor.Executed(),
			Failures: s.motor.Failures(),
		}
	}
	return rep
}

// Run слушает listen до отмены ctx. Пустой listen отключает API.
func (s *Server) Run(ctx context.Context, listen string) error {
	if listen == "" {
		s.log.Debug("disabled")
		return nil
	}
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("status listen %s: %w", listen, err)
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.log.Info("listening on http://%s", ln.Addr())

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		return fmt.Errorf("status serve: %w", err)
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("status shutdown: %w", err)
	}
	return nil
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.Snapshot())
}

func (s *Server) report(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, s.metrics.Report())
}

func (s *Server) metricsAction(w http.ResponseWriter, r *http.Request) {
	switch mux.Vars(r)["action"] {
	case "enable":
		s.metrics.Enable(r.URL.Query().Get("verbose") == "1")
	case "disable":
		s.metrics.Disable()
	case "reset":
		s.metrics.Reset()
	}
	writeJSON(w, s.metrics.Snapshot())
}

// stream шлёт Report сразу после подключения и затем каждые push.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	// входящие кадры не нужны, читаем только чтобы заметить закрытие
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	t := time.NewTicker(s.push)
	defer t.Stop()
	for {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(s.Snapshot()); err != nil {
			s.log.Debug("websocket write: %v", err)
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case <-t.C:
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
