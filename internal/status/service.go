// Package status serves a small read-only JSON view of the bot: liveness,
// the stored snapshot, current matches and recent notifications.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"coefbot/internal/notifier"
	"coefbot/internal/runtime/supervisor"
	"coefbot/internal/supply"
	logx "coefbot/pkg/logx"
)

type Config struct {
	Enabled bool
	Addr    string
	// Pprof mounts net/http/pprof under /debug/pprof/.
	Pprof bool
}

// Source is the read API the endpoints consume.
type Source interface {
	PollerState() string
	Ping(ctx context.Context) error
	Peek(ctx context.Context) (supply.Snapshot, bool, error)
	CheckNow(ctx context.Context) ([]supply.Entry, error)
	Matches(ctx context.Context, dates supply.DateFilter) ([]supply.Entry, error)
	History() []notifier.HistoryItem
}

// Runtime reports goroutine stats; *supervisor.Supervisor satisfies it.
type Runtime interface {
	Counters() supervisor.Counters
	Tasks() []supervisor.TaskStats
}

type Service struct {
	mu  sync.Mutex
	cfg Config
	src Source
	rt  Runtime
	log logx.Logger

	sup *supervisor.Supervisor
}

func New(cfg Config, src Source, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, src: src, log: log.With(logx.Comp("status"))}
}

// Handler builds the router; exposed for tests and embedding.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(10 * time.Second))
		r.Get("/healthz", s.handleHealth)
		r.Get("/snapshot", s.handleSnapshot)
		r.Get("/matches", s.handleMatches)
		r.Get("/notifications", s.handleNotifications)
	})

	s.mu.Lock()
	pprof := s.cfg.Pprof
	s.mu.Unlock()
	if pprof {
		// Profiles run longer than the API timeout.
		r.Mount("/debug", middleware.Profiler())
	}
	return r
}

func (s *Service) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("took", time.Since(start)),
			logx.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// SetRuntime attaches the app supervisor whose tasks /healthz reports.
func (s *Service) SetRuntime(rt Runtime) {
	s.mu.Lock()
	s.rt = rt
	s.mu.Unlock()
}

type healthView struct {
	Status  string                 `json:"status"`
	Poller  string                 `json:"poller"`
	Storage string                 `json:"storage"`
	Tasks   *supervisor.Counters   `json:"tasks,omitempty"`
	Workers []supervisor.TaskStats `json:"workers,omitempty"`
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := healthView{Status: "ok", Poller: s.src.PollerState(), Storage: "ok"}
	code := http.StatusOK
	if err := s.src.Ping(r.Context()); err != nil {
		body.Status = "degraded"
		body.Storage = err.Error()
		code = http.StatusServiceUnavailable
	}

	s.mu.Lock()
	rt := s.rt
	s.mu.Unlock()
	if rt != nil {
		c := rt.Counters()
		body.Tasks = &c
		body.Workers = rt.Tasks()
	}
	writeJSON(w, code, body)
}

type snapshotView struct {
	Present    bool      `json:"present"`
	FetchedAt  time.Time `json:"fetched_at,omitzero"`
	Entries    int       `json:"entries"`
	Warehouses int       `json:"warehouses"`
	BoxTypes   []string  `json:"box_types"`
}

func (s *Service) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, found, err := s.src.Peek(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotView{
		Present:    found,
		FetchedAt:  snap.FetchedAt,
		Entries:    snap.Len(),
		Warehouses: len(snap.Warehouses()),
		BoxTypes:   snap.BoxTypes(),
	})
}

type matchesView struct {
	Dates   string         `json:"dates"`
	Count   int            `json:"count"`
	Lines   []string       `json:"lines"`
	Entries []supply.Entry `json:"entries"`
}

// handleMatches uses the tracked dates, or ?from=&to= (YYYY-MM-DD, inclusive).
func (s *Service) handleMatches(w http.ResponseWriter, r *http.Request) {
	from := strings.TrimSpace(r.URL.Query().Get("from"))
	to := strings.TrimSpace(r.URL.Query().Get("to"))

	var (
		entries []supply.Entry
		err     error
		label   = "tracked"
	)
	switch {
	case from == "" && to == "":
		entries, err = s.src.CheckNow(r.Context())
	case from == "" || to == "":
		writeError(w, http.StatusBadRequest, errors.New("from and to must be given together"))
		return
	default:
		start, perr := supply.ParseDay(from)
		if perr != nil {
			writeError(w, http.StatusBadRequest, perr)
			return
		}
		end, perr := supply.ParseDay(to)
		if perr != nil {
			writeError(w, http.StatusBadRequest, perr)
			return
		}
		f := supply.DateRange(start, end)
		label = f.String()
		entries, err = s.src.Matches(r.Context(), f)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, e.Line())
	}
	if entries == nil {
		entries = []supply.Entry{}
	}
	writeJSON(w, http.StatusOK, matchesView{Dates: label, Count: len(entries), Lines: lines, Entries: entries})
}

func (s *Service) handleNotifications(w http.ResponseWriter, _ *http.Request) {
	h := s.src.History()
	if h == nil {
		h = []notifier.HistoryItem{}
	}
	writeJSON(w, http.StatusOK, h)
}

// Start is idempotent and a no-op while disabled.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || !s.cfg.Enabled {
		return
	}
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log), supervisor.WithCancelOnError(false))
	s.sup.GoRestart("http.serve", s.serveOnce,
		supervisor.WithPublishFirstError(true),
		supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
	)
}

func (s *Service) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	addr := strings.TrimSpace(s.cfg.Addr)
	s.mu.Unlock()
	if addr == "" {
		addr = "127.0.0.1:8089"
	}
	if !isLoopbackAddr(addr) {
		s.log.Warn("status endpoint bound to a non-loopback address", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       time.Minute,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	s.log.Info("status listening", logx.String("addr", ln.Addr().String()))
	err = srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) || ctx.Err() != nil {
		return nil
	}
	return err
}

// Stop shuts the server down within ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	if err := sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("status stop", logx.Err(err))
	}
	s.log.Info("status stopped")
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
