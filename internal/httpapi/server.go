// Package httpapi exposes the scheduling and tracking operations over a
// small JSON HTTP surface. It is a thin adapter: request decoding, error
// mapping, nothing else.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"ayod/internal/jobstore"
	"ayod/internal/schedule"
	"ayod/internal/timepoint"
	"ayod/internal/tracker"
	logx "ayod/pkg/logx"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Scheduler is the slice of the scheduling facade the API needs.
type Scheduler interface {
	Schedule(ctx context.Context, cmd schedule.Command) error
	Cancel(ctx context.Context, cmd schedule.Command) error
	Query(ctx context.Context, cmd schedule.Command) (schedule.Descriptor, error)
}

// Tracking is the slice of the engagement tracker the API needs.
type Tracking interface {
	Init(ctx context.Context, userID, nickname, timePoint string) error
	Record(ctx context.Context, userID, topic, value, timePoint string) error
	Get(ctx context.Context, userID string) (tracker.Entry, error)
	Delete(ctx context.Context, userID string) error
}

// StatusSource supplies the /v1/status report.
type StatusSource interface {
	StatusReport() StatusReport
}

// StatusReport is the /v1/status body.
type StatusReport struct {
	Pending []PendingJob  `json:"pending"`
	Recent  []RecentEvent `json:"recent"`
}

type PendingJob struct {
	ID      string    `json:"id"`
	Kind    string    `json:"kind"`
	Label   string    `json:"label,omitempty"`
	NextDue time.Time `json:"next_due"`
}

type RecentEvent struct {
	Type  string    `json:"type"`
	ID    string    `json:"id"`
	Label string    `json:"label,omitempty"`
	At    time.Time `json:"at"`
	Err   string    `json:"err,omitempty"`
}

type Config struct {
	Addr              string
	ReadHeaderTimeout time.Duration
}

type Server struct {
	cfg     Config
	log     logx.Logger
	sched   Scheduler
	track   Tracking
	status  StatusSource
	httpSrv *http.Server
}

func New(cfg Config, sched Scheduler, track Tracking, status StatusSource, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8090"
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{cfg: cfg, log: log, sched: sched, track: track, status: status}
	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	return s
}

// Routes builds the mux. Exposed for handler tests.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/reminders", s.handleSchedule)
	mux.HandleFunc("DELETE /v1/reminders", s.handleCancel)
	mux.HandleFunc("GET /v1/reminders", s.handleQuery)
	mux.HandleFunc("POST /v1/tracker", s.handleTrackerInit)
	mux.HandleFunc("POST /v1/tracker/events", s.handleTrackerRecord)
	mux.HandleFunc("GET /v1/tracker/{user}", s.handleTrackerGet)
	mux.HandleFunc("DELETE /v1/tracker/{user}", s.handleTrackerDelete)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	return mux
}

func (s *Server) Start() {
	go func() {
		s.log.Info("http api listening", logx.String("addr", s.cfg.Addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http api failed", logx.Err(err))
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

type reminderRequest struct {
	UserID      string `json:"user_id"`
	Intent      string `json:"intent_name"`
	Qualifier   string `json:"qualifier"`
	TimePoint   string `json:"time_point,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

func (r reminderRequest) command() schedule.Command {
	return schedule.Command{
		UserID:      strings.TrimSpace(r.UserID),
		Intent:      strings.TrimSpace(r.Intent),
		Qualifier:   strings.TrimSpace(r.Qualifier),
		TimePoint:   strings.TrimSpace(r.TimePoint),
		DisplayName: r.DisplayName,
	}
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req reminderRequest
	if !s.decode(w, r, &req) {
		return
	}
	cmd := req.command()
	if cmd.UserID == "" || cmd.Intent == "" {
		s.fail(w, http.StatusBadRequest, errors.New("user_id and intent_name are required"))
		return
	}
	if err := s.sched.Schedule(r.Context(), cmd); err != nil {
		s.failMapped(w, err)
		return
	}
	s.reply(w, http.StatusCreated, map[string]string{"id": cmd.BaseID()})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req reminderRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.sched.Cancel(r.Context(), req.command()); err != nil {
		s.failMapped(w, err)
		return
	}
	s.reply(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cmd := schedule.Command{
		UserID:    strings.TrimSpace(q.Get("user_id")),
		Intent:    strings.TrimSpace(q.Get("intent_name")),
		Qualifier: strings.TrimSpace(q.Get("qualifier")),
	}
	desc, err := s.sched.Query(r.Context(), cmd)
	if err != nil {
		s.failMapped(w, err)
		return
	}
	s.reply(w, http.StatusOK, desc)
}

type trackerInitRequest struct {
	UserID    string `json:"user_id"`
	Nickname  string `json:"nickname,omitempty"`
	TimePoint string `json:"time_point"`
}

func (s *Server) handleTrackerInit(w http.ResponseWriter, r *http.Request) {
	var req trackerInitRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		s.fail(w, http.StatusBadRequest, errors.New("user_id is required"))
		return
	}
	if err := s.track.Init(r.Context(), req.UserID, req.Nickname, req.TimePoint); err != nil {
		s.failMapped(w, err)
		return
	}
	s.reply(w, http.StatusCreated, map[string]string{"status": "initialized"})
}

type trackerEventRequest struct {
	UserID    string `json:"user_id"`
	Topic     string `json:"topic_name"`
	Value     string `json:"query_value,omitempty"`
	TimePoint string `json:"time_point,omitempty"`
}

func (s *Server) handleTrackerRecord(w http.ResponseWriter, r *http.Request) {
	var req trackerEventRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.track.Record(r.Context(), req.UserID, req.Topic, req.Value, req.TimePoint); err != nil {
		s.failMapped(w, err)
		return
	}
	s.reply(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (s *Server) handleTrackerGet(w http.ResponseWriter, r *http.Request) {
	entry, err := s.track.Get(r.Context(), r.PathValue("user"))
	if err != nil {
		s.failMapped(w, err)
		return
	}
	s.reply(w, http.StatusOK, entry)
}

func (s *Server) handleTrackerDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.track.Delete(r.Context(), r.PathValue("user")); err != nil {
		s.failMapped(w, err)
		return
	}
	s.reply(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		s.reply(w, http.StatusOK, StatusReport{})
		return
	}
	s.reply(w, http.StatusOK, s.status.StatusReport())
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	defer func() { _ = r.Body.Close() }()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func (s *Server) failMapped(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, timepoint.ErrBadTimestamp),
		errors.Is(err, schedule.ErrUnknownKind),
		errors.Is(err, tracker.ErrUnknownTopic),
		errors.Is(err, tracker.ErrBadStatus):
		s.fail(w, http.StatusBadRequest, err)
	case errors.Is(err, jobstore.ErrAlreadyExists),
		errors.Is(err, tracker.ErrAlreadyExists):
		s.fail(w, http.StatusConflict, err)
	case errors.Is(err, jobstore.ErrNotFound),
		errors.Is(err, tracker.ErrNotFound):
		s.fail(w, http.StatusNotFound, err)
	case errors.Is(err, schedule.ErrPairPartial):
		s.fail(w, http.StatusBadGateway, err)
	default:
		s.log.Error("request failed", logx.Err(err))
		s.fail(w, http.StatusInternalServerError, errors.New("internal error"))
	}
}

func (s *Server) fail(w http.ResponseWriter, code int, err error) {
	s.reply(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) reply(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("response encode failed", logx.Err(err))
	}
}
