package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ayod/internal/jobstore"
	"ayod/internal/schedule"
	"ayod/internal/timepoint"
	"ayod/internal/tracker"
	logx "ayod/pkg/logx"
)

type fakeScheduler struct {
	scheduleErr error
	cancelErr   error
	queryErr    error
	lastCmd     schedule.Command
	desc        schedule.Descriptor
}

func (f *fakeScheduler) Schedule(_ context.Context, cmd schedule.Command) error {
	f.lastCmd = cmd
	return f.scheduleErr
}

func (f *fakeScheduler) Cancel(_ context.Context, cmd schedule.Command) error {
	f.lastCmd = cmd
	return f.cancelErr
}

func (f *fakeScheduler) Query(_ context.Context, cmd schedule.Command) (schedule.Descriptor, error) {
	f.lastCmd = cmd
	return f.desc, f.queryErr
}

type fakeTracking struct {
	initErr   error
	recordErr error
	getErr    error
	deleteErr error
	entry     tracker.Entry
}

func (f *fakeTracking) Init(context.Context, string, string, string) error { return f.initErr }
func (f *fakeTracking) Record(context.Context, string, string, string, string) error {
	return f.recordErr
}
func (f *fakeTracking) Get(context.Context, string) (tracker.Entry, error) {
	return f.entry, f.getErr
}
func (f *fakeTracking) Delete(context.Context, string) error { return f.deleteErr }

type fakeStatus struct{ report StatusReport }

func (f *fakeStatus) StatusReport() StatusReport { return f.report }

func newTestServer(sched *fakeScheduler, track *fakeTracking, status StatusSource) *Server {
	return New(Config{Addr: "127.0.0.1:0"}, sched, track, status, logx.Nop())
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestScheduleOK(t *testing.T) {
	t.Parallel()
	sched := &fakeScheduler{}
	srv := newTestServer(sched, &fakeTracking{}, nil)

	body := `{"user_id":"u1","intent_name":"take_pill","qualifier":"m","time_point":"2024-03-04T08:00:00.000+01:00"}`
	rec := do(t, srv.Routes(), http.MethodPost, "/v1/reminders", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if sched.lastCmd.BaseID() != "u1take_pillm" {
		t.Fatalf("forwarded id = %q", sched.lastCmd.BaseID())
	}
	if !strings.Contains(rec.Body.String(), "u1take_pillm") {
		t.Fatalf("body = %s, want job id", rec.Body.String())
	}
}

func TestScheduleValidation(t *testing.T) {
	t.Parallel()
	srv := newTestServer(&fakeScheduler{}, &fakeTracking{}, nil)

	tests := []struct {
		name string
		body string
	}{
		{"missing user", `{"intent_name":"take_pill","qualifier":"m"}`},
		{"missing intent", `{"user_id":"u1","qualifier":"m"}`},
		{"unknown field", `{"user_id":"u1","intent_name":"x","qualifier":"m","bogus":1}`},
		{"not json", `take_pill at eight`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := do(t, srv.Routes(), http.MethodPost, "/v1/reminders", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"bad timestamp", fmt.Errorf("resolve: %w", timepoint.ErrBadTimestamp), http.StatusBadRequest},
		{"unknown kind", schedule.ErrUnknownKind, http.StatusBadRequest},
		{"duplicate", jobstore.ErrAlreadyExists, http.StatusConflict},
		{"missing", jobstore.ErrNotFound, http.StatusNotFound},
		{"pair partial", schedule.ErrPairPartial, http.StatusBadGateway},
		{"opaque", fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}
	body := `{"user_id":"u1","intent_name":"take_pill","qualifier":"m","time_point":"2024-03-04T08:00:00.000+01:00"}`
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := newTestServer(&fakeScheduler{scheduleErr: tt.err}, &fakeTracking{}, nil)
			rec := do(t, srv.Routes(), http.MethodPost, "/v1/reminders", body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestCancelAndQuery(t *testing.T) {
	t.Parallel()
	sched := &fakeScheduler{desc: schedule.Descriptor{
		Kind: schedule.KindAppointment,
		Slots: []schedule.Slot{
			{ID: "u1clinica", Scheduled: true, Label: "'Checkup' on Tue 2024-03-05 03:30 PM"},
			{ID: "u1clinica#rem24", Scheduled: false},
		},
	}}
	srv := newTestServer(sched, &fakeTracking{}, nil)

	rec := do(t, srv.Routes(), http.MethodDelete, "/v1/reminders",
		`{"user_id":"u1","intent_name":"clinic","qualifier":"a"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d", rec.Code)
	}

	rec = do(t, srv.Routes(), http.MethodGet,
		"/v1/reminders?user_id=u1&intent_name=clinic&qualifier=a", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("query status = %d", rec.Code)
	}
	if sched.lastCmd.UserID != "u1" || sched.lastCmd.Qualifier != "a" {
		t.Fatalf("query cmd = %+v", sched.lastCmd)
	}
	if !strings.Contains(rec.Body.String(), "#rem24") {
		t.Fatalf("query body missing reminder slot: %s", rec.Body.String())
	}
}

func TestTrackerRoutes(t *testing.T) {
	t.Parallel()
	track := &fakeTracking{entry: tracker.Entry{UserID: "u1", Nickname: "Ada"}}
	srv := newTestServer(&fakeScheduler{}, track, nil)

	rec := do(t, srv.Routes(), http.MethodPost, "/v1/tracker",
		`{"user_id":"u1","nickname":"Ada","time_point":"2024-03-04T08:00:00.000+01:00"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("init status = %d", rec.Code)
	}

	rec = do(t, srv.Routes(), http.MethodPost, "/v1/tracker/events",
		`{"user_id":"u1","topic_name":"faq_question"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("record status = %d", rec.Code)
	}

	rec = do(t, srv.Routes(), http.MethodGet, "/v1/tracker/u1", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Ada") {
		t.Fatalf("get status = %d body = %s", rec.Code, rec.Body.String())
	}

	rec = do(t, srv.Routes(), http.MethodDelete, "/v1/tracker/u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}

	track.initErr = tracker.ErrAlreadyExists
	rec = do(t, srv.Routes(), http.MethodPost, "/v1/tracker",
		`{"user_id":"u1","time_point":"0"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate init status = %d", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()
	status := &fakeStatus{report: StatusReport{
		Pending: []PendingJob{{ID: "u1take_pillm", Kind: "recurring-daily", NextDue: time.Now()}},
		Recent:  []RecentEvent{{Type: "job.fired", ID: "u1take_pillm", At: time.Now()}},
	}}
	srv := newTestServer(&fakeScheduler{}, &fakeTracking{}, status)

	rec := do(t, srv.Routes(), http.MethodGet, "/v1/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "u1take_pillm") {
		t.Fatalf("body = %s", rec.Body.String())
	}

	bare := newTestServer(&fakeScheduler{}, &fakeTracking{}, nil)
	rec = do(t, bare.Routes(), http.MethodGet, "/v1/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("nil source status = %d", rec.Code)
	}
}
