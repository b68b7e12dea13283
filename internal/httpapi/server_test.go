package httpapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rivernews/slack-middleware-server/internal/archive"
	"github.com/rivernews/slack-middleware-server/internal/httpapi"
	"github.com/rivernews/slack-middleware-server/internal/model"
	"github.com/rivernews/slack-middleware-server/internal/pubsub"
	"github.com/rivernews/slack-middleware-server/internal/queue"

	"github.com/stretchr/testify/require"
)

type fakeSupervisor struct {
	reqs []model.SupervisorJobRequest
	err  error
}

func (s *fakeSupervisor) Enqueue(_ context.Context, req model.SupervisorJobRequest) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.reqs = append(s.reqs, req)
	return "sup-1", nil
}

func (s *fakeSupervisor) Await(_ context.Context, id string) (string, error) {
	return "supervisor job " + id + " scraped 1 organizations", nil
}

type fakeQueue struct {
	name    string
	records map[string]queue.Record
	paused  bool
}

func (q *fakeQueue) Name() string { return q.name }

func (q *fakeQueue) Get(_ context.Context, id string) (queue.Record, error) {
	r, ok := q.records[id]
	if !ok {
		return queue.Record{}, queue.ErrJobNotFound
	}
	return r, nil
}

func (q *fakeQueue) Pause(context.Context) error {
	q.paused = true
	return nil
}

func (q *fakeQueue) Resume(context.Context) error {
	q.paused = false
	return nil
}

type fakeArchive map[string]queue.Record

func (a fakeArchive) Get(_ context.Context, queueName, id string) (queue.Record, error) {
	r, ok := a[queueName+"/"+id]
	if !ok {
		return queue.Record{}, archive.ErrNotFound
	}
	return r, nil
}

func (a fakeArchive) Recent(_ context.Context, queueName string, limit int) ([]queue.Record, error) {
	var out []queue.Record
	for _, r := range a {
		if r.Queue == queueName && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

type fixture struct {
	sup    *fakeSupervisor
	sq     *fakeQueue
	scq    *fakeQueue
	broker *pubsub.MemoryBroker
	srv    *httpapi.Server
}

func newFixture() *fixture {
	f := &fixture{
		sup: &fakeSupervisor{},
		sq: &fakeQueue{name: "supervisor", records: map[string]queue.Record{
			"sup-1": {ID: "sup-1", Queue: "supervisor", State: queue.StateActive, Progress: 50},
		}},
		scq:    &fakeQueue{name: "scraper"},
		broker: pubsub.NewMemoryBroker(),
	}
	f.srv = httpapi.NewServer(":0", httpapi.Deps{
		Supervisor: f.sup,
		Queues:     []httpapi.Queue{f.sq, f.scq},
		Archive: fakeArchive{
			"scraper/old": {ID: "old", Queue: "scraper", State: queue.StateCompleted, Result: json.RawMessage(`"OK!"`)},
		},
		Publisher:    f.broker,
		AdminChannel: "scraperAdmin",
		Token:        "s3cret",
	})
	return f
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestAuth(t *testing.T) {
	t.Parallel()
	f := newFixture()

	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/queues/pause", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, map[string]string{"message": "missing or invalid token", "status": "unauthenticated"}, decodeError(t, rec))
	require.False(t, f.sq.paused)

	rec = httptest.NewRecorder()
	f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/queues/pause?token=s3cret", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, f.sq.paused)

	rec = httptest.NewRecorder()
	f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmit(t *testing.T) {
	t.Parallel()
	var tests = []struct {
		scenario   string
		target     string
		body       string
		failWith   error
		wantCode   int
		wantStatus string
		wantMsg    string
		wantBody   string
	}{
		{
			scenario: "async",
			target:   "/supervisor-jobs",
			body:     `{"orgInfoList":["acme","beta"]}`,
			wantCode: http.StatusCreated,
			wantBody: `{"id":"sup-1"}`,
		},
		{
			scenario: "wait",
			target:   "/supervisor-jobs?wait=true",
			body:     `{"orgInfo":"acme"}`,
			wantCode: http.StatusOK,
			wantBody: `{"id":"sup-1","result":"supervisor job sup-1 scraped 1 organizations"}`,
		},
		{
			scenario:   "no work",
			target:     "/supervisor-jobs",
			body:       `{}`,
			wantCode:   http.StatusBadRequest,
			wantStatus: httpapi.StatusMissingParameter,
			wantMsg:    model.ErrEmptySupervisorRequest.Error(),
		},
		{
			scenario:   "broken json",
			target:     "/supervisor-jobs",
			body:       `{"orgInfo":`,
			wantCode:   http.StatusBadRequest,
			wantStatus: httpapi.StatusMissingParameter,
		},
		{
			scenario:   "queue down",
			target:     "/supervisor-jobs",
			body:       `{"orgInfo":"acme"}`,
			failWith:   errors.New("redis: connection refused"),
			wantCode:   http.StatusInternalServerError,
			wantStatus: httpapi.StatusInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.scenario, func(t *testing.T) {
			t.Parallel()
			f := newFixture()
			f.sup.err = tt.failWith
			rec := f.do(t, http.MethodPost, tt.target, tt.body)
			require.Equal(t, tt.wantCode, rec.Code)
			if tt.wantStatus != "" {
				body := decodeError(t, rec)
				require.Equal(t, tt.wantStatus, body["status"])
				require.Contains(t, body["message"], tt.wantMsg)
				require.Empty(t, f.sup.reqs)
				return
			}
			require.JSONEq(t, tt.wantBody, rec.Body.String())
			require.Len(t, f.sup.reqs, 1)
		})
	}
}

func TestPauseResume(t *testing.T) {
	t.Parallel()
	f := newFixture()
	rec := f.do(t, http.MethodPost, "/queues/pause", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"queues":["supervisor","scraper"]}`, rec.Body.String())
	require.True(t, f.sq.paused)
	require.True(t, f.scq.paused)

	rec = f.do(t, http.MethodPost, "/queues/resume", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, f.sq.paused)
	require.False(t, f.scq.paused)
}

func TestTerminate(t *testing.T) {
	t.Parallel()
	f := newFixture()
	sub, err := f.broker.Subscribe(t.Context(), "scraperAdmin")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })

	rec := f.do(t, http.MethodPost, "/queues/terminate", `{"reason":"deploy"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"message":"terminate:all:deploy","receivers":1}`, rec.Body.String())
	require.Equal(t, "terminate:all:deploy", <-sub.Messages())

	rec = f.do(t, http.MethodPost, "/queues/terminate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "terminate:all:terminated by operator", <-sub.Messages())
}

func TestGetJob(t *testing.T) {
	t.Parallel()
	var tests = []struct {
		scenario  string
		target    string
		wantCode  int
		wantState queue.State
	}{
		{"from redis", "/jobs/supervisor/sup-1", http.StatusOK, queue.StateActive},
		{"from archive", "/jobs/scraper/old", http.StatusOK, queue.StateCompleted},
		{"unknown job", "/jobs/scraper/nope", http.StatusNotFound, ""},
		{"unknown queue", "/jobs/mail/sup-1", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.scenario, func(t *testing.T) {
			t.Parallel()
			rec := newFixture().do(t, http.MethodGet, tt.target, "")
			require.Equal(t, tt.wantCode, rec.Code)
			if tt.wantState == "" {
				return
			}
			var got queue.Record
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			require.Equal(t, tt.wantState, got.State)
		})
	}
}

func TestRecentJobs(t *testing.T) {
	t.Parallel()
	var tests = []struct {
		scenario string
		target   string
		wantCode int
		wantIDs  []string
	}{
		{"archived", "/jobs/scraper", http.StatusOK, []string{"old"}},
		{"nothing archived", "/jobs/supervisor?limit=5", http.StatusOK, []string{}},
		{"bad limit", "/jobs/scraper?limit=zero", http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		t.Run(tt.scenario, func(t *testing.T) {
			t.Parallel()
			rec := newFixture().do(t, http.MethodGet, tt.target, "")
			require.Equal(t, tt.wantCode, rec.Code)
			if tt.wantIDs == nil {
				return
			}
			var got []queue.Record
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			ids := []string{}
			for _, r := range got {
				ids = append(ids, r.ID)
			}
			require.Equal(t, tt.wantIDs, ids)
		})
	}
}
