package task_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rivernews/slack-middleware-server/internal/model"
	"github.com/rivernews/slack-middleware-server/internal/queue"
	"github.com/rivernews/slack-middleware-server/internal/task"

	"github.com/stretchr/testify/require"
)

type dispatchResult struct {
	ret model.ScraperJobReturn
	err error
}

// fakeDispatcher answers dispatches in order from a script.
type fakeDispatcher struct {
	mx       sync.Mutex
	script   []dispatchResult
	reqs     []model.ScraperJobRequest
	drained  int
	drainIDs []string
}

func (d *fakeDispatcher) Dispatch(_ context.Context, req model.ScraperJobRequest) (model.ScraperJobReturn, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.reqs = append(d.reqs, req)
	if len(d.script) == 0 {
		return model.Succeeded("done"), nil
	}
	next := d.script[0]
	d.script = d.script[1:]
	return next.ret, next.err
}

func (d *fakeDispatcher) Drain(context.Context) ([]string, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.drained++
	return d.drainIDs, nil
}

type fakeAdmitter struct {
	opts []queue.AdmissionOptions
	err  error
}

func (a *fakeAdmitter) CheckAdmission(_ context.Context, o queue.AdmissionOptions) (int64, error) {
	a.opts = append(a.opts, o)
	return 1, a.err
}

func mustCross(t *testing.T, raw string) model.ScraperCrossRequest {
	t.Helper()
	c, err := model.ParseCrossRequest([]byte(raw))
	require.NoError(t, err)
	return c
}

func newSupervisor(d task.Dispatcher, a task.Admitter, n *recordingNotifier) *task.Supervisor {
	return task.NewSupervisor(task.SupervisorConfig{
		MaxConcurrent: 2,
		ChannelPrefix: "scraper",
	}, task.SupervisorDeps{
		Admitter:   a,
		Dispatcher: d,
		Notifier:   n,
	})
}

func TestSupervisorListWithContinuation(t *testing.T) {
	t.Parallel()
	cross := mustCross(t, crossJSON)
	d := &fakeDispatcher{script: []dispatchResult{
		{ret: model.Succeeded("done")},
		{ret: model.Continued(cross)},
		{ret: model.Succeeded("done")},
	}}
	a := &fakeAdmitter{}
	n := &recordingNotifier{}
	sink := &recordingSink{}

	msg, err := newSupervisor(d, a, n).Run(t.Context(), "sup-1",
		model.SupervisorJobRequest{OrgInfoList: []string{"acme", "beta"}}, sink)
	require.NoError(t, err)
	require.Contains(t, msg, "2 organizations")

	require.Len(t, d.reqs, 3)
	require.Equal(t, model.ScraperJobRequest{PubsubChannelName: "scraper:acme:0", OrgInfo: "acme"}, d.reqs[0])
	require.Equal(t, model.ScraperJobRequest{PubsubChannelName: "scraper:beta:0", OrgInfo: "beta"}, d.reqs[1])
	require.Equal(t, cross.JobRequest(), d.reqs[2])
	require.Zero(t, d.drained)

	// one tick per organization, not per continuation
	require.Equal(t, []float64{50, 100}, sink.values())
	require.Len(t, n.messages(), 3)
	require.Equal(t, []queue.AdmissionOptions{{Limit: 2, SelfJobID: "sup-1", CountSelf: true}}, a.opts)
}

func TestSupervisorCrossWork(t *testing.T) {
	t.Parallel()
	first := mustCross(t, crossJSON)
	// a continuation reusing its channel gets the next session
	second := first
	second.LastProgress.ProcessedSession = 2
	second.LastProgress.WentThrough = 30
	second.LastProgress.Processed = 30

	d := &fakeDispatcher{script: []dispatchResult{
		{ret: model.Continued(second)},
		{ret: model.Succeeded("OK!")},
	}}
	req, err := model.NewCrossSupervisorRequest(first)
	require.NoError(t, err)
	req.OrgInfoList = []string{"ignored"}

	_, err = newSupervisor(d, nil, &recordingNotifier{}).Run(t.Context(), "sup-1", req, nil)
	require.NoError(t, err)

	require.Len(t, d.reqs, 2)
	require.Equal(t, first.JobRequest(), d.reqs[0])
	want := second.JobRequest()
	want.PubsubChannelName = "scraper:acme:2"
	require.Equal(t, want, d.reqs[1])
}

func TestSupervisorAbort(t *testing.T) {
	t.Parallel()
	var tests = []struct {
		scenario      string
		script        []dispatchResult
		wantErr       error
		wantRemaining []string
	}{
		{
			scenario: "scraper job fails",
			script: []dispatchResult{
				{ret: model.Succeeded("done")},
				{err: &queue.JobFailedError{Queue: "scraper", JobID: "7", Reason: "liveness timeout"}},
			},
			wantErr:       queue.ErrJobFailed,
			wantRemaining: []string{"beta", "gamma"},
		},
		{
			scenario: "illegal continuation",
			script: []dispatchResult{
				{ret: model.ScraperJobReturn{Cross: &model.ScraperCrossRequest{OrgID: "42"}}},
			},
			wantErr:       model.ErrIllegalResult,
			wantRemaining: []string{"acme", "beta", "gamma"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.scenario, func(t *testing.T) {
			t.Parallel()
			d := &fakeDispatcher{script: tt.script, drainIDs: []string{"8", "9"}}
			n := &recordingNotifier{}

			_, err := newSupervisor(d, nil, n).Run(t.Context(), "sup-1",
				model.SupervisorJobRequest{OrgInfoList: []string{"acme", "beta", "gamma"}}, nil)
			require.ErrorIs(t, err, tt.wantErr)

			var aborted *task.BatchAbortedError
			require.ErrorAs(t, err, &aborted)
			require.Equal(t, tt.wantRemaining, aborted.Remaining)
			require.Equal(t, 1, d.drained)
			require.Len(t, d.reqs, len(tt.script))
			require.Contains(t, n.joined(), "Supervisor job sup-1 failed")
		})
	}
}

func TestSupervisorAdmissionRejected(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{}
	a := &fakeAdmitter{err: &queue.AdmissionError{Queue: "supervisor", Count: 3, Limit: 2, CountSelf: true}}

	_, err := newSupervisor(d, a, &recordingNotifier{}).Run(t.Context(), "sup-1",
		model.SupervisorJobRequest{OrgInfo: "acme"}, nil)
	require.ErrorIs(t, err, queue.ErrAdmissionRejected)
	require.Empty(t, d.reqs)
	require.Zero(t, d.drained)
}

func TestSupervisorWorkShapes(t *testing.T) {
	t.Parallel()
	var tests = []struct {
		scenario string
		req      model.SupervisorJobRequest
		wantReqs []model.ScraperJobRequest
		wantErr  error
	}{
		{
			scenario: "empty list",
			req:      model.SupervisorJobRequest{},
		},
		{
			scenario: "single org",
			req:      model.SupervisorJobRequest{OrgInfo: "acme"},
			wantReqs: []model.ScraperJobRequest{{PubsubChannelName: "scraper:acme:0", OrgInfo: "acme"}},
		},
		{
			scenario: "explicit request keeps its channel",
			req: model.SupervisorJobRequest{ScraperJobRequestData: &model.ScraperJobRequest{
				PubsubChannelName: "custom:acme:5", OrgInfo: "acme", ScrapeMode: model.ScrapeModeRenewal,
			}},
			wantReqs: []model.ScraperJobRequest{{PubsubChannelName: "custom:acme:5", OrgInfo: "acme", ScrapeMode: model.ScrapeModeRenewal}},
		},
		{
			scenario: "invalid cross request falls back to the list",
			req: model.SupervisorJobRequest{
				CrossRequestData: json.RawMessage(`{"orgId":"42"}`),
				OrgInfoList:      []string{"beta"},
			},
			wantReqs: []model.ScraperJobRequest{{PubsubChannelName: "scraper:beta:0", OrgInfo: "beta"}},
		},
		{
			scenario: "invalid cross request alone",
			req:      model.SupervisorJobRequest{CrossRequestData: json.RawMessage(`{"orgId":"42"}`)},
			wantErr:  model.ErrInvalidCrossRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.scenario, func(t *testing.T) {
			t.Parallel()
			d := &fakeDispatcher{}
			_, err := newSupervisor(d, nil, &recordingNotifier{}).Run(t.Context(), "sup-1", tt.req, nil)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantReqs, d.reqs)
		})
	}
}

func TestSupervisorCanceled(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{script: []dispatchResult{{err: context.Canceled}}}
	n := &recordingNotifier{}
	_, err := newSupervisor(d, nil, n).Run(t.Context(), "sup-1",
		model.SupervisorJobRequest{OrgInfo: "acme"}, nil)
	require.True(t, errors.Is(err, context.Canceled))
	require.Equal(t, 1, d.drained)
	// a canceled batch is not reported
	require.Empty(t, n.messages())
}
