package task_test

import (
	"context"
	"strings"
	"sync"

	"github.com/rivernews/slack-middleware-server/internal/model"
	"github.com/rivernews/slack-middleware-server/internal/task"
)

type fakeLock struct {
	mx        sync.Mutex
	owners    map[string]string
	released  []string
	refreshed int
}

func newFakeLock() *fakeLock {
	return &fakeLock{owners: make(map[string]string)}
}

func (l *fakeLock) Owner(_ context.Context, channel string) (string, bool, error) {
	l.mx.Lock()
	defer l.mx.Unlock()
	owner, ok := l.owners[channel]
	return owner, ok, nil
}

func (l *fakeLock) Acquire(_ context.Context, channel, jobID string) (bool, error) {
	l.mx.Lock()
	defer l.mx.Unlock()
	if _, ok := l.owners[channel]; ok {
		return false, nil
	}
	l.owners[channel] = jobID
	return true, nil
}

func (l *fakeLock) Refresh(context.Context, string, string) error {
	l.mx.Lock()
	defer l.mx.Unlock()
	l.refreshed++
	return nil
}

func (l *fakeLock) Release(_ context.Context, channel, jobID string) (bool, error) {
	l.mx.Lock()
	defer l.mx.Unlock()
	if l.owners[channel] != jobID {
		return false, nil
	}
	delete(l.owners, channel)
	l.released = append(l.released, channel)
	return true, nil
}

func (l *fakeLock) owner(channel string) string {
	l.mx.Lock()
	defer l.mx.Unlock()
	return l.owners[channel]
}

type fakeLease struct {
	platform string

	mx        sync.Mutex
	released  int
	refreshed int
}

func (l *fakeLease) Platform() string {
	return l.platform
}

func (l *fakeLease) Refresh(context.Context) error {
	l.mx.Lock()
	defer l.mx.Unlock()
	l.refreshed++
	return nil
}

func (l *fakeLease) Release(context.Context) error {
	l.mx.Lock()
	defer l.mx.Unlock()
	l.released++
	return nil
}

func (l *fakeLease) counts() (released, refreshed int) {
	l.mx.Lock()
	defer l.mx.Unlock()
	return l.released, l.refreshed
}

type fakeSelector struct {
	lease *fakeLease
	err   error

	mx    sync.Mutex
	calls int
}

func (s *fakeSelector) Acquire(context.Context) (task.Lease, error) {
	s.mx.Lock()
	s.calls++
	s.mx.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.lease, nil
}

// fakeWorker plays the platform and the remote worker: its script runs when
// the job is handed off.
type fakeWorker struct {
	err    error
	script func(ctx context.Context, req model.ScraperJobRequest)

	mx   sync.Mutex
	reqs []model.ScraperJobRequest
}

func (w *fakeWorker) Submit(ctx context.Context, req model.ScraperJobRequest) error {
	w.mx.Lock()
	w.reqs = append(w.reqs, req)
	w.mx.Unlock()
	if w.script != nil {
		w.script(ctx, req)
	}
	return w.err
}

func (w *fakeWorker) submitted() []model.ScraperJobRequest {
	w.mx.Lock()
	defer w.mx.Unlock()
	return append([]model.ScraperJobRequest(nil), w.reqs...)
}

type recordingNotifier struct {
	mx   sync.Mutex
	msgs []string
}

func (n *recordingNotifier) Notify(_ context.Context, text string) error {
	n.mx.Lock()
	defer n.mx.Unlock()
	n.msgs = append(n.msgs, text)
	return nil
}

func (n *recordingNotifier) messages() []string {
	n.mx.Lock()
	defer n.mx.Unlock()
	return append([]string(nil), n.msgs...)
}

func (n *recordingNotifier) joined() string {
	return strings.Join(n.messages(), "\n")
}

type recordingSink struct {
	mx   sync.Mutex
	pcts []float64
}

func (s *recordingSink) SetProgress(_ context.Context, pct float64) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.pcts = append(s.pcts, pct)
	return nil
}

func (s *recordingSink) values() []float64 {
	s.mx.Lock()
	defer s.mx.Unlock()
	return append([]float64(nil), s.pcts...)
}
