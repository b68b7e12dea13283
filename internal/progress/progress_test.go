package progress_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rivernews/slack-middleware-server/internal/progress"

	"github.com/stretchr/testify/require"
)

type sink struct {
	values []float64
}

func (s *sink) SetProgress(_ context.Context, pct float64) error {
	s.values = append(s.values, pct)
	return nil
}

type display struct {
	resets int
	sets   []int
	fail   bool
}

func (d *display) Reset(string, int, int) error {
	d.resets++
	if d.fail {
		return errors.New("no terminal")
	}
	return nil
}

func (d *display) Set(current int) error {
	d.sets = append(d.sets, current)
	return nil
}

func TestPercentage(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		current, total int
		then           float64
	}{
		{0, 100, 0},
		{1, 3, 33.33},
		{2, 3, 66.67},
		{3, 3, 100},
		{5, 0, 0},
		{7, 8, 87.5},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.then, progress.Percentage(tc.current, tc.total))
	}
}

func TestIncrement(t *testing.T) {
	t.Parallel()
	s := &sink{}
	r := progress.New("scraper", s, progress.WithTotal(3))
	for range 3 {
		r.Increment(t.Context())
	}
	current, total := r.State()
	require.Equal(t, 3, current)
	require.Equal(t, 3, total)
	require.Equal(t, []float64{33.33, 66.67, 100}, s.values)
}

func TestSetRelative(t *testing.T) {
	t.Parallel()

	t.Run("one tick is an increment", func(t *testing.T) {
		d := &display{}
		s := &sink{}
		r := progress.New("scraper", s, progress.WithTotal(10), progress.WithCurrent(4), progress.WithDisplay(d))
		r.SetRelative(t.Context(), 5, 10)
		require.Equal(t, []float64{50}, s.values)
		require.Equal(t, []int{5}, d.sets)
		require.Equal(t, 1, d.resets)
	})

	t.Run("jump reinitializes", func(t *testing.T) {
		d := &display{}
		s := &sink{}
		r := progress.New("scraper", s, progress.WithDisplay(d))
		r.SetRelative(t.Context(), 40, 200)
		require.Equal(t, []float64{20}, s.values)
		require.Empty(t, d.sets)
		require.Equal(t, 2, d.resets)
		current, total := r.State()
		require.Equal(t, 40, current)
		require.Equal(t, 200, total)
	})

	t.Run("absolute", func(t *testing.T) {
		s := &sink{}
		r := progress.New("scraper", s, progress.WithTotal(7))
		r.SetAbsolute(t.Context(), 1)
		require.Equal(t, []float64{1}, s.values)
		_, total := r.State()
		require.Equal(t, 100, total)
	})
}

func TestDisplayFallback(t *testing.T) {
	t.Parallel()
	d := &display{fail: true}
	s := &sink{}
	r := progress.New("scraper", s, progress.WithDisplay(d))
	r.Increment(t.Context())
	r.SetRelative(t.Context(), 10, 20)
	require.Equal(t, []float64{1, 50}, s.values)
	require.Equal(t, 1, d.resets)
	require.Empty(t, d.sets)
}

func TestBar(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	r := progress.New("acme", nil, progress.WithTotal(4), progress.WithDisplay(progress.NewBar(&buf)))
	r.Increment(t.Context())
	r.Increment(t.Context())
	require.Contains(t, buf.String(), "acme")
}
