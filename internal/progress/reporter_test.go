package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	updates []Update
}

func (r *recorder) report(u Update) {
	r.updates = append(r.updates, u)
}

func (r *recorder) completed() []float64 {
	out := make([]float64, len(r.updates))
	for i, u := range r.updates {
		out[i] = u.Completed
	}
	return out
}

func TestReporter_AdvanceAndComplete(t *testing.T) {
	rec := &recorder{}
	r := New(3, rec.report)

	r.Advance("probe")
	r.Advance("segment")
	r.Advance("encode")
	r.Complete()

	assert.Equal(t, []float64{0, 1, 2, 3}, rec.completed())
	assert.Equal(t, "encode", rec.updates[2].CurrentStep)
	for _, u := range rec.updates {
		assert.Equal(t, 3, u.Total)
	}
}

func TestReporter_SubProgress(t *testing.T) {
	rec := &recorder{}
	r := New(2, rec.report)

	r.Advance("probe")
	sub := r.Advance("encode")
	sub(1, 4, "")
	sub(2, 4, "encode file 2")
	sub(4, 4, "")
	r.Complete()

	assert.Equal(t, []float64{0, 1, 1.25, 1.5, 2, 2}, rec.completed())
	assert.Equal(t, "encode", rec.updates[2].CurrentStep)
	assert.Equal(t, "encode file 2", rec.updates[3].CurrentStep)
}

func TestReporter_StaleSubProgressIgnored(t *testing.T) {
	rec := &recorder{}
	r := New(2, rec.report)

	first := r.Advance("encode")
	r.Advance("stage")
	n := len(rec.updates)

	first(1, 2, "late")
	assert.Len(t, rec.updates, n)

	r.Complete()
	first(2, 2, "late")
	assert.Len(t, rec.updates, n+1)
}

func TestReporter_Monotonic(t *testing.T) {
	rec := &recorder{}
	r := New(4, rec.report)

	for _, step := range []string{"a", "b", "c", "d"} {
		sub := r.Advance(step)
		sub(3, 4, "")
		sub(1, 4, "")
		sub(0, 0, "")
	}
	// extra advances past total are clamped
	r.Advance("e")
	r.Complete()

	got := rec.completed()
	require.NotEmpty(t, got)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i], got[i-1])
	}
	assert.Equal(t, float64(4), got[len(got)-1])
}

func TestReporter_NilReport(t *testing.T) {
	r := New(1, nil)
	sub := r.Advance("x")
	sub(1, 1, "")
	r.Complete()
}
