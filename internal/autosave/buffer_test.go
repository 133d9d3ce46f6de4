package autosave

import (
	"testing"

	"formsave/internal/answers/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferSetReportsDifferenceFromBaseline(t *testing.T) {
	b, err := NewBuffer(model.Answers{"q1": "a"})
	require.NoError(t, err)
	assert.False(t, b.Dirty())

	changed, err := b.Set("q1", "a")
	require.NoError(t, err)
	assert.False(t, changed, "same value is not a change")

	changed, err = b.Set("q1", "b")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = b.Set("q1", "a")
	require.NoError(t, err)
	assert.False(t, changed, "reverting to the baseline is not a change")
}

func TestBufferComparesStructurally(t *testing.T) {
	b, err := NewBuffer(model.Answers{
		"n":      1.0,
		"nested": map[string]any{"list": []any{"x", 2.0}},
	})
	require.NoError(t, err)

	changed, err := b.Set("n", 1)
	require.NoError(t, err)
	assert.False(t, changed)

	type pair struct {
		List []any `json:"list"`
	}
	changed, err = b.Set("nested", pair{List: []any{"x", 2}})
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestBufferRejectsUnencodableValues(t *testing.T) {
	b, err := NewBuffer(nil)
	require.NoError(t, err)

	_, err = b.Set("ch", make(chan int))
	assert.Error(t, err)
	assert.Empty(t, b.Snapshot())

	_, err = NewBuffer(model.Answers{"fn": func() {}})
	assert.Error(t, err)
}

func TestBufferSnapshotIsACopy(t *testing.T) {
	b, err := NewBuffer(model.Answers{"q1": "a"})
	require.NoError(t, err)

	snap := b.Snapshot()
	snap["q2"] = "b"

	_, ok := b.Get("q2")
	assert.False(t, ok)
}

func TestBufferReplaceAndBaseline(t *testing.T) {
	b, err := NewBuffer(model.Answers{})
	require.NoError(t, err)

	require.NoError(t, b.Replace(model.Answers{"q1": "x"}))
	assert.True(t, b.Dirty())

	require.NoError(t, b.SetBaseline(model.Answers{"q1": "x"}))
	assert.False(t, b.Dirty())
	assert.Equal(t, model.Answers{"q1": "x"}, b.Snapshot())
}

func TestBufferMarkSaved(t *testing.T) {
	b, err := NewBuffer(model.Answers{})
	require.NoError(t, err)

	_, err = b.Set("q1", 1)
	require.NoError(t, err)
	snap := b.Snapshot()
	b.MarkSaved(snap)
	assert.False(t, b.Dirty())

	// The baseline is a copy: later edits and changes to snap leave it alone.
	snap["q2"] = "x"
	assert.False(t, b.Dirty())
	_, err = b.Set("q1", 2)
	require.NoError(t, err)
	assert.True(t, b.Dirty())
}
