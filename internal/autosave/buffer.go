package autosave

import (
	"encoding/json"
	"fmt"
	"reflect"

	"formsave/internal/answers/model"
)

// Buffer is the in-memory answer map of one document plus the baseline it
// was last known to match on the server.
//
// Values are stored in their JSON-decoded form, so two values compare equal
// when they encode to the same JSON (1 and 1.0, a struct and the equivalent
// map).
type Buffer struct {
	answers  model.Answers
	baseline model.Answers
}

func NewBuffer(initial model.Answers) (*Buffer, error) {
	answers, err := canonicalAnswers(initial)
	if err != nil {
		return nil, err
	}
	return &Buffer{answers: answers, baseline: answers.Clone()}, nil
}

// Set replaces the value of key and reports whether the buffer now differs
// from the baseline.
func (b *Buffer) Set(key string, value any) (bool, error) {
	v, err := canonicalValue(value)
	if err != nil {
		return false, fmt.Errorf("autosave: field %q: %w", key, err)
	}
	b.answers[key] = v
	return b.Dirty(), nil
}

func (b *Buffer) Get(key string) (any, bool) {
	v, ok := b.answers[key]
	return v, ok
}

func (b *Buffer) Dirty() bool {
	return !reflect.DeepEqual(b.answers, b.baseline)
}

// Snapshot returns a copy of the buffer. Nested values are shared and must
// not be mutated.
func (b *Buffer) Snapshot() model.Answers {
	return b.answers.Clone()
}

// Replace swaps the whole buffer for answers.
func (b *Buffer) Replace(answers model.Answers) error {
	c, err := canonicalAnswers(answers)
	if err != nil {
		return err
	}
	b.answers = c
	return nil
}

func (b *Buffer) SetBaseline(answers model.Answers) error {
	c, err := canonicalAnswers(answers)
	if err != nil {
		return err
	}
	b.baseline = c
	return nil
}

// MarkSaved makes a Snapshot of this buffer the new baseline. The snapshot
// is already canonical, so unlike SetBaseline it cannot fail.
func (b *Buffer) MarkSaved(snapshot model.Answers) {
	b.baseline = snapshot.Clone()
}

func canonicalValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func canonicalAnswers(answers model.Answers) (model.Answers, error) {
	out := make(model.Answers, len(answers))
	for k, v := range answers {
		c, err := canonicalValue(v)
		if err != nil {
			return nil, fmt.Errorf("autosave: field %q: %w", k, err)
		}
		out[k] = c
	}
	return out, nil
}
