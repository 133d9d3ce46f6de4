package autosave

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"formsave/internal/answers/model"
	"formsave/pkg/logger"
)

const (
	DefaultDebounce     = 1500 * time.Millisecond
	DefaultSavedDisplay = 2 * time.Second
	DefaultSaveTimeout  = 10 * time.Second

	// NetworkErrorMessage is reported when a save request could not be sent
	// or its response could not be read.
	NetworkErrorMessage = "Autosave failed: network error"
)

var (
	ErrNoConflict      = errors.New("autosave: no conflict to resolve")
	ErrConflictPending = errors.New("autosave: conflict must be resolved first")
	ErrClosed          = errors.New("autosave: session closed")
)

// Saver sends one save request to the document store. A non-nil error means
// the request never produced an outcome (transport failure); it is reported
// like a Failed outcome with a generic message.
type Saver interface {
	Save(ctx context.Context, docID string, req model.SaveRequest) (Outcome, error)
}

type Option func(*Session)

func WithDebounce(d time.Duration) Option {
	return func(s *Session) { s.debounceDelay = d }
}

// WithSavedDisplay sets how long the saved status is shown before idle.
func WithSavedDisplay(d time.Duration) Option {
	return func(s *Session) { s.savedDisplay = d }
}

func WithSaveTimeout(d time.Duration) Option {
	return func(s *Session) { s.saveTimeout = d }
}

func WithClock(c Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithObserver registers fn to receive every state transition. fn runs with
// the session locked and must not call back into the Session.
func WithObserver(fn func(State)) Option {
	return func(s *Session) { s.observer = fn }
}

// Session runs the autosave protocol for a single document.
type Session struct {
	id    string
	saver Saver

	clock         Clock
	debounceDelay time.Duration
	savedDisplay  time.Duration
	saveTimeout   time.Duration
	observer      func(State)

	mu       sync.Mutex
	buf      *Buffer
	debounce *Debouncer
	version  int64
	status   Status
	message  string
	conflict *Conflict
	closed   bool

	// single-flight guard
	inFlight           bool
	dirtySinceDispatch bool

	stopSaved func() bool
	savedGen  uint64

	// saveDone is closed once the in-flight save has been applied or dropped.
	saveDone chan struct{}
}

// NewSession starts an idle session for document id whose server state is
// initial at initialVersion.
func NewSession(id string, saver Saver, initial model.Answers, initialVersion int64, opts ...Option) (*Session, error) {
	buf, err := NewBuffer(initial)
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:            id,
		saver:         saver,
		clock:         SystemClock,
		debounceDelay: DefaultDebounce,
		savedDisplay:  DefaultSavedDisplay,
		saveTimeout:   DefaultSaveTimeout,
		buf:           buf,
		version:       initialVersion,
		status:        StatusIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.debounce = NewDebouncer(s.clock, s.debounceDelay, s.onDebounce)
	return s, nil
}

func (s *Session) ID() string { return s.id }

// SetField merges {key: value} into the buffer. When the buffer differs from
// the last saved state the debounce is re-armed, except during a conflict:
// the edit is kept but not saved until the conflict is resolved.
func (s *Session) SetField(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	changed, err := s.buf.Set(key, value)
	if err != nil {
		return err
	}
	if s.inFlight {
		s.dirtySinceDispatch = true
	}
	if !changed || s.status == StatusConflict {
		return nil
	}
	s.debounce.Trigger()
	return nil
}

// ResolveConflict is the only way out of the conflict state. With useLatest
// the buffer is replaced by the store's answers; otherwise local edits are
// kept. Either way the known version becomes the store's version, so the next
// save is based on it.
func (s *Session) ResolveConflict(useLatest bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.status != StatusConflict || s.conflict == nil {
		return ErrNoConflict
	}

	c := s.conflict
	if useLatest {
		if err := s.buf.Replace(c.LatestAnswers); err != nil {
			return err
		}
	}
	if err := s.buf.SetBaseline(c.LatestAnswers); err != nil {
		return err
	}
	s.version = c.LatestVersion
	s.conflict = nil

	logger.Sugar.Infof("Autosave %s: conflict resolved (use latest: %t), now at version %d", s.id, useLatest, s.version)
	s.setLocked(StatusIdle, "")
	return nil
}

// Retry saves the buffer now instead of waiting for the next edit.
func (s *Session) Retry() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.status == StatusConflict {
		return ErrConflictPending
	}
	s.debounce.Cancel()
	s.attemptLocked()
	return nil
}

// Flush saves unsaved edits now, without waiting for the debounce, and
// waits for the result or for ctx to end. Edits made while a save was in
// flight are flushed too. A failed save is not retried: Flush returns with
// the session in the error state.
func (s *Session) Flush(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.flushableLocked() {
			s.debounce.Cancel()
			s.attemptLocked()
		}
		s.mu.Unlock()

		if err := s.Wait(ctx); err != nil {
			return err
		}

		s.mu.Lock()
		again := s.flushableLocked() && s.status != StatusError
		s.mu.Unlock()
		if !again {
			return nil
		}
	}
}

func (s *Session) flushableLocked() bool {
	if s.closed || s.status == StatusConflict {
		return false
	}
	return s.debounce.Pending() || s.buf.Dirty()
}

// Wait blocks until no save is in flight.
func (s *Session) Wait(ctx context.Context) error {
	for {
		s.mu.Lock()
		if !s.inFlight {
			s.mu.Unlock()
			return nil
		}
		done := s.saveDone
		s.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close tears the session down. Pending timers are cancelled; a save already
// in flight may still complete, but its outcome is discarded.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.debounce.Cancel()
	s.stopSavedTimerLocked()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) Answers() model.Answers {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Snapshot()
}

func (s *Session) Version() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

func (s *Session) onDebounce() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attemptLocked()
}

func (s *Session) attemptLocked() {
	if s.closed || s.status == StatusConflict {
		return
	}
	if s.inFlight {
		// Dropped, not queued: the buffer is picked up once the current
		// save succeeds.
		s.dirtySinceDispatch = true
		logger.Sugar.Debugf("Autosave %s: save already in flight, deferring", s.id)
		return
	}
	if !s.buf.Dirty() {
		return
	}
	s.dispatchLocked()
}

func (s *Session) dispatchLocked() {
	req := model.SaveRequest{
		Answers:       s.buf.Snapshot(),
		ClientVersion: s.version,
	}

	s.inFlight = true
	s.saveDone = make(chan struct{})
	s.dirtySinceDispatch = false
	s.stopSavedTimerLocked()
	s.setLocked(StatusSaving, "")

	go s.save(req, s.saveDone)
}

func (s *Session) save(req model.SaveRequest, done chan struct{}) {
	outcome, err := s.callSaver(req)

	s.mu.Lock()
	defer s.mu.Unlock()
	defer close(done)

	s.inFlight = false
	if s.closed {
		logger.Sugar.Debugf("Autosave %s: session closed, dropping save outcome", s.id)
		return
	}
	s.applyLocked(req, outcome, err)
}

func (s *Session) callSaver(req model.SaveRequest) (outcome Outcome, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.saveTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			outcome, err = nil, fmt.Errorf("saver panicked: %v", r)
		}
	}()
	return s.saver.Save(ctx, s.id, req)
}

func (s *Session) applyLocked(req model.SaveRequest, outcome Outcome, err error) {
	if err != nil {
		logger.Sugar.Warnf("Autosave %s: save request failed: %v", s.id, err)
		s.setLocked(StatusError, NetworkErrorMessage)
		return
	}

	switch o := outcome.(type) {
	case Saved:
		if o.NewVersion <= req.ClientVersion {
			logger.Sugar.Errorf("Autosave %s: store returned version %d for a save based on %d", s.id, o.NewVersion, req.ClientVersion)
			s.setLocked(StatusError, fmt.Sprintf("Autosave failed: store returned non-increasing version %d", o.NewVersion))
			return
		}
		s.version = o.NewVersion
		s.buf.MarkSaved(req.Answers)
		s.conflict = nil
		s.setLocked(StatusSaved, "")
		s.startSavedTimerLocked()

		if s.dirtySinceDispatch && s.buf.Dirty() && !s.debounce.Pending() {
			s.debounce.Trigger()
		}

	case Conflicted:
		s.debounce.Cancel()
		s.conflict = &Conflict{
			LatestVersion:   o.Latest.Version,
			LatestUpdatedAt: o.Latest.UpdatedAt,
			LatestAnswers:   o.Latest.Answers.Clone(),
		}
		logger.Sugar.Infof("Autosave %s: conflict, store is at version %d, client sent %d", s.id, o.Latest.Version, req.ClientVersion)
		s.setLocked(StatusConflict, "")

	case Failed:
		s.setLocked(StatusError, o.Message)

	default:
		logger.Sugar.Errorf("Autosave %s: saver returned unknown outcome %T", s.id, outcome)
		s.setLocked(StatusError, NetworkErrorMessage)
	}
}

func (s *Session) startSavedTimerLocked() {
	s.savedGen++
	gen := s.savedGen
	s.stopSaved = s.clock.AfterFunc(s.savedDisplay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed || gen != s.savedGen || s.status != StatusSaved {
			return
		}
		s.setLocked(StatusIdle, "")
	})
}

func (s *Session) stopSavedTimerLocked() {
	if s.stopSaved != nil {
		s.stopSaved()
		s.stopSaved = nil
	}
	s.savedGen++
}

func (s *Session) setLocked(status Status, message string) {
	s.status = status
	s.message = message
	if s.observer != nil {
		s.observer(s.stateLocked())
	}
}

func (s *Session) stateLocked() State {
	st := State{
		Status:   s.status,
		Message:  s.message,
		Version:  s.version,
		Dirty:    s.buf.Dirty(),
		InFlight: s.inFlight,
	}
	if s.conflict != nil {
		c := *s.conflict
		c.LatestAnswers = c.LatestAnswers.Clone()
		st.Conflict = &c
	}
	return st
}
