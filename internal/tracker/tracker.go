package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memtopo/internal/metrics"
	"github.com/fyrsmithlabs/memtopo/internal/relstore"
)

const (
	// bufferFlushSize is the buffer length that triggers a hot path
	// evaluation mid-session.
	bufferFlushSize = 10

	// bufferRetain is how many trailing entries survive a flush so that
	// sequences spanning a flush boundary stay connected.
	bufferRetain = 3
)

// Common errors for tracker operations.
var (
	ErrEmptyMemoryID  = errors.New("memory ID cannot be empty")
	ErrUnknownSession = errors.New("unknown session")
)

// Evaluator receives buffered access sequences for hot path evaluation.
type Evaluator interface {
	EvaluateBuffer(ctx context.Context, ids []string) error
}

type access struct {
	memoryID string
	at       time.Time
}

type session struct {
	buffer []access
	lastID string
}

// Tracker records per-session access sequences and persists the derived
// transitions.
type Tracker struct {
	transitions relstore.Store
	evaluator   Evaluator
	logger      *zap.Logger
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New creates a Tracker writing transitions to the given store and handing
// flushed buffers to the evaluator.
func New(transitions relstore.Store, evaluator Evaluator, logger *zap.Logger, opts ...Option) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{
		transitions: transitions,
		evaluator:   evaluator,
		logger:      logger,
		now:         time.Now,
		sessions:    make(map[string]*session),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartSession begins a session, generating an id when none is given.
// Starting an existing session id resets its buffer.
func (t *Tracker) StartSession(id string) string {
	if id == "" {
		id = uuid.NewString()
	}

	t.mu.Lock()
	t.sessions[id] = &session{}
	t.mu.Unlock()

	t.logger.Debug("session started", zap.String("session_id", id))
	return id
}

// RecordAccess appends an access to the session buffer, records the
// transition from the previous access when the ids differ, and flushes the
// buffer through the evaluator once it reaches the flush size.
func (t *Tracker) RecordAccess(ctx context.Context, sessionID, memoryID string) error {
	if memoryID == "" {
		return ErrEmptyMemoryID
	}

	t.mu.Lock()
	sess, ok := t.sessions[sessionID]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}

	now := t.now()
	var prev *access
	if len(sess.buffer) > 0 {
		prev = &sess.buffer[len(sess.buffer)-1]
	}
	sess.buffer = append(sess.buffer, access{memoryID: memoryID, at: now})
	sess.lastID = memoryID

	var flush []string
	if len(sess.buffer) >= bufferFlushSize {
		flush = bufferIDs(sess.buffer)
		sess.buffer = append([]access(nil), sess.buffer[len(sess.buffer)-bufferRetain:]...)
	}
	t.mu.Unlock()

	metrics.AccessesRecorded.Inc()

	// Self-transitions are never recorded.
	if prev != nil && prev.memoryID != memoryID {
		sample := now.Sub(prev.at).Seconds()
		if err := t.transitions.IncrementTransition(ctx, prev.memoryID, memoryID, sample, sessionID); err != nil {
			return fmt.Errorf("recording transition: %w", err)
		}
		metrics.TransitionsRecorded.Inc()
	}

	if flush != nil {
		metrics.BufferFlushes.WithLabelValues("threshold").Inc()
		t.logger.Debug("buffer flushed",
			zap.String("session_id", sessionID),
			zap.Int("sequence_len", len(flush)))
		if err := t.evaluator.EvaluateBuffer(ctx, flush); err != nil {
			return fmt.Errorf("evaluating flushed buffer: %w", err)
		}
	}
	return nil
}

// EndSession runs one final evaluation over the remaining buffer when it
// holds at least two entries, then discards all session state.
func (t *Tracker) EndSession(ctx context.Context, sessionID string) error {
	t.mu.Lock()
	sess, ok := t.sessions[sessionID]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	delete(t.sessions, sessionID)
	t.mu.Unlock()

	t.logger.Debug("session ended",
		zap.String("session_id", sessionID),
		zap.Int("buffered", len(sess.buffer)))

	if len(sess.buffer) < 2 {
		return nil
	}

	metrics.BufferFlushes.WithLabelValues("session_end").Inc()
	if err := t.evaluator.EvaluateBuffer(ctx, bufferIDs(sess.buffer)); err != nil {
		return fmt.Errorf("evaluating final buffer: %w", err)
	}
	return nil
}

// LastAccessed returns the most recently accessed id in a session, empty
// when the session is unknown or has no accesses.
func (t *Tracker) LastAccessed(sessionID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if sess, ok := t.sessions[sessionID]; ok {
		return sess.lastID
	}
	return ""
}

// BufferedSequence returns a copy of the session's current buffered ids.
func (t *Tracker) BufferedSequence(sessionID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	sess, ok := t.sessions[sessionID]
	if !ok {
		return nil
	}
	return bufferIDs(sess.buffer)
}

func bufferIDs(buffer []access) []string {
	ids := make([]string, len(buffer))
	for i, a := range buffer {
		ids[i] = a.memoryID
	}
	return ids
}
