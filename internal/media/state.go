package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// HLS session lifecycle.
const (
	StatusProcessing = "processing"
	StatusComplete   = "complete"
	StatusError      = "error"
)

// ErrStateNotFound reports a missing temp-video or session entry.
var ErrStateNotFound = errors.New("media state not found")

// TempVideo tracks an uploaded source between the initial thumbnail response
// and sprite-sheet confirmation.
type TempVideo struct {
	ID             string
	SourcePath     string
	Remote         bool
	Frames         []string
	FramesComplete bool
	Width          int
	Height         int
	Duration       float64
	Error          string
	CreatedAt      time.Time
}

// TempVideoUpdate mutates the fields whose pointers are non-nil.
type TempVideoUpdate struct {
	Frames         *[]string
	FramesComplete *bool
	Width          *int
	Height         *int
	Duration       *float64
	Error          *string
}

// TempVideoStore is an in-memory map of in-flight uploads. Entries are
// short-lived; the expiry sweep removes anything older than an hour.
type TempVideoStore struct {
	mu      sync.Mutex
	entries map[string]TempVideo
	now     func() time.Time
}

func NewTempVideoStore() *TempVideoStore {
	return &TempVideoStore{entries: make(map[string]TempVideo), now: time.Now}
}

func (s *TempVideoStore) Create(sourcePath string, remote bool) TempVideo {
	entry := TempVideo{
		ID:         uuid.NewString(),
		SourcePath: sourcePath,
		Remote:     remote,
		CreatedAt:  s.now().UTC(),
	}
	s.mu.Lock()
	s.entries[entry.ID] = entry
	s.mu.Unlock()
	return entry
}

func (s *TempVideoStore) Get(id string) (TempVideo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	return entry, ok
}

func (s *TempVideoStore) Update(id string, update TempVideoUpdate) (TempVideo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return TempVideo{}, fmt.Errorf("temp video %s: %w", id, ErrStateNotFound)
	}
	if update.Frames != nil {
		entry.Frames = append([]string(nil), (*update.Frames)...)
	}
	if update.FramesComplete != nil {
		entry.FramesComplete = *update.FramesComplete
	}
	if update.Width != nil {
		entry.Width = *update.Width
	}
	if update.Height != nil {
		entry.Height = *update.Height
	}
	if update.Duration != nil {
		entry.Duration = *update.Duration
	}
	if update.Error != nil {
		entry.Error = *update.Error
	}
	s.entries[id] = entry
	return entry, nil
}

// Pop removes and returns an entry in one step, used when the sprite-sheet
// confirmation claims the upload.
func (s *TempVideoStore) Pop(id string) (TempVideo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	return entry, ok
}

func (s *TempVideoStore) Delete(id string) {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
}

// Snapshot copies the current entries, for the expiry sweep.
func (s *TempVideoStore) Snapshot() map[string]TempVideo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]TempVideo, len(s.entries))
	for id, entry := range s.entries {
		out[id] = entry
	}
	return out
}

// Session tracks one HLS encode from enqueue to a terminal status.
type Session struct {
	ID              string
	Status          string
	Stage           string
	Progress        int
	HLSURL          string
	TempID          string
	Slug            string
	SpriteGenerated bool
	Error           string
	CreatedAt       time.Time
}

// SessionUpdate mutates the fields whose pointers are non-nil.
type SessionUpdate struct {
	Status          *string
	Stage           *string
	Progress        *int
	HLSURL          *string
	SpriteGenerated *bool
	Error           *string
}

// SessionStore holds in-flight HLS sessions. Each session carries a channel
// closed on the first terminal status so waiters block instead of polling.
type SessionStore struct {
	mu      sync.Mutex
	entries map[string]Session
	done    map[string]chan struct{}
	now     func() time.Time
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		entries: make(map[string]Session),
		done:    make(map[string]chan struct{}),
		now:     time.Now,
	}
}

func (s *SessionStore) Create(tempID, slug string) Session {
	session := Session{
		ID:        uuid.NewString(),
		Status:    StatusProcessing,
		Stage:     "Queued",
		TempID:    tempID,
		Slug:      slug,
		CreatedAt: s.now().UTC(),
	}
	s.mu.Lock()
	s.entries[session.ID] = session
	s.done[session.ID] = make(chan struct{})
	s.mu.Unlock()
	return session
}

func (s *SessionStore) Get(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.entries[id]
	return session, ok
}

func (s *SessionStore) Update(id string, update SessionUpdate) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.entries[id]
	if !ok {
		return Session{}, fmt.Errorf("hls session %s: %w", id, ErrStateNotFound)
	}
	wasTerminal := session.Status == StatusComplete || session.Status == StatusError
	if update.Status != nil {
		session.Status = *update.Status
	}
	if update.Stage != nil {
		session.Stage = *update.Stage
	}
	if update.Progress != nil {
		session.Progress = *update.Progress
	}
	if update.HLSURL != nil {
		session.HLSURL = *update.HLSURL
	}
	if update.SpriteGenerated != nil {
		session.SpriteGenerated = *update.SpriteGenerated
	}
	if update.Error != nil {
		session.Error = *update.Error
	}
	s.entries[id] = session
	if !wasTerminal && (session.Status == StatusComplete || session.Status == StatusError) {
		if done, ok := s.done[id]; ok {
			close(done)
		}
	}
	return session, nil
}

func (s *SessionStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.entries[id]; ok {
		if session.Status == StatusProcessing {
			// Unblock any waiter before the entry disappears.
			if done, ok := s.done[id]; ok {
				close(done)
			}
		}
		delete(s.entries, id)
		delete(s.done, id)
	}
}

func (s *SessionStore) Snapshot() map[string]Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Session, len(s.entries))
	for id, session := range s.entries {
		out[id] = session
	}
	return out
}

// Wait blocks until the session reaches a terminal status, the timeout
// elapses, or ctx is cancelled, then returns the session's latest state.
func (s *SessionStore) Wait(ctx context.Context, id string, timeout time.Duration) (Session, error) {
	s.mu.Lock()
	session, ok := s.entries[id]
	done := s.done[id]
	s.mu.Unlock()
	if !ok {
		return Session{}, fmt.Errorf("hls session %s: %w", id, ErrStateNotFound)
	}
	if session.Status != StatusProcessing || done == nil {
		return session, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		session, _ = s.Get(id)
		return session, fmt.Errorf("hls session %s: timed out after %s", id, timeout)
	case <-ctx.Done():
		session, _ = s.Get(id)
		return session, ctx.Err()
	}
	session, ok = s.Get(id)
	if !ok {
		return Session{}, fmt.Errorf("hls session %s: %w", id, ErrStateNotFound)
	}
	return session, nil
}
