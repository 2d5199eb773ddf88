package upload

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"vodgate/internal/models"
)

const (
	indexFileName = "sessions.json"

	// DefaultMaxUploadBytes caps a single upload at 2 GiB.
	DefaultMaxUploadBytes = int64(2) << 30
	// DefaultRetention is how long an idle session survives before the sweep
	// removes it.
	DefaultRetention = 24 * time.Hour
)

// DiskStore keeps session records in memory, mirrors them to a JSON index on
// every mutation, and writes chunk bytes to one append-only sink file per
// session. The index is rewritten atomically (temp file then rename) so a
// crash mid-persist never corrupts it.
type DiskStore struct {
	dir       string
	maxBytes  int64
	retention time.Duration
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]models.UploadSession
	locks    map[string]*sync.Mutex
}

// DiskStoreOption customizes a DiskStore.
type DiskStoreOption func(*DiskStore)

// WithMaxBytes overrides the maximum declared upload length.
func WithMaxBytes(limit int64) DiskStoreOption {
	return func(s *DiskStore) {
		if limit > 0 {
			s.maxBytes = limit
		}
	}
}

// WithRetention overrides how long idle sessions are kept.
func WithRetention(d time.Duration) DiskStoreOption {
	return func(s *DiskStore) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithClock overrides the time source, used by tests to age sessions.
func WithClock(now func() time.Time) DiskStoreOption {
	return func(s *DiskStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewDiskStore opens (or creates) the store rooted at dir and reloads any
// sessions recorded by a previous run. Reload reconciles each recorded offset
// against the sink's actual size; the sink is authoritative, so a partially
// flushed index never reports bytes the disk does not hold.
func NewDiskStore(dir string, opts ...DiskStoreOption) (*DiskStore, error) {
	if dir == "" {
		return nil, errors.New("upload: store directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("upload: create store directory: %w", err)
	}
	store := &DiskStore{
		dir:       dir,
		maxBytes:  DefaultMaxUploadBytes,
		retention: DefaultRetention,
		now:       time.Now,
		sessions:  make(map[string]models.UploadSession),
		locks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

// Retention reports the configured idle-session lifetime.
func (s *DiskStore) Retention() time.Duration {
	return s.retention
}

// MaxBytes reports the configured upload size cap.
func (s *DiskStore) MaxBytes() int64 {
	return s.maxBytes
}

// Create registers a new session and its empty sink.
func (s *DiskStore) Create(params CreateParams) (models.UploadSession, error) {
	if params.DeclaredLength <= 0 {
		return models.UploadSession{}, ErrInvalidLength
	}
	if params.DeclaredLength > s.maxBytes {
		return models.UploadSession{}, ErrTooLarge
	}
	id, err := generateID()
	if err != nil {
		return models.UploadSession{}, fmt.Errorf("upload: generate session id: %w", err)
	}
	session := models.UploadSession{
		ID:             id,
		Owner:          params.Owner,
		DeclaredLength: params.DeclaredLength,
		Metadata:       cloneMetadata(params.Metadata),
		CreatedAt:      s.now().UTC(),
	}
	sink, err := os.OpenFile(s.sinkPath(id), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return models.UploadSession{}, fmt.Errorf("upload: create sink: %w", err)
	}
	if err := sink.Close(); err != nil {
		return models.UploadSession{}, fmt.Errorf("upload: close sink: %w", err)
	}

	s.mu.Lock()
	s.sessions[id] = session
	err = s.persistLocked()
	s.mu.Unlock()
	if err != nil {
		return models.UploadSession{}, err
	}
	return session, nil
}

// Get returns a snapshot of the session.
func (s *DiskStore) Get(id string) (models.UploadSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return models.UploadSession{}, false
	}
	session.Metadata = cloneMetadata(session.Metadata)
	return session, true
}

// Append writes the chunk at expectedOffset and returns the new offset. The
// offset comparison and the sink write run under the session's lock, so two
// appends carrying the same expected offset cannot both succeed: the loser
// observes the advanced offset and receives an OffsetConflictError. A failed
// append truncates the sink back to the pre-append offset so the session
// state is unchanged.
func (s *DiskStore) Append(id string, expectedOffset int64, chunk io.Reader) (int64, error) {
	lock, ok := s.sessionLock(id)
	if !ok {
		return 0, ErrNotFound
	}
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	session, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return 0, ErrNotFound
	}
	if expectedOffset != session.ReceivedOffset {
		return session.ReceivedOffset, &OffsetConflictError{Expected: expectedOffset, Current: session.ReceivedOffset}
	}

	sink, err := os.OpenFile(s.sinkPath(id), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return session.ReceivedOffset, fmt.Errorf("upload: open sink: %w", err)
	}
	remaining := session.DeclaredLength - session.ReceivedOffset
	written, copyErr := io.Copy(sink, io.LimitReader(chunk, remaining))
	if copyErr == nil && written == remaining {
		// The chunk may extend past the declared length; probe one byte.
		var probe [1]byte
		if n, _ := chunk.Read(probe[:]); n > 0 {
			copyErr = ErrLengthExceeded
		}
	}
	if copyErr == nil && written == 0 {
		copyErr = ErrEmptyChunk
	}
	if copyErr == nil {
		copyErr = sink.Sync()
	}
	if copyErr != nil {
		sink.Close()
		if truncErr := os.Truncate(s.sinkPath(id), session.ReceivedOffset); truncErr != nil {
			return session.ReceivedOffset, fmt.Errorf("upload: roll back sink after failed append: %w", truncErr)
		}
		return session.ReceivedOffset, copyErr
	}
	if err := sink.Close(); err != nil {
		return session.ReceivedOffset, fmt.Errorf("upload: close sink: %w", err)
	}

	session.ReceivedOffset += written
	s.mu.Lock()
	s.sessions[id] = session
	err = s.persistLocked()
	s.mu.Unlock()
	if err != nil {
		return session.ReceivedOffset, err
	}
	return session.ReceivedOffset, nil
}

// Open returns the session's sink opened for reading, positioned at the
// start, along with a snapshot of the session. The caller closes the file.
func (s *DiskStore) Open(id string) (*os.File, models.UploadSession, error) {
	s.mu.Lock()
	session, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return nil, models.UploadSession{}, ErrNotFound
	}
	file, err := os.Open(s.sinkPath(id))
	if err != nil {
		return nil, models.UploadSession{}, fmt.Errorf("upload: open sink for read: %w", err)
	}
	session.Metadata = cloneMetadata(session.Metadata)
	return file, session, nil
}

// Delete removes the session record and its sink. Deleting an unknown id
// returns ErrNotFound.
func (s *DiskStore) Delete(id string) error {
	s.mu.Lock()
	_, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.sessions, id)
	delete(s.locks, id)
	err := s.persistLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if err := os.Remove(s.sinkPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("upload: remove sink: %w", err)
	}
	return nil
}

// SweepExpired deletes every session created before now minus the retention
// window and reports how many were removed.
func (s *DiskStore) SweepExpired(now time.Time) (int, error) {
	cutoff := now.Add(-s.retention)
	s.mu.Lock()
	var expired []string
	for id, session := range s.sessions {
		if session.CreatedAt.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	s.mu.Unlock()

	removed := 0
	for _, id := range expired {
		if err := s.Delete(id); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (s *DiskStore) sessionLock(id string) (*sync.Mutex, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return nil, false
	}
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	return lock, true
}

func (s *DiskStore) sinkPath(id string) string {
	return filepath.Join(s.dir, id+".bin")
}

func (s *DiskStore) indexPath() string {
	return filepath.Join(s.dir, indexFileName)
}

func (s *DiskStore) load() error {
	raw, err := os.ReadFile(s.indexPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("upload: read session index: %w", err)
	}
	var index struct {
		Sessions []models.UploadSession `json:"sessions"`
	}
	if err := json.Unmarshal(raw, &index); err != nil {
		return fmt.Errorf("upload: decode session index: %w", err)
	}
	for _, session := range index.Sessions {
		info, err := os.Stat(s.sinkPath(session.ID))
		if err != nil {
			// Sink lost, session unrecoverable.
			continue
		}
		session.ReceivedOffset = info.Size()
		s.sessions[session.ID] = session
	}
	return nil
}

func (s *DiskStore) persistLocked() error {
	index := struct {
		Sessions []models.UploadSession `json:"sessions"`
	}{Sessions: make([]models.UploadSession, 0, len(s.sessions))}
	for _, session := range s.sessions {
		index.Sessions = append(index.Sessions, session)
	}
	payload, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("upload: encode session index: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, indexFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("upload: create temp index: %w", err)
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("upload: write temp index: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("upload: sync temp index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("upload: close temp index: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.indexPath()); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("upload: replace session index: %w", err)
	}
	return nil
}

func generateID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func cloneMetadata(metadata map[string]string) map[string]string {
	if len(metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(metadata))
	for key, value := range metadata {
		clone[key] = value
	}
	return clone
}
