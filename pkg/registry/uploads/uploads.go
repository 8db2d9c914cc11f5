// Package uploads tracks in-flight chunked blob uploads.
package uploads

import (
	"bytes"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/wuxler/pincer/pkg/errdefs"
	"github.com/wuxler/pincer/pkg/ocispec"
	"github.com/wuxler/pincer/pkg/storage"
	"github.com/wuxler/pincer/pkg/xlog"
)

// DefaultIdleTimeout is how long a session may sit untouched before the
// janitor drops it. Uploads have no persistence, so an abandoned push would
// otherwise hold its chunks in memory forever.
const DefaultIdleTimeout = 1 * time.Hour

var (
	// ErrNoSession is returned when an upload id does not name a live session.
	ErrNoSession = errdefs.Newf(errdefs.ErrNotFound, "no such upload session")
)

// Session accumulates the chunks of one blob upload. The registry upload
// protocol is sequential per upload id, so a session sees one request at a
// time, but sessions live in a table shared across request goroutines.
type Session struct {
	id    string
	image string

	mu       sync.Mutex
	chunks   [][]byte
	size     int64
	lastUsed time.Time
}

// ID returns the upload id.
func (s *Session) ID() string {
	return s.id
}

// Image returns the image name the upload was started for.
func (s *Session) Image() string {
	return s.image
}

// Size returns the number of bytes appended so far.
func (s *Session) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

func (s *Session) append(now time.Time, chunk []byte) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, chunk)
	s.size += int64(len(chunk))
	s.lastUsed = now
	return s.size
}

func (s *Session) content() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Join(s.chunks, nil)
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// NewTable returns a session table writing finalized blobs to store. With a
// positive idleTimeout a janitor goroutine drops sessions untouched for that
// long; zero disables eviction. Stop the janitor with Close.
func NewTable(store *storage.FileStore, idleTimeout time.Duration) *Table {
	return newTable(store, clock.New(), idleTimeout)
}

func newTable(store *storage.FileStore, clk clock.Clock, idleTimeout time.Duration) *Table {
	t := &Table{
		store:       store,
		clock:       clk,
		idleTimeout: idleTimeout,
		sessions:    xsync.NewMapOf[string, *Session](),
		stop:        make(chan struct{}),
	}
	if idleTimeout > 0 {
		go t.janitor()
	}
	return t
}

// Table is the in-memory concurrent map of live upload sessions.
type Table struct {
	store       *storage.FileStore
	clock       clock.Clock
	idleTimeout time.Duration
	sessions    *xsync.MapOf[string, *Session]

	stop     chan struct{}
	stopOnce sync.Once
}

// Start allocates an empty session for an upload to image.
func (t *Table) Start(image string) *Session {
	s := &Session{
		id:       uuid.NewString(),
		image:    image,
		lastUsed: t.clock.Now(),
	}
	t.sessions.Store(s.id, s)
	return s
}

// Get returns the live session with the given id.
func (t *Table) Get(id string) (*Session, error) {
	s, ok := t.sessions.Load(id)
	if !ok {
		return nil, ErrNoSession
	}
	return s, nil
}

// Append adds a chunk to the session's buffer and returns the running byte
// count.
func (t *Table) Append(id string, chunk []byte) (int64, error) {
	s, err := t.Get(id)
	if err != nil {
		return 0, err
	}
	return s.append(t.clock.Now(), chunk), nil
}

// Finalize concatenates the session's chunks, verifies the expected digest
// when one is given, writes the blob to the store and retires the session.
// It returns the actual digest together with the assembled content so the
// caller can hand the bytes on without re-reading the store. On digest
// mismatch the session is kept intact for the client to retry.
func (t *Table) Finalize(id string, expected digest.Digest) (digest.Digest, []byte, error) {
	s, err := t.Get(id)
	if err != nil {
		return "", nil, err
	}
	content := s.content()
	actual := ocispec.DigestBytes(content)
	if expected != "" && actual != expected {
		return "", nil, errdefs.Newf(errdefs.ErrDigestMismatch,
			"upload %s digest mismatch: expected %s actual %s", id, expected, actual)
	}
	if err := t.store.PutBlob(actual, content); err != nil {
		return "", nil, err
	}
	t.sessions.Delete(id)
	return actual, content, nil
}

// Len returns the number of live sessions.
func (t *Table) Len() int {
	return t.sessions.Size()
}

// Close stops the janitor. Live sessions are dropped with the process.
func (t *Table) Close() error {
	t.stopOnce.Do(func() {
		close(t.stop)
	})
	return nil
}

func (t *Table) janitor() {
	ticker := t.clock.Ticker(t.idleTimeout / 2) //nolint:mnd // sweep twice per timeout window
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.evictIdle()
		}
	}
}

func (t *Table) evictIdle() {
	deadline := t.clock.Now().Add(-t.idleTimeout)
	t.sessions.Range(func(id string, s *Session) bool {
		if s.idleSince().Before(deadline) {
			t.sessions.Delete(id)
			xlog.Debugf("evicted idle upload session %s for image %s", id, s.Image())
		}
		return true
	})
}
