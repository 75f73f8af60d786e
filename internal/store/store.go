package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	"github.com/playbell/apiserver/logger"
)

// Collection names persisted by the server.
const (
	AccountsCollection = "accounts"
	SongsCollection    = "songs"
	RequestsCollection = "song_requests"
	CursorCollection   = "bot_cursor"
)

// Store serializes every read-modify-write on a collection behind a mutex
// keyed by collection name. All actors in the process (HTTP handlers, the
// bot poller, CLI commands) must share one Store; separate processes writing
// the same backend are not supported and will lose updates.
type Store struct {
	backend Backend

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New constructs a Store over the given backend.
func New(backend Backend) *Store {
	return &Store{
		backend: backend,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (s *Store) lock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

// Collection is a typed view of one named collection in a Store.
type Collection[T any] struct {
	store *Store
	name  string
}

// NewCollection returns a handle to the named collection. Handles with the
// same name share the same lock.
func NewCollection[T any](s *Store, name string) *Collection[T] {
	return &Collection[T]{store: s, name: name}
}

// Name returns the collection name.
func (c *Collection[T]) Name() string {
	return c.name
}

// Load returns a snapshot of the collection. It waits for any in-flight
// Update so it never observes a half-applied mutation.
func (c *Collection[T]) Load(ctx context.Context) ([]T, error) {
	l := c.store.lock(c.name)
	l.Lock()
	defer l.Unlock()
	return c.load(ctx, false)
}

// Update runs fn on the current records and saves the returned slice, all
// under the collection lock. If fn returns an error nothing is written.
func (c *Collection[T]) Update(ctx context.Context, fn func([]T) ([]T, error)) error {
	l := c.store.lock(c.name)
	l.Lock()
	defer l.Unlock()

	records, err := c.load(ctx, true)
	if err != nil {
		return err
	}
	updated, err := fn(records)
	if err != nil {
		return err
	}
	return c.save(ctx, updated)
}

// load reads the collection. An absent, blank or unparseable resource is
// reinitialized to an empty sequence instead of failing the caller. Other
// read errors yield an empty snapshot for plain reads, but fail writes so a
// transient backend error can never overwrite stored records.
func (c *Collection[T]) load(ctx context.Context, forWrite bool) ([]T, error) {
	data, err := c.store.backend.Read(ctx, c.name)
	switch {
	case errors.Is(err, ErrNotFound):
		return c.reinitialize(ctx, "missing")
	case err != nil:
		if forWrite {
			return nil, fmt.Errorf("read %s: %w", c.name, err)
		}
		logger.Warningf("store: read %s failed, serving empty snapshot: %v", c.name, err)
		return []T{}, nil
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return c.reinitialize(ctx, "empty")
	}

	var records []T
	if err := json.Unmarshal(data, &records); err != nil {
		logger.Warningf("store: parse %s failed: %v", c.name, err)
		return c.reinitialize(ctx, "unparseable")
	}
	if records == nil {
		records = []T{}
	}
	return records, nil
}

func (c *Collection[T]) reinitialize(ctx context.Context, reason string) ([]T, error) {
	logger.Infof("store: initializing %s collection (%s)", c.name, reason)
	records := []T{}
	if err := c.save(ctx, records); err != nil {
		// Reads self-heal; a failed rewrite only matters to the next writer.
		logger.Warningf("store: initialize %s failed: %v", c.name, err)
	}
	return records, nil
}

func (c *Collection[T]) save(ctx context.Context, records []T) error {
	if records == nil {
		records = []T{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", c.name, err)
	}
	if err := c.store.backend.Write(ctx, c.name, data); err != nil {
		return fmt.Errorf("save %s: %w", c.name, err)
	}
	return nil
}
