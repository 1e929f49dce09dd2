// Package session holds the per-user application context and the
// create/delete operations on the folder tree.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pbaille/akten/internal/domain"
	"github.com/pbaille/akten/internal/filing"
	"github.com/pbaille/akten/internal/observability"
	"github.com/pbaille/akten/internal/tree"
	"go.uber.org/zap"
)

// Store is everything a session does with persistence.
type Store interface {
	tree.Reader
	filing.Store
	GetFile(ctx context.Context, id int64) (*domain.File, error)
	DeleteFolder(ctx context.Context, id int64) error
	DeleteFile(ctx context.Context, id int64) error
	Close() error
}

// Session is the application context: the store handle, the folder the user
// is looking at (nil = root) and the components built on the store.
// Mutations and navigation are serialized, so one Session can back
// concurrent API requests.
type Session struct {
	ID string

	store   Store
	tree    *tree.Tree
	engine  *filing.Engine
	log     *zap.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	current *int64
}

// New starts a session at the root folder. log and metrics may be nil.
func New(store Store, log *zap.Logger, metrics *observability.Metrics) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	id := uuid.New().String()
	log = log.With(zap.String("session", id))

	return &Session{
		ID:      id,
		store:   store,
		tree:    tree.New(store),
		engine:  filing.New(store, log, metrics),
		log:     log,
		metrics: metrics,
	}
}

// Close ends the session and closes the store.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = nil
	return s.store.Close()
}

func (s *Session) Tree() *tree.Tree       { return s.tree }
func (s *Session) Engine() *filing.Engine { return s.engine }
func (s *Session) Logger() *zap.Logger    { return s.log }

// Current returns the folder being viewed, nil at the root.
func (s *Session) Current() *int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Enter makes folderID the current folder.
func (s *Session) Enter(ctx context.Context, folderID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.store.GetFolder(ctx, folderID)
	if err != nil {
		return err
	}
	if f == nil {
		return fmt.Errorf("folder %d: %w", folderID, domain.ErrNotFound)
	}
	s.current = &f.ID
	return nil
}

// Up moves to the parent of the current folder. A missing parent lands at the root.
func (s *Session) Up(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.store.LookupFolder(ctx, s.current)
	if err != nil {
		return err
	}
	if f == nil || f.IsRoot() {
		s.current = nil
		return nil
	}
	parent, err := s.store.LookupFolder(ctx, f.ParentID)
	if err != nil {
		return err
	}
	if parent == nil {
		s.current = nil
		return nil
	}
	s.current = &parent.ID
	return nil
}

// Folder returns the folder with the given ID or ErrNotFound.
func (s *Session) Folder(ctx context.Context, id int64) (*domain.Folder, error) {
	f, err := s.store.GetFolder(ctx, id)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, fmt.Errorf("folder %d: %w", id, domain.ErrNotFound)
	}
	return f, nil
}

// File returns the file with the given ID, payload included, or ErrNotFound.
func (s *Session) File(ctx context.Context, id int64) (*domain.File, error) {
	f, err := s.store.GetFile(ctx, id)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, fmt.Errorf("file %d: %w", id, domain.ErrNotFound)
	}
	return f, nil
}
