// Package tree exposes the folder hierarchy for navigation.
package tree

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pbaille/akten/internal/domain"
)

// Reader is the part of the store navigation needs.
type Reader interface {
	GetFolder(ctx context.Context, id int64) (*domain.Folder, error)
	LookupFolder(ctx context.Context, id *int64) (*domain.Folder, error)
	FoldersByParent(ctx context.Context, parentID *int64) ([]domain.Folder, error)
	FilesByFolder(ctx context.Context, folderID int64) ([]domain.File, error)
}

// Tree answers navigation queries over a Reader.
type Tree struct {
	store Reader
	now   func() time.Time
}

// New creates a Tree. The clock decides which tax years are locked.
func New(store Reader) *Tree {
	return &Tree{store: store, now: time.Now}
}

// WithClock returns a copy of t that uses now as its clock.
func (t *Tree) WithClock(now func() time.Time) *Tree {
	c := *t
	c.now = now
	return &c
}

// ChildFolders lists the folders directly under parentID (nil = root level), by name.
func (t *Tree) ChildFolders(ctx context.Context, parentID *int64) ([]domain.Folder, error) {
	folders, err := t.store.FoldersByParent(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("list child folders: %w", err)
	}
	sort.SliceStable(folders, func(i, j int) bool { return folders[i].Name < folders[j].Name })
	return folders, nil
}

// Files lists the files in a folder, most recent document date first.
// Undated files go last; ties fall back to newest ID first.
func (t *Tree) Files(ctx context.Context, folderID int64) ([]domain.File, error) {
	files, err := t.store.FilesByFolder(ctx, folderID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	sort.SliceStable(files, func(i, j int) bool {
		a, b := files[i], files[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.After(b.Date)
		}
		return a.ID > b.ID
	})
	return files, nil
}

// Breadcrumb returns the folders from the root down to folderID.
// A missing ancestor ends the walk; the path then starts below the gap.
func (t *Tree) Breadcrumb(ctx context.Context, folderID int64) ([]domain.Folder, error) {
	var path []domain.Folder
	seen := make(map[int64]bool)

	for next := &folderID; next == nil || !seen[*next]; {
		f, err := t.store.LookupFolder(ctx, next)
		if err != nil {
			return nil, fmt.Errorf("breadcrumb: %w", err)
		}
		if f == nil {
			break
		}
		seen[f.ID] = true
		path = append(path, *f)
		next = f.ParentID
	}

	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

// IsLocked reports whether the folder is a closed tax year.
func (t *Tree) IsLocked(f *domain.Folder) bool {
	return domain.IsLocked(f.Name, t.now())
}
