package tree_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pbaille/akten/internal/domain"
	"github.com/pbaille/akten/internal/store"
	"github.com/pbaille/akten/internal/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setup(t *testing.T) (*store.Store, *tree.Tree) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "akten.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, tree.New(s)
}

func mkdir(t *testing.T, s *store.Store, name string, parent *domain.Folder) *domain.Folder {
	t.Helper()
	f := domain.Folder{Name: name}
	if parent != nil {
		f.ParentID = &parent.ID
	}
	added, err := s.AddFolder(context.Background(), f)
	require.NoError(t, err)
	return added
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestBreadcrumbThreeLevels(t *testing.T) {
	s, tr := setup(t)
	a := mkdir(t, s, "Haus", nil)
	b := mkdir(t, s, "Handwerker", a)
	c := mkdir(t, s, "2024", b)

	path, err := tr.Breadcrumb(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, path, 3)
	assert.Equal(t, []string{"Haus", "Handwerker", "2024"},
		[]string{path[0].Name, path[1].Name, path[2].Name})
}

func TestBreadcrumbTruncatesAtMissingAncestor(t *testing.T) {
	ctx := context.Background()
	s, tr := setup(t)
	a := mkdir(t, s, "Haus", nil)
	b := mkdir(t, s, "Handwerker", a)
	c := mkdir(t, s, "2024", b)
	require.NoError(t, s.DeleteFolder(ctx, a.ID))

	path, err := tr.Breadcrumb(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, path, 2)
	assert.Equal(t, "Handwerker", path[0].Name)

	path, err = tr.Breadcrumb(ctx, 12345)
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestFilesNewestFirst(t *testing.T) {
	ctx := context.Background()
	s, tr := setup(t)
	dir := mkdir(t, s, "Post", nil)

	for _, f := range []domain.File{
		{Name: "mitte", Date: date(2023, 6, 1)},
		{Name: "ohne Datum"},
		{Name: "neu", Date: date(2024, 1, 15)},
		{Name: "alt", Date: date(2021, 2, 2)},
	} {
		f.FolderID = dir.ID
		_, err := s.AddFile(ctx, f)
		require.NoError(t, err)
	}

	files, err := tr.Files(ctx, dir.ID)
	require.NoError(t, err)
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}
	assert.Equal(t, []string{"neu", "mitte", "alt", "ohne Datum"}, names)
}

func TestChildFoldersAppearOnceAndVanishAfterDelete(t *testing.T) {
	ctx := context.Background()
	s, tr := setup(t)
	parent := mkdir(t, s, "Parent", nil)
	child := mkdir(t, s, "Kind", parent)
	mkdir(t, s, "Geschwister", parent)

	count := func() int {
		folders, err := tr.ChildFolders(ctx, child.ParentID)
		require.NoError(t, err)
		n := 0
		for _, f := range folders {
			if f.ID == child.ID {
				n++
			}
		}
		return n
	}

	assert.Equal(t, 1, count())
	require.NoError(t, s.DeleteFolder(ctx, child.ID))
	assert.Equal(t, 0, count())
}

func TestIsLocked(t *testing.T) {
	_, tr := setup(t)
	folder := &domain.Folder{Name: "Steuererklärung 2022"}

	in2023 := tr.WithClock(func() time.Time { return date(2023, 1, 2) })
	in2022 := tr.WithClock(func() time.Time { return date(2022, 11, 30) })

	assert.True(t, in2023.IsLocked(folder))
	assert.False(t, in2022.IsLocked(folder))
	assert.False(t, in2023.IsLocked(&domain.Folder{Name: "Mieter"}))
}
