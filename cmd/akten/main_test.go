package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pbaille/akten/internal/domain"
	"github.com/pbaille/akten/internal/store"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short", "Rechnung", 20, "Rechnung"},
		{"exact", "abcde", 5, "abcde"},
		{"long", "Steuerbescheid 2023", 10, "Steuer..."},
		{"newlines", "a\nb", 10, "a b"},
		{"umlauts", "Überweisungsträger", 8, "Überw..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, truncate(tt.in, tt.max))
		})
	}
}

func TestParseID(t *testing.T) {
	id, err := parseID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	_, err = parseID("abc")
	assert.Error(t, err)
}

func TestOptionalParent(t *testing.T) {
	var parent int64
	cmd := &cobra.Command{Use: "mkdir"}
	cmd.Flags().Int64Var(&parent, "parent", 0, "")

	assert.Nil(t, optionalParent(cmd, "parent", parent))

	require.NoError(t, cmd.Flags().Set("parent", "7"))
	got := optionalParent(cmd, "parent", parent)
	require.NotNil(t, got)
	assert.Equal(t, int64(7), *got)
}

func TestCommandsRegistered(t *testing.T) {
	for _, c := range []*cobra.Command{lsCmd(), mkdirCmd(), rmdirCmd(), addCmd(), rmCmd(), pathCmd(), taxYearCmd(), serveCmd()} {
		assert.NotEmpty(t, c.Short, c.Use)
		assert.NotNil(t, c.RunE, c.Use)
	}
	assert.NotNil(t, addCmd().Flags().Lookup("no-classify"))
	assert.NotNil(t, rmdirCmd().Flags().Lookup("yes"))
}

// withArchive points the commands at a fresh database and returns its path.
func withArchive(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	oldDB, oldConfig := dbPath, configPath
	dbPath = filepath.Join(dir, "akten.db")
	configPath = filepath.Join(dir, "config.yaml")
	t.Cleanup(func() { dbPath, configPath = oldDB, oldConfig })
	return dbPath
}

func reopen(t *testing.T, path string) *store.Store {
	t.Helper()
	s, err := store.New(path, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func execute(cmd *cobra.Command, stdin string, args ...string) error {
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	return cmd.ExecuteContext(context.Background())
}

func TestAddCancelledAtNamePromptStoresNothing(t *testing.T) {
	ctx := context.Background()
	path := withArchive(t)

	s := reopen(t, path)
	inbox, err := s.AddFolder(ctx, domain.Folder{Name: "Eingang"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	doc := filepath.Join(t.TempDir(), "rechnung.pdf")
	require.NoError(t, os.WriteFile(doc, []byte("%PDF-1.4 scan"), 0644))
	args := []string{
		"--folder", fmt.Sprint(inbox.ID), "--no-classify",
		"--tax", "--address", "--date", "2024-03-01", "--category", "Rechnungen", doc,
	}

	err = execute(addCmd(), "", args...)
	require.ErrorIs(t, err, domain.ErrCancelled)

	files, err := s.FilesByFolder(ctx, inbox.ID)
	require.NoError(t, err)
	assert.Empty(t, files)
	folders, err := s.ListFolders(ctx)
	require.NoError(t, err)
	assert.Len(t, folders, 1, "no filing folders for a cancelled add")

	// Accepting the suggested name goes through and files both copies.
	require.NoError(t, execute(addCmd(), "\n", args...))
	files, err = s.FilesByFolder(ctx, inbox.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "rechnung", files[0].Name)
	folders, err = s.ListFolders(ctx)
	require.NoError(t, err)
	assert.Len(t, folders, 1+1+len(domain.Categories)+1)
}

func TestRmdirCancelledKeepsFolder(t *testing.T) {
	ctx := context.Background()
	path := withArchive(t)

	s := reopen(t, path)
	parent, err := s.AddFolder(ctx, domain.Folder{Name: "Haus"})
	require.NoError(t, err)
	child, err := s.AddFolder(ctx, domain.Folder{Name: "Handwerker", ParentID: &parent.ID})
	require.NoError(t, err)
	file, err := s.AddFile(ctx, domain.File{Name: "Angebot", FolderID: child.ID, Data: []byte("x")})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	for _, answer := range []string{"", "n\n", "nein\n"} {
		err := execute(rmdirCmd(), answer, fmt.Sprint(parent.ID))
		require.ErrorIs(t, err, domain.ErrCancelled, "answer %q", answer)
	}

	folders, err := s.ListFolders(ctx)
	require.NoError(t, err)
	assert.Len(t, folders, 2)
	got, err := s.GetFile(ctx, file.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)

	require.NoError(t, execute(rmdirCmd(), "ja\n", fmt.Sprint(parent.ID)))
	folders, err = s.ListFolders(ctx)
	require.NoError(t, err)
	assert.Empty(t, folders)
}
