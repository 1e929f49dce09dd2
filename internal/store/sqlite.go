package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pbaille/akten/internal/domain"
	"go.uber.org/zap"
)

// Store handles database operations for the folders and files collections.
// The underlying handle is reopened transparently when it has been closed.
type Store struct {
	path string
	log  *zap.Logger

	mu sync.Mutex
	db *sql.DB
}

// New opens the database at dbPath and brings its schema up to date
func New(dbPath string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{path: dbPath, log: log.Named("store")}
	if _, err := s.conn(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the database connection. The store reopens on next use.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// SchemaVersion returns the schema version stored in the database.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	return schemaVersion(ctx, db)
}

// conn returns a live handle, discarding a closed one and opening a new one.
// A cancelled caller gets its context error and leaves the handle alone.
func (s *Store) conn(ctx context.Context) (*sql.DB, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		err := s.db.PingContext(context.WithoutCancel(ctx))
		if err == nil {
			return s.db, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.log.Info("database handle unusable, reopening", zap.String("path", s.path), zap.Error(err))
		s.db.Close()
		s.db = nil
	}

	db, err := open(ctx, s.path, s.log)
	if err != nil {
		return nil, err
	}
	s.db = db
	return db, nil
}

func open(ctx context.Context, path string, log *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Single writer; keeps every statement on one SQLite connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate(ctx, db, log); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return db, nil
}

// AddFolder inserts a folder and returns it with its new ID
func (s *Store) AddFolder(ctx context.Context, f domain.Folder) (*domain.Folder, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	res, err := db.ExecContext(ctx,
		"INSERT INTO folders (name, parent_id) VALUES (?, ?)",
		f.Name, f.ParentID,
	)
	if err != nil {
		return nil, fmt.Errorf("insert folder: %w", err)
	}
	if f.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("insert folder: %w", err)
	}
	return &f, nil
}

// GetFolder retrieves a folder by ID. It returns nil when there is none.
func (s *Store) GetFolder(ctx context.Context, id int64) (*domain.Folder, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var f domain.Folder
	err = db.QueryRowContext(ctx,
		"SELECT id, name, parent_id FROM folders WHERE id = ?", id,
	).Scan(&f.ID, &f.Name, &f.ParentID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get folder: %w", err)
	}
	return &f, nil
}

// LookupFolder is GetFolder for an optional reference; a nil id is
// answered with nil without touching the database.
func (s *Store) LookupFolder(ctx context.Context, id *int64) (*domain.Folder, error) {
	if id == nil {
		return nil, nil
	}
	return s.GetFolder(ctx, *id)
}

// DeleteFolder removes a folder record. Deleting a missing ID is not an error.
func (s *Store) DeleteFolder(ctx context.Context, id int64) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM folders WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete folder: %w", err)
	}
	return nil
}

// FoldersByParent returns the folders whose parent is parentID (nil = root level)
func (s *Store) FoldersByParent(ctx context.Context, parentID *int64) ([]domain.Folder, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	return queryFolders(ctx, db, "SELECT id, name, parent_id FROM folders WHERE parent_id IS ?", parentID)
}

// ListFolders returns every folder
func (s *Store) ListFolders(ctx context.Context) ([]domain.Folder, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	return queryFolders(ctx, db, "SELECT id, name, parent_id FROM folders")
}

// FindFolder scans all folders for the first one with the given name and
// parent. Names are not unique, so this is a point lookup, not an index.
func (s *Store) FindFolder(ctx context.Context, name string, parentID *int64) (*domain.Folder, error) {
	folders, err := s.ListFolders(ctx)
	if err != nil {
		return nil, fmt.Errorf("find folder: %w", err)
	}
	for i := range folders {
		if folders[i].Name == name && sameParent(folders[i].ParentID, parentID) {
			return &folders[i], nil
		}
	}
	return nil, nil
}

func sameParent(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func queryFolders(ctx context.Context, db *sql.DB, query string, args ...any) ([]domain.Folder, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer rows.Close()

	var folders []domain.Folder
	for rows.Next() {
		var f domain.Folder
		if err := rows.Scan(&f.ID, &f.Name, &f.ParentID); err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		folders = append(folders, f)
	}
	return folders, rows.Err()
}

// AddFile inserts a file and returns it with its new ID. Any ID already set is ignored.
func (s *Store) AddFile(ctx context.Context, f domain.File) (*domain.File, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	res, err := db.ExecContext(ctx, `
		INSERT INTO files (name, date, folder_id, is_tax_relevant, category, type, data, summary, is_copy, original_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.Name, nullDate(f.Date), f.FolderID, f.IsTaxRelevant, nullString(string(f.Category)),
		f.Type, f.Data, nullString(f.Summary), f.IsCopy, f.OriginalID,
	)
	if err != nil {
		return nil, fmt.Errorf("insert file: %w", err)
	}
	if f.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("insert file: %w", err)
	}
	return &f, nil
}

const fileColumns = "id, name, date, folder_id, is_tax_relevant, category, type, summary, is_copy, original_id"

// GetFile retrieves a file including its payload. It returns nil when there is none.
func (s *Store) GetFile(ctx context.Context, id int64) (*domain.File, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx, "SELECT "+fileColumns+", data FROM files WHERE id = ?", id)
	f, err := scanFile(row, true)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	return f, nil
}

// DeleteFile removes a file record. Deleting a missing ID is not an error.
func (s *Store) DeleteFile(ctx context.Context, id int64) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM files WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// FilesByFolder returns the files in a folder without their payloads.
// Order is unspecified.
func (s *Store) FilesByFolder(ctx context.Context, folderID int64) ([]domain.File, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, "SELECT "+fileColumns+" FROM files WHERE folder_id = ?", folderID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var files []domain.File
	for rows.Next() {
		f, err := scanFile(rows, false)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, *f)
	}
	return files, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(row scanner, withData bool) (*domain.File, error) {
	var (
		f        domain.File
		date     sql.NullString
		category sql.NullString
		summary  sql.NullString
	)
	dest := []any{
		&f.ID, &f.Name, &date, &f.FolderID, &f.IsTaxRelevant, &category,
		&f.Type, &summary, &f.IsCopy, &f.OriginalID,
	}
	if withData {
		dest = append(dest, &f.Data)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	if date.Valid && date.String != "" {
		d, err := time.Parse(domain.DateLayout, date.String)
		if err != nil {
			return nil, fmt.Errorf("parse date %q: %w", date.String, err)
		}
		f.Date = d
	}
	f.Category = domain.Category(category.String)
	f.Summary = summary.String
	return &f, nil
}

func nullDate(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(domain.DateLayout), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
