package session

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pbaille/akten/internal/domain"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	MaxFolderNameLength = 255
	MaxFileNameLength   = 255
)

var noSlash = regexp.MustCompile(`^[^/]+$`)

// CreateFolder inserts a folder under parentID (nil = root). Names need not be unique.
func (s *Session) CreateFolder(ctx context.Context, name string, parentID *int64) (*domain.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name = strings.TrimSpace(name)
	err := validation.Validate(name,
		validation.Required,
		validation.Length(1, MaxFolderNameLength),
		validation.Match(noSlash).Error("folder name cannot contain slashes"),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: name: %v", domain.ErrValidation, err)
	}

	if parentID != nil {
		if _, err := s.Folder(ctx, *parentID); err != nil {
			return nil, fmt.Errorf("parent folder: %w", err)
		}
	}

	f, err := s.store.AddFolder(ctx, domain.Folder{Name: name, ParentID: parentID})
	if err != nil {
		return nil, err
	}
	s.metrics.FolderCreated()
	s.log.Info("folder created", zap.Int64("id", f.ID), zap.String("name", f.Name), zap.Int64p("parent_id", f.ParentID))
	return f, nil
}

// DeleteFolderCascade deletes a folder with all of its subfolders and files.
// Each deletion is independent: a failure is logged and collected, the rest
// of the subtree is still visited, and a folder is only removed once
// everything below it is gone.
func (s *Session) DeleteFolderCascade(ctx context.Context, folderID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.deleteTree(ctx, folderID)

	if s.current != nil {
		if f, lookupErr := s.store.GetFolder(ctx, *s.current); lookupErr == nil && f == nil {
			s.current = nil
		}
	}
	return err
}

func (s *Session) deleteTree(ctx context.Context, folderID int64) error {
	children, err := s.store.FoldersByParent(ctx, &folderID)
	if err != nil {
		s.log.Error("list subfolders failed, folder kept", zap.Int64("folder_id", folderID), zap.Error(err))
		return fmt.Errorf("list subfolders of %d: %w", folderID, err)
	}

	var errs error
	for _, child := range children {
		errs = multierr.Append(errs, s.deleteTree(ctx, child.ID))
	}

	files, err := s.store.FilesByFolder(ctx, folderID)
	if err != nil {
		s.log.Error("list files failed", zap.Int64("folder_id", folderID), zap.Error(err))
		errs = multierr.Append(errs, fmt.Errorf("list files of %d: %w", folderID, err))
	}
	for _, f := range files {
		err := s.store.DeleteFile(ctx, f.ID)
		s.metrics.CascadeDelete("file", err)
		if err != nil {
			s.log.Error("delete file failed", zap.Int64("file_id", f.ID), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("delete file %d: %w", f.ID, err))
			continue
		}
		s.log.Debug("deleted file", zap.Int64("id", f.ID), zap.String("name", f.Name))
	}

	if errs != nil {
		s.log.Warn("folder kept, subtree not fully deleted", zap.Int64("folder_id", folderID))
		return errs
	}

	err = s.store.DeleteFolder(ctx, folderID)
	s.metrics.CascadeDelete("folder", err)
	if err != nil {
		s.log.Error("delete folder failed", zap.Int64("folder_id", folderID), zap.Error(err))
		return fmt.Errorf("delete folder %d: %w", folderID, err)
	}
	s.log.Debug("deleted folder", zap.Int64("id", folderID))
	return nil
}

// DeleteFile removes a single file. Copies and originals are independent records.
func (s *Session) DeleteFile(ctx context.Context, fileID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.DeleteFile(ctx, fileID); err != nil {
		return err
	}
	s.log.Info("file deleted", zap.Int64("id", fileID))
	return nil
}

// NewFile describes a document the user is adding, together with the
// filing hints known at creation time.
type NewFile struct {
	Name          string
	Date          time.Time
	FolderID      int64
	IsTaxRelevant bool
	Category      domain.Category
	Type          string
	Data          []byte
	Summary       string

	// AddressMatch files a copy into the tenant folder.
	AddressMatch bool
}

func (r *NewFile) validate() error {
	categories := make([]interface{}, len(domain.Categories))
	for i, c := range domain.Categories {
		categories[i] = c
	}
	return validation.ValidateStruct(r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, MaxFileNameLength)),
		validation.Field(&r.FolderID, validation.Required),
		validation.Field(&r.Category, validation.In(categories...)),
	)
}

// Filed is the outcome of adding a file: the original and the copies filed for it.
type Filed struct {
	Original *domain.File   `json:"original"`
	Copies   []*domain.File `json:"copies,omitempty"`
}

// AddFile stores a new document and then runs the filing engine once for it.
// The original is kept even if filing fails; filing errors are only logged.
func (s *Session) AddFile(ctx context.Context, req NewFile) (*Filed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req.Name = strings.TrimSpace(req.Name)
	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if _, err := s.Folder(ctx, req.FolderID); err != nil {
		return nil, err
	}
	if req.Type == "" && len(req.Data) > 0 {
		req.Type = http.DetectContentType(req.Data)
	}

	f, err := s.store.AddFile(ctx, domain.File{
		Name:          req.Name,
		Date:          req.Date,
		FolderID:      req.FolderID,
		IsTaxRelevant: req.IsTaxRelevant,
		Category:      req.Category,
		Type:          req.Type,
		Data:          req.Data,
		Summary:       req.Summary,
	})
	if err != nil {
		return nil, err
	}
	s.metrics.FileAdded()
	s.log.Info("file added", zap.Int64("id", f.ID), zap.String("name", f.Name), zap.Int64("folder_id", f.FolderID))

	filed := &Filed{Original: f}

	if f.IsTaxRelevant {
		c, err := s.engine.FileIntoTaxFolder(ctx, f)
		if err != nil {
			s.log.Error("tax filing failed", zap.Int64("file_id", f.ID), zap.Error(err))
		} else if c != nil {
			filed.Copies = append(filed.Copies, c)
		}
	}
	if req.AddressMatch {
		c, err := s.engine.FileIntoTenantFolder(ctx, f)
		if err != nil {
			s.log.Error("tenant filing failed", zap.Int64("file_id", f.ID), zap.Error(err))
		} else if c != nil {
			filed.Copies = append(filed.Copies, c)
		}
	}

	return filed, nil
}
