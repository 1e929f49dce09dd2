// Package filing derives destination folders from document attributes and
// files linked copies into them.
package filing

import (
	"context"
	"fmt"
	"sync"

	"github.com/pbaille/akten/internal/domain"
	"github.com/pbaille/akten/internal/observability"
	"go.uber.org/zap"
)

// Store is the persistence the engine needs.
type Store interface {
	FindFolder(ctx context.Context, name string, parentID *int64) (*domain.Folder, error)
	AddFolder(ctx context.Context, f domain.Folder) (*domain.Folder, error)
	AddFile(ctx context.Context, f domain.File) (*domain.File, error)
}

// Engine files documents into the tax-year and tenant folders.
// Its methods are safe for concurrent use; each find-or-create runs
// under one lock so derived folders are never duplicated.
type Engine struct {
	store   Store
	log     *zap.Logger
	metrics *observability.Metrics

	mu sync.Mutex
}

// New creates an Engine. metrics may be nil.
func New(store Store, log *zap.Logger, metrics *observability.Metrics) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{store: store, log: log.Named("filing"), metrics: metrics}
}

// getOrCreateFolder finds a folder by name under parentID or creates it
func (e *Engine) getOrCreateFolder(ctx context.Context, name string, parentID *int64) (*domain.Folder, error) {
	f, err := e.store.FindFolder(ctx, name, parentID)
	if err != nil {
		return nil, err
	}
	if f != nil {
		return f, nil
	}

	f, err = e.store.AddFolder(ctx, domain.Folder{Name: name, ParentID: parentID})
	if err != nil {
		return nil, fmt.Errorf("create folder %q: %w", name, err)
	}
	e.metrics.FolderCreated()
	e.log.Info("folder created", zap.Int64("id", f.ID), zap.String("name", name))
	return f, nil
}

// EnsureTaxYear makes sure "Steuererklärung <year>" exists at the root with
// one subfolder per category. Repeated calls create nothing new.
func (e *Engine) EnsureTaxYear(ctx context.Context, year int) (*domain.Folder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ensureTaxYear(ctx, year)
}

func (e *Engine) ensureTaxYear(ctx context.Context, year int) (*domain.Folder, error) {
	yearFolder, err := e.getOrCreateFolder(ctx, domain.TaxYearFolderName(year), nil)
	if err != nil {
		return nil, fmt.Errorf("ensure tax year %d: %w", year, err)
	}
	for _, c := range domain.Categories {
		if _, err := e.getOrCreateFolder(ctx, string(c), &yearFolder.ID); err != nil {
			return nil, fmt.Errorf("ensure tax year %d: %w", year, err)
		}
	}
	return yearFolder, nil
}

// EnsureTenantFolder makes sure the root-level tenant folder exists.
func (e *Engine) EnsureTenantFolder(ctx context.Context) (*domain.Folder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ensureTenantFolder(ctx)
}

func (e *Engine) ensureTenantFolder(ctx context.Context) (*domain.Folder, error) {
	f, err := e.getOrCreateFolder(ctx, domain.TenantFolder, nil)
	if err != nil {
		return nil, fmt.Errorf("ensure tenant folder: %w", err)
	}
	return f, nil
}

// FileIntoTaxFolder copies a tax-relevant, dated and categorized file into
// its year's category folder. Any other file is left alone and nil is returned.
func (e *Engine) FileIntoTaxFolder(ctx context.Context, f *domain.File) (*domain.File, error) {
	if !f.IsTaxRelevant || f.Date.IsZero() || f.Category == "" {
		e.log.Debug("not filed for taxes",
			zap.Int64("file_id", f.ID),
			zap.Bool("tax_relevant", f.IsTaxRelevant),
			zap.Bool("dated", !f.Date.IsZero()),
			zap.String("category", string(f.Category)),
		)
		return nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	year := f.Date.Year()
	if _, err := e.ensureTaxYear(ctx, year); err != nil {
		return nil, err
	}

	yearFolder, err := e.store.FindFolder(ctx, domain.TaxYearFolderName(year), nil)
	if err != nil {
		return nil, fmt.Errorf("find tax year %d: %w", year, err)
	}
	if yearFolder == nil {
		e.log.Warn("tax year folder missing after ensure", zap.Int("year", year))
		return nil, nil
	}
	categoryFolder, err := e.store.FindFolder(ctx, string(f.Category), &yearFolder.ID)
	if err != nil {
		return nil, fmt.Errorf("find category %s: %w", f.Category, err)
	}
	if categoryFolder == nil {
		e.log.Warn("category folder missing after ensure",
			zap.Int("year", year), zap.String("category", string(f.Category)))
		return nil, nil
	}

	return e.fileCopy(ctx, f, categoryFolder, observability.TargetTax)
}

// FileIntoTenantFolder copies a file into the tenant folder.
func (e *Engine) FileIntoTenantFolder(ctx context.Context, f *domain.File) (*domain.File, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tenant, err := e.ensureTenantFolder(ctx)
	if err != nil {
		return nil, err
	}
	return e.fileCopy(ctx, f, tenant, observability.TargetTenant)
}

func (e *Engine) fileCopy(ctx context.Context, f *domain.File, into *domain.Folder, target string) (*domain.File, error) {
	c, err := e.store.AddFile(ctx, *f.CopyInto(into.ID))
	if err != nil {
		return nil, fmt.Errorf("file copy into %q: %w", into.Name, err)
	}
	e.metrics.CopyFiled(target)
	e.log.Info("copy filed",
		zap.Int64("original_id", f.ID),
		zap.Int64("copy_id", c.ID),
		zap.Int64("folder_id", into.ID),
		zap.String("target", target),
	)
	return c, nil
}
