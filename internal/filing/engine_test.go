package filing_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pbaille/akten/internal/domain"
	"github.com/pbaille/akten/internal/filing"
	"github.com/pbaille/akten/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setup(t *testing.T) (*store.Store, *filing.Engine) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "akten.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, filing.New(s, zap.NewNop(), nil)
}

func addOriginal(t *testing.T, s *store.Store, f domain.File) *domain.File {
	t.Helper()
	ctx := context.Background()
	inbox, err := s.AddFolder(ctx, domain.Folder{Name: "Eingang"})
	require.NoError(t, err)
	f.FolderID = inbox.ID
	added, err := s.AddFile(ctx, f)
	require.NoError(t, err)
	return added
}

func TestEnsureTaxYearIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, e := setup(t)

	first, err := e.EnsureTaxYear(ctx, 2024)
	require.NoError(t, err)
	second, err := e.EnsureTaxYear(ctx, 2024)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	roots, err := s.FoldersByParent(ctx, nil)
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, "Steuererklärung 2024", roots[0].Name)

	categories, err := s.FoldersByParent(ctx, &first.ID)
	require.NoError(t, err)
	require.Len(t, categories, 4)
	names := map[string]bool{}
	for _, c := range categories {
		names[c.Name] = true
	}
	for _, c := range domain.Categories {
		assert.True(t, names[string(c)], "missing %s", c)
	}
}

func TestConcurrentEnsureCreatesNoDuplicates(t *testing.T) {
	ctx := context.Background()
	s, e := setup(t)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := e.EnsureTaxYear(ctx, 2023)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := e.EnsureTenantFolder(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	all, err := s.ListFolders(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1+len(domain.Categories)+1)
}

func TestEnsureTenantFolderIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, e := setup(t)

	a, err := e.EnsureTenantFolder(ctx)
	require.NoError(t, err)
	b, err := e.EnsureTenantFolder(ctx)
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)

	all, err := s.ListFolders(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestFileIntoTaxFolder(t *testing.T) {
	ctx := context.Background()
	s, e := setup(t)
	orig := addOriginal(t, s, domain.File{
		Name:          "Handwerkerrechnung",
		Date:          time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		IsTaxRelevant: true,
		Category:      domain.CategoryInvoices,
		Type:          "image/jpeg",
		Data:          []byte("scan"),
	})

	c, err := e.FileIntoTaxFolder(ctx, orig)
	require.NoError(t, err)
	require.NotNil(t, c)

	year, err := s.FindFolder(ctx, "Steuererklärung 2024", nil)
	require.NoError(t, err)
	require.NotNil(t, year)
	invoices, err := s.FindFolder(ctx, "Rechnungen", &year.ID)
	require.NoError(t, err)
	require.NotNil(t, invoices)

	files, err := s.FilesByFolder(ctx, invoices.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	got := files[0]
	assert.True(t, got.IsCopy)
	require.NotNil(t, got.OriginalID)
	assert.Equal(t, orig.ID, *got.OriginalID)
	assert.NotEqual(t, orig.ID, got.ID)
	assert.Equal(t, orig.Name, got.Name)

	stored, err := s.GetFile(ctx, got.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("scan"), stored.Data)
}

func TestFileIntoTaxFolderPreconditions(t *testing.T) {
	dated := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		file domain.File
	}{
		{"not tax relevant", domain.File{Name: "a", Date: dated, Category: domain.CategoryInvoices}},
		{"no date", domain.File{Name: "b", IsTaxRelevant: true, Category: domain.CategoryInvoices}},
		{"no category", domain.File{Name: "c", IsTaxRelevant: true, Date: dated}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s, e := setup(t)
			orig := addOriginal(t, s, tt.file)

			c, err := e.FileIntoTaxFolder(ctx, orig)
			require.NoError(t, err)
			assert.Nil(t, c)

			all, err := s.ListFolders(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 1, "only the inbox, no tax structure")
		})
	}
}

func TestFileIntoTenantFolder(t *testing.T) {
	ctx := context.Background()
	s, e := setup(t)
	orig := addOriginal(t, s, domain.File{Name: "Nebenkosten", Type: "application/pdf"})

	c, err := e.FileIntoTenantFolder(ctx, orig)
	require.NoError(t, err)
	require.NotNil(t, c)

	tenant, err := s.FindFolder(ctx, "Mieter", nil)
	require.NoError(t, err)
	require.NotNil(t, tenant)
	files, err := s.FilesByFolder(ctx, tenant.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.True(t, files[0].IsCopy)
	assert.Equal(t, orig.ID, *files[0].OriginalID)
}

func TestBothFilingsApply(t *testing.T) {
	ctx := context.Background()
	s, e := setup(t)
	orig := addOriginal(t, s, domain.File{
		Name:          "Grundsteuer",
		Date:          time.Date(2023, 8, 15, 0, 0, 0, 0, time.UTC),
		IsTaxRelevant: true,
		Category:      domain.CategoryOther,
	})

	tax, err := e.FileIntoTaxFolder(ctx, orig)
	require.NoError(t, err)
	tenant, err := e.FileIntoTenantFolder(ctx, orig)
	require.NoError(t, err)
	require.NotNil(t, tax)
	require.NotNil(t, tenant)
	assert.NotEqual(t, tax.FolderID, tenant.FolderID)
}

// lossyStore never finds category folders, as if they vanished right after creation.
type lossyStore struct {
	filing.Store
	added int
}

func (l *lossyStore) FindFolder(ctx context.Context, name string, parentID *int64) (*domain.Folder, error) {
	if parentID != nil {
		return nil, nil
	}
	return l.Store.FindFolder(ctx, name, parentID)
}

func (l *lossyStore) AddFile(ctx context.Context, f domain.File) (*domain.File, error) {
	l.added++
	return l.Store.AddFile(ctx, f)
}

func TestMissingCategoryFolderMakesNoCopy(t *testing.T) {
	ctx := context.Background()
	s, _ := setup(t)
	orig := addOriginal(t, s, domain.File{
		Name:          "Spende",
		Date:          time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC),
		IsTaxRelevant: true,
		Category:      domain.CategoryDonations,
	})

	lossy := &lossyStore{Store: s}
	e := filing.New(lossy, zap.NewNop(), nil)

	c, err := e.FileIntoTaxFolder(ctx, orig)
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.Zero(t, lossy.added)
}
