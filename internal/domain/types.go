package domain

import (
	"errors"
	"regexp"
	"strconv"
	"time"
)

// DateLayout is the calendar-date format used for File.Date on disk and on the wire.
const DateLayout = "2006-01-02"

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrCancelled  = errors.New("cancelled")
)

// Folder is a named container, optionally nested under another folder
type Folder struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	ParentID *int64 `json:"parent_id,omitempty"` // nil = root level
}

// IsRoot reports whether the folder sits at the top level.
func (f *Folder) IsRoot() bool {
	return f.ParentID == nil
}

// File is a stored document with its binary payload
type File struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Date          time.Time `json:"date,omitempty"` // zero = unset
	FolderID      int64     `json:"folder_id"`
	IsTaxRelevant bool      `json:"is_tax_relevant"`
	Category      Category  `json:"category,omitempty"`
	Type          string    `json:"type"`
	Data          []byte    `json:"-"`
	Summary       string    `json:"summary,omitempty"`
	IsCopy        bool      `json:"is_copy"`
	OriginalID    *int64    `json:"original_id,omitempty"`
}

// CopyInto returns an unsaved copy of f placed in folderID and linked back to f.
func (f *File) CopyInto(folderID int64) *File {
	c := *f
	c.ID = 0
	c.FolderID = folderID
	c.IsCopy = true
	orig := f.ID
	c.OriginalID = &orig
	return &c
}

// Category is one of the fixed tax categories
type Category string

const (
	CategoryInvoices  Category = "Rechnungen"
	CategoryInsurance Category = "Versicherungen"
	CategoryDonations Category = "Spenden"
	CategoryOther     Category = "Sonstiges"
)

// Categories lists the tax categories in the order their folders are created.
var Categories = []Category{CategoryInvoices, CategoryInsurance, CategoryDonations, CategoryOther}

// Valid reports whether c is one of the fixed categories. The empty category is not valid.
func (c Category) Valid() bool {
	for _, k := range Categories {
		if c == k {
			return true
		}
	}
	return false
}

// ParseCategory maps a label onto a Category. English names are accepted too;
// anything unknown becomes CategoryOther.
func ParseCategory(s string) Category {
	switch s {
	case "Rechnungen", "Invoices", "invoices":
		return CategoryInvoices
	case "Versicherungen", "Insurance", "insurance":
		return CategoryInsurance
	case "Spenden", "Donations", "donations":
		return CategoryDonations
	}
	return CategoryOther
}

const (
	TaxYearPrefix = "Steuererklärung "
	TenantFolder  = "Mieter"
)

var taxYearName = regexp.MustCompile(`^Steuererklärung (\d{4})$`)

// TaxYearFolderName returns the root folder name for a tax year.
func TaxYearFolderName(year int) string {
	return TaxYearPrefix + strconv.Itoa(year)
}

// IsLocked reports whether a folder name denotes a closed tax year,
// i.e. "Steuererklärung <year>" with year before now's year.
func IsLocked(name string, now time.Time) bool {
	m := taxYearName.FindStringSubmatch(name)
	if m == nil {
		return false
	}
	year, err := strconv.Atoi(m[1])
	if err != nil {
		return false
	}
	return year < now.Year()
}

// Classification is the metadata suggested by the document classifier
type Classification struct {
	Filename        string   `json:"filename"`
	IsTaxRelevant   bool     `json:"isTaxRelevant"`
	Category        Category `json:"category"`
	ContainsAddress bool     `json:"containsAddress"`
	Summary         string   `json:"summary,omitempty"`
}

// DefaultClassification is used whenever the classifier is unavailable or fails.
func DefaultClassification() Classification {
	return Classification{Category: CategoryOther}
}
