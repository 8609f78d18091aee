package model

import (
	"fmt"
	"strings"
)

// Sentinel category identifiers always offered to classification agents.
const (
	CategoryOther    = "Other"
	CategoryPersonal = "Personal"
	CategoryReview   = "Review"

	// CategoryClientIncome is assigned by the income guardrail.
	CategoryClientIncome = "Client Income"
	// WorksheetIncome is assigned by the income guardrail.
	WorksheetIncome = "Income"
	// WorksheetPersonal is forced for personal transactions.
	WorksheetPersonal = "Personal"
	// WorksheetDefault is the worksheet the allowed category listing is built from.
	WorksheetDefault = "6A"
)

// IRSCategory is a global expense category from an IRS worksheet.
type IRSCategory struct {
	Worksheet   string
	Name        string
	Description string
	LineNumber  string
	ID          int64
	IsActive    bool
}

// BusinessCategory is a client-specific expense category.
type BusinessCategory struct {
	ClientID    string
	Worksheet   string
	Name        string
	Description string
	ID          int64
	TaxYear     int
	IsActive    bool
}

// CategoryOption is one selectable entry of an allowed category listing.
type CategoryOption struct {
	ID   string
	Name string
}

// AllowedCategories is the ordered set of categories a classification agent
// may choose from for a single transaction.
type AllowedCategories struct {
	byID    map[string]CategoryOption
	byName  map[string]CategoryOption
	options []CategoryOption
}

// NewAllowedCategories builds the listing from IRS categories, client
// categories and the Other/Personal/Review sentinels, in that order.
func NewAllowedCategories(irs []IRSCategory, biz []BusinessCategory) *AllowedCategories {
	options := make([]CategoryOption, 0, len(irs)+len(biz)+3)
	for _, c := range irs {
		options = append(options, CategoryOption{ID: "IRS-" + c.LineNumber, Name: c.Name})
	}
	for _, c := range biz {
		options = append(options, CategoryOption{ID: fmt.Sprintf("BIZ-%d", c.ID), Name: c.Name})
	}
	options = append(options,
		CategoryOption{ID: CategoryOther, Name: "Other Expenses"},
		CategoryOption{ID: CategoryPersonal, Name: CategoryPersonal},
		CategoryOption{ID: CategoryReview, Name: "Review (propose a new category)"},
	)

	ac := &AllowedCategories{
		options: options,
		byID:    make(map[string]CategoryOption, len(options)),
		byName:  make(map[string]CategoryOption, len(options)),
	}
	for _, o := range options {
		ac.byID[strings.ToLower(o.ID)] = o
		ac.byName[strings.ToLower(o.Name)] = o
	}
	return ac
}

// Options returns the listing entries in prompt order.
func (a *AllowedCategories) Options() []CategoryOption {
	if a == nil {
		return nil
	}
	return a.options
}

// String renders the listing the way prompts present it, one "ID: Name" per line.
func (a *AllowedCategories) String() string {
	if a == nil {
		return ""
	}
	lines := make([]string, len(a.options))
	for i, o := range a.options {
		lines[i] = o.ID + ": " + o.Name
	}
	return strings.Join(lines, "\n")
}

// Lookup finds an option by identifier or, failing that, by display name.
func (a *AllowedCategories) Lookup(key string) (CategoryOption, bool) {
	if a == nil {
		return CategoryOption{}, false
	}
	k := strings.ToLower(strings.TrimSpace(key))
	if k == "" {
		return CategoryOption{}, false
	}
	if o, ok := a.byID[k]; ok {
		return o, true
	}
	o, ok := a.byName[k]
	return o, ok
}

// Valid reports whether key names an allowed category.
func (a *AllowedCategories) Valid(key string) bool {
	_, ok := a.Lookup(key)
	return ok
}

// ResolveName maps an identifier such as "IRS-9" to its category name.
// Sentinel identifiers resolve to themselves.
func (a *AllowedCategories) ResolveName(key string) (string, bool) {
	o, ok := a.Lookup(key)
	if !ok {
		return "", false
	}
	switch o.ID {
	case CategoryOther, CategoryPersonal, CategoryReview:
		return o.ID, true
	}
	return o.Name, true
}
