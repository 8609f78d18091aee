package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/Veraticus/ledgerflow/internal/model"
)

// GetBusinessProfile returns the profile for clientID.
func (s *SQLiteStorage) GetBusinessProfile(ctx context.Context, clientID string) (*model.BusinessProfile, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(clientID, "clientID"); err != nil {
		return nil, err
	}

	var p model.BusinessProfile
	err := s.db.QueryRowContext(ctx, `
		SELECT client_id, company_name, business_type, business_description,
		       location, common_expenses, custom_categories, industry_keywords,
		       category_patterns, business_rules, created_at, updated_at
		FROM business_profiles
		WHERE client_id = ?
	`, clientID).Scan(
		&p.ClientID,
		&p.CompanyName,
		&p.BusinessType,
		&p.BusinessDescription,
		&p.Location,
		&p.CommonExpenses,
		&p.CustomCategories,
		&p.IndustryKeywords,
		&p.CategoryPatterns,
		&p.BusinessRules,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("business profile %q: %w", clientID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get business profile: %w", err)
	}
	return &p, nil
}

// SaveBusinessProfile creates or replaces a client's profile.
func (s *SQLiteStorage) SaveBusinessProfile(ctx context.Context, p *model.BusinessProfile) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("%w: profile", ErrNilParameter)
	}
	if err := validateString(p.ClientID, "clientID"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO business_profiles (
			client_id, company_name, business_type, business_description,
			location, common_expenses, custom_categories, industry_keywords,
			category_patterns, business_rules
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_id) DO UPDATE SET
			company_name = excluded.company_name,
			business_type = excluded.business_type,
			business_description = excluded.business_description,
			location = excluded.location,
			common_expenses = excluded.common_expenses,
			custom_categories = excluded.custom_categories,
			industry_keywords = excluded.industry_keywords,
			category_patterns = excluded.category_patterns,
			business_rules = excluded.business_rules,
			updated_at = CURRENT_TIMESTAMP
	`,
		p.ClientID,
		p.CompanyName,
		p.BusinessType,
		p.BusinessDescription,
		p.Location,
		p.CommonExpenses,
		p.CustomCategories,
		p.IndustryKeywords,
		p.CategoryPatterns,
		p.BusinessRules,
	)
	if err != nil {
		return fmt.Errorf("failed to save business profile: %w", err)
	}
	return nil
}
