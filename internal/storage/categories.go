package storage

import (
	"context"
	"fmt"

	"github.com/Veraticus/ledgerflow/internal/model"
)

// GetIRSCategories returns active IRS categories of a worksheet ordered by line.
func (s *SQLiteStorage) GetIRSCategories(ctx context.Context, worksheet string) ([]model.IRSCategory, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, worksheet, name, description, line_number, is_active
		FROM irs_categories
		WHERE worksheet = ? AND is_active = 1
		ORDER BY CAST(line_number AS INTEGER), line_number
	`, worksheet)
	if err != nil {
		return nil, fmt.Errorf("failed to query IRS categories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cats []model.IRSCategory
	for rows.Next() {
		var c model.IRSCategory
		if err := rows.Scan(&c.ID, &c.Worksheet, &c.Name, &c.Description, &c.LineNumber, &c.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan IRS category: %w", err)
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

// GetBusinessCategories returns a client's active categories for a worksheet.
func (s *SQLiteStorage) GetBusinessCategories(ctx context.Context, clientID, worksheet string) ([]model.BusinessCategory, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, client_id, worksheet, name, description, tax_year, is_active
		FROM business_categories
		WHERE client_id = ? AND worksheet = ? AND is_active = 1
		ORDER BY id
	`, clientID, worksheet)
	if err != nil {
		return nil, fmt.Errorf("failed to query business categories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cats []model.BusinessCategory
	for rows.Next() {
		var c model.BusinessCategory
		if err := rows.Scan(&c.ID, &c.ClientID, &c.Worksheet, &c.Name, &c.Description, &c.TaxYear, &c.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan business category: %w", err)
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

// SaveIRSCategory upserts an IRS category keyed by worksheet and line number.
func (s *SQLiteStorage) SaveIRSCategory(ctx context.Context, c *model.IRSCategory) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("%w: category", ErrNilParameter)
	}
	if err := validateString(c.LineNumber, "lineNumber"); err != nil {
		return err
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO irs_categories (worksheet, name, description, line_number, is_active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(worksheet, line_number) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			is_active = excluded.is_active
		RETURNING id
	`, c.Worksheet, c.Name, c.Description, c.LineNumber, c.IsActive).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("failed to save IRS category: %w", err)
	}
	return nil
}

// SaveBusinessCategory inserts a client category, or updates it when ID is set.
func (s *SQLiteStorage) SaveBusinessCategory(ctx context.Context, c *model.BusinessCategory) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("%w: category", ErrNilParameter)
	}
	if err := validateString(c.ClientID, "clientID"); err != nil {
		return err
	}

	if c.ID != 0 {
		_, err := s.db.ExecContext(ctx, `
			UPDATE business_categories
			SET worksheet = ?, name = ?, description = ?, tax_year = ?, is_active = ?
			WHERE id = ?
		`, c.Worksheet, c.Name, c.Description, c.TaxYear, c.IsActive, c.ID)
		if err != nil {
			return fmt.Errorf("failed to update business category: %w", err)
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO business_categories (client_id, worksheet, name, description, tax_year, is_active)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.ClientID, c.Worksheet, c.Name, c.Description, c.TaxYear, c.IsActive)
	if err != nil {
		return fmt.Errorf("failed to save business category: %w", err)
	}
	c.ID, err = res.LastInsertId()
	return err
}
