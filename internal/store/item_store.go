package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vbonduro/aptinv/internal/domain"
)

var ErrNotFound = errors.New("not found")

const itemColumns = `id, name, description, category, condition, notes, photo_id, source_region_id, created_at`

type ItemStore struct {
	db *sql.DB
}

func NewItemStore(db *sql.DB) *ItemStore {
	return &ItemStore{db: db}
}

func (s *ItemStore) Create(ctx context.Context, in domain.NewItem) (*domain.Item, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO items (name, description, category, condition, notes, photo_id, source_region_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, in.Name, in.Description, in.Category, in.Condition, in.Notes, in.PhotoID, in.SourceRegionID)
	if err != nil {
		return nil, fmt.Errorf("failed to create item: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return s.GetByID(ctx, id)
}

// GetByID returns nil, nil when the item does not exist.
func (s *ItemStore) GetByID(ctx context.Context, id int64) (*domain.Item, error) {
	item, err := scanItem(s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return item, nil
}

// List returns every item, newest first.
func (s *ItemStore) List(ctx context.Context) ([]*domain.Item, error) {
	return s.query(ctx, `SELECT `+itemColumns+` FROM items ORDER BY created_at DESC, id DESC`)
}

// Search matches query case-insensitively against name, category and
// description.
func (s *ItemStore) Search(ctx context.Context, query string) ([]*domain.Item, error) {
	pattern := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	return s.query(ctx, `
		SELECT `+itemColumns+` FROM items
		WHERE LOWER(name) LIKE ? OR LOWER(category) LIKE ? OR LOWER(description) LIKE ?
		ORDER BY name ASC
	`, pattern, pattern, pattern)
}

// ListNames returns the distinct item names.
func (s *ItemStore) ListNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT name FROM items ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list item names: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan item name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating item names: %w", err)
	}
	return names, nil
}

func (s *ItemStore) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM items WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("item %d: %w", id, ErrNotFound)
	}

	return nil
}

func (s *ItemStore) query(ctx context.Context, query string, args ...any) ([]*domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()

	var items []*domain.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating items: %w", err)
	}

	return items, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*domain.Item, error) {
	item := &domain.Item{}
	err := row.Scan(&item.ID, &item.Name, &item.Description, &item.Category, &item.Condition,
		&item.Notes, &item.PhotoID, &item.SourceRegionID, &item.CreatedAt)
	if err != nil {
		return nil, err
	}
	return item, nil
}
