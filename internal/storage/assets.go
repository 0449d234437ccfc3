package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	upkeeperrors "upkeep/internal/errors"
	"upkeep/internal/maintenance"
)

type assetRow struct {
	ID        string `db:"id"`
	AccountID string `db:"account_id"`
	Name      string `db:"name"`
	Kind      string `db:"kind"`
	Status    string `db:"status"`
	CreatedAt string `db:"created_at"`
}

func (r assetRow) toAsset() maintenance.Asset {
	return maintenance.Asset{
		ID:        r.ID,
		AccountID: r.AccountID,
		Name:      r.Name,
		Kind:      r.Kind,
		Status:    r.Status,
		CreatedAt: parseStamp(r.CreatedAt),
	}
}

// CreateAsset inserts a. An empty status is stored as Active.
func (s *Store) CreateAsset(ctx context.Context, a *maintenance.Asset) error {
	if a.Status == "" {
		a.Status = maintenance.AssetStatusActive
	}
	_, err := s.exec(ctx, `INSERT INTO assets (id, account_id, name, kind, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.AccountID, a.Name, a.Kind, a.Status, stamp(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert asset: %w", err)
	}
	return nil
}

// GetAsset returns ASSET_NOT_FOUND when id is unknown.
func (s *Store) GetAsset(ctx context.Context, id string) (*maintenance.Asset, error) {
	var row assetRow
	err := s.get(ctx, &row, `SELECT id, account_id, name, kind, status, created_at FROM assets WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, upkeeperrors.ErrAssetNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get asset %s: %w", id, err)
	}
	a := row.toAsset()
	return &a, nil
}

// AssetStatus returns the status used for the template skip decision.
func (s *Store) AssetStatus(ctx context.Context, assetID string) (string, error) {
	a, err := s.GetAsset(ctx, assetID)
	if err != nil {
		return "", err
	}
	return a.Status, nil
}

// ListAssets returns assets in scope ordered by name.
func (s *Store) ListAssets(ctx context.Context, scope string) ([]maintenance.Asset, error) {
	query := `SELECT id, account_id, name, kind, status, created_at FROM assets`
	var args []any
	if scope != "" {
		query += ` WHERE account_id = ?`
		args = append(args, scope)
	}
	query += ` ORDER BY name, id`

	var rows []assetRow
	if err := s.selectRows(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	out := make([]maintenance.Asset, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toAsset())
	}
	return out, nil
}

// SetAssetStatus changes an asset's status, e.g. to "Retired".
func (s *Store) SetAssetStatus(ctx context.Context, id, status string) error {
	n, err := s.exec(ctx, `UPDATE assets SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("set asset status: %w", err)
	}
	if n == 0 {
		return upkeeperrors.ErrAssetNotFound(id)
	}
	return nil
}
