package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/zjrosen/qprofile/internal/identity"
	"github.com/zjrosen/qprofile/internal/profile"
)

// SelectionRepository implements profile.Repository on the active_profiles
// table, scoped to one component key.
type SelectionRepository struct {
	db        *sql.DB
	component string
	now       func() time.Time
}

var _ profile.Repository = (*SelectionRepository)(nil)

func newSelectionRepository(db *sql.DB, component string) *SelectionRepository {
	return &SelectionRepository{db: db, component: component, now: time.Now}
}

// LoadAll returns every stored selection for the component.
func (r *SelectionRepository) LoadAll(ctx context.Context) (map[identity.ID]profile.Profile, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT component, connection_id, profile_name, account_id, region, arn, endpoint, updated_at
		FROM active_profiles WHERE component = ?`,
		r.component,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load selections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[identity.ID]profile.Profile)
	for rows.Next() {
		var m SelectionModel
		if err := rows.Scan(
			&m.Component, &m.ConnectionID, &m.ProfileName, &m.AccountID,
			&m.Region, &m.ARN, &m.Endpoint, &m.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan selection: %w", err)
		}
		id, p := m.toDomain()
		out[id] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate selections: %w", err)
	}
	return out, nil
}

// Save upserts the selection for id.
func (r *SelectionRepository) Save(ctx context.Context, id identity.ID, p profile.Profile) error {
	m := toSelectionModel(r.component, id, p, r.now())
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO active_profiles (
			component, connection_id, profile_name, account_id, region, arn, endpoint, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (component, connection_id) DO UPDATE SET
			profile_name = excluded.profile_name,
			account_id = excluded.account_id,
			region = excluded.region,
			arn = excluded.arn,
			endpoint = excluded.endpoint,
			updated_at = excluded.updated_at`,
		m.Component, m.ConnectionID, m.ProfileName, m.AccountID, m.Region, m.ARN, m.Endpoint, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save selection: %w", err)
	}
	return nil
}

// Delete removes the selection for id. Deleting a missing row is not an
// error.
func (r *SelectionRepository) Delete(ctx context.Context, id identity.ID) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM active_profiles WHERE component = ? AND connection_id = ?`,
		r.component, string(id),
	)
	if err != nil {
		return fmt.Errorf("failed to delete selection: %w", err)
	}
	return nil
}
