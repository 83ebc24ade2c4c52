package template

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clipcraft/api/internal/model"
)

// Schema creates the table PostgresStore reads from.
const Schema = `
CREATE TABLE IF NOT EXISTS render_templates (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	config      JSONB NOT NULL,
	variables   JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at  TIMESTAMPTZ
)`

// PostgresStore reads templates from the render_templates table.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate ensures the table exists.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*model.Template, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, description, config, variables
		FROM render_templates
		WHERE id=$1 AND deleted_at IS NULL
	`, id)

	t, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("failed to load template: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*model.Template, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, description, config, variables
		FROM render_templates
		WHERE deleted_at IS NULL
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	out := []*model.Template{}
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Put upserts t. Used to seed the catalogue.
func (s *PostgresStore) Put(ctx context.Context, t *model.Template) error {
	cfg, err := json.Marshal(t.Config)
	if err != nil {
		return err
	}
	vars, err := json.Marshal(t.Variables)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO render_templates (id, name, description, config, variables)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE
		SET name=EXCLUDED.name, description=EXCLUDED.description,
		    config=EXCLUDED.config, variables=EXCLUDED.variables, deleted_at=NULL
	`, t.ID, t.Name, t.Description, cfg, vars)
	return err
}

func scanTemplate(row pgx.Row) (*model.Template, error) {
	var (
		t          model.Template
		configJSON []byte
		varsJSON   []byte
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Description, &configJSON, &varsJSON); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(configJSON, &t.Config); err != nil {
		return nil, fmt.Errorf("template %s: invalid config: %w", t.ID, err)
	}
	if len(varsJSON) > 0 {
		if err := json.Unmarshal(varsJSON, &t.Variables); err != nil {
			return nil, fmt.Errorf("template %s: invalid variables: %w", t.ID, err)
		}
	}
	return &t, nil
}
