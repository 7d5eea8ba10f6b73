// Package repository provides the rule-set store.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRuleSet inserts a rule set or replaces the one with the same version.
// created_at is preserved across replacements.
func (r *SQLRepository) SaveRuleSet(ctx context.Context, rs *domain.RuleSet) error {
	if rs == nil || strings.TrimSpace(rs.Version) == "" {
		return fmt.Errorf("%w: version is required", ErrInvalidInput)
	}

	overrides, err := json.Marshal(rs.Overrides)
	if err != nil {
		return fmt.Errorf("%w: overrides: %v", ErrInvalidInput, err)
	}
	groups, err := json.Marshal(rs.Groups)
	if err != nil {
		return fmt.Errorf("%w: groups: %v", ErrInvalidInput, err)
	}

	now := time.Now().UTC()
	created := rs.CreatedAt
	if created.IsZero() {
		created = now
	}

	query := `
		INSERT INTO rule_sets (
			version, name, description, forced_score, overrides, signal_groups, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			forced_score = excluded.forced_score,
			overrides = excluded.overrides,
			signal_groups = excluded.signal_groups,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rs.Version, rs.Name, rs.Description, rs.ForcedScore,
		string(overrides), string(groups),
		created, now,
	)
	if err != nil {
		return fmt.Errorf("save rule set %s: %w", rs.Version, err)
	}
	return nil
}

// GetRuleSet retrieves a rule set by version.
func (r *SQLRepository) GetRuleSet(ctx context.Context, version string) (*domain.RuleSet, error) {
	query := `
		SELECT version, name, description, forced_score, overrides, signal_groups, created_at
		FROM rule_sets
		WHERE version = ?
	`

	rs, err := scanRuleSet(r.db.QueryRowContext(ctx, r.rebind(query), version))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rs, nil
}

// ListRuleSets returns every stored rule set, oldest first.
func (r *SQLRepository) ListRuleSets(ctx context.Context) ([]*domain.RuleSet, error) {
	query := `
		SELECT version, name, description, forced_score, overrides, signal_groups, created_at
		FROM rule_sets
		ORDER BY created_at, version
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sets []*domain.RuleSet
	for rows.Next() {
		rs, err := scanRuleSet(rows)
		if err != nil {
			return nil, err
		}
		sets = append(sets, rs)
	}

	return sets, rows.Err()
}

// DeleteRuleSet removes a rule set.
func (r *SQLRepository) DeleteRuleSet(ctx context.Context, version string) error {
	result, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM rule_sets WHERE version = ?`), version)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRuleSet(row rowScanner) (*domain.RuleSet, error) {
	var (
		rs          domain.RuleSet
		description sql.NullString
		overrides   string
		groups      string
	)

	if err := row.Scan(
		&rs.Version, &rs.Name, &description, &rs.ForcedScore,
		&overrides, &groups, &rs.CreatedAt,
	); err != nil {
		return nil, err
	}

	rs.Description = description.String
	if err := json.Unmarshal([]byte(overrides), &rs.Overrides); err != nil {
		return nil, fmt.Errorf("decode overrides of %s: %w", rs.Version, err)
	}
	if err := json.Unmarshal([]byte(groups), &rs.Groups); err != nil {
		return nil, fmt.Errorf("decode groups of %s: %w", rs.Version, err)
	}
	return &rs, nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
