package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/repository"
)

// ErrUnknownRuleSet is returned when a version exists neither built in nor in the store.
var ErrUnknownRuleSet = errors.New("unknown rule set")

// ErrReservedVersion is returned when saving over the built-in version or
// under a name the HTTP API routes itself.
var ErrReservedVersion = errors.New("rule set version is reserved")

// ActiveAlias names the active rule set in /rulesets/active.
const ActiveAlias = "active"

// ErrNoStore is returned by Save when no repository is configured.
var ErrNoStore = errors.New("rule set store is not configured")

// Catalog resolves rule sets by version: built-in first, then the cache,
// then the store. Repository and cache are optional.
type Catalog struct {
	engine *Engine
	repo   domain.Repository
	cache  domain.Cache
	ttl    time.Duration
}

// NewCatalog creates a catalog over the given engine, store and cache.
func NewCatalog(engine *Engine, repo domain.Repository, cache domain.Cache, ttl time.Duration) *Catalog {
	return &Catalog{
		engine: engine,
		repo:   repo,
		cache:  cache,
		ttl:    ttl,
	}
}

// Engine returns the engine whose active rule set this catalog manages.
func (c *Catalog) Engine() *Engine {
	return c.engine
}

// Get returns the rule set for version.
func (c *Catalog) Get(ctx context.Context, version string) (*domain.RuleSet, error) {
	if version == BuiltinVersion {
		return BuiltinRuleSet(), nil
	}

	if c.cache != nil {
		rs, err := c.cache.GetRuleSet(ctx, version)
		if err != nil {
			slog.Warn("rule set cache read failed", "version", version, "error", err)
		} else if rs != nil {
			return rs, nil
		}
	}

	if c.repo == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRuleSet, version)
	}

	rs, err := c.repo.GetRuleSet(ctx, version)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRuleSet, version)
	}
	if err != nil {
		return nil, fmt.Errorf("load rule set %s: %w", version, err)
	}

	c.fill(ctx, rs)
	return rs, nil
}

// List returns the built-in rule set followed by every stored one.
func (c *Catalog) List(ctx context.Context) ([]*domain.RuleSet, error) {
	sets := []*domain.RuleSet{BuiltinRuleSet()}
	if c.repo == nil {
		return sets, nil
	}

	stored, err := c.repo.ListRuleSets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rule sets: %w", err)
	}
	for _, rs := range stored {
		if rs.Version == BuiltinVersion || rs.Version == ActiveAlias {
			continue
		}
		sets = append(sets, rs)
	}
	return sets, nil
}

// Save validates rs and persists it. The built-in version and ActiveAlias
// cannot be used.
func (c *Catalog) Save(ctx context.Context, rs *domain.RuleSet) error {
	if err := c.engine.Validate(rs); err != nil {
		return err
	}
	if rs.Version == BuiltinVersion || rs.Version == ActiveAlias {
		return fmt.Errorf("%w: %s", ErrReservedVersion, rs.Version)
	}
	if c.repo == nil {
		return ErrNoStore
	}

	if rs.CreatedAt.IsZero() {
		rs.CreatedAt = time.Now().UTC()
	}
	if err := c.repo.SaveRuleSet(ctx, rs); err != nil {
		return err
	}

	c.fill(ctx, rs)
	return nil
}

// Activate loads version and makes it the engine's active rule set.
func (c *Catalog) Activate(ctx context.Context, version string) (*domain.RuleSet, error) {
	rs, err := c.Get(ctx, version)
	if err != nil {
		return nil, err
	}
	if err := c.engine.Activate(rs); err != nil {
		return nil, err
	}
	slog.Info("rule set activated", "version", rs.Version, "groups", len(rs.Groups), "overrides", len(rs.Overrides))
	return rs, nil
}

func (c *Catalog) fill(ctx context.Context, rs *domain.RuleSet) {
	if c.cache == nil {
		return
	}
	if err := c.cache.SetRuleSet(ctx, rs, c.ttl); err != nil {
		slog.Warn("rule set cache write failed", "version", rs.Version, "error", err)
	}
}
