package repository

// Schema definitions for the Heron rule-set store.
// Compatible with both SQLite and PostgreSQL.

const schemaRuleSets = `
CREATE TABLE IF NOT EXISTS rule_sets (
    version TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    forced_score INTEGER NOT NULL DEFAULT -50,
    overrides TEXT NOT NULL,
    signal_groups TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rule_sets_created ON rule_sets(created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRuleSets,
	}
}
