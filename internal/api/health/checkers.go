package health

import (
	"context"
	"database/sql"

	"github.com/m-mizutani/goerr/v2"

	"github.com/good-yellow-bee/carealert/internal/classifier"
)

// SQLiteChecker checks SQLite database connectivity.
type SQLiteChecker struct {
	db *sql.DB
}

// NewSQLiteChecker creates a new SQLite health checker.
func NewSQLiteChecker(db *sql.DB) *SQLiteChecker {
	return &SQLiteChecker{db: db}
}

// Name returns the checker name.
func (c *SQLiteChecker) Name() string {
	return "sqlite"
}

// Check verifies the SQLite database is accessible.
func (c *SQLiteChecker) Check(ctx context.Context) error {
	if c.db == nil {
		return goerr.New("database not initialized")
	}
	return c.db.PingContext(ctx)
}

// RulesChecker reports not ready when the active rule table has no enabled
// rules, since every report would then classify as other.
type RulesChecker struct {
	table func() *classifier.Table
}

// NewRulesChecker creates a checker over the classifier's active table.
func NewRulesChecker(table func() *classifier.Table) *RulesChecker {
	return &RulesChecker{table: table}
}

// Name returns the checker name.
func (c *RulesChecker) Name() string {
	return "rules"
}

// Check verifies at least one rule is enabled.
func (c *RulesChecker) Check(ctx context.Context) error {
	t := c.table()
	if t == nil || t.EnabledRules() == 0 {
		return goerr.New("no enabled classification rules")
	}
	return nil
}
