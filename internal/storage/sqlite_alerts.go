package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/good-yellow-bee/carealert/internal/errs"
	"github.com/good-yellow-bee/carealert/internal/models"
)

type sqliteAlertRepo struct {
	db *sql.DB
}

const alertColumns = `id, symptom_text, symptom_type, severity_score, rule, detected_at_ns, acknowledged`

func (r *sqliteAlertRepo) InsertAlert(ctx context.Context, a *models.Alert) (err error) {
	defer observe("insert_alert", time.Now(), &err)

	query := `INSERT INTO alerts (` + alertColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query,
		a.ID, a.SymptomText, string(a.SymptomType), a.SeverityScore,
		nullString(a.Rule), a.DetectedAt.UnixNano(), boolToInt(a.Acknowledged),
	)
	if err != nil {
		return goerr.Wrap(err, "insert alert", goerr.V("alert_id", a.ID))
	}
	return nil
}

func (r *sqliteAlertRepo) AcknowledgeAlert(ctx context.Context, id string) (err error) {
	defer observe("acknowledge_alert", time.Now(), &err)

	result, err := r.db.ExecContext(ctx, "UPDATE alerts SET acknowledged = 1 WHERE id = ?", id)
	if err != nil {
		return goerr.Wrap(err, "acknowledge alert", goerr.V("alert_id", id))
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errs.NotFound(id)
	}
	return nil
}

func (r *sqliteAlertRepo) ListAlerts(ctx context.Context) (_ []*models.Alert, err error) {
	defer observe("list_alerts", time.Now(), &err)

	rows, err := r.db.QueryContext(ctx, `SELECT `+alertColumns+` FROM alerts ORDER BY seq`)
	if err != nil {
		return nil, goerr.Wrap(err, "query alerts")
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (r *sqliteAlertRepo) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound(id)
	}
	return a, err
}

func (r *sqliteAlertRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alerts").Scan(&count); err != nil {
		return 0, goerr.Wrap(err, "count alerts")
	}
	return count, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAlert(row scanner) (*models.Alert, error) {
	var (
		a          models.Alert
		symptom    string
		rule       sql.NullString
		detectedNs int64
		acked      int
	)
	err := row.Scan(&a.ID, &a.SymptomText, &symptom, &a.SeverityScore, &rule, &detectedNs, &acked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, goerr.Wrap(err, "scan alert")
	}
	a.SymptomType = models.SymptomType(symptom)
	a.Rule = rule.String
	a.DetectedAt = time.Unix(0, detectedNs).UTC()
	a.Acknowledged = acked != 0
	return &a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
