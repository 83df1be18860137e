package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/good-yellow-bee/carealert/internal/errs"
	"github.com/good-yellow-bee/carealert/internal/models"
)

type sqliteNotificationRepo struct {
	db *sql.DB
}

const notificationColumns = `id, alert_id, symptom_type, severity_score, critical, state, visible_at_ns, resolved_at_ns, reason`

func (r *sqliteNotificationRepo) Create(ctx context.Context, n *models.NotificationRecord) (err error) {
	defer observe("create_notification", time.Now(), &err)

	state := n.State
	if state == "" {
		state = models.StateVisible
	}
	query := `INSERT INTO notification_history (` + notificationColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query,
		n.ID, n.AlertID, string(n.SymptomType), n.Severity, boolToInt(n.Critical), string(state),
		n.VisibleAt.UnixNano(), unixNanoOrZero(n.ResolvedAt), string(n.Reason),
	)
	if err != nil {
		return goerr.Wrap(err, "create notification record", goerr.V("alert_id", n.AlertID))
	}
	return nil
}

// Resolve moves a visible record to the terminal state for reason. A record
// that is unknown or already resolved is a NotFoundError.
func (r *sqliteNotificationRepo) Resolve(ctx context.Context, id string, resolvedAt time.Time, reason models.ResolveReason) (err error) {
	defer observe("resolve_notification", time.Now(), &err)

	state := reason.State()
	if !state.Terminal() {
		return errs.InvalidInput("unknown resolve reason", goerr.V("reason", reason))
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE notification_history SET state = ?, resolved_at_ns = ?, reason = ? WHERE id = ? AND state = ?`,
		string(state), resolvedAt.UnixNano(), string(reason), id, string(models.StateVisible),
	)
	if err != nil {
		return goerr.Wrap(err, "resolve notification record", goerr.V("id", id))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return goerr.Wrap(err, "resolve notification record", goerr.V("id", id))
	}
	if n == 0 {
		return errs.NotFound(id)
	}
	return nil
}

// List returns records by most recent activity first.
func (r *sqliteNotificationRepo) List(ctx context.Context, limit, offset int) (_ []*models.NotificationRecord, _ int64, err error) {
	defer observe("list_notifications", time.Now(), &err)

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM notification_history").Scan(&total); err != nil {
		return nil, 0, goerr.Wrap(err, "count notification history")
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+notificationColumns+` FROM notification_history
		 ORDER BY MAX(visible_at_ns, resolved_at_ns) DESC, rowid DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, goerr.Wrap(err, "query notification history")
	}
	defer rows.Close()

	records, err := scanNotifications(rows)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func (r *sqliteNotificationRepo) ListByAlert(ctx context.Context, alertID string) ([]*models.NotificationRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+notificationColumns+` FROM notification_history WHERE alert_id = ? ORDER BY visible_at_ns, rowid`,
		alertID,
	)
	if err != nil {
		return nil, goerr.Wrap(err, "query notification history by alert", goerr.V("alert_id", alertID))
	}
	defer rows.Close()
	return scanNotifications(rows)
}

// DeleteBefore removes resolved records that resolved before the cutoff and
// unresolved records that became visible before it.
func (r *sqliteNotificationRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM notification_history
		 WHERE (state != ? AND resolved_at_ns < ?) OR (state = ? AND visible_at_ns < ?)`,
		string(models.StateVisible), before.UnixNano(), string(models.StateVisible), before.UnixNano(),
	)
	if err != nil {
		return 0, goerr.Wrap(err, "delete notification history")
	}
	return result.RowsAffected()
}

func scanNotifications(rows *sql.Rows) ([]*models.NotificationRecord, error) {
	var records []*models.NotificationRecord
	for rows.Next() {
		var (
			n                      models.NotificationRecord
			symptom, state, reason string
			critical               int
			visibleNs, resolvedNs  int64
		)
		if err := rows.Scan(&n.ID, &n.AlertID, &symptom, &n.Severity, &critical, &state, &visibleNs, &resolvedNs, &reason); err != nil {
			return nil, goerr.Wrap(err, "scan notification record")
		}
		n.SymptomType = models.SymptomType(symptom)
		n.Critical = critical != 0
		n.State = models.NotificationState(state)
		n.VisibleAt = time.Unix(0, visibleNs).UTC()
		if resolvedNs != 0 {
			n.ResolvedAt = time.Unix(0, resolvedNs).UTC()
		}
		n.Reason = models.ResolveReason(reason)
		records = append(records, &n)
	}
	return records, rows.Err()
}

func unixNanoOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
