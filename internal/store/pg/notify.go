package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"caseline.org/internal/notify"
	"caseline.org/internal/tenant"
)

var _ notify.Store = (*Store)(nil)

const notificationColumns = `id, tenant, case_id, kind, severity, deadline, threshold,
	recipient_role, status, due_at, message, created_at, sent_at, acknowledged_at, acknowledged_by`

func scanNotification(row rowScanner) (notify.Notification, error) {
	var (
		n         notify.Notification
		kind      string
		severity  string
		deadline  string
		status    string
		caseID    sql.NullString
		recipient sql.NullString
		dueAt     sql.NullTime
		sentAt    sql.NullTime
		ackAt     sql.NullTime
		ackBy     sql.NullString
	)
	err := row.Scan(&n.ID, &n.Tenant, &caseID, &kind, &severity, &deadline, &n.Threshold,
		&recipient, &status, &dueAt, &n.Message, &n.CreatedAt, &sentAt, &ackAt, &ackBy)
	if err != nil {
		return notify.Notification{}, err
	}
	n.Kind = notify.ParseKind(kind)
	_ = n.Severity.UnmarshalText([]byte(severity))
	_ = n.Deadline.UnmarshalText([]byte(deadline))
	_ = n.Status.UnmarshalText([]byte(status))
	if caseID.Valid {
		n.CaseID = caseID.String
	}
	if recipient.Valid {
		n.RecipientRole = recipient.String
	}
	if dueAt.Valid {
		t := dueAt.Time
		n.DueAt = &t
	}
	if sentAt.Valid {
		t := sentAt.Time
		n.SentAt = &t
	}
	if ackAt.Valid {
		t := ackAt.Time
		n.AcknowledgedAt = &t
	}
	if ackBy.Valid {
		n.AcknowledgedBy = ackBy.String
	}
	return n, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertNotification(ctx context.Context, db execer, n notify.Notification) error {
	var dueAt, sentAt sql.NullTime
	if n.DueAt != nil {
		dueAt = sql.NullTime{Time: *n.DueAt, Valid: true}
	}
	if n.SentAt != nil {
		sentAt = sql.NullTime{Time: *n.SentAt, Valid: true}
	}
	_, err := db.ExecContext(ctx, `
		insert into notifications(`+notificationColumns+`)
		values ($1,$2,nullif($3,''),$4,$5,$6,$7,nullif($8,''),$9,$10,$11,$12,$13,null,null)
	`, n.ID, n.Tenant, n.CaseID, n.Kind.String(), n.Severity.String(), n.Deadline.String(),
		string(n.Threshold), n.RecipientRole, n.Status.String(), dueAt, n.Message, n.CreatedAt, sentAt)
	if err != nil {
		return fmt.Errorf("%w: %v", notify.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, n notify.Notification) error {
	return insertNotification(ctx, s.db, n)
}

func (s *Store) Get(ctx context.Context, id string) (notify.Notification, error) {
	key, err := tenant.Require(ctx)
	if err != nil {
		return notify.Notification{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		select `+notificationColumns+` from notifications where id=$1 and tenant=$2
	`, id, key)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return notify.Notification{}, notify.ErrNotFound
	}
	if err != nil {
		return notify.Notification{}, fmt.Errorf("%w: %v", notify.ErrStoreUnavailable, err)
	}
	return n, nil
}

func (s *Store) List(ctx context.Context, f notify.ListFilter) ([]notify.Notification, error) {
	key, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}
	query := `select ` + notificationColumns + ` from notifications where tenant=$1`
	args := []any{key}
	if f.Kind != nil {
		args = append(args, f.Kind.String())
		query += fmt.Sprintf(" and kind=$%d", len(args))
	}
	if f.CaseID != "" {
		args = append(args, f.CaseID)
		query += fmt.Sprintf(" and case_id=$%d", len(args))
	}
	if f.Unacked {
		query += " and status <> 'acknowledged'"
	}
	query += " order by created_at desc, id desc"
	if f.MaxResults > 0 {
		args = append(args, f.MaxResults)
		query += fmt.Sprintf(" limit $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", notify.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	out := make([]notify.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", notify.ErrStoreUnavailable, err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", notify.ErrStoreUnavailable, err)
	}
	return out, nil
}

// Acknowledge is a guarded single-statement state change: the status check
// sits in the update's where clause, so of two concurrent calls only one
// writes and the other reads back the winner's record.
func (s *Store) Acknowledge(ctx context.Context, id, actor string, at time.Time) (notify.Notification, bool, error) {
	key, err := tenant.Require(ctx)
	if err != nil {
		return notify.Notification{}, false, err
	}
	res, err := s.db.ExecContext(ctx, `
		update notifications set status='acknowledged', acknowledged_at=$3, acknowledged_by=nullif($4,'')
		where id=$1 and tenant=$2 and status <> 'acknowledged'
	`, id, key, at, actor)
	if err != nil {
		return notify.Notification{}, false, fmt.Errorf("%w: %v", notify.ErrStoreUnavailable, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return notify.Notification{}, false, fmt.Errorf("%w: %v", notify.ErrStoreUnavailable, err)
	}

	n, err := s.Get(ctx, id)
	if err != nil {
		return notify.Notification{}, false, err
	}
	return n, affected > 0, nil
}

// RaiseThreshold marks the tuple and stores the notification in one
// transaction. A failed insert rolls the mark back, so the next sweep
// retries instead of losing the alert.
func (s *Store) RaiseThreshold(ctx context.Context, n notify.Notification) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%w: %v", notify.ErrStoreUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		insert into notification_thresholds(case_id, deadline, threshold, fired_at)
		values ($1,$2,$3,$4)
		on conflict (case_id, deadline, threshold) do nothing
	`, n.CaseID, n.Deadline.String(), string(n.Threshold), s.clk.Now())
	if err != nil {
		return false, fmt.Errorf("%w: %v", notify.ErrStoreUnavailable, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", notify.ErrStoreUnavailable, err)
	}
	if affected == 0 {
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("%w: %v", notify.ErrStoreUnavailable, err)
		}
		return false, nil
	}

	if err := insertNotification(ctx, tx, n); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%w: %v", notify.ErrStoreUnavailable, err)
	}
	return true, nil
}

func (s *Store) ClearThresholds(ctx context.Context, caseID string) error {
	if _, err := s.db.ExecContext(ctx, `
		delete from notification_thresholds where case_id=$1
	`, caseID); err != nil {
		return fmt.Errorf("%w: %v", notify.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) HasUnacknowledged(ctx context.Context, tenantKey string, kind notify.Kind) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		select exists(
			select 1 from notifications where tenant=$1 and kind=$2 and status <> 'acknowledged'
		)
	`, tenantKey, kind.String()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: %v", notify.ErrStoreUnavailable, err)
	}
	return exists, nil
}
