package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"caseline.org/internal/casefile"
	"caseline.org/internal/ids"
	"caseline.org/internal/tenant"
	"caseline.org/internal/triage"
)

// TicketStore exposes the triage view of the store. Get and List collide
// with the notification methods of the same names on *Store, so the
// ticket-shaped versions live on this wrapper; everything else is inherited
// from the embedded *Store.
type TicketStore struct {
	*Store
}

// Tickets returns the triage.Service view of the store.
func (s *Store) Tickets() *TicketStore { return &TicketStore{Store: s} }

var _ triage.Service = (*TicketStore)(nil)

const ticketColumns = `ticket_id, tenant, subject, body, reporter, channel, jurisdiction, vip,
	status, notes, linked_case_id, created_at, updated_at, converted_at`

func scanTicket(row rowScanner) (triage.Ticket, error) {
	var (
		t           triage.Ticket
		status      string
		linkedID    sql.NullString
		convertedAt sql.NullTime
	)
	err := row.Scan(&t.TicketID, &t.Tenant, &t.Subject, &t.Body, &t.Reporter, &t.Channel,
		&t.Jurisdiction, &t.VIP, &status, &t.Notes, &linkedID, &t.CreatedAt, &t.UpdatedAt, &convertedAt)
	if err != nil {
		return triage.Ticket{}, err
	}
	t.Status = triage.ParseStatus(status)
	if linkedID.Valid {
		t.LinkedCaseID = linkedID.String
	}
	if convertedAt.Valid {
		at := convertedAt.Time
		t.ConvertedAt = &at
	}
	return t, nil
}

func (s *Store) Submit(ctx context.Context, in triage.SubmitInput) (triage.Ticket, error) {
	key, err := tenant.Require(ctx)
	if err != nil {
		return triage.Ticket{}, err
	}
	if strings.TrimSpace(in.Body) == "" {
		return triage.Ticket{}, fmt.Errorf("%w: body is required", triage.ErrValidation)
	}

	now := s.clk.Now()
	t := triage.Ticket{
		TicketID:     ids.NewWithPrefix("TKT"),
		Tenant:       key,
		Subject:      strings.TrimSpace(in.Subject),
		Body:         strings.TrimSpace(in.Body),
		Reporter:     in.Reporter,
		Channel:      in.Channel,
		Jurisdiction: in.Jurisdiction,
		VIP:          in.VIP,
		Status:       triage.StatusNew,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	_, err = s.db.ExecContext(ctx, `
		insert into triage_tickets(`+ticketColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,null,$11,$12,null)
	`, t.TicketID, t.Tenant, t.Subject, t.Body, t.Reporter, t.Channel, t.Jurisdiction, t.VIP,
		t.Status.String(), t.Notes, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return triage.Ticket{}, storeErr(err)
	}
	return t, nil
}

func (s *TicketStore) Get(ctx context.Context, id string) (triage.Ticket, error) {
	key, err := tenant.Require(ctx)
	if err != nil {
		return triage.Ticket{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		select `+ticketColumns+` from triage_tickets where ticket_id=$1 and tenant=$2
	`, id, key)
	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return triage.Ticket{}, triage.ErrNotFound
	}
	if err != nil {
		return triage.Ticket{}, storeErr(err)
	}
	return t, nil
}

func (s *TicketStore) List(ctx context.Context, f triage.Filter) ([]triage.Ticket, error) {
	key, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}
	query := `select ` + ticketColumns + ` from triage_tickets where tenant=$1`
	args := []any{key}
	if f.Status != nil {
		args = append(args, f.Status.String())
		query += fmt.Sprintf(" and status=$%d", len(args))
	}
	query += " order by created_at desc, ticket_id desc"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	out := make([]triage.Ticket, 0)
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, storeErr(err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err)
	}
	return out, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id string, upd triage.StatusUpdate) (triage.Ticket, error) {
	key, err := tenant.Require(ctx)
	if err != nil {
		return triage.Ticket{}, err
	}
	if upd.Status == triage.StatusUnknown {
		return triage.Ticket{}, fmt.Errorf("%w: status is required", triage.ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return triage.Ticket{}, storeErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		select `+ticketColumns+` from triage_tickets where ticket_id=$1 and tenant=$2 for update
	`, id, key)
	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return triage.Ticket{}, triage.ErrNotFound
	}
	if err != nil {
		return triage.Ticket{}, storeErr(err)
	}

	t.Status = upd.Status
	if notes := strings.TrimSpace(upd.Notes); notes != "" {
		t.Notes = notes
	}
	t.UpdatedAt = s.clk.Now()

	if _, err := tx.ExecContext(ctx, `
		update triage_tickets set status=$2, notes=$3, updated_at=$4 where ticket_id=$1
	`, id, t.Status.String(), t.Notes, t.UpdatedAt); err != nil {
		return triage.Ticket{}, storeErr(err)
	}
	if err := tx.Commit(); err != nil {
		return triage.Ticket{}, storeErr(err)
	}
	return t, nil
}

// Convert creates the case and links the ticket in one transaction, so a
// crash can never leave a linked ticket without its case or vice versa.
func (s *Store) Convert(ctx context.Context, id, actor string) (triage.ConvertResult, error) {
	key, err := tenant.Require(ctx)
	if err != nil {
		return triage.ConvertResult{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return triage.ConvertResult{}, storeErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		select `+ticketColumns+` from triage_tickets where ticket_id=$1 and tenant=$2 for update
	`, id, key)
	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return triage.ConvertResult{}, triage.ErrNotFound
	}
	if err != nil {
		return triage.ConvertResult{}, storeErr(err)
	}

	if t.Converted() {
		caseRow := tx.QueryRowContext(ctx, `
			select `+caseColumns+` from cases where case_id=$1 and tenant=$2
		`, t.LinkedCaseID, key)
		c, err := scanCase(caseRow)
		if err != nil {
			return triage.ConvertResult{}, storeErr(err)
		}
		if err := tx.Commit(); err != nil {
			return triage.ConvertResult{}, storeErr(err)
		}
		return triage.ConvertResult{Ticket: t, Case: c, AlreadyConverted: true}, nil
	}

	now := s.clk.Now()
	title := t.Subject
	if title == "" {
		title = "Intake report " + t.TicketID
	}
	c := casefile.Case{
		CaseID:       ids.NewWithPrefix("CASE"),
		UUID:         uuid.NewString(),
		Tenant:       key,
		Title:        title,
		Summary:      t.Body,
		Jurisdiction: casefile.ParseJurisdiction(t.Jurisdiction),
		VIP:          t.VIP,
		Status:       casefile.StatusOpen,
		Stage:        casefile.StageIntake,
		CreatedBy:    actor,
		Provenance:   casefile.ProvenanceTriage,
		CreatedAt:    now,
	}
	if _, err := tx.ExecContext(ctx, `
		insert into cases(`+caseColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,null,null,null)
	`, c.CaseID, c.UUID, c.Tenant, c.Title, c.Summary, c.Jurisdiction.String(), c.VIP,
		c.Status.String(), c.Stage.String(), c.CreatedBy, c.Provenance, c.CreatedAt, c.Anonymized); err != nil {
		return triage.ConvertResult{}, storeErr(err)
	}

	t.LinkedCaseID = c.CaseID
	t.ConvertedAt = &now
	t.UpdatedAt = now
	if t.Status == triage.StatusNew {
		t.Status = triage.StatusTriaged
	}
	if _, err := tx.ExecContext(ctx, `
		update triage_tickets set status=$2, linked_case_id=$3, converted_at=$4, updated_at=$5
		where ticket_id=$1
	`, id, t.Status.String(), t.LinkedCaseID, now, now); err != nil {
		return triage.ConvertResult{}, storeErr(err)
	}
	if err := tx.Commit(); err != nil {
		return triage.ConvertResult{}, storeErr(err)
	}

	return triage.ConvertResult{Ticket: t, Case: c}, nil
}
