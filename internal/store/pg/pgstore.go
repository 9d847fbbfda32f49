package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"caseline.org/internal/casefile"
	"caseline.org/internal/clock"
	"caseline.org/internal/ids"
	"caseline.org/internal/tenant"
)

// Store implements the case, triage and notification interfaces on
// PostgreSQL. Per-case serialization is done with row locks instead of the
// in-memory lock striping.
type Store struct {
	db  *sql.DB
	clk clock.Clock
}

var (
	_ casefile.Service     = (*Store)(nil)
	_ casefile.SweepSource = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db, clk: clock.System()}, nil
}

// NewWithDB wraps an existing connection, used by tests.
func NewWithDB(db *sql.DB, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.System()
	}
	return &Store{db: db, clk: clk}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func storeErr(err error) error {
	return fmt.Errorf("%w: %v", casefile.ErrStoreUnavailable, err)
}

const caseColumns = `case_id, case_uuid, tenant, title, summary, jurisdiction, vip,
	status, stage, created_by, provenance, created_at, anonymized,
	facts_confirmed_at, decision_due_at, dismissal_due_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (casefile.Case, error) {
	var (
		c            casefile.Case
		jurisdiction string
		status       string
		stage        string
		facts        sql.NullTime
		decision     sql.NullTime
		dismissal    sql.NullTime
	)
	err := row.Scan(&c.CaseID, &c.UUID, &c.Tenant, &c.Title, &c.Summary, &jurisdiction,
		&c.VIP, &status, &stage, &c.CreatedBy, &c.Provenance, &c.CreatedAt,
		&c.Anonymized, &facts, &decision, &dismissal)
	if err != nil {
		return casefile.Case{}, err
	}
	c.Jurisdiction = casefile.ParseJurisdiction(jurisdiction)
	c.Status = casefile.ParseStatus(status)
	c.Stage = casefile.ParseStage(stage)
	if facts.Valid {
		c.SeriousCause = &casefile.SeriousCause{
			FactsConfirmedAt: facts.Time,
			DecisionDueAt:    decision.Time,
			DismissalDueAt:   dismissal.Time,
		}
	}
	return c, nil
}

func (s *Store) loadGates(ctx context.Context, q interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}, c *casefile.Case) error {
	rows, err := q.QueryContext(ctx, `
		select gate, reached_at, completed_at from case_gates where case_id=$1
	`, c.CaseID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			name      string
			reached   sql.NullTime
			completed sql.NullTime
		)
		if err := rows.Scan(&name, &reached, &completed); err != nil {
			return err
		}
		gate := casefile.ParseGate(name)
		if gate == casefile.GateUnknown {
			continue
		}
		if c.Gates == nil {
			c.Gates = make(map[casefile.Gate]casefile.GateProgress)
		}
		p := casefile.GateProgress{}
		if reached.Valid {
			t := reached.Time
			p.ReachedAt = &t
		}
		if completed.Valid {
			t := completed.Time
			p.CompletedAt = &t
		}
		c.Gates[gate] = p
	}
	return rows.Err()
}

func (s *Store) CreateCase(ctx context.Context, in casefile.CreateCaseInput) (casefile.Case, error) {
	key, err := tenant.Require(ctx)
	if err != nil {
		return casefile.Case{}, err
	}
	if strings.TrimSpace(in.Title) == "" {
		return casefile.Case{}, fmt.Errorf("%w: title is required", casefile.ErrValidation)
	}
	provenance := in.Provenance
	if provenance == "" {
		provenance = casefile.ProvenanceDirect
	}

	c := casefile.Case{
		CaseID:       ids.NewWithPrefix("CASE"),
		UUID:         uuid.NewString(),
		Tenant:       key,
		Title:        strings.TrimSpace(in.Title),
		Summary:      strings.TrimSpace(in.Summary),
		Jurisdiction: in.Jurisdiction,
		VIP:          in.VIP,
		Status:       casefile.StatusOpen,
		Stage:        casefile.StageIntake,
		CreatedBy:    in.CreatedBy,
		Provenance:   provenance,
		CreatedAt:    s.clk.Now(),
	}

	_, err = s.db.ExecContext(ctx, `
		insert into cases(`+caseColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,null,null,null)
	`, c.CaseID, c.UUID, c.Tenant, c.Title, c.Summary, c.Jurisdiction.String(), c.VIP,
		c.Status.String(), c.Stage.String(), c.CreatedBy, c.Provenance, c.CreatedAt, c.Anonymized)
	if err != nil {
		return casefile.Case{}, storeErr(err)
	}
	return c, nil
}

func (s *Store) GetCase(ctx context.Context, id string) (casefile.Case, error) {
	key, err := tenant.Require(ctx)
	if err != nil {
		return casefile.Case{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		select `+caseColumns+` from cases where case_id=$1 and tenant=$2
	`, id, key)
	c, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return casefile.Case{}, casefile.ErrNotFound
	}
	if err != nil {
		return casefile.Case{}, storeErr(err)
	}
	if err := s.loadGates(ctx, s.db, &c); err != nil {
		return casefile.Case{}, storeErr(err)
	}
	return c, nil
}

func (s *Store) ListCases(ctx context.Context, f casefile.Filter) ([]casefile.Case, error) {
	key, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}
	query := `select ` + caseColumns + ` from cases where tenant=$1`
	args := []any{key}
	if f.Status != nil {
		args = append(args, f.Status.String())
		query += fmt.Sprintf(" and status=$%d", len(args))
	}
	if f.Stage != nil {
		args = append(args, f.Stage.String())
		query += fmt.Sprintf(" and stage=$%d", len(args))
	}
	if f.SeriousOnly {
		query += " and facts_confirmed_at is not null"
	}
	query += " order by created_at desc, case_id desc"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	out := make([]casefile.Case, 0)
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, storeErr(err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err)
	}
	return out, nil
}

// mutateCase locks the case row, applies fn to the loaded record and writes
// the mutable columns back, all inside one transaction.
func (s *Store) mutateCase(ctx context.Context, id string, fn func(c *casefile.Case) error) (casefile.Case, error) {
	key, err := tenant.Require(ctx)
	if err != nil {
		return casefile.Case{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return casefile.Case{}, storeErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		select `+caseColumns+` from cases where case_id=$1 and tenant=$2 for update
	`, id, key)
	c, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return casefile.Case{}, casefile.ErrNotFound
	}
	if err != nil {
		return casefile.Case{}, storeErr(err)
	}
	if err := s.loadGates(ctx, tx, &c); err != nil {
		return casefile.Case{}, storeErr(err)
	}

	if err := fn(&c); err != nil {
		return casefile.Case{}, err
	}

	var facts, decision, dismissal sql.NullTime
	if c.SeriousCause != nil {
		facts = sql.NullTime{Time: c.SeriousCause.FactsConfirmedAt, Valid: true}
		decision = sql.NullTime{Time: c.SeriousCause.DecisionDueAt, Valid: true}
		dismissal = sql.NullTime{Time: c.SeriousCause.DismissalDueAt, Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `
		update cases set title=$2, summary=$3, status=$4, stage=$5, created_by=$6,
			anonymized=$7, facts_confirmed_at=$8, decision_due_at=$9, dismissal_due_at=$10
		where case_id=$1
	`, c.CaseID, c.Title, c.Summary, c.Status.String(), c.Stage.String(), c.CreatedBy,
		c.Anonymized, facts, decision, dismissal); err != nil {
		return casefile.Case{}, storeErr(err)
	}

	for gate, p := range c.Gates {
		var reached, completed sql.NullTime
		if p.ReachedAt != nil {
			reached = sql.NullTime{Time: *p.ReachedAt, Valid: true}
		}
		if p.CompletedAt != nil {
			completed = sql.NullTime{Time: *p.CompletedAt, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
			insert into case_gates(case_id, gate, reached_at, completed_at)
			values ($1,$2,$3,$4)
			on conflict (case_id, gate) do update
			set reached_at=excluded.reached_at, completed_at=excluded.completed_at
		`, c.CaseID, gate.String(), reached, completed); err != nil {
			return casefile.Case{}, storeErr(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return casefile.Case{}, storeErr(err)
	}
	return c, nil
}

func (s *Store) SetStatus(ctx context.Context, id string, status casefile.Status) (casefile.Case, error) {
	if status == casefile.StatusUnknown {
		return casefile.Case{}, fmt.Errorf("%w: status is required", casefile.ErrValidation)
	}
	return s.mutateCase(ctx, id, func(c *casefile.Case) error {
		if c.Anonymized {
			return fmt.Errorf("%w: case is anonymized", casefile.ErrInvalidTransition)
		}
		c.Status = status
		return nil
	})
}

func (s *Store) SetStage(ctx context.Context, id string, stage casefile.Stage, rollback bool) (casefile.Case, error) {
	if stage == casefile.StageUnknown {
		return casefile.Case{}, fmt.Errorf("%w: stage is required", casefile.ErrValidation)
	}
	return s.mutateCase(ctx, id, func(c *casefile.Case) error {
		if c.Anonymized {
			return fmt.Errorf("%w: case is anonymized", casefile.ErrInvalidTransition)
		}
		if stage < c.Stage && !rollback {
			return fmt.Errorf("%w: stage %s precedes %s and rollback was not authorized",
				casefile.ErrInvalidTransition, stage, c.Stage)
		}
		c.Stage = stage
		return nil
	})
}

func (s *Store) Anonymize(ctx context.Context, id string) (casefile.Case, error) {
	return s.mutateCase(ctx, id, func(c *casefile.Case) error {
		if c.Anonymized {
			return fmt.Errorf("%w: case is already anonymized", casefile.ErrInvalidTransition)
		}
		c.Anonymized = true
		c.Title = "[redacted]"
		c.Summary = ""
		c.CreatedBy = ""
		return nil
	})
}

func (s *Store) EnableSeriousCause(ctx context.Context, id string, factsConfirmedAt time.Time) (casefile.Case, error) {
	if err := validateFacts(factsConfirmedAt, s.clk.Now()); err != nil {
		return casefile.Case{}, err
	}
	return s.mutateCase(ctx, id, func(c *casefile.Case) error {
		if c.Anonymized {
			return fmt.Errorf("%w: case is anonymized", casefile.ErrInvalidTransition)
		}
		if c.SeriousCause != nil {
			return casefile.ErrAlreadyEnabled
		}
		c.SeriousCause = casefile.NewSeriousCause(factsConfirmedAt, c.Jurisdiction)
		return nil
	})
}

func (s *Store) DisableSeriousCause(ctx context.Context, id string) (casefile.Case, error) {
	return s.mutateCase(ctx, id, func(c *casefile.Case) error {
		if c.Anonymized {
			return fmt.Errorf("%w: case is anonymized", casefile.ErrInvalidTransition)
		}
		if c.SeriousCause == nil {
			return casefile.ErrNotEnabled
		}
		c.SeriousCause = nil
		return nil
	})
}

func (s *Store) RecomputeSeriousCause(ctx context.Context, id string, factsConfirmedAt time.Time) (casefile.Case, error) {
	if err := validateFacts(factsConfirmedAt, s.clk.Now()); err != nil {
		return casefile.Case{}, err
	}
	return s.mutateCase(ctx, id, func(c *casefile.Case) error {
		if c.Anonymized {
			return fmt.Errorf("%w: case is anonymized", casefile.ErrInvalidTransition)
		}
		if c.SeriousCause == nil {
			return casefile.ErrNotEnabled
		}
		c.SeriousCause = casefile.NewSeriousCause(factsConfirmedAt, c.Jurisdiction)
		return nil
	})
}

func (s *Store) ReachGate(ctx context.Context, id string, gate casefile.Gate) (casefile.Case, error) {
	if gate == casefile.GateUnknown {
		return casefile.Case{}, fmt.Errorf("%w: gate is required", casefile.ErrValidation)
	}
	now := s.clk.Now()
	return s.mutateCase(ctx, id, func(c *casefile.Case) error {
		if c.Anonymized {
			return fmt.Errorf("%w: case is anonymized", casefile.ErrInvalidTransition)
		}
		if c.Gates == nil {
			c.Gates = make(map[casefile.Gate]casefile.GateProgress)
		}
		p := c.Gates[gate]
		if p.ReachedAt == nil {
			p.ReachedAt = &now
		}
		c.Gates[gate] = p
		return nil
	})
}

func (s *Store) CompleteGate(ctx context.Context, id string, gate casefile.Gate) (casefile.Case, error) {
	if gate == casefile.GateUnknown {
		return casefile.Case{}, fmt.Errorf("%w: gate is required", casefile.ErrValidation)
	}
	now := s.clk.Now()
	return s.mutateCase(ctx, id, func(c *casefile.Case) error {
		if c.Anonymized {
			return fmt.Errorf("%w: case is anonymized", casefile.ErrInvalidTransition)
		}
		if c.Gates == nil {
			c.Gates = make(map[casefile.Gate]casefile.GateProgress)
		}
		p := c.Gates[gate]
		if p.ReachedAt == nil {
			p.ReachedAt = &now
		}
		if p.CompletedAt == nil {
			p.CompletedAt = &now
		}
		c.Gates[gate] = p
		return nil
	})
}

// ActiveSeriousCause serves the sweep across all tenants.
func (s *Store) ActiveSeriousCause(ctx context.Context) ([]casefile.Case, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+caseColumns+` from cases
		where facts_confirmed_at is not null and status <> 'CLOSED'
		order by created_at desc, case_id desc
	`)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	out := make([]casefile.Case, 0)
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, storeErr(err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err)
	}
	return out, nil
}

// LockCase locks the case row for the duration of fn. Mutations lock the
// same row, so the sweep's threshold writes are ordered against them.
func (s *Store) LockCase(ctx context.Context, id string, fn func(casefile.Case) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		select `+caseColumns+` from cases where case_id=$1 for update
	`, id)
	c, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return storeErr(err)
	}

	if err := fn(c); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storeErr(err)
	}
	return nil
}

// CreatedSince counts cases created at or after the cutoff, grouped by tenant.
func (s *Store) CreatedSince(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		select tenant, count(*) from cases where created_at >= $1 group by tenant
	`, since)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return nil, storeErr(err)
		}
		counts[key] = n
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err)
	}
	return counts, nil
}

func validateFacts(factsConfirmedAt, now time.Time) error {
	if factsConfirmedAt.IsZero() {
		return fmt.Errorf("%w: facts_confirmed_at is required", casefile.ErrValidation)
	}
	if factsConfirmedAt.After(now) {
		return fmt.Errorf("%w: facts cannot be confirmed in the future", casefile.ErrValidation)
	}
	return nil
}
