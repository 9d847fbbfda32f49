package pg

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"caseline.org/internal/casefile"
	"caseline.org/internal/clock"
	"caseline.org/internal/notify"
	"caseline.org/internal/tenant"
	"caseline.org/internal/triage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	clk := clock.NewManual(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	return NewWithDB(db, clk), mock
}

func testCtx() context.Context {
	return tenant.WithTenant(context.Background(), "acme")
}

func TestGetCaseNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("select (.+) from cases where case_id=").
		WithArgs("CASE-missing", "acme").
		WillReturnRows(sqlmock.NewRows([]string{"case_id"}))

	if _, err := s.GetCase(testCtx(), "CASE-missing"); !errors.Is(err, casefile.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetCaseScansSeriousCause(t *testing.T) {
	s, mock := newMockStore(t)

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	facts := created.Add(-time.Hour)
	cols := []string{
		"case_id", "case_uuid", "tenant", "title", "summary", "jurisdiction", "vip",
		"status", "stage", "created_by", "provenance", "created_at", "anonymized",
		"facts_confirmed_at", "decision_due_at", "dismissal_due_at",
	}
	mock.ExpectQuery("select (.+) from cases where case_id=").
		WithArgs("CASE-1", "acme").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"CASE-1", "uuid-1", "acme", "title", "", "belgium", false,
			"OPEN", "INTAKE", "analyst", "direct", created, false,
			facts, facts.AddDate(0, 0, 3), facts.AddDate(0, 0, 6),
		))
	mock.ExpectQuery("select gate, reached_at, completed_at from case_gates").
		WithArgs("CASE-1").
		WillReturnRows(sqlmock.NewRows([]string{"gate", "reached_at", "completed_at"}))

	c, err := s.GetCase(testCtx(), "CASE-1")
	if err != nil {
		t.Fatalf("GetCase: %v", err)
	}
	if c.Jurisdiction != casefile.JurisdictionBelgium || c.SeriousCause == nil {
		t.Fatalf("unexpected case: %+v", c)
	}
	if !c.SeriousCause.DecisionDueAt.Equal(facts.AddDate(0, 0, 3)) {
		t.Fatalf("decision due %v", c.SeriousCause.DecisionDueAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreatedSinceGroupsByTenant(t *testing.T) {
	s, mock := newMockStore(t)

	since := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("select tenant, count(*) from cases where created_at >= $1 group by tenant")).
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"tenant", "count"}).
			AddRow("acme", 12).
			AddRow("globex", 2))

	counts, err := s.CreatedSince(context.Background(), since)
	if err != nil {
		t.Fatalf("CreatedSince: %v", err)
	}
	if counts["acme"] != 12 || counts["globex"] != 2 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func overdueNotification(id string) notify.Notification {
	return notify.Notification{
		ID:            id,
		Tenant:        "acme",
		CaseID:        "CASE-1",
		Kind:          notify.KindDeadlineOverdue,
		Severity:      notify.SeverityCritical,
		Deadline:      notify.DeadlineDecision,
		Threshold:     notify.ThresholdOverdue,
		RecipientRole: "supervisor",
		Status:        notify.StatusSent,
		Message:       "decision deadline for case CASE-1 is 2h overdue",
	}
}

func TestRaiseThresholdReportsFirstFire(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("insert into notification_thresholds").
		WithArgs("CASE-1", "decision", "overdue", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into notifications").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec("insert into notification_thresholds").
		WithArgs("CASE-1", "decision", "overdue", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	first, err := s.RaiseThreshold(context.Background(), overdueNotification("NTF-1"))
	if err != nil || !first {
		t.Fatalf("first raise: %v %v", first, err)
	}
	second, err := s.RaiseThreshold(context.Background(), overdueNotification("NTF-2"))
	if err != nil || second {
		t.Fatalf("second raise: %v %v", second, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRaiseThresholdRetriesAfterFailedInsert(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("insert into notification_thresholds").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into notifications").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	// Rolling back releases the mark, so the next sweep raises the alert
	// instead of finding the tuple burned.
	mock.ExpectBegin()
	mock.ExpectExec("insert into notification_thresholds").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into notifications").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if _, err := s.RaiseThreshold(context.Background(), overdueNotification("NTF-1")); !errors.Is(err, notify.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	first, err := s.RaiseThreshold(context.Background(), overdueNotification("NTF-2"))
	if err != nil || !first {
		t.Fatalf("retry raise: %v %v", first, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAcknowledgeNotificationNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`(?s)update notifications set status='acknowledged'.+status <> 'acknowledged'`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select (.+) from notifications where id=").
		WithArgs("NTF-missing", "acme").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, _, err := s.Acknowledge(testCtx(), "NTF-missing", "analyst-1", time.Now())
	if !errors.Is(err, notify.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAcknowledgeReplayKeepsRecord(t *testing.T) {
	s, mock := newMockStore(t)

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ackAt := created.Add(time.Hour)
	cols := []string{
		"id", "tenant", "case_id", "kind", "severity", "deadline", "threshold",
		"recipient_role", "status", "due_at", "message", "created_at", "sent_at",
		"acknowledged_at", "acknowledged_by",
	}

	// The status guard in the where clause makes the replay a no-op write.
	mock.ExpectExec(`(?s)update notifications set status='acknowledged'.+status <> 'acknowledged'`).
		WithArgs("NTF-1", "acme", sqlmock.AnyArg(), "analyst-2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select (.+) from notifications where id=").
		WithArgs("NTF-1", "acme").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"NTF-1", "acme", "CASE-1", "deadline_overdue", "critical", "decision", "overdue",
			"supervisor", "acknowledged", nil, "msg", created, created, ackAt, "analyst-1",
		))

	n, changed, err := s.Acknowledge(testCtx(), "NTF-1", "analyst-2", time.Now())
	if err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if changed {
		t.Fatalf("replay must not count as a state change")
	}
	if n.AcknowledgedBy != "analyst-1" || !n.AcknowledgedAt.Equal(ackAt) {
		t.Fatalf("replay rewrote the record: %+v", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSubmitValidatesBeforeTouchingDB(t *testing.T) {
	s, _ := newMockStore(t)

	if _, err := s.Submit(testCtx(), triage.SubmitInput{Body: " "}); !errors.Is(err, triage.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := s.Submit(context.Background(), triage.SubmitInput{Body: "report"}); !errors.Is(err, tenant.ErrNoTenant) {
		t.Fatalf("expected ErrNoTenant, got %v", err)
	}
}

func TestCreateCaseRequiresTitle(t *testing.T) {
	s, _ := newMockStore(t)

	if _, err := s.CreateCase(testCtx(), casefile.CreateCaseInput{}); !errors.Is(err, casefile.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
