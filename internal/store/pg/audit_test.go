package pg

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"jodi.app/internal/auth"
)

func TestAuditAppend(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	ts := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("insert into audit_logs").
		WithArgs("01AUDIT", "root_admin", "role_assigned", sqlmock.AnyArg(), sqlmock.AnyArg(),
			"success", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), ts).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Append(context.Background(), &auth.AuditEntry{
		ID:             "01AUDIT",
		Username:       "root_admin",
		Action:         "role_assigned",
		TargetUsername: "john_doe",
		Status:         "success",
		Metadata:       map[string]string{"new_role": "moderator"},
		OccurredAt:     ts,
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAuditQueryFiltersAndPages(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	ts := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`select count\(\*\) from audit_logs where username = \$1 and action = \$2`).
		WithArgs("john_doe", "login_failed").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(120))

	rows := sqlmock.NewRows([]string{
		"id", "username", "action", "target_username", "resource",
		"status", "ip_address", "user_agent", "metadata", "ts",
	}).
		AddRow("01B", "john_doe", "login_failed", nil, nil, "failure", "10.0.0.9", "curl", []byte(`{"reason":"bad password"}`), ts).
		AddRow("01A", "john_doe", "login_failed", nil, nil, "failure", nil, nil, []byte(`{}`), ts)
	mock.ExpectQuery(`order by ts desc, id desc`).
		WithArgs("john_doe", "login_failed", 50, 50).
		WillReturnRows(rows)

	entries, total, err := store.Query(context.Background(), auth.AuditFilter{
		Username: "john_doe",
		Action:   "login_failed",
		Page:     2,
		Limit:    50,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if total != 120 {
		t.Fatalf("expected total 120, got %d", total)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].ID != "01B" {
		t.Fatalf("ordering lost: %v", entries[0].ID)
	}
	if entries[0].Metadata["reason"] != "bad password" {
		t.Fatalf("metadata not decoded: %v", entries[0].Metadata)
	}
	if entries[1].IPAddress != "" {
		t.Fatalf("null ip mishandled: %q", entries[1].IPAddress)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAuditQueryTimeRange(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`select count\(\*\) from audit_logs where ts >= \$1 and ts <= \$2`).
		WithArgs(start, end).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`order by ts desc, id desc`).
		WithArgs(start, end, 50, 0).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "username", "action", "target_username", "resource",
			"status", "ip_address", "user_agent", "metadata", "ts",
		}))

	entries, total, err := store.Query(context.Background(), auth.AuditFilter{Start: &start, End: &end})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if total != 0 || len(entries) != 0 {
		t.Fatalf("expected empty result, got total=%d entries=%d", total, len(entries))
	}
}
