package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"avsar.org/internal/opportunity"
	"avsar.org/internal/trust"
	"avsar.org/internal/users"
)

var oppColumns = []string{
	"id", "owner_id", "title", "description", "category", "contact",
	"lat", "lng", "geohash", "address", "pincode",
	"trust_score", "decayed_score", "vouch_count", "negative_vouch_count",
	"last_verified_at", "last_decay_check", "created_at", "is_active", "version",
}

func oppRow(id string, score int, version int64, at time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(oppColumns).AddRow(
		id, "owner-1", "Community kitchen", "", "food", "",
		28.61, 77.20, "ttnfv2u8gn", "Connaught Place", "110001",
		score, score, 0, 0,
		at, at, at, true, version,
	)
}

func newStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &Store{db: db}, mock
}

func TestGetLoadsRecordWithLedgers(t *testing.T) {
	s, mock := newStore(t)
	at := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery("select.*from opportunities where id=").WithArgs("opp-1").WillReturnRows(oppRow("opp-1", 60, 2, at))
	mock.ExpectQuery("from endorsements where opportunity_id=").WithArgs("opp-1").WillReturnRows(
		sqlmock.NewRows([]string{"id", "voucher_user_id", "display_name", "comment", "verification_hash", "ts"}).
			AddRow("01ARZ", "u1", "Asha", "", "abc123", at))
	mock.ExpectQuery("from reports where opportunity_id=").WithArgs("opp-1").WillReturnRows(
		sqlmock.NewRows([]string{"id", "reporter_user_id", "reason", "ts"}))

	o, err := s.Get(context.Background(), "opp-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if o.TrustScore != 60 || len(o.Vouches) != 1 || o.Vouches[0].VoucherUserID != "u1" {
		t.Fatalf("unexpected record %+v", o)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetNotFound(t *testing.T) {
	s, mock := newStore(t)
	mock.ExpectQuery("select.*from opportunities where id=").WithArgs("missing").WillReturnRows(sqlmock.NewRows(oppColumns))

	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, opportunity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestApplyGuardsVersion(t *testing.T) {
	s, mock := newStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec("update opportunities").
		WithArgs("opp-1", int64(3), 70, 70, 2, 0, sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").WithArgs("opp-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	err := s.Apply(context.Background(), "opp-1", 3, opportunity.Update{
		TrustScore: 70, DecayedScore: 70, VouchCount: 2, LastDecayCheck: now,
	})
	if !errors.Is(err, opportunity.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApplyMissingRecord(t *testing.T) {
	s, mock := newStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec("update opportunities").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	err := s.Apply(context.Background(), "ghost", 1, opportunity.Update{LastDecayCheck: now})
	if !errors.Is(err, opportunity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestApplyAppendsEndorsement(t *testing.T) {
	s, mock := newStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec("update opportunities").
		WithArgs("opp-1", int64(1), 60, 60, 1, 0, sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into endorsements").
		WithArgs("01ARZ", "opp-1", "u1", "Asha", "", "hash", now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.Apply(context.Background(), "opp-1", 1, opportunity.Update{
		TrustScore: 60, DecayedScore: 60, VouchCount: 1,
		LastVerifiedAt: &now, LastDecayCheck: now,
		AddEndorsement: &opportunity.Endorsement{
			ID: "01ARZ", VoucherUserID: "u1", DisplayName: "Asha",
			VerificationHash: "hash", Timestamp: now,
		},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeleteNotFound(t *testing.T) {
	s, mock := newStore(t)
	mock.ExpectExec("delete from opportunities").WithArgs("ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.Delete(context.Background(), "ghost"); !errors.Is(err, opportunity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRangeScanBoundsAndActivity(t *testing.T) {
	s, mock := newStore(t)
	at := time.Now().UTC()
	mock.ExpectQuery("where geohash >= .* and geohash < .* and is_active").
		WithArgs("ttnfv2u8g0", "ttnfv2u8g~").
		WillReturnRows(oppRow("opp-1", 50, 1, at))

	got, err := s.RangeScan(context.Background(), "ttnfv2u8g0", "ttnfv2u8g~")
	if err != nil {
		t.Fatalf("RangeScan: %v", err)
	}
	if len(got) != 1 || got[0].ID != "opp-1" {
		t.Fatalf("unexpected result %+v", got)
	}
}

func TestSetVerificationPromotesUnderLock(t *testing.T) {
	s, mock := newStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("select level from users where id=.*for update").WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"level"}).AddRow("email"))
	mock.ExpectExec("update users set level=").WithArgs("u1", "verified").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	level, err := s.Users().SetVerification(context.Background(), "u1", "phone")
	if err != nil {
		t.Fatalf("SetVerification: %v", err)
	}
	if level != trust.Verified {
		t.Fatalf("level = %s, want verified", level)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSetVerificationUnknownUser(t *testing.T) {
	s, mock := newStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("select level from users").WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"level"}))
	mock.ExpectRollback()

	_, err := s.Users().SetVerification(context.Background(), "ghost", "phone")
	if !errors.Is(err, users.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
