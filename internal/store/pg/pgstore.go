package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"avsar.org/internal/opportunity"
	"avsar.org/internal/trust"
	"avsar.org/internal/users"
)

// Store persists opportunities, their endorsement ledgers, and the user
// directory in Postgres.
type Store struct {
	db *sql.DB
}

var _ opportunity.Store = (*Store)(nil)

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
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

const opportunityColumns = `
	id, owner_id, title, description, category, contact,
	lat, lng, geohash, address, pincode,
	trust_score, decayed_score, vouch_count, negative_vouch_count,
	last_verified_at, last_decay_check, created_at, is_active, version
`

func scanOpportunity(scan func(dest ...any) error) (opportunity.Opportunity, error) {
	var o opportunity.Opportunity
	err := scan(
		&o.ID, &o.OwnerID, &o.Title, &o.Description, &o.Category, &o.Contact,
		&o.Location.Lat, &o.Location.Lng, &o.Location.Geohash, &o.Location.Address, &o.Location.Pincode,
		&o.TrustScore, &o.DecayedScore, &o.VouchCount, &o.NegativeVouchCount,
		&o.LastVerifiedAt, &o.LastDecayCheck, &o.CreatedAt, &o.IsActive, &o.Version,
	)
	return o, err
}

func (s *Store) Get(ctx context.Context, id string) (opportunity.Opportunity, error) {
	row := s.db.QueryRowContext(ctx, `select`+opportunityColumns+`from opportunities where id=$1`, id)
	o, err := scanOpportunity(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return opportunity.Opportunity{}, opportunity.ErrNotFound
	}
	if err != nil {
		return opportunity.Opportunity{}, err
	}
	if o.Vouches, err = s.endorsements(ctx, id); err != nil {
		return opportunity.Opportunity{}, err
	}
	if o.NegativeVouches, err = s.reports(ctx, id); err != nil {
		return opportunity.Opportunity{}, err
	}
	return o, nil
}

func (s *Store) endorsements(ctx context.Context, opportunityID string) ([]opportunity.Endorsement, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, voucher_user_id, display_name, comment, verification_hash, ts
		from endorsements where opportunity_id=$1 order by id
	`, opportunityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []opportunity.Endorsement
	for rows.Next() {
		var e opportunity.Endorsement
		if err := rows.Scan(&e.ID, &e.VoucherUserID, &e.DisplayName, &e.Comment, &e.VerificationHash, &e.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) reports(ctx context.Context, opportunityID string) ([]opportunity.Report, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, reporter_user_id, reason, ts
		from reports where opportunity_id=$1 order by id
	`, opportunityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []opportunity.Report
	for rows.Next() {
		var r opportunity.Report
		if err := rows.Scan(&r.ID, &r.ReporterUserID, &r.Reason, &r.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Put(ctx context.Context, o opportunity.Opportunity) error {
	_, err := s.db.ExecContext(ctx, `
		insert into opportunities(`+opportunityColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		on conflict (id) do update set
			title=excluded.title, description=excluded.description,
			category=excluded.category, contact=excluded.contact,
			lat=excluded.lat, lng=excluded.lng, geohash=excluded.geohash,
			address=excluded.address, pincode=excluded.pincode,
			is_active=excluded.is_active
	`,
		o.ID, o.OwnerID, o.Title, o.Description, o.Category, o.Contact,
		o.Location.Lat, o.Location.Lng, o.Location.Geohash, o.Location.Address, o.Location.Pincode,
		o.TrustScore, o.DecayedScore, o.VouchCount, o.NegativeVouchCount,
		o.LastVerifiedAt, o.LastDecayCheck, o.CreatedAt, o.IsActive, o.Version,
	)
	return err
}

// Apply performs the version-guarded score update and ledger append in one
// transaction. A zero-row update on an existing record means the version
// moved underneath us.
func (s *Store) Apply(ctx context.Context, id string, version int64, upd opportunity.Update) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var verifiedAt sql.NullTime
	if upd.LastVerifiedAt != nil {
		verifiedAt = sql.NullTime{Time: *upd.LastVerifiedAt, Valid: true}
	}
	res, err := tx.ExecContext(ctx, `
		update opportunities
		set trust_score=$3, decayed_score=$4,
			vouch_count=$5, negative_vouch_count=$6,
			last_verified_at=coalesce($7, last_verified_at),
			last_decay_check=$8,
			version=version+1
		where id=$1 and version=$2
	`, id, version, upd.TrustScore, upd.DecayedScore,
		upd.VouchCount, upd.NegativeVouchCount, verifiedAt, upd.LastDecayCheck)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `select exists(select 1 from opportunities where id=$1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return opportunity.ErrNotFound
		}
		return opportunity.ErrVersionConflict
	}

	if e := upd.AddEndorsement; e != nil {
		if _, err := tx.ExecContext(ctx, `
			insert into endorsements(id, opportunity_id, voucher_user_id, display_name, comment, verification_hash, ts)
			values ($1,$2,$3,$4,$5,$6,$7)
		`, e.ID, id, e.VoucherUserID, e.DisplayName, e.Comment, e.VerificationHash, e.Timestamp); err != nil {
			return err
		}
	}
	if r := upd.AddReport; r != nil {
		if _, err := tx.ExecContext(ctx, `
			insert into reports(id, opportunity_id, reporter_user_id, reason, ts)
			values ($1,$2,$3,$4,$5)
		`, r.ID, id, r.ReporterUserID, r.Reason, r.Timestamp); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from opportunities where id=$1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return opportunity.ErrNotFound
	}
	return nil
}

// RangeScan returns active records with geohash in [low, high). Ledgers are
// not loaded; callers that need them fetch the record by id.
func (s *Store) RangeScan(ctx context.Context, low, high string) ([]opportunity.Opportunity, error) {
	rows, err := s.db.QueryContext(ctx, `
		select`+opportunityColumns+`
		from opportunities
		where geohash >= $1 and geohash < $2 and is_active
		order by geohash
	`, low, high)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

func (s *Store) All(ctx context.Context) ([]opportunity.Opportunity, error) {
	rows, err := s.db.QueryContext(ctx, `select`+opportunityColumns+`from opportunities order by created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

func collect(rows *sql.Rows) ([]opportunity.Opportunity, error) {
	var out []opportunity.Opportunity
	for rows.Next() {
		o, err := scanOpportunity(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// UserDirectory implements users.Directory over the same pool. It is a
// separate type because the directory's Get and Put signatures differ from
// the opportunity store's.
type UserDirectory struct {
	db *sql.DB
}

var _ users.Directory = (*UserDirectory)(nil)

// Users returns the directory view of this store.
func (s *Store) Users() *UserDirectory { return &UserDirectory{db: s.db} }

func (d *UserDirectory) Get(ctx context.Context, id string) (users.User, error) {
	var u users.User
	var verifiedAt sql.NullTime
	err := d.db.QueryRowContext(ctx, `
		select id, display_name, email, phone, level, verification_date, created_at
		from users where id=$1
	`, id).Scan(&u.ID, &u.DisplayName, &u.Email, &u.Phone, &u.Level, &verifiedAt, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return users.User{}, users.ErrNotFound
	}
	if err != nil {
		return users.User{}, err
	}
	if verifiedAt.Valid {
		u.VerificationDate = verifiedAt.Time
	}
	return u, nil
}

func (d *UserDirectory) Put(ctx context.Context, u users.User) error {
	if u.Level == "" {
		u.Level = trust.Unverified
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	var verifiedAt sql.NullTime
	if !u.VerificationDate.IsZero() {
		verifiedAt = sql.NullTime{Time: u.VerificationDate, Valid: true}
	}
	_, err := d.db.ExecContext(ctx, `
		insert into users(id, display_name, email, phone, level, verification_date, created_at)
		values ($1,$2,$3,$4,$5,$6,$7)
		on conflict (id) do update set
			display_name=excluded.display_name,
			email=excluded.email, phone=excluded.phone
	`, u.ID, u.DisplayName, u.Email, u.Phone, string(u.Level), verifiedAt, u.CreatedAt)
	return err
}

// SetVerification promotes a user's level under a row lock so two concurrent
// verifications cannot both observe the pre-promotion level.
func (d *UserDirectory) SetVerification(ctx context.Context, id, method string) (trust.Level, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `select level from users where id=$1 for update`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return "", users.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	level, err := users.Promote(trust.ParseLevel(current), method)
	if err != nil {
		return "", err
	}
	if _, err := tx.ExecContext(ctx, `
		update users set level=$2, verification_date=now() where id=$1
	`, id, string(level)); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return level, nil
}
