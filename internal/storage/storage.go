package storage

import (
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound = errors.New("not found")
)

// dateFormat is the stored form of calendar dates (UTC, no time component).
const dateFormat = "2006-01-02"

// Storage handles all database operations
type Storage struct {
	db *sql.DB
}

// dbtx is satisfied by both *sql.DB and *sql.Tx
type dbtx interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
}

// New creates a new Storage instance and initializes the database
func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=1")
	if err != nil {
		return nil, err
	}

	s := &Storage{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tg_id INTEGER NOT NULL UNIQUE,
			balance_rub INTEGER NOT NULL DEFAULT 0,
			last_charge_date TEXT,
			inviter_tg INTEGER,
			referral_bonus_paid INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_tg_id ON users(tg_id)`,

		`CREATE TABLE IF NOT EXISTS subscriptions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			start_at INTEGER NOT NULL,
			end_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_user_end ON subscriptions(user_id, end_at)`,

		`CREATE TABLE IF NOT EXISTS processed_payments (
			charge_id TEXT PRIMARY KEY,
			tg_id INTEGER NOT NULL,
			kind TEXT NOT NULL,
			amount_rub INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}

	return nil
}

// --- Users ---

// GetOrCreateUser returns the user for a telegram id, creating an empty
// record on first sight. The unique constraint on tg_id makes concurrent
// creation collapse to a single row.
func (s *Storage) GetOrCreateUser(tgID int64) (*User, error) {
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO users (tg_id, created_at) VALUES (?, ?)",
		tgID, time.Now().Unix(),
	)
	if err != nil {
		return nil, err
	}

	return s.GetUser(tgID)
}

// GetUser returns the user for a telegram id
func (s *Storage) GetUser(tgID int64) (*User, error) {
	row := s.db.QueryRow(
		`SELECT id, tg_id, balance_rub, last_charge_date, inviter_tg, referral_bonus_paid, created_at
		 FROM users WHERE tg_id = ?`,
		tgID,
	)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var lastCharge sql.NullString
	var inviter sql.NullInt64
	var bonusPaid int
	var createdAt int64

	err := row.Scan(&u.ID, &u.TgID, &u.BalanceRub, &lastCharge, &inviter, &bonusPaid, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if lastCharge.Valid {
		d, err := time.ParseInLocation(dateFormat, lastCharge.String, time.UTC)
		if err != nil {
			return nil, err
		}
		u.LastChargeDate = &d
	}
	if inviter.Valid {
		u.InviterTg = &inviter.Int64
	}
	u.ReferralBonusPaid = bonusPaid != 0
	u.CreatedAt = time.Unix(createdAt, 0)

	return &u, nil
}

// --- Balance ---

// GetBalance returns the current balance in whole rubles (0 for fresh users)
func (s *Storage) GetBalance(tgID int64) (int, error) {
	u, err := s.GetOrCreateUser(tgID)
	if err != nil {
		return 0, err
	}
	return u.BalanceRub, nil
}

// CreditBalance adds a positive amount to the user's balance and returns
// the new balance
func (s *Storage) CreditBalance(tgID int64, amountRub int) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	balance, err := creditBalance(tx, tgID, amountRub)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return balance, nil
}

func creditBalance(e dbtx, tgID int64, amountRub int) (int, error) {
	_, err := e.Exec(
		"INSERT OR IGNORE INTO users (tg_id, created_at) VALUES (?, ?)",
		tgID, time.Now().Unix(),
	)
	if err != nil {
		return 0, err
	}

	_, err = e.Exec(
		"UPDATE users SET balance_rub = balance_rub + ? WHERE tg_id = ?",
		amountRub, tgID,
	)
	if err != nil {
		return 0, err
	}

	var balance int
	if err := e.QueryRow("SELECT balance_rub FROM users WHERE tg_id = ?", tgID).Scan(&balance); err != nil {
		return 0, err
	}
	return balance, nil
}

// Debit subtracts amount from the balance if it is sufficient. Returns
// false without mutating anything when the balance is too low. The
// conditional UPDATE makes the check-then-subtract a single atomic step.
func (s *Storage) Debit(tgID int64, amountRub int) (bool, error) {
	res, err := s.db.Exec(
		"UPDATE users SET balance_rub = balance_rub - ? WHERE tg_id = ? AND balance_rub >= ?",
		amountRub, tgID, amountRub,
	)
	if err != nil {
		return false, err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// ChargeDaily performs the once-per-day debit: subtracts amount and marks
// the charge date in one statement. Succeeds only if the balance covers
// the amount and no charge was recorded for that day yet, so concurrent
// attempts for the same day collapse to a single debit.
func (s *Storage) ChargeDaily(tgID int64, amountRub int, day time.Time) (bool, error) {
	dayStr := day.UTC().Format(dateFormat)

	res, err := s.db.Exec(
		`UPDATE users SET balance_rub = balance_rub - ?, last_charge_date = ?
		 WHERE tg_id = ? AND balance_rub >= ?
		   AND (last_charge_date IS NULL OR last_charge_date < ?)`,
		amountRub, dayStr, tgID, amountRub, dayStr,
	)
	if err != nil {
		return false, err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// --- Subscriptions ---

// SubscriptionEndsAt returns the latest end_at across all of the user's
// subscription periods, or nil if the user never bought one
func (s *Storage) SubscriptionEndsAt(userID int64) (*time.Time, error) {
	var end sql.NullInt64
	err := s.db.QueryRow(
		"SELECT MAX(end_at) FROM subscriptions WHERE user_id = ?",
		userID,
	).Scan(&end)
	if err != nil {
		return nil, err
	}
	if !end.Valid {
		return nil, nil
	}

	t := time.Unix(end.Int64, 0).UTC()
	return &t, nil
}

// ExtendSubscription adds a new subscription period of the given length.
// The new period starts at the later of now and the current latest end, so
// back-to-back purchases stack instead of overlapping.
func (s *Storage) ExtendSubscription(userID int64, days int, now time.Time) (*Subscription, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	sub, err := extendSubscription(tx, userID, days, now)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return sub, nil
}

func extendSubscription(e dbtx, userID int64, days int, now time.Time) (*Subscription, error) {
	var currentEnd sql.NullInt64
	err := e.QueryRow(
		"SELECT MAX(end_at) FROM subscriptions WHERE user_id = ?",
		userID,
	).Scan(&currentEnd)
	if err != nil {
		return nil, err
	}

	startFrom := now.UTC()
	if currentEnd.Valid {
		if end := time.Unix(currentEnd.Int64, 0).UTC(); end.After(startFrom) {
			startFrom = end
		}
	}
	endAt := startFrom.Add(time.Duration(days) * 24 * time.Hour)

	res, err := e.Exec(
		"INSERT INTO subscriptions (user_id, start_at, end_at) VALUES (?, ?, ?)",
		userID, startFrom.Unix(), endAt.Unix(),
	)
	if err != nil {
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &Subscription{
		ID:      id,
		UserID:  userID,
		StartAt: startFrom,
		EndAt:   endAt,
	}, nil
}

// --- Referrals ---

// SetInviterIfFirst records who invited the user. The first recorded
// inviter wins; later calls return false and change nothing.
func (s *Storage) SetInviterIfFirst(inviteeTg, inviterTg int64) (bool, error) {
	if _, err := s.GetOrCreateUser(inviteeTg); err != nil {
		return false, err
	}

	res, err := s.db.Exec(
		"UPDATE users SET inviter_tg = ? WHERE tg_id = ? AND inviter_tg IS NULL",
		inviterTg, inviteeTg,
	)
	if err != nil {
		return false, err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// PayReferralBonus credits the inviter's balance once the invitee has
// made their first payment. The invitee's bonus flag and the inviter's
// credit commit in one transaction; repeat calls are no-ops. Returns
// whether the bonus was paid by this call.
func (s *Storage) PayReferralBonus(inviteeTg int64, bonusRub int) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var inviter sql.NullInt64
	var bonusPaid int
	err = tx.QueryRow(
		"SELECT inviter_tg, referral_bonus_paid FROM users WHERE tg_id = ?",
		inviteeTg,
	).Scan(&inviter, &bonusPaid)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if !inviter.Valid || bonusPaid != 0 {
		return false, nil
	}

	// Guarded flag flip: if a concurrent call got here first, rows == 0
	res, err := tx.Exec(
		"UPDATE users SET referral_bonus_paid = 1 WHERE tg_id = ? AND referral_bonus_paid = 0",
		inviteeTg,
	)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		return false, nil
	}

	_, err = tx.Exec(
		"INSERT OR IGNORE INTO users (tg_id, created_at) VALUES (?, ?)",
		inviter.Int64, time.Now().Unix(),
	)
	if err != nil {
		return false, err
	}

	_, err = tx.Exec(
		"UPDATE users SET balance_rub = balance_rub + ? WHERE tg_id = ?",
		bonusRub, inviter.Int64,
	)
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// --- Processed payments ---

// MarkPaymentProcessed records a payment confirmation, returns true if it
// was not seen before
func (s *Storage) MarkPaymentProcessed(chargeID string, tgID int64, kind string, amountRub int) (bool, error) {
	return markPaymentProcessed(s.db, chargeID, tgID, kind, amountRub)
}

func markPaymentProcessed(e dbtx, chargeID string, tgID int64, kind string, amountRub int) (bool, error) {
	res, err := e.Exec(
		`INSERT OR IGNORE INTO processed_payments (charge_id, tg_id, kind, amount_rub, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		chargeID, tgID, kind, amountRub, time.Now().Unix(),
	)
	if err != nil {
		return false, err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// ApplyTopUp consumes a top-up confirmation's charge id and credits the
// balance in one transaction. A failure before commit leaves the charge id
// unconsumed, so a redelivered confirmation can retry; a charge id that was
// already consumed reports applied = false and changes nothing.
func (s *Storage) ApplyTopUp(tgID int64, amountRub int, chargeID string) (newBalance int, applied bool, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, false, err
	}
	defer tx.Rollback()

	isNew, err := markPaymentProcessed(tx, chargeID, tgID, "topup", amountRub)
	if err != nil {
		return 0, false, err
	}
	if !isNew {
		var balance int
		err := tx.QueryRow("SELECT balance_rub FROM users WHERE tg_id = ?", tgID).Scan(&balance)
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		if err != nil {
			return 0, false, err
		}
		return balance, false, nil
	}

	balance, err := creditBalance(tx, tgID, amountRub)
	if err != nil {
		return 0, false, err
	}

	if err := tx.Commit(); err != nil {
		return 0, false, err
	}
	return balance, true, nil
}

// ApplySubscriptionPurchase consumes a subscription confirmation's charge
// id and extends the subscription in one transaction, with the same retry
// contract as ApplyTopUp.
func (s *Storage) ApplySubscriptionPurchase(tgID int64, days, priceRub int, chargeID string, now time.Time) (*Subscription, bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	isNew, err := markPaymentProcessed(tx, chargeID, tgID, "subscription", priceRub)
	if err != nil {
		return nil, false, err
	}
	if !isNew {
		return nil, false, nil
	}

	_, err = tx.Exec(
		"INSERT OR IGNORE INTO users (tg_id, created_at) VALUES (?, ?)",
		tgID, time.Now().Unix(),
	)
	if err != nil {
		return nil, false, err
	}

	var userID int64
	if err := tx.QueryRow("SELECT id FROM users WHERE tg_id = ?", tgID).Scan(&userID); err != nil {
		return nil, false, err
	}

	sub, err := extendSubscription(tx, userID, days, now)
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return sub, true, nil
}
