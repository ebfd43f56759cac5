package credit

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/scripe/leadgen/internal/model"
)

// SQLiteLedger implements Ledger on the store's SQLite handle. SQLite has no
// row locks, so a per-user mutex serializes mutations on the same account.
type SQLiteLedger struct {
	db  *sql.DB
	now func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSQLite creates a ledger sharing the given database handle.
func NewSQLite(database *sql.DB) *SQLiteLedger {
	return &SQLiteLedger{
		db:    database,
		now:   time.Now,
		locks: map[string]*sync.Mutex{},
	}
}

func (l *SQLiteLedger) userLock(userID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[userID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[userID] = m
	}
	return m
}

func (l *SQLiteLedger) EnsureAccount(ctx context.Context, userID string) error {
	lock := l.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "credit: begin ensure account")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`INSERT INTO credit_accounts (user_id, balance_millis) VALUES (?, ?) ON CONFLICT (user_id) DO NOTHING`,
		userID, millis(WelcomeBonus))
	if err != nil {
		return eris.Wrap(err, "credit: insert account")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "credit: ensure account rows affected")
	}
	if n == 1 {
		if err := l.insertTransaction(ctx, tx, &model.CreditTransaction{
			ID:           uuid.NewString(),
			UserID:       userID,
			Amount:       WelcomeBonus,
			BalanceAfter: WelcomeBonus,
			Operation:    model.CreditBonus,
			Description:  "welcome bonus",
			CreatedAt:    l.now(),
		}); err != nil {
			return err
		}
	}
	return eris.Wrap(tx.Commit(), "credit: commit ensure account")
}

func (l *SQLiteLedger) Balance(ctx context.Context, userID string) (float64, error) {
	var balance int64
	err := l.db.QueryRowContext(ctx,
		`SELECT balance_millis FROM credit_accounts WHERE user_id = ?`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrap(err, "credit: balance")
	}
	return credits(balance), nil
}

func (l *SQLiteLedger) Grant(ctx context.Context, userID string, amount float64, op model.CreditOp, description string) (*model.CreditTransaction, error) {
	if amount <= 0 {
		return nil, eris.New("credit: grant amount must be positive")
	}
	if op != model.CreditPurchase && op != model.CreditBonus {
		return nil, eris.Errorf("credit: invalid grant operation %q", op)
	}

	lock := l.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "credit: begin grant")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO credit_accounts (user_id, balance_millis) VALUES (?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET balance_millis = balance_millis + excluded.balance_millis`,
		userID, millis(amount)); err != nil {
		return nil, eris.Wrap(err, "credit: apply grant")
	}

	var balance int64
	if err := tx.QueryRowContext(ctx,
		`SELECT balance_millis FROM credit_accounts WHERE user_id = ?`, userID).Scan(&balance); err != nil {
		return nil, eris.Wrap(err, "credit: read balance")
	}

	entry := &model.CreditTransaction{
		ID:           uuid.NewString(),
		UserID:       userID,
		Amount:       amount,
		BalanceAfter: credits(balance),
		Operation:    op,
		Description:  description,
		CreatedAt:    l.now(),
	}
	if err := l.insertTransaction(ctx, tx, entry); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "credit: commit grant")
	}
	return entry, nil
}

func (l *SQLiteLedger) Reserve(ctx context.Context, userID string, amount float64, searchID string) (*model.Reservation, error) {
	if amount <= 0 {
		return nil, eris.New("credit: reserve amount must be positive")
	}

	lock := l.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "credit: begin reserve")
	}
	defer tx.Rollback() //nolint:errcheck

	var balance int64
	err = tx.QueryRowContext(ctx,
		`SELECT balance_millis FROM credit_accounts WHERE user_id = ?`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInsufficientCredits
	}
	if err != nil {
		return nil, eris.Wrap(err, "credit: read balance")
	}

	hold := millis(amount)
	if balance < hold {
		return nil, ErrInsufficientCredits
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE credit_accounts SET balance_millis = balance_millis - ? WHERE user_id = ?`,
		hold, userID); err != nil {
		return nil, eris.Wrap(err, "credit: apply hold")
	}

	res := &model.Reservation{
		ID:        uuid.NewString(),
		UserID:    userID,
		SearchID:  searchID,
		Amount:    credits(hold),
		CreatedAt: l.now(),
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO credit_reservations (id, user_id, search_id, amount_millis, settled, created_at) VALUES (?, ?, ?, ?, 0, ?)`,
		res.ID, res.UserID, res.SearchID, hold, res.CreatedAt); err != nil {
		return nil, eris.Wrap(err, "credit: insert reservation")
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "credit: commit reserve")
	}
	return res, nil
}

func (l *SQLiteLedger) Finalize(ctx context.Context, reservationID string, actual float64) (*Settlement, error) {
	return l.settle(ctx, reservationID, millis(actual))
}

func (l *SQLiteLedger) Refund(ctx context.Context, reservationID string) (*Settlement, error) {
	return l.settle(ctx, reservationID, 0)
}

func (l *SQLiteLedger) settle(ctx context.Context, reservationID string, debitMillis int64) (*Settlement, error) {
	var userID, searchID string
	var reserved int64
	var settled bool
	err := l.db.QueryRowContext(ctx,
		`SELECT user_id, search_id, amount_millis, settled FROM credit_reservations WHERE id = ?`,
		reservationID).Scan(&userID, &searchID, &reserved, &settled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReservationNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "credit: read reservation")
	}

	lock := l.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "credit: begin settle")
	}
	defer tx.Rollback() //nolint:errcheck

	// re-read under the lock; the first read only resolved the user id
	err = tx.QueryRowContext(ctx,
		`SELECT amount_millis, settled FROM credit_reservations WHERE id = ?`,
		reservationID).Scan(&reserved, &settled)
	if err != nil {
		return nil, eris.Wrap(err, "credit: reread reservation")
	}
	if settled {
		return nil, ErrReservationSettled
	}

	debit := clampActual(debitMillis, reserved)
	refund := reserved - debit

	if _, err := tx.ExecContext(ctx,
		`UPDATE credit_accounts SET balance_millis = balance_millis + ? WHERE user_id = ?`,
		refund, userID); err != nil {
		return nil, eris.Wrap(err, "credit: apply refund")
	}

	var balance int64
	if err := tx.QueryRowContext(ctx,
		`SELECT balance_millis FROM credit_accounts WHERE user_id = ?`, userID).Scan(&balance); err != nil {
		return nil, eris.Wrap(err, "credit: read balance")
	}

	// The full hold is booked as one search debit, then the unused part
	// returns as a refund, so every row's balance follows from the row
	// before it: prior balance, minus the hold, plus the refund.
	now := l.now()
	if err := l.insertTransaction(ctx, tx, &model.CreditTransaction{
		ID:           uuid.NewString(),
		UserID:       userID,
		Amount:       -credits(reserved),
		BalanceAfter: credits(balance - refund),
		Operation:    model.CreditSearch,
		SearchID:     searchID,
		Description:  "search run",
		CreatedAt:    now,
	}); err != nil {
		return nil, err
	}
	if refund > 0 {
		if err := l.insertTransaction(ctx, tx, &model.CreditTransaction{
			ID:           uuid.NewString(),
			UserID:       userID,
			Amount:       credits(refund),
			BalanceAfter: credits(balance),
			Operation:    model.CreditRefund,
			SearchID:     searchID,
			Description:  "unused reservation",
			CreatedAt:    now,
		}); err != nil {
			return nil, err
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE credit_reservations SET settled = 1 WHERE id = ?`, reservationID); err != nil {
		return nil, eris.Wrap(err, "credit: mark settled")
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "credit: commit settle")
	}
	return &Settlement{
		Reserved: credits(reserved),
		Debited:  credits(debit),
		Refunded: credits(refund),
	}, nil
}

func (l *SQLiteLedger) History(ctx context.Context, userID string, limit int) ([]model.CreditTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, user_id, amount_millis, balance_after_millis, operation, search_id, description, created_at
		 FROM credit_transactions WHERE user_id = ? ORDER BY created_at DESC, id LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "credit: history")
	}
	defer rows.Close()

	var out []model.CreditTransaction
	for rows.Next() {
		var t model.CreditTransaction
		var amount, after int64
		var op string
		if err := rows.Scan(&t.ID, &t.UserID, &amount, &after, &op, &t.SearchID, &t.Description, &t.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "credit: scan transaction")
		}
		t.Amount = credits(amount)
		t.BalanceAfter = credits(after)
		t.Operation = model.CreditOp(op)
		out = append(out, t)
	}
	return out, eris.Wrap(rows.Err(), "credit: history rows")
}

func (l *SQLiteLedger) insertTransaction(ctx context.Context, tx *sql.Tx, t *model.CreditTransaction) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO credit_transactions (id, user_id, amount_millis, balance_after_millis, operation, search_id, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, millis(t.Amount), millis(t.BalanceAfter), string(t.Operation),
		t.SearchID, t.Description, t.CreatedAt,
	)
	return eris.Wrap(err, "credit: insert transaction")
}

var _ Ledger = (*SQLiteLedger)(nil)
