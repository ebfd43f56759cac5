package credit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/scripe/leadgen/internal/db"
	"github.com/scripe/leadgen/internal/model"
)

// PostgresLedger implements Ledger on the shared store pool. Every mutation
// runs in a single transaction with the account row locked FOR UPDATE, so
// concurrent reservations against the same account serialize at the database.
type PostgresLedger struct {
	pool db.Pool
	now  func() time.Time
}

// NewPostgres creates a ledger backed by the given pool.
func NewPostgres(pool db.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool, now: time.Now}
}

func (l *PostgresLedger) EnsureAccount(ctx context.Context, userID string) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "credit: begin ensure account")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`INSERT INTO credit_accounts (user_id, balance_millis) VALUES ($1, $2) ON CONFLICT (user_id) DO NOTHING`,
		userID, millis(WelcomeBonus),
	)
	if err != nil {
		return eris.Wrap(err, "credit: insert account")
	}
	if tag.RowsAffected() == 1 {
		if err := insertTransaction(ctx, tx, &model.CreditTransaction{
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
	return eris.Wrap(tx.Commit(ctx), "credit: commit ensure account")
}

func (l *PostgresLedger) Balance(ctx context.Context, userID string) (float64, error) {
	var balance int64
	err := l.pool.QueryRow(ctx,
		`SELECT balance_millis FROM credit_accounts WHERE user_id = $1`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrap(err, "credit: balance")
	}
	return credits(balance), nil
}

func (l *PostgresLedger) Grant(ctx context.Context, userID string, amount float64, op model.CreditOp, description string) (*model.CreditTransaction, error) {
	if amount <= 0 {
		return nil, eris.New("credit: grant amount must be positive")
	}
	if op != model.CreditPurchase && op != model.CreditBonus {
		return nil, eris.Errorf("credit: invalid grant operation %q", op)
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "credit: begin grant")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var balance int64
	err = tx.QueryRow(ctx,
		`INSERT INTO credit_accounts (user_id, balance_millis) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET balance_millis = credit_accounts.balance_millis + $2
		 RETURNING balance_millis`,
		userID, millis(amount),
	).Scan(&balance)
	if err != nil {
		return nil, eris.Wrap(err, "credit: apply grant")
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
	if err := insertTransaction(ctx, tx, entry); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "credit: commit grant")
	}
	return entry, nil
}

func (l *PostgresLedger) Reserve(ctx context.Context, userID string, amount float64, searchID string) (*model.Reservation, error) {
	if amount <= 0 {
		return nil, eris.New("credit: reserve amount must be positive")
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "credit: begin reserve")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var balance int64
	err = tx.QueryRow(ctx,
		`SELECT balance_millis FROM credit_accounts WHERE user_id = $1 FOR UPDATE`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInsufficientCredits
	}
	if err != nil {
		return nil, eris.Wrap(err, "credit: lock account")
	}

	hold := millis(amount)
	if balance < hold {
		return nil, ErrInsufficientCredits
	}

	if _, err := tx.Exec(ctx,
		`UPDATE credit_accounts SET balance_millis = balance_millis - $1 WHERE user_id = $2`,
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
	if _, err := tx.Exec(ctx,
		`INSERT INTO credit_reservations (id, user_id, search_id, amount_millis, settled, created_at) VALUES ($1, $2, $3, $4, FALSE, $5)`,
		res.ID, res.UserID, res.SearchID, hold, res.CreatedAt); err != nil {
		return nil, eris.Wrap(err, "credit: insert reservation")
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "credit: commit reserve")
	}
	return res, nil
}

func (l *PostgresLedger) Finalize(ctx context.Context, reservationID string, actual float64) (*Settlement, error) {
	return l.settle(ctx, reservationID, millis(actual))
}

func (l *PostgresLedger) Refund(ctx context.Context, reservationID string) (*Settlement, error) {
	return l.settle(ctx, reservationID, 0)
}

// settle closes a reservation: debitMillis is consumed, the rest returns to
// the balance. The reservation row is locked so a concurrent finalize and
// refund cannot both settle it.
func (l *PostgresLedger) settle(ctx context.Context, reservationID string, debitMillis int64) (*Settlement, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "credit: begin settle")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var userID, searchID string
	var reserved int64
	var settled bool
	err = tx.QueryRow(ctx,
		`SELECT user_id, search_id, amount_millis, settled FROM credit_reservations WHERE id = $1 FOR UPDATE`,
		reservationID).Scan(&userID, &searchID, &reserved, &settled)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrReservationNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "credit: lock reservation")
	}
	if settled {
		return nil, ErrReservationSettled
	}

	debit := clampActual(debitMillis, reserved)
	refund := reserved - debit

	var balance int64
	err = tx.QueryRow(ctx,
		`UPDATE credit_accounts SET balance_millis = balance_millis + $1 WHERE user_id = $2 RETURNING balance_millis`,
		refund, userID).Scan(&balance)
	if err != nil {
		return nil, eris.Wrap(err, "credit: apply refund")
	}

	// The full hold is booked as one search debit, then the unused part
	// returns as a refund, so every row's balance follows from the row
	// before it: prior balance, minus the hold, plus the refund.
	now := l.now()
	if err := insertTransaction(ctx, tx, &model.CreditTransaction{
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
		if err := insertTransaction(ctx, tx, &model.CreditTransaction{
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

	if _, err := tx.Exec(ctx,
		`UPDATE credit_reservations SET settled = TRUE WHERE id = $1`, reservationID); err != nil {
		return nil, eris.Wrap(err, "credit: mark settled")
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "credit: commit settle")
	}
	return &Settlement{
		Reserved: credits(reserved),
		Debited:  credits(debit),
		Refunded: credits(refund),
	}, nil
}

func (l *PostgresLedger) History(ctx context.Context, userID string, limit int) ([]model.CreditTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.pool.Query(ctx,
		`SELECT id, user_id, amount_millis, balance_after_millis, operation, search_id, description, created_at
		 FROM credit_transactions WHERE user_id = $1 ORDER BY created_at DESC, id LIMIT $2`,
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

func insertTransaction(ctx context.Context, tx pgx.Tx, t *model.CreditTransaction) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO credit_transactions (id, user_id, amount_millis, balance_after_millis, operation, search_id, description, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.UserID, millis(t.Amount), millis(t.BalanceAfter), string(t.Operation),
		t.SearchID, t.Description, t.CreatedAt,
	)
	return eris.Wrap(err, "credit: insert transaction")
}

var _ Ledger = (*PostgresLedger)(nil)
