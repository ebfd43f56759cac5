package credit

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockLedger(t *testing.T) (*PostgresLedger, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	l := NewPostgres(mock)
	l.now = func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }
	return l, mock
}

func TestPostgresReserveLocksAccount(t *testing.T) {
	l, mock := newMockLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT balance_millis FROM credit_accounts WHERE user_id = \$1 FOR UPDATE`).
		WithArgs("user-1").
		WillReturnRows(pgxmock.NewRows([]string{"balance_millis"}).AddRow(int64(10000)))
	mock.ExpectExec(`UPDATE credit_accounts SET balance_millis = balance_millis - \$1`).
		WithArgs(int64(6000), "user-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO credit_reservations`).
		WithArgs(pgxmock.AnyArg(), "user-1", "search-1", int64(6000), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	res, err := l.Reserve(context.Background(), "user-1", 6, "search-1")
	require.NoError(t, err)
	assert.InDelta(t, 6, res.Amount, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReserveInsufficient(t *testing.T) {
	l, mock := newMockLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT balance_millis FROM credit_accounts WHERE user_id = \$1 FOR UPDATE`).
		WithArgs("user-1").
		WillReturnRows(pgxmock.NewRows([]string{"balance_millis"}).AddRow(int64(500)))
	mock.ExpectRollback()

	_, err := l.Reserve(context.Background(), "user-1", 6, "search-1")
	assert.ErrorIs(t, err, ErrInsufficientCredits)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFinalizeSettlesOnce(t *testing.T) {
	l, mock := newMockLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT user_id, search_id, amount_millis, settled FROM credit_reservations WHERE id = \$1 FOR UPDATE`).
		WithArgs("res-1").
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "search_id", "amount_millis", "settled"}).
			AddRow("user-1", "search-1", int64(6000), true))
	mock.ExpectRollback()

	_, err := l.Finalize(context.Background(), "res-1", 1.44)
	assert.ErrorIs(t, err, ErrReservationSettled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSettleWritesSequentialRows(t *testing.T) {
	l, mock := newMockLedger(t)

	// hold of 6.00 on a balance of 4.00, 1.44 consumed, 4.56 returned
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT user_id, search_id, amount_millis, settled FROM credit_reservations WHERE id = \$1 FOR UPDATE`).
		WithArgs("res-1").
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "search_id", "amount_millis", "settled"}).
			AddRow("user-1", "search-1", int64(6000), false))
	mock.ExpectQuery(`UPDATE credit_accounts SET balance_millis = balance_millis \+ \$1 WHERE user_id = \$2 RETURNING balance_millis`).
		WithArgs(int64(4560), "user-1").
		WillReturnRows(pgxmock.NewRows([]string{"balance_millis"}).AddRow(int64(8560)))
	mock.ExpectExec(`INSERT INTO credit_transactions`).
		WithArgs(pgxmock.AnyArg(), "user-1", int64(-6000), int64(4000), "search", "search-1", "search run", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO credit_transactions`).
		WithArgs(pgxmock.AnyArg(), "user-1", int64(4560), int64(8560), "refund", "search-1", "unused reservation", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE credit_reservations SET settled = TRUE`).
		WithArgs("res-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	settlement, err := l.Finalize(context.Background(), "res-1", 1.44)
	require.NoError(t, err)
	assert.InDelta(t, 1.44, settlement.Debited, 1e-9)
	assert.InDelta(t, 4.56, settlement.Refunded, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}
