// Package credit implements the account ledger: balances, grants, and the
// reserve/finalize/refund cycle that brackets every run. Amounts are stored
// as integer millicredits so reconciliation never drifts.
package credit

import (
	"context"
	"math"

	"github.com/rotisserie/eris"

	"github.com/scripe/leadgen/internal/model"
)

// WelcomeBonus is granted once when an account is first seen.
const WelcomeBonus = 10.0

var (
	// ErrInsufficientCredits is returned by Reserve when the balance does
	// not cover the requested hold.
	ErrInsufficientCredits = eris.New("credit: insufficient credits")

	// ErrReservationSettled is returned when a reservation has already been
	// finalized or refunded.
	ErrReservationSettled = eris.New("credit: reservation already settled")

	// ErrReservationNotFound is returned for unknown reservation ids.
	ErrReservationNotFound = eris.New("credit: reservation not found")
)

// Settlement reports how a reservation was closed out. Reserved always equals
// Debited plus Refunded.
type Settlement struct {
	Reserved float64
	Debited  float64
	Refunded float64
}

// Ledger manages credit accounts. Reserve takes the hold out of the balance
// up front; Finalize and Refund return the unused part.
type Ledger interface {
	// EnsureAccount creates the account with the welcome bonus if it does
	// not exist yet. Safe to call on every request.
	EnsureAccount(ctx context.Context, userID string) error

	Balance(ctx context.Context, userID string) (float64, error)

	// Grant adds credits. Op must be CreditPurchase or CreditBonus.
	Grant(ctx context.Context, userID string, amount float64, op model.CreditOp, description string) (*model.CreditTransaction, error)

	// Reserve holds amount against the balance before a run starts.
	Reserve(ctx context.Context, userID string, amount float64, searchID string) (*model.Reservation, error)

	// Finalize settles a reservation: actual is debited, the remainder is
	// returned to the balance. Actual above the reserved amount is clamped.
	Finalize(ctx context.Context, reservationID string, actual float64) (*Settlement, error)

	// Refund returns the full reservation to the balance.
	Refund(ctx context.Context, reservationID string) (*Settlement, error)

	History(ctx context.Context, userID string, limit int) ([]model.CreditTransaction, error)
}

// millis converts credits to integer millicredits.
func millis(credits float64) int64 {
	return int64(math.Round(credits * 1000))
}

// credits converts integer millicredits back to credits.
func credits(m int64) float64 {
	return float64(m) / 1000
}

func clampActual(actual, reserved int64) int64 {
	if actual < 0 {
		return 0
	}
	if actual > reserved {
		return reserved
	}
	return actual
}
