package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/vpn-checkout/internal/domain/ledger"
	"github.com/xenking/vpn-checkout/internal/domain/pricing"
)

var _ ledger.Ledger = (*LedgerRepository)(nil)

// LedgerRepository keeps balances on the users row and the transaction log
// in the transactions table.
type LedgerRepository struct {
	pool *pgxpool.Pool
	tx   *TxManager
}

// NewLedgerRepository returns a LedgerRepository that uses the given pool.
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool, tx: NewTxManager(pool)}
}

// Balance returns the balance of the user; unknown users have zero.
func (r *LedgerRepository) Balance(ctx context.Context, userID int64) (pricing.Money, error) {
	var balance int64
	err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT balance FROM users WHERE id = $1`, userID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, errors.Wrapf(err, "get balance of user %d", userID)
	}
	return pricing.Money(balance), nil
}

// Debit appends e to the log and subtracts its amount with a conditional
// update, so a concurrent debit can never drive the balance negative.
func (r *LedgerRepository) Debit(ctx context.Context, e ledger.Entry) (int64, error) {
	if e.Amount < 0 {
		return 0, errors.Wrapf(ledger.ErrInvalidAmount, "debit %s", e.Amount)
	}
	var id int64
	err := r.tx.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := conn(ctx, r.pool).Exec(ctx,
			`INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, e.UserID); err != nil {
			return errors.Wrap(err, "ensure user")
		}
		var err error
		if id, err = r.appendEntry(ctx, e); err != nil {
			return err
		}
		tag, err := conn(ctx, r.pool).Exec(ctx, `
			UPDATE users SET balance = balance - $2, updated_at = now()
			WHERE id = $1 AND balance >= $2`,
			e.UserID, int64(e.Amount))
		if err != nil {
			return errors.Wrap(err, "update balance")
		}
		if tag.RowsAffected() == 0 {
			return ledger.ErrInsufficientFunds
		}
		return nil
	})
	if err != nil {
		return 0, errors.Wrapf(err, "debit user %d", e.UserID)
	}
	return id, nil
}

// Credit adds e.Amount to the balance, creating the user row if needed.
func (r *LedgerRepository) Credit(ctx context.Context, e ledger.Entry) (int64, error) {
	if e.Amount <= 0 {
		return 0, errors.Wrapf(ledger.ErrInvalidAmount, "credit %s", e.Amount)
	}
	var id int64
	err := r.tx.RunInTx(ctx, func(ctx context.Context) error {
		_, err := conn(ctx, r.pool).Exec(ctx, `
			INSERT INTO users (id, balance) VALUES ($1, $2)
			ON CONFLICT (id) DO UPDATE SET balance = users.balance + EXCLUDED.balance, updated_at = now()`,
			e.UserID, int64(e.Amount))
		if err != nil {
			return errors.Wrap(err, "update balance")
		}
		id, err = r.appendEntry(ctx, e)
		return err
	})
	if err != nil {
		return 0, errors.Wrapf(err, "credit user %d", e.UserID)
	}
	return id, nil
}

// History returns the latest entries of the user, newest first.
func (r *LedgerRepository) History(ctx context.Context, userID int64, limit int) ([]ledger.Entry, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT id, user_id, amount, kind, description, reference, created_at
		FROM transactions WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query transactions")
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.Entry, error) {
		var (
			e      ledger.Entry
			amount int64
			kind   string
		)
		err := row.Scan(&e.ID, &e.UserID, &amount, &kind, &e.Description, &e.Reference, &e.CreatedAt)
		e.Amount = pricing.Money(amount)
		e.Kind = ledger.Kind(kind)
		return e, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "collect transactions")
	}
	return entries, nil
}

func (r *LedgerRepository) appendEntry(ctx context.Context, e ledger.Entry) (int64, error) {
	var id int64
	err := conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO transactions (user_id, amount, kind, description, reference)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (kind, reference) DO NOTHING
		RETURNING id`,
		e.UserID, int64(e.Amount), string(e.Kind), e.Description, e.Reference,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ledger.ErrDuplicateReference
		}
		if isUniqueViolation(err) {
			return 0, ledger.ErrDuplicateReference
		}
		return 0, errors.Wrap(err, "append transaction")
	}
	return id, nil
}
