package repository

import (
	"errors"
	"fmt"

	"github.com/ayo6706/ledger-transfer/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// mapError translates driver errors into domain sentinels, keeping the original in the chain.
func mapError(err error, op string) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03":
			return fmt.Errorf("%s: %w: %w", op, domain.ErrLockTimeout, err)
		case "40001", "40P01":
			return fmt.Errorf("%s: %w: %w", op, domain.ErrVersionConflict, err)
		case "23505":
			return fmt.Errorf("%s: %w: %w", op, domain.ErrDuplicate, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func notFound(err error, sentinel error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, sentinel)
	}
	return mapError(err, op)
}

func requireExactlyOne(rows int64, op string, onZero error) error {
	if rows == 1 {
		return nil
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", op, onZero)
	}
	return fmt.Errorf("%s: expected 1 row affected, got %d", op, rows)
}
