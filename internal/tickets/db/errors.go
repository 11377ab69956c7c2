package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/lib/pq"

	"ms-validation/internal/apperrors"
)

// classify maps driver failures onto the transient error codes. Domain errors
// and sql.ErrNoRows pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "55P03", "40001", "40P01", "57014":
			// lock_not_available, serialization_failure, deadlock_detected, query_canceled
			return apperrors.Wrap(apperrors.ErrLockTimeout, err)
		case "53300", "57P01", "57P03":
			return apperrors.Wrap(apperrors.ErrStoreUnavailable, err)
		}
		if pqErr.Code.Class() == "08" {
			return apperrors.Wrap(apperrors.ErrStoreUnavailable, err)
		}
		return err
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(apperrors.ErrStoreUnavailable, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperrors.Wrap(apperrors.ErrStoreUnavailable, err)
	}

	// sqlite reports contention as SQLITE_BUSY
	if strings.Contains(err.Error(), "database is locked") {
		return apperrors.Wrap(apperrors.ErrLockTimeout, err)
	}
	return err
}
