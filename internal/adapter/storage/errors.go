package storage

import (
	"fmt"

	"github.com/rl1809/pos-ledger/internal/core/domain"
)

// storageErr keeps the driver error in the chain and marks it with
// domain.ErrStorage so callers can tell infrastructure faults apart.
func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorage, err)
}
