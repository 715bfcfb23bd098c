package postgres

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	// ErrDuplicateKey is returned when an insert reuses an existing primary key
	ErrDuplicateKey = errors.New("duplicate key violation")

	// ErrSchemaMismatch is returned when a statement names a column the
	// table does not have, usually a table created before the last migration
	ErrSchemaMismatch = errors.New("table schema does not match the model")
)

// TranslateError maps the gorm errors the dead letter store can run into
// onto this package's sentinels. The gorm error stays in the chain; any
// other error is returned unchanged.
func TranslateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %w", ErrDuplicateKey, err)
	case errors.Is(err, gorm.ErrInvalidField):
		return fmt.Errorf("%w: %w", ErrSchemaMismatch, err)
	}
	return err
}
