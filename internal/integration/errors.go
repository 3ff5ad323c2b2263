package integration

import "github.com/cockroachdb/errors"

var (
	// ErrConfigCorrupt marks a stored config that cannot be decrypted, parsed or validated.
	// A run that hits it fails and is not retried.
	ErrConfigCorrupt = errors.New("integration config corrupt")

	// ErrValidation marks a config rejected before it is persisted.
	ErrValidation = errors.New("integration config invalid")
)

func validationErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrValidation)
}

func corrupt(err error, integrationID string) error {
	return errors.Mark(errors.Wrapf(err, "integration %s", integrationID), ErrConfigCorrupt)
}
