package dialect

import (
	"errors"
	"fmt"
)

// ErrSQLBuild is returned when a statement cannot be generated from the
// given description, e.g. an UPDATE without columns.
var ErrSQLBuild = errors.New("sql build error")

func buildError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSQLBuild, fmt.Sprintf(format, args...))
}
