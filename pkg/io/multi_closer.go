package pkgio

import (
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"
)

// Close closes all the closers in reverse order, so resources are
// released in the opposite order they were acquired, and returns
// all the errors. Nil closers are skipped.
func Close(closers ...io.Closer) error {
	var err error
	for i := len(closers) - 1; 0 <= i; i-- {
		c := closers[i]
		if c == nil {
			continue
		}
		if cErr := c.Close(); cErr != nil {
			err = multierror.Append(err, fmt.Errorf("error closing %d-th closer: %w", i, cErr))
		}
	}
	return err
}
