package pkgcontext

import (
	"context"
	"errors"
)

// IsContextError tells whether err is (or wraps) the error of ctx, i.e.
// whether the operation that returned err stopped only because ctx is done.
func IsContextError(ctx context.Context, err error) bool {
	ctxErr := ctx.Err()
	if err == nil || ctxErr == nil {
		return false
	}
	return errors.Is(err, ctxErr)
}
