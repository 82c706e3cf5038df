package pkgcontext_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	pkgcontext "github.com/matheuscscp/protofinder/pkg/context"

	"github.com/stretchr/testify/assert"
)

func TestIsContextError(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	assert.False(t, pkgcontext.IsContextError(ctx, context.Canceled))

	cancel()
	assert.True(t, pkgcontext.IsContextError(ctx, context.Canceled))
	assert.True(t, pkgcontext.IsContextError(ctx, fmt.Errorf("error reading: %w", context.Canceled)))
	assert.False(t, pkgcontext.IsContextError(ctx, context.DeadlineExceeded))
	assert.False(t, pkgcontext.IsContextError(ctx, errors.New("other")))

	ctx, cancel = context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()
	assert.True(t, pkgcontext.IsContextError(ctx, context.DeadlineExceeded))
}
