package log_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/slok/wavemig/internal/log"
)

func TestCtxWithValues(t *testing.T) {
	ctx := log.CtxWithValues(context.Background(), log.Kv{"wave": "w1"})
	ctx = log.CtxWithValues(ctx, log.Kv{"source": "s1", "wave": "w2"})

	assert.Equal(t, log.Kv{"wave": "w2", "source": "s1"}, log.ValuesFromCtx(ctx))
	assert.Equal(t, log.Kv{}, log.ValuesFromCtx(context.Background()))
}
