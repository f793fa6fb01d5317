package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeanPool(t *testing.T) {
	hidden := []float32{
		1, 2,
		3, 4,
		100, 100, // padding
	}
	got := meanPool(hidden, []int64{1, 1, 0}, 2)
	assert.Equal(t, []float32{2, 3}, got)

	assert.Equal(t, []float32{0, 0}, meanPool(hidden, []int64{0, 0, 0}, 2))
}

func TestEmbedEach_StopsOnError(t *testing.T) {
	calls := 0
	embed := func(_ context.Context, text string) ([]float32, error) {
		calls++
		if text == "bad" {
			return nil, errors.New("boom")
		}
		return []float32{1}, nil
	}
	_, err := embedEach(context.Background(), []string{"orders", "bad", "users"}, embed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embed text 2 of 3")
	assert.Equal(t, 2, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = embedEach(ctx, []string{"orders"}, embed)
	assert.ErrorIs(t, err, context.Canceled)
}
