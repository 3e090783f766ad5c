package storage_test

import (
	"errors"
	"testing"

	"github.com/geochirp/globe-engine/internal/storage"
	"github.com/stretchr/testify/assert"
)

func TestSubscriptionFunc(t *testing.T) {
	calls := 0
	var sub storage.Subscription = storage.SubscriptionFunc(func() error {
		calls++
		return nil
	})

	assert.NoError(t, sub.Unsubscribe())
	assert.Equal(t, 1, calls)
}

func TestSubscriptionFunc_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	sub := storage.SubscriptionFunc(func() error { return boom })
	assert.ErrorIs(t, sub.Unsubscribe(), boom)
}
