package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := New(NotFound, "pending action 7")
	assert.Equal(t, "[NOT_FOUND] pending action 7", err.Error())

	cause := errors.New("disk full")
	wrapped := Wrap(TransactionFailed, "store offline data", cause)
	assert.Equal(t, "[TRANSACTION_FAILED] store offline data: disk full", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
}

func TestIsWalksChain(t *testing.T) {
	inner := Wrap(StorageUnavailable, "open", errors.New("no path"))
	outer := fmt.Errorf("add pending action: %w", inner)

	assert.True(t, Is(outer, StorageUnavailable))
	assert.False(t, Is(outer, TransactionFailed))
	assert.False(t, Is(errors.New("plain"), StorageUnavailable))
	assert.False(t, Is(nil, StorageUnavailable))

	nested := Wrap(TransactionFailed, "write", inner)
	assert.True(t, Is(nested, StorageUnavailable))
	assert.Equal(t, TransactionFailed, CodeOf(nested))
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
}
