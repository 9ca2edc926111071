package errs

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWrapped(t *testing.T) {
	base := ConflictError("save", 3, 5)
	wrapped := fmt.Errorf("committing: %w", base)

	assert.Equal(t, Conflict, KindOf(wrapped))
	assert.True(t, Is(wrapped, Conflict))
	assert.False(t, Is(wrapped, Transport))

	c, ok := AsConflict(wrapped)
	if assert.True(t, ok) {
		assert.Equal(t, int64(3), c.Expected)
		assert.Equal(t, int64(5), c.Found)
	}
	assert.Equal(t, "save: version conflict: expected 3, found 5", base.Error())
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, Unknown, KindOf(errors.New("boom")))
	assert.False(t, Is(nil, Unknown))
	assert.Nil(t, Wrap(Transport, "op", nil))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(Wrap(Transport, "get", io.ErrUnexpectedEOF)))
	assert.False(t, Retryable(ConflictError("put", 1, 2)))
	assert.False(t, Retryable(E(Auth, "get", "bad token")))
}

func TestUnwrap(t *testing.T) {
	err := Wrap(Transport, "get", io.EOF)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "get: EOF", err.Error())
}

func TestStatusMapping(t *testing.T) {
	for _, k := range []Kind{Auth, Conflict, Validation, NotFound, Transport} {
		assert.Equal(t, k, FromStatus(HTTPStatus(k)), "kind %s", k)
	}
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(Unknown))
	assert.Equal(t, Transport, FromStatus(http.StatusServiceUnavailable))
}
