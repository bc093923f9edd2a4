package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindSurvivesWrapping(t *testing.T) {
	base := Wrap(KindTransientIO, errors.New("connection reset"), "download video")
	wrapped := fmt.Errorf("process media: %w", base)

	assert.Equal(t, KindTransientIO, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindTransientIO))
	assert.True(t, Retryable(wrapped))
	assert.Equal(t, "download video: connection reset", base.Error())
	assert.ErrorContains(t, errors.Unwrap(base), "connection reset")
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(New(KindPayloadTooLarge, "too big")))
	assert.False(t, Retryable(New(KindValidation, "bad input")))
	assert.True(t, Retryable(New(KindAnnotationService, "no results")))
	assert.True(t, Retryable(errors.New("plain")))
}

func TestNilSafety(t *testing.T) {
	var e *Error
	assert.Equal(t, KindInternal, e.Kind())
	assert.Empty(t, e.Error())
	assert.Nil(t, As(nil))
	assert.Equal(t, KindInternal, KindOf(errors.New("x")))
}
