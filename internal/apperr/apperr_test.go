package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("create order: %w", ErrCapacityExceeded.WithMessage("only %d left", 1))

	assert.True(t, errors.Is(err, ErrCapacityExceeded))
	assert.False(t, errors.Is(err, ErrLimitExceeded))
	assert.Equal(t, http.StatusConflict, StatusCode(err))
}

func TestFromClassifiesForeignErrorsAsInternal(t *testing.T) {
	e := From(errors.New("boom"))

	assert.Equal(t, KindInternal, e.Kind)
	assert.Equal(t, http.StatusInternalServerError, e.StatusCode())
	assert.Equal(t, "internal server error", e.Message)
	assert.Nil(t, From(nil))
}

func TestStatusCodes(t *testing.T) {
	cases := map[*Error]int{
		Validation("bad"):        http.StatusBadRequest,
		ErrUnauthorized:          http.StatusUnauthorized,
		Forbidden("no"):          http.StatusForbidden,
		NotFound("ticket"):       http.StatusNotFound,
		ErrAlreadyUsed:           http.StatusConflict,
		ErrGateway:               http.StatusServiceUnavailable,
		Internal(errors.New("")): http.StatusInternalServerError,
	}
	for e, want := range cases {
		assert.Equal(t, want, e.StatusCode(), e.Code)
	}
}

func TestWithCauseKeepsCodeAndUnwraps(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := ErrGateway.WithCause(cause)

	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "GATEWAY_UNAVAILABLE", err.Code)
	assert.Nil(t, ErrGateway.Err, "sentinel must not be mutated")
}
