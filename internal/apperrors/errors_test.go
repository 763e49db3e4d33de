package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindValidation, KindOf(Validation("bad input")))
	assert.Equal(t, KindAuthorization, KindOf(Authorization("not yours")))
	assert.Equal(t, KindNotFound, KindOf(NotFound("missing")))
	assert.Equal(t, KindConflict, KindOf(Conflict("stale")))
	assert.Equal(t, KindExternalService, KindOf(ExternalService(errors.New("503"), "provider down")))
	assert.Equal(t, KindPersistence, KindOf(Persistence(errors.New("io"), "write failed")))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("outer context: %w", Conflict("price too low"))
	assert.Equal(t, KindConflict, KindOf(err))
	assert.True(t, IsKind(err, KindConflict))
	assert.False(t, IsKind(err, KindValidation))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(Validation("bad")))
	assert.Equal(t, http.StatusForbidden, HTTPStatus(Authorization("no")))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(NotFound("gone")))
	assert.Equal(t, http.StatusConflict, HTTPStatus(Conflict("raced")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(ExternalService(nil, "provider")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(Persistence(nil, "db")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("plain")))
}

func TestErrorMessagePassthrough(t *testing.T) {
	cause := errors.New("status 422: INVALID_REQUEST")
	err := ExternalService(cause, "provider rejected POST /orders")
	assert.Contains(t, err.Error(), "provider rejected POST /orders")
	assert.Contains(t, err.Error(), "INVALID_REQUEST")
	assert.ErrorIs(t, err, cause)
}
