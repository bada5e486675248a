package utils

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/logger"
)

func TestGenerateTicketCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		code, err := GenerateTicketCode(20)
		require.NoError(t, err)
		assert.Len(t, code, 32)
		assert.False(t, seen[code], "duplicate code")
		seen[code] = true
	}

	_, err := GenerateTicketCode(8)
	assert.Error(t, err)
}

func TestGenerateReference(t *testing.T) {
	ref := GenerateReference("TXN")
	assert.True(t, strings.HasPrefix(ref, "TXN-"))
	assert.NotEqual(t, ref, GenerateReference("TXN"))
}

func TestMoney(t *testing.T) {
	assert.Equal(t, "NGN 1500.50", FormatMinor(150050, "ngn"))
	assert.Equal(t, int64(250), PercentOf(5000, 5))
	assert.Equal(t, int64(3), PercentOf(50, 5), "2.5 rounds half up")
	assert.Equal(t, 66.67, Rate(2, 3))
	assert.Equal(t, float64(0), Rate(1, 0))
}

func TestParsePage(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/x?page=0&limit=1000", nil)
	p := ParsePage(r)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 100, p.Limit)

	r = httptest.NewRequest(http.MethodGet, "/x?page=3&limit=10", nil)
	p = ParsePage(r)
	assert.Equal(t, 20, p.Offset())
	assert.Equal(t, 3, NewPaginated(nil, 21, p).Pages)
}

type purchaseBody struct {
	EventID  string `json:"eventId" validate:"required"`
	Quantity int    `json:"quantity" validate:"min=1,max=10"`
}

func TestDecodeAndValidate(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"eventId":"e1","quantity":0}`))
	var body purchaseBody
	err := DecodeAndValidate(r, &body)
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "Quantity must be at least 1")

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"eventId":"e1","quantity":2}`))
	require.NoError(t, DecodeAndValidate(r, &body))
	assert.Equal(t, 2, body.Quantity)
}

func TestWriteErrorHidesInternalCause(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, logger.NewNop(), "API", errors.New("pq: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "internal server error", resp.Message)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}
