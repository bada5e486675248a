package qr

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const code = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

func TestPayloadRoundTrip(t *testing.T) {
	q := NewQRGenerator("secret")
	got, err := q.Parse(q.Payload(code))
	require.NoError(t, err)
	assert.Equal(t, code, got)
}

func TestParseAcceptsBareCode(t *testing.T) {
	q := NewQRGenerator("secret")
	got, err := q.Parse("  " + code + "\n")
	require.NoError(t, err)
	assert.Equal(t, code, got)
}

func TestParseRejectsForgedAndMalformed(t *testing.T) {
	q := NewQRGenerator("secret")
	other := NewQRGenerator("other-secret")

	_, err := q.Parse(other.Payload(code))
	assert.ErrorIs(t, err, ErrForged)

	_, err = q.Parse("TKT1." + code)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = q.Parse("hello world")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestGeneratePNG(t *testing.T) {
	q := NewQRGenerator("secret")
	data, err := q.GeneratePNG(code, 256)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 256, img.Bounds().Dx())
}
