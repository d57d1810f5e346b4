package qrcode

import (
	"bytes"
	"encoding/base64"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataURL(t *testing.T) {
	r := NewRenderer(200)

	url, err := r.DataURL("http://localhost:8080/access-file/0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "data:image/png;base64,"))

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, "data:image/png;base64,"))
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())
	assert.Equal(t, 200, img.Bounds().Dy())
}

func TestPNG_DefaultSize(t *testing.T) {
	raw, err := NewRenderer(0).PNG("hello")
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, DefaultSize, img.Bounds().Dx())
}

func TestPNG_Errors(t *testing.T) {
	_, err := NewRenderer(100).PNG("")
	assert.ErrorContains(t, err, "empty content")

	// A long URL needs more modules than fit in 10 pixels.
	_, err = NewRenderer(10).PNG(strings.Repeat("x", 200))
	assert.ErrorContains(t, err, "scaling")
}
