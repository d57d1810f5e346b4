// Package qrcode turns a URL into a PNG QR code embedded in a data URL, ready
// for an <img src>.
package qrcode

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
)

const (
	DefaultSize   = 256
	dataURLPrefix = "data:image/png;base64,"
)

// Renderer encodes content at medium error correction (about 15% of the
// symbol can be damaged and still scan) and scales it to a square of Size
// pixels.
type Renderer struct {
	size int
}

// NewRenderer returns a Renderer producing size x size images. Sizes below
// the symbol's natural module count are rejected by Render.
func NewRenderer(size int) *Renderer {
	if size <= 0 {
		size = DefaultSize
	}
	return &Renderer{size: size}
}

// PNG renders content as PNG bytes.
func (r *Renderer) PNG(content string) ([]byte, error) {
	if content == "" {
		return nil, errors.New("qrcode: empty content")
	}

	code, err := qr.Encode(content, qr.M, qr.Auto)
	if err != nil {
		return nil, fmt.Errorf("qrcode: encoding: %w", err)
	}
	code, err = barcode.Scale(code, r.size, r.size)
	if err != nil {
		return nil, fmt.Errorf("qrcode: scaling to %dpx: %w", r.size, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, code); err != nil {
		return nil, fmt.Errorf("qrcode: writing PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// DataURL renders content and wraps the PNG as "data:image/png;base64,...".
func (r *Renderer) DataURL(content string) (string, error) {
	img, err := r.PNG(content)
	if err != nil {
		return "", err
	}
	return dataURLPrefix + base64.StdEncoding.EncodeToString(img), nil
}
