package testutil

import (
	"bytes"
	crand "crypto/rand"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

// Must takes return values from a function and returns the non-error one. If
// the error value is non-nil then it fails the test
func Must[T any](val T, err error) func(*testing.T) T {
	return func(t *testing.T) T {
		require.NoError(t, err)
		return val
	}
}

// Must2 takes return values from a 3 return function and returns the non-error ones. If
// the error value is non-nil then it fails the test.
func Must2[T, U any](val1 T, val2 U, err error) func(*testing.T) (T, U) {
	return func(t *testing.T) (T, U) {
		require.NoError(t, err)
		return val1, val2
	}
}

func RandomBytes(t *testing.T, size int) []byte {
	bytes := make([]byte, size)
	_, err := crand.Read(bytes)
	require.NoError(t, err)
	return bytes
}

// PNG returns an encoded solid colour PNG of the given dimensions.
func PNG(t *testing.T, width, height int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			img.Set(x, y, color.RGBA{R: 200, G: 80, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
