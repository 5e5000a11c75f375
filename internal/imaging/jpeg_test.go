package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camkeeper/internal/camera"
)

func grayNV21(w, h int, luma byte) []byte {
	data := make([]byte, w*h*3/2)
	for i := range data {
		if i < w*h {
			data[i] = luma
		} else {
			data[i] = 128
		}
	}
	return data
}

func TestEncodeJPEG_NV21(t *testing.T) {
	src, err := camera.NewSourceData(grayNV21(16, 8, 200), 16, 8, camera.FormatNV21, 90)
	require.NoError(t, err)

	out, err := EncodeJPEG(src, Options{Rotate: true})
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 16), img.Bounds(), "rotated to display orientation")

	r, g, b, _ := img.At(4, 8).RGBA()
	assert.InDelta(t, 200, r>>8, 6)
	assert.InDelta(t, 200, g>>8, 6)
	assert.InDelta(t, 200, b>>8, 6)
}

func TestEncodeJPEG_YUYV(t *testing.T) {
	data := make([]byte, 8*4*2)
	for i := 0; i < len(data); i += 2 {
		data[i] = 50
		data[i+1] = 128
	}
	src, err := camera.NewSourceData(data, 8, 4, camera.FormatYUYV, 0)
	require.NoError(t, err)

	out, err := EncodeJPEG(src, Options{Quality: 5})
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 4), img.Bounds())
}

func TestEncodeJPEG_PassThrough(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 32, 24)), nil))
	src, err := camera.NewSourceData(buf.Bytes(), 32, 24, camera.FormatMJPG, 0)
	require.NoError(t, err)

	out, err := EncodeJPEG(src, Options{Rotate: true, Bounds: camera.Size{Width: 64, Height: 64}})
	require.NoError(t, err)
	assert.Equal(t, buf.Bytes(), out)

	out, err = EncodeJPEG(src, Options{Bounds: camera.Size{Width: 16, Height: 16}})
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 16, 12), img.Bounds())
}

func TestEncodeJPEG_Errors(t *testing.T) {
	_, err := EncodeJPEG(nil, Options{})
	assert.Error(t, err)

	src, err := camera.NewSourceData([]byte{1, 2, 3}, 4, 4, camera.FormatJPEG, 90)
	require.NoError(t, err)
	_, err = EncodeJPEG(src, Options{Rotate: true})
	assert.Error(t, err, "broken JPEG must not be re-encoded")
}

func TestRotate(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 3, 2))
	marker := color.RGBA{R: 255, A: 255}
	src.Set(0, 0, marker)

	tests := []struct {
		degrees int
		bounds  image.Rectangle
		at      image.Point
	}{
		{90, image.Rect(0, 0, 2, 3), image.Pt(1, 0)},
		{180, image.Rect(0, 0, 3, 2), image.Pt(2, 1)},
		{270, image.Rect(0, 0, 2, 3), image.Pt(0, 2)},
		{-90, image.Rect(0, 0, 2, 3), image.Pt(0, 2)},
	}
	for _, tt := range tests {
		got := Rotate(src, tt.degrees)
		assert.Equal(t, tt.bounds, got.Bounds(), "degrees %d", tt.degrees)
		assert.Equal(t, marker, color.RGBAModel.Convert(got.At(tt.at.X, tt.at.Y)), "degrees %d", tt.degrees)
	}
	assert.Same(t, src, Rotate(src, 360))
}

func TestFit(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 640, 480))

	assert.Equal(t, image.Rect(0, 0, 320, 240), Fit(src, camera.Size{Width: 320, Height: 320}).Bounds())
	assert.Equal(t, image.Rect(0, 0, 200, 150), Fit(src, camera.Size{Width: 400, Height: 150}).Bounds())
	assert.Same(t, src, Fit(src, camera.Size{Width: 1280, Height: 720}))
	assert.Same(t, src, Fit(src, camera.Size{}))
}
