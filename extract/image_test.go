package extract

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestFlipHorizontalSwapsColumns(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{255, 0, 0, 255})
	img.Set(1, 0, color.RGBA{0, 255, 0, 255})

	flipped := flipHorizontal(img)
	r, g, b, a := flipped.At(0, 0).RGBA()
	assert.Equal(t, uint32(0), r)
	assert.Greater(t, g, uint32(0))
	_ = b
	_ = a
}

func TestRotate90RotatesDimensions(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	rotated := rotate90(img)
	assert.Equal(t, 2, rotated.Bounds().Dx())
	assert.Equal(t, 4, rotated.Bounds().Dy())
}

func TestApplyOrientationIdentityForOrientation1(t *testing.T) {
	img := solidImage(3, 3, color.White)
	out := applyOrientation(img, 1)
	assert.Equal(t, img.Bounds(), out.Bounds())
}

func TestDownscaleForOCRPassesThroughSmallImage(t *testing.T) {
	img := solidImage(100, 100, color.White)
	out, changed := downscaleForOCR(img)
	assert.False(t, changed)
	assert.Equal(t, img.Bounds(), out.Bounds())
}

func TestDownscaleForOCRShrinksOversizedImage(t *testing.T) {
	img := solidImage(maxOCRDimension+500, 200, color.White)
	out, changed := downscaleForOCR(img)
	require.True(t, changed)
	assert.LessOrEqual(t, out.Bounds().Dx(), maxOCRDimension)
}

func TestPreprocessImageGrayscalesAndReportsSteps(t *testing.T) {
	img := solidImage(10, 10, color.RGBA{10, 20, 30, 255})
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))

	result, err := PreprocessImage(buf.Bytes())
	require.NoError(t, err)
	assert.Contains(t, result.PreprocessingSteps, "greyscale")
	assert.NotNil(t, result.Image)
}
