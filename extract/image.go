package extract

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"

	"github.com/nfnt/resize"
	"github.com/rwcarlsen/goexif/exif"
)

// exifOrientation reads the EXIF orientation tag (1-8), grounded on the same
// goexif call the teacher's media package uses. Returns 1 (identity) if no
// EXIF block or orientation tag is present.
func exifOrientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 1
	}
	return v
}

// applyOrientation maps the 8 EXIF orientation values onto the corresponding
// rotate/flip transform:
//
//	1: identity              5: flip-vertical + rotate 270
//	2: flip-horizontal       6: rotate 270
//	3: rotate 180            7: flip-vertical + rotate 90
//	4: flip-vertical         8: rotate 90
func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return flipHorizontal(img)
	case 3:
		return rotate180(img)
	case 4:
		return flipVertical(img)
	case 5:
		return rotate270(flipVertical(img))
	case 6:
		return rotate270(img)
	case 7:
		return rotate90(flipVertical(img))
	case 8:
		return rotate90(img)
	default:
		return img
	}
}

func flipHorizontal(src image.Image) image.Image {
	b := src.Bounds()
	dst := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Set(b.Max.X-1-(x-b.Min.X), y, src.At(x, y))
		}
	}
	return dst
}

func flipVertical(src image.Image) image.Image {
	b := src.Bounds()
	dst := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Set(x, b.Max.Y-1-(y-b.Min.Y), src.At(x, y))
		}
	}
	return dst
}

func rotate180(src image.Image) image.Image {
	return flipHorizontal(flipVertical(src))
}

// rotate90 rotates 90 degrees clockwise.
func rotate90(src image.Image) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, h, w))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Set(h-1-y, x, src.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

func rotate270(src image.Image) image.Image {
	return rotate180(rotate90(src))
}

// toGrayscale converts src to 8-bit grayscale, the first step of the image
// preprocessing chain ahead of OCR.
func toGrayscale(src image.Image) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(b)
	draw.Draw(dst, b, src, b.Min, draw.Src)
	return dst
}

// megapixels reports the image's pixel count in millions, used to decide
// whether quality-analysis sampling is needed to avoid overflow on very
// large images.
func megapixels(img image.Image) float64 {
	b := img.Bounds()
	return float64(b.Dx()) * float64(b.Dy()) / 1_000_000
}

const largeImageMegapixels = 4.0

// sampleForQualityAnalysis returns a bounding rectangle to sample from when
// an image exceeds largeImageMegapixels, instead of scanning every pixel.
func sampleForQualityAnalysis(img image.Image) image.Rectangle {
	b := img.Bounds()
	if megapixels(img) <= largeImageMegapixels {
		return b
	}
	cx, cy := b.Min.X+b.Dx()/2, b.Min.Y+b.Dy()/2
	half := 1000
	r := image.Rect(cx-half, cy-half, cx+half, cy+half)
	return r.Intersect(b)
}

// maxOCRDimension bounds the longest edge fed to the OCR engine. Tesseract's
// accuracy does not improve past this resolution and very large scans (raw
// scanner output routinely exceeds 10000px) cost much more CPU than they are
// worth.
const maxOCRDimension = 4000

// downscaleForOCR shrinks an image whose longer edge exceeds maxOCRDimension
// using Lanczos3 resampling, the same algorithm the teacher's media package
// uses for its rescale operations. Images already within bounds pass through
// unchanged.
func downscaleForOCR(img image.Image) (image.Image, bool) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxOCRDimension && h <= maxOCRDimension {
		return img, false
	}
	if w >= h {
		return resize.Resize(uint(maxOCRDimension), 0, img, resize.Lanczos3), true
	}
	return resize.Resize(0, uint(maxOCRDimension), img, resize.Lanczos3), true
}

// ImagePreprocessResult carries the grayscale, oriented image plus the
// preprocessing steps applied, ready for the OCR worker.
type ImagePreprocessResult struct {
	Image              *image.Gray
	EXIFOrientation    int
	Megapixels         float64
	PreprocessingSteps []string
}

// PreprocessImage runs orientation correction, then downscales oversized
// images, then converts to grayscale. These are the only stages applied:
// no brightness/contrast, denoise, adaptive threshold, histogram
// equalization, sharpen or morphological open/close step runs here or in
// RunTesseract.
func PreprocessImage(data []byte) (*ImagePreprocessResult, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	orientation := exifOrientation(data)
	steps := []string{}
	if orientation != 1 {
		img = applyOrientation(img, orientation)
		steps = append(steps, "orientation_correct")
	}

	mp := megapixels(img)

	if downscaled, did := downscaleForOCR(img); did {
		img = downscaled
		steps = append(steps, "downscale")
	}

	gray := toGrayscale(img)
	steps = append(steps, "greyscale")

	return &ImagePreprocessResult{
		Image:              gray,
		EXIFOrientation:    orientation,
		Megapixels:         mp,
		PreprocessingSteps: steps,
	}, nil
}

// AutoRotateImage applies the EXIF orientation tag (if any) and re-encodes
// the result in the same format it was decoded from. Images with no
// orientation tag (orientation 1, or no EXIF block at all) are returned
// unchanged, byte-for-byte.
func AutoRotateImage(data []byte) ([]byte, error) {
	orientation := exifOrientation(data)
	if orientation == 1 {
		return data, nil
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("auto-rotate: decode: %w", err)
	}
	rotated := applyOrientation(img, orientation)

	var buf bytes.Buffer
	switch format {
	case "jpeg":
		if err := jpeg.Encode(&buf, rotated, &jpeg.Options{Quality: 90}); err != nil {
			return nil, fmt.Errorf("auto-rotate: encode jpeg: %w", err)
		}
	case "png":
		if err := png.Encode(&buf, rotated); err != nil {
			return nil, fmt.Errorf("auto-rotate: encode png: %w", err)
		}
	default:
		return nil, fmt.Errorf("auto-rotate: unsupported format %q", format)
	}
	return buf.Bytes(), nil
}
