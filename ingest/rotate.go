package ingest

import "github.com/readur/readur/extract"

// defaultRotator delegates to the extraction pipeline's EXIF-orientation
// rotator, the same pass used ahead of OCR preprocessing.
func defaultRotator(data []byte) ([]byte, error) {
	return extract.AutoRotateImage(data)
}
