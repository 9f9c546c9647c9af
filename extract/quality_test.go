package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTextBearingSmallFileAlwaysTrusted(t *testing.T) {
	assert.True(t, IsTextBearing("hello world", 1024, 2))
}

func TestIsTextBearingRejectsZeroWords(t *testing.T) {
	assert.False(t, IsTextBearing("", 1024, 0))
}

func TestIsTextBearingLargeFileNeedsDensityOrRatio(t *testing.T) {
	// 1MB file, only 10 words -> density 0.01/KB, alphanumeric ratio high but
	// density fails; ratio of a short alphabetic string is ~1.0 so it passes
	// via the ratio branch.
	text := strings.Repeat("word ", 10)
	assert.True(t, IsTextBearing(text, 1024*1024, 10))
}

func TestIsTextBearingLargeFileFailsBothFloors(t *testing.T) {
	// Mostly punctuation/whitespace padding so the alphanumeric ratio is low,
	// word density is far below 5/KB for a 1MB file.
	text := "word " + strings.Repeat(".", 5000)
	assert.False(t, IsTextBearing(text, 1024*1024, 1))
}

func TestAlphanumericRatio(t *testing.T) {
	assert.Equal(t, 1.0, AlphanumericRatio("abc123"))
	assert.Equal(t, 0.0, AlphanumericRatio("!!!"))
	assert.Equal(t, 0.0, AlphanumericRatio(""))
}

func TestDigitRatio(t *testing.T) {
	assert.InDelta(t, 0.5, DigitRatio("ab12"), 0.001)
}

func TestOCRValidateConfidenceFloor(t *testing.T) {
	reason, warn := OCRValidate("some text", 0.01, 0.5)
	assert.Equal(t, RejectCriticallyLow, reason)
	assert.False(t, warn)
}

func TestOCRValidateNoCharacters(t *testing.T) {
	reason, _ := OCRValidate("", 0.9, 0.5)
	assert.Equal(t, RejectNoCharacters, reason)
}

func TestOCRValidateGarbageRejected(t *testing.T) {
	reason, _ := OCRValidate("... --- ...", 0.9, 0.5)
	assert.Equal(t, RejectGarbage, reason)
}

func TestOCRValidateDigitHeavyTextAccepted(t *testing.T) {
	text := "12/34 56.78 90 12 34 56 78 90"
	reason, _ := OCRValidate(text, 0.9, 0.5)
	assert.Equal(t, RejectNone, reason)
}

func TestOCRValidateWarnAcceptedBelowUserThreshold(t *testing.T) {
	reason, warn := OCRValidate("clean legible text here", 0.2, 0.8)
	assert.Equal(t, RejectNone, reason)
	assert.True(t, warn)
}

func TestOCRValidateAcceptsAboveThreshold(t *testing.T) {
	reason, warn := OCRValidate("clean legible text here", 0.95, 0.8)
	assert.Equal(t, RejectNone, reason)
	assert.False(t, warn)
}
