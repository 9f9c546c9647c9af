package extract

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePDFHeaderAcceptsStandardSignature(t *testing.T) {
	assert.NoError(t, validatePDFHeader([]byte("%PDF-1.7\n...")))
}

func TestValidatePDFHeaderToleratesLeadingNulls(t *testing.T) {
	data := append([]byte{0, 0, 0}, []byte("%PDF-1.4")...)
	assert.NoError(t, validatePDFHeader(data))
}

func TestValidatePDFHeaderRejectsMissingSignature(t *testing.T) {
	err := validatePDFHeader([]byte("not a pdf at all"))
	assert.ErrorIs(t, err, ErrInvalidPDFHeader)
}

func TestExtractPDFTextRejectsOversizedFile(t *testing.T) {
	pool := NewCPUPool(1)
	defer pool.Stop()
	data := bytes.Repeat([]byte("a"), maxPDFBytes+1)
	_, err := ExtractPDFText(context.Background(), pool, data)
	assert.Error(t, err)
}

func TestExtractPDFTextRejectsInvalidHeader(t *testing.T) {
	pool := NewCPUPool(1)
	defer pool.Stop()
	_, err := ExtractPDFText(context.Background(), pool, []byte("garbage"))
	assert.ErrorIs(t, err, ErrInvalidPDFHeader)
}

func TestCPUPoolRunRecoversFromPanic(t *testing.T) {
	pool := NewCPUPool(1)
	defer pool.Stop()

	_, err := pool.Run(context.Background(), time.Second, func(ctx context.Context) (any, error) {
		panic("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
}

func TestCPUPoolRunRespectsTimeout(t *testing.T) {
	pool := NewCPUPool(1)
	defer pool.Stop()

	_, err := pool.Run(context.Background(), 10*time.Millisecond, func(ctx context.Context) (any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return "too slow", nil
		}
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
