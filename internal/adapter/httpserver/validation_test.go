package httpserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/domain"
)

func TestValidateProductIDAccepts(t *testing.T) {
	require.NoError(t, ValidateProductID("sku-1234_ABC"))
}

func TestValidateProductIDRejectsEmpty(t *testing.T) {
	err := ValidateProductID("")
	require.ErrorIs(t, err, domain.ErrInputInvalid)
}

func TestValidateProductIDRejectsBadCharacters(t *testing.T) {
	err := ValidateProductID("sku/../etc")
	require.ErrorIs(t, err, domain.ErrInputInvalid)
}

func TestValidateProductIDRejectsTooLong(t *testing.T) {
	long := make([]byte, 201)
	for i := range long {
		long[i] = 'a'
	}
	err := ValidateProductID(string(long))
	require.ErrorIs(t, err, domain.ErrInputInvalid)
}

func TestValidateImageCountWithinRangeSucceeds(t *testing.T) {
	require.NoError(t, ValidateImageCount(5, 3, 20))
}

func TestValidateImageCountBelowMinFails(t *testing.T) {
	err := ValidateImageCount(1, 3, 20)
	require.ErrorIs(t, err, domain.ErrInputInvalid)
}

func TestValidateImageCountAboveMaxFails(t *testing.T) {
	err := ValidateImageCount(21, 3, 20)
	require.ErrorIs(t, err, domain.ErrInputInvalid)
}

func TestValidateQualityDefaultsToFull(t *testing.T) {
	q, err := ValidateQuality("")
	require.NoError(t, err)
	assert.Equal(t, "full", q)
}

func TestValidateQualityAcceptsLightAndMedium(t *testing.T) {
	q, err := ValidateQuality("light")
	require.NoError(t, err)
	assert.Equal(t, "light", q)

	q, err = ValidateQuality("medium")
	require.NoError(t, err)
	assert.Equal(t, "medium", q)
}

func TestValidateQualityRejectsUnknown(t *testing.T) {
	_, err := ValidateQuality("ultra")
	require.ErrorIs(t, err, domain.ErrInputInvalid)
}
