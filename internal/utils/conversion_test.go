package utils

import (
	"math"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntToFloat64(t *testing.T) {
	v, err := IntToFloat64(sdkmath.NewInt(1_500_000), 6)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, v, 1e-9)

	v, err = IntToFloat64(sdkmath.NewInt(42), 0)
	require.NoError(t, err)
	assert.InDelta(t, 42.0, v, 1e-9)

	_, err = IntToFloat64(sdkmath.NewInt(1), 19)
	assert.ErrorIs(t, err, ErrInvalidPrecision)

	_, err = IntToFloat64(sdkmath.Int{}, 6)
	assert.ErrorIs(t, err, ErrAmountNil)

	_, err = IntToFloat64(sdkmath.NewInt(-1), 6)
	assert.ErrorIs(t, err, ErrAmountNegative)
}

func TestFloat64ToInt(t *testing.T) {
	v, err := Float64ToInt(1.5, 6)
	require.NoError(t, err)
	assert.Equal(t, "1500000", v.String())

	// String conversion avoids float artifacts like 0.1+0.2.
	v, err = Float64ToInt(0.1+0.2, 6)
	require.NoError(t, err)
	assert.Equal(t, "300000", v.String())

	v, err = Float64ToInt(0, 6)
	require.NoError(t, err)
	assert.True(t, v.IsZero())

	_, err = Float64ToInt(math.NaN(), 6)
	assert.ErrorIs(t, err, ErrNotFinite)

	_, err = Float64ToInt(math.Inf(1), 6)
	assert.ErrorIs(t, err, ErrNotFinite)

	_, err = Float64ToInt(-1.0, 6)
	assert.ErrorIs(t, err, ErrAmountNegative)
}

func TestBpsOf(t *testing.T) {
	v, err := BpsOf(sdkmath.NewInt(600), 1000)
	require.NoError(t, err)
	assert.Equal(t, "60", v.String())

	// Truncation means the stricter bound wins.
	v, err = BpsOf(sdkmath.NewInt(999), 1)
	require.NoError(t, err)
	assert.True(t, v.IsZero())

	v, err = BpsOf(sdkmath.NewInt(1234), MaxBps)
	require.NoError(t, err)
	assert.Equal(t, "1234", v.String())

	_, err = BpsOf(sdkmath.NewInt(1), 10_001)
	assert.ErrorIs(t, err, ErrInvalidBps)

	_, err = BpsOf(sdkmath.Int{}, 100)
	assert.ErrorIs(t, err, ErrAmountNil)
}
