package model

import (
	"testing"
	"time"

	"listdb/pkg/common"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterpolateNumeric(t *testing.T) {
	v, err := Interpolate(common.NewLong(1), common.NewLong(1000), 500.0/999.0)
	require.NoError(t, err)
	assert.Contains(t, []int64{500, 501}, v.Long())

	v, err = Interpolate(common.NewInteger(10), common.NewInteger(0), 0.25)
	require.NoError(t, err)
	assert.Equal(t, int32(8), v.Int(), "descending bounds, rounded to nearest")

	v, err = Interpolate(common.NewDouble(0), common.NewDouble(2), 0.25)
	require.NoError(t, err)
	assert.Equal(t, 0.5, v.Float())

	v, err = Interpolate(common.NewDecimal(decimal.RequireFromString("1.00")), common.NewDecimal(decimal.RequireFromString("2.00")), 0.5)
	require.NoError(t, err)
	assert.True(t, v.Decimal().Equal(decimal.RequireFromString("1.5")))

	v, err = Interpolate(common.NewLong(-1<<62), common.NewLong(1<<62), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1<<62), v.Long(), "no overflow on wide spans")
}

func TestInterpolateBoolean(t *testing.T) {
	v, err := Interpolate(common.NewBoolean(false), common.NewBoolean(true), 0.4)
	require.NoError(t, err)
	assert.False(t, v.Bool())

	v, err = Interpolate(common.NewBoolean(false), common.NewBoolean(true), 0.6)
	require.NoError(t, err)
	assert.True(t, v.Bool())
}

func TestInterpolateString(t *testing.T) {
	v, err := Interpolate(common.NewString("a"), common.NewString("c"), 0.5)
	require.NoError(t, err)
	assert.Equal(t, "b", v.Str())

	v, err = Interpolate(common.NewString("ab"), common.NewString("a"), 1)
	require.NoError(t, err)
	assert.Equal(t, "a", v.Str(), "zero padding is trimmed")

	v, err = Interpolate(common.NewString("aa"), common.NewString("zz"), 0)
	require.NoError(t, err)
	assert.Equal(t, "aa", v.Str())
}

func TestInterpolateBytes(t *testing.T) {
	v, err := Interpolate(common.NewByteArray([]byte{0, 10}), common.NewByteArray([]byte{10}), 0.5)
	require.NoError(t, err)
	assert.Equal(t, []byte{5, 5}, v.Bytes())
}

func TestInterpolateTemporal(t *testing.T) {
	v, err := Interpolate(common.NewDateOf(2024, time.January, 31), common.NewDateOf(2024, time.March, 31), 0.5)
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29", v.String(), "day clamped to the month")

	v, err = Interpolate(common.NewTimeOf(10, 0, 0), common.NewTimeOf(12, 30, 20), 0.5)
	require.NoError(t, err)
	assert.Equal(t, "11:15:10", v.String())

	lo := common.NewDateTime(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	hi := common.NewDateTime(time.Date(2022, 1, 1, 20, 0, 0, 0, time.UTC))
	v, err = Interpolate(lo, hi, 0.5)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2021, 1, 1, 10, 0, 0, 0, time.UTC), v.Time())
}

func TestInterpolateNulls(t *testing.T) {
	v, err := Interpolate(common.Null(common.KindLong), common.NewLong(4), 0.5)
	require.NoError(t, err)
	assert.Equal(t, int64(4), v.Long())

	v, err = Interpolate(common.Null(common.KindLong), common.Null(common.KindLong), 0.5)
	require.NoError(t, err)
	assert.True(t, v.IsNull())

	_, err = Interpolate(common.NewLong(1), common.NewString("x"), 0.5)
	assert.True(t, errors.Is(err, common.ErrKindMismatch))
}

func TestLinearKeyModel(t *testing.T) {
	m := NewLinearKeyModel()
	_, err := m.Predict(1, 10)
	assert.True(t, errors.Is(err, ErrUntrained))

	lower := common.OrderKey{{Value: common.NewLong(1), Ascending: true}, {Value: common.NewString("a"), Ascending: false}}
	upper := common.OrderKey{{Value: common.NewLong(1000), Ascending: true}, {Value: common.NewString("a"), Ascending: false}}
	require.NoError(t, m.Train(lower, upper))

	k, err := m.Predict(0, 1000)
	require.NoError(t, err)
	assert.Equal(t, lower, k)
	k, err = m.Predict(999, 1000)
	require.NoError(t, err)
	assert.Equal(t, upper, k)

	k, err = m.Predict(500, 1000)
	require.NoError(t, err)
	assert.Contains(t, []int64{500, 501}, k[0].Value.Long())
	assert.False(t, k[1].Ascending)

	assert.True(t, errors.Is(m.Train(lower, upper[:1]), common.ErrArityMismatch))
}
