package model

import (
	"math"
	"time"
	"unicode/utf16"

	"listdb/pkg/common"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// InterpolateKey interpolates every component of two keys with the rule of its kind.
func InterpolateKey(lower, upper common.OrderKey, factor float64) (common.OrderKey, error) {
	if len(lower) != len(upper) {
		return nil, errors.Wrapf(common.ErrArityMismatch, "lower has %d segments, upper %d", len(lower), len(upper))
	}
	out := make(common.OrderKey, len(lower))
	for i := range lower {
		v, err := Interpolate(lower[i].Value, upper[i].Value, factor)
		if err != nil {
			return nil, errors.Wrapf(err, "segment %d", i)
		}
		out[i] = common.KeySegment{Value: v, Ascending: lower[i].Ascending}
	}
	return out, nil
}

// Interpolate returns the value found at factor (0..1) of the way from lower to
// upper. A null bound yields the other bound.
//
// Dates and times are interpolated per component and the day clamped to the
// month, which is not chronological and may step backwards across month or
// year boundaries.
func Interpolate(lower, upper common.Value, factor float64) (common.Value, error) {
	if lower.IsNull() {
		return upper, nil
	}
	if upper.IsNull() {
		return lower, nil
	}
	if lower.Kind() != upper.Kind() {
		return common.Value{}, errors.Wrapf(common.ErrKindMismatch, "cannot interpolate %s and %s", lower.Kind(), upper.Kind())
	}
	factor = math.Max(0, math.Min(1, factor))

	switch lower.Kind() {
	case common.KindInteger:
		return common.NewInteger(int32(lerpInt(int64(lower.Int()), int64(upper.Int()), factor))), nil
	case common.KindLong:
		return common.NewLong(lerpInt(lower.Long(), upper.Long(), factor)), nil
	case common.KindDouble:
		return common.NewDouble(lower.Float() + (upper.Float()-lower.Float())*factor), nil
	case common.KindDecimal:
		l, u := lower.Decimal(), upper.Decimal()
		return common.NewDecimal(l.Add(u.Sub(l).Mul(decimal.NewFromFloat(factor)))), nil
	case common.KindBoolean:
		l, u := sign(lower.Bool()), sign(upper.Bool())
		return common.NewBoolean(l+(u-l)*factor > 0), nil
	case common.KindString:
		return common.NewString(lerpString(lower.Str(), upper.Str(), factor)), nil
	case common.KindByteArray:
		return common.NewByteArray(lerpBytes(lower.Bytes(), upper.Bytes(), factor)), nil
	case common.KindDate:
		return common.NewDate(lerpDate(lower.Time(), upper.Time(), factor)), nil
	case common.KindTime:
		return common.NewTime(lerpClock(lower.Time(), upper.Time(), factor)), nil
	case common.KindDateTime:
		d := lerpDate(lower.Time(), upper.Time(), factor)
		c := lerpClock(lower.Time(), upper.Time(), factor)
		return common.NewDateTime(time.Date(d.Year(), d.Month(), d.Day(), c.Hour(), c.Minute(), c.Second(), 0, time.UTC)), nil
	}
	return common.Value{}, errors.Wrapf(common.ErrKindMismatch, "cannot interpolate %s", lower.Kind())
}

// lerpInt works in decimal so the span of two int64 values cannot overflow.
func lerpInt(lower, upper int64, factor float64) int64 {
	l, u := decimal.NewFromInt(lower), decimal.NewFromInt(upper)
	return l.Add(u.Sub(l).Mul(decimal.NewFromFloat(factor))).Round(0).IntPart()
}

func lerpRound(lower, upper int, factor float64) int {
	return int(math.Round(float64(lower) + float64(upper-lower)*factor))
}

func sign(b bool) float64 {
	if b {
		return 1
	}
	return -1
}

// lerpString works on UTF-16 code units, padding the shorter side with zeros.
func lerpString(lower, upper string, factor float64) string {
	l, u := utf16.Encode([]rune(lower)), utf16.Encode([]rune(upper))
	n := max(len(l), len(u))
	out := make([]uint16, n)
	for i := 0; i < n; i++ {
		var a, b int
		if i < len(l) {
			a = int(l[i])
		}
		if i < len(u) {
			b = int(u[i])
		}
		out[i] = uint16(lerpRound(a, b, factor))
	}
	// padding may leave trailing zero units
	for len(out) > 0 && out[len(out)-1] == 0 {
		out = out[:len(out)-1]
	}
	return string(utf16.Decode(out))
}

func lerpBytes(lower, upper []byte, factor float64) []byte {
	n := max(len(lower), len(upper))
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		var a, b int
		if i < len(lower) {
			a = int(lower[i])
		}
		if i < len(upper) {
			b = int(upper[i])
		}
		out[i] = byte(lerpRound(a, b, factor))
	}
	return out
}

func lerpDate(lower, upper time.Time, factor float64) time.Time {
	y := lerpRound(lower.Year(), upper.Year(), factor)
	m := time.Month(lerpRound(int(lower.Month()), int(upper.Month()), factor))
	d := lerpRound(lower.Day(), upper.Day(), factor)
	d = min(max(d, 1), daysIn(y, m))
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func lerpClock(lower, upper time.Time, factor float64) time.Time {
	h := lerpRound(lower.Hour(), upper.Hour(), factor)
	m := lerpRound(lower.Minute(), upper.Minute(), factor)
	s := lerpRound(lower.Second(), upper.Second(), factor)
	return time.Date(1, time.January, 1, h, m, s, 0, time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
