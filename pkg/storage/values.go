package storage

import (
	"strconv"
	"time"

	"listdb/pkg/common"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// toArg maps a value to a driver argument. Temporal kinds travel as text in
// their canonical layouts, which both drivers accept and which sorts correctly.
func toArg(v common.Value) any {
	if v.IsNull() {
		return nil
	}
	switch v.Kind() {
	case common.KindBoolean:
		return v.Bool()
	case common.KindDecimal:
		return v.Decimal().String()
	case common.KindDouble:
		return v.Float()
	case common.KindInteger, common.KindLong:
		return v.Long()
	case common.KindByteArray:
		return v.Bytes()
	}
	return v.String()
}

// fromDriver converts a scanned column into a value of kind.
func fromDriver(kind common.Kind, raw any) (common.Value, error) {
	switch x := raw.(type) {
	case nil:
		return common.Null(kind), nil
	case []byte:
		if kind == common.KindByteArray {
			return common.NewByteArray(x), nil
		}
		return common.ParseValue(kind, string(x))
	case string:
		if kind == common.KindByteArray {
			return common.NewByteArray([]byte(x)), nil
		}
		return common.ParseValue(kind, x)
	case time.Time:
		switch kind {
		case common.KindDate:
			return common.NewDate(x), nil
		case common.KindTime:
			return common.NewTime(x), nil
		case common.KindDateTime:
			return common.NewDateTime(x), nil
		}
	case bool:
		if kind == common.KindBoolean {
			return common.NewBoolean(x), nil
		}
	case int64:
		switch kind {
		case common.KindBoolean:
			return common.NewBoolean(x != 0), nil
		case common.KindInteger:
			return common.NewInteger(int32(x)), nil
		case common.KindLong:
			return common.NewLong(x), nil
		case common.KindDouble:
			return common.NewDouble(float64(x)), nil
		case common.KindDecimal:
			return common.NewDecimal(decimal.NewFromInt(x)), nil
		case common.KindString:
			return common.NewString(strconv.FormatInt(x, 10)), nil
		}
	case float64:
		switch kind {
		case common.KindDouble:
			return common.NewDouble(x), nil
		case common.KindDecimal:
			return common.NewDecimal(decimal.NewFromFloat(x)), nil
		case common.KindLong:
			return common.NewLong(int64(x)), nil
		case common.KindInteger:
			return common.NewInteger(int32(x)), nil
		}
	}
	return common.Value{}, errors.Wrapf(common.ErrKindMismatch, "cannot read %T as %s", raw, kind)
}
