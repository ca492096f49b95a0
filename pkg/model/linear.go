package model

import (
	"listdb/pkg/common"

	"github.com/pkg/errors"
)

var ErrUntrained = errors.New("model is not trained")

// LinearKeyModel 假设 key 在首尾之间均匀分布，按位置线性插值
type LinearKeyModel struct {
	lower common.OrderKey
	upper common.OrderKey
}

func NewLinearKeyModel() *LinearKeyModel {
	return &LinearKeyModel{}
}

func (m *LinearKeyModel) Train(lower, upper common.OrderKey) error {
	if len(lower) != len(upper) {
		return errors.Wrapf(common.ErrArityMismatch, "lower has %d segments, upper %d", len(lower), len(upper))
	}
	m.lower, m.upper = lower, upper
	return nil
}

func (m *LinearKeyModel) Predict(index, size int64) (common.OrderKey, error) {
	if m.lower == nil {
		return nil, ErrUntrained
	}
	if size <= 1 || index <= 0 {
		return m.lower, nil
	}
	if index >= size-1 {
		return m.upper, nil
	}
	return InterpolateKey(m.lower, m.upper, float64(index)/float64(size-1))
}
