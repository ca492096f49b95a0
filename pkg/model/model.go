package model

import (
	"listdb/pkg/common"
)

// Model estimates the OrderKey found at a position of an ordered result set.
type Model interface {
	// Train fits the model to the keys of the first and last rows.
	Train(lower, upper common.OrderKey) error
	// Predict returns an approximate key for index in a set of size rows.
	Predict(index, size int64) (common.OrderKey, error)
}
