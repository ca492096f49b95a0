package core

import (
	"time"

	"listdb/pkg/core/structure"
	"listdb/pkg/criteria"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	DefaultCacheSize   = structure.DefaultCacheCapacity
	DefaultCacheFactor = structure.DefaultCacheFactor
	DefaultPageSize    = 100
	minCacheSize       = 100
)

type settings struct {
	cacheSize    int
	cacheFactor  float64
	pageSize     int
	global       *criteria.Criteria
	refreshDelay time.Duration
	verify       bool
	log          *logrus.Entry
}

func defaultSettings() settings {
	return settings{
		cacheSize:   DefaultCacheSize,
		cacheFactor: DefaultCacheFactor,
		pageSize:    DefaultPageSize,
	}
}

// Option configures a ListPersistor at construction.
type Option func(*settings) error

func validCacheSize(n int) error {
	if n <= minCacheSize {
		return errors.Wrapf(ErrInvalidOption, "cache size must exceed %d, got %d", minCacheSize, n)
	}
	return nil
}

func validCacheFactor(f float64) error {
	if f <= 0 || f > 1 {
		return errors.Wrapf(ErrInvalidOption, "cache factor must be in (0, 1], got %g", f)
	}
	return nil
}

func validPageSize(n int) error {
	if n <= 0 {
		return errors.Wrapf(ErrInvalidOption, "page size must be positive, got %d", n)
	}
	return nil
}

func WithCacheSize(n int) Option {
	return func(s *settings) error {
		if err := validCacheSize(n); err != nil {
			return err
		}
		s.cacheSize = n
		return nil
	}
}

func WithCacheFactor(f float64) Option {
	return func(s *settings) error {
		if err := validCacheFactor(f); err != nil {
			return err
		}
		s.cacheFactor = f
		return nil
	}
}

func WithPageSize(n int) Option {
	return func(s *settings) error {
		if err := validPageSize(n); err != nil {
			return err
		}
		s.pageSize = n
		return nil
	}
}

// WithGlobalCriteria scopes every query the list issues.
func WithGlobalCriteria(c *criteria.Criteria) Option {
	return func(s *settings) error {
		s.global = c
		return nil
	}
}

// WithRefreshDelay enables periodic invalidation of size, first and last.
// A non-positive delay disables it.
func WithRefreshDelay(d time.Duration) Option {
	return func(s *settings) error {
		s.refreshDelay = d
		return nil
	}
}

// WithVerifiedAnchors spends one extra count on every exact key hit to confirm
// the row really sits at the requested index.
func WithVerifiedAnchors(on bool) Option {
	return func(s *settings) error {
		s.verify = on
		return nil
	}
}

func WithLogger(log *logrus.Entry) Option {
	return func(s *settings) error {
		s.log = log
		return nil
	}
}
