package main

import (
	"context"
	"os"
	"path/filepath"

	"listdb/pkg/common"
	"listdb/pkg/config"
	"listdb/pkg/core"
	"listdb/pkg/core/memory"
	"listdb/pkg/logger"
	"listdb/pkg/sql"
	"listdb/pkg/storage"

	"github.com/pkg/errors"
)

// openList builds the backend persistor described by cfg and wraps it in a
// ListPersistor. The returned func closes the backend.
func openList(ctx context.Context, cfg *config.Config) (*core.ListPersistor, func() error, error) {
	fields, err := cfg.Schema.FieldList()
	if err != nil {
		return nil, nil, err
	}
	order, err := cfg.Schema.OrderOf(fields)
	if err != nil {
		return nil, nil, err
	}
	src, closeBackend, err := openBackend(ctx, cfg.Storage, fields)
	if err != nil {
		return nil, nil, err
	}

	opts, err := listOptions(cfg.Cache, fields)
	if err != nil {
		_ = closeBackend()
		return nil, nil, err
	}
	list, err := core.NewListPersistor(src, order, opts...)
	if err != nil {
		_ = closeBackend()
		return nil, nil, err
	}
	return list, closeBackend, nil
}

func openBackend(ctx context.Context, sc config.StorageConfig, fields common.FieldList) (storage.Persistor, func() error, error) {
	switch sc.Driver {
	case "memory":
		if sc.Dir != "" {
			mt, err := memory.OpenDurable(sc.Dir, sc.Table, fields, 32)
			if err != nil {
				return nil, nil, err
			}
			return mt, mt.Close, nil
		}
		mt, err := memory.NewMemTable(sc.Table, fields, 32)
		if err != nil {
			return nil, nil, err
		}
		return mt, mt.Close, nil
	case storage.DriverSQLite, storage.DriverMySQL:
	default:
		return nil, nil, errors.Errorf("unknown storage driver %q", sc.Driver)
	}

	dsn := sc.DSN
	if sc.Driver == storage.DriverSQLite && dsn == "" {
		if err := os.MkdirAll(filepath.Dir(sc.Path), 0o755); err != nil {
			return nil, nil, errors.Wrap(err, "create data dir")
		}
		dsn = sc.Path
	}
	p, err := storage.OpenSQL(storage.SQLOptions{
		Driver: sc.Driver,
		DSN:    dsn,
		Table:  sc.Table,
		Fields: fields,
		Log:    logger.Component("storage"),
	})
	if err != nil {
		return nil, nil, err
	}
	if sc.Create {
		if err := p.CreateTable(ctx); err != nil {
			_ = p.Close()
			return nil, nil, err
		}
	}
	return p, p.Close, nil
}

func listOptions(cc config.CacheConfig, fields common.FieldList) ([]core.Option, error) {
	delay, err := cc.RefreshInterval()
	if err != nil {
		return nil, err
	}
	opts := []core.Option{
		core.WithCacheSize(cc.Size),
		core.WithCacheFactor(cc.Factor),
		core.WithPageSize(cc.PageSize),
		core.WithRefreshDelay(delay),
		core.WithVerifiedAnchors(cc.VerifyAnchors),
	}
	if cc.Scope != "" {
		stmt, err := sql.Parse(cc.Scope, fields)
		if err != nil {
			return nil, errors.Wrap(err, "cache.scope")
		}
		opts = append(opts, core.WithGlobalCriteria(stmt.Criteria))
	}
	return opts, nil
}
