package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/warp/rental-engine/api"
	"github.com/warp/rental-engine/cache"
	"github.com/warp/rental-engine/config"
	"github.com/warp/rental-engine/logger"
	"github.com/warp/rental-engine/rental"
	"github.com/warp/rental-engine/rental/store"
	"github.com/warp/rental-engine/store/sqlite"
)

// app holds the wired dependencies shared by every command.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	handler *api.Handler
	closers []func() error
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	a := &app{cfg: cfg, log: log}

	st, err := a.openStore()
	if err != nil {
		a.close()
		return nil, err
	}

	c, err := a.openCache(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	a.handler = api.NewHandler(st, c, cfg.Engine, log)
	return a, nil
}

func (a *app) openStore() (api.Store, error) {
	if a.cfg.Storage.SQLitePath == "" {
		a.log.Info("using in-memory store")
		return store.NewMemory(), nil
	}

	s, err := sqlite.New(a.cfg.Storage.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	a.closers = append(a.closers, s.Close)
	a.log.Info("using sqlite store", zap.String("path", a.cfg.Storage.SQLitePath))
	return s, nil
}

func (a *app) openCache(ctx context.Context) (rental.Cache, error) {
	if !a.cfg.UsesRedis() {
		a.log.Info("using in-process cache")
		return cache.NewMemory(), nil
	}

	c, err := cache.NewRedis(ctx, a.cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	a.closers = append(a.closers, c.Close)
	a.log.Info("using redis cache", zap.String("address", a.cfg.Redis.Address))
	return c, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close failed", zap.Error(err))
		}
	}
	_ = a.log.Sync()
}
