package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"cloud.google.com/go/datastore"

	"github.com/panyam/bookauth"
	"github.com/panyam/bookauth/internal/config"
	fsstore "github.com/panyam/bookauth/stores/fs"
	gaestore "github.com/panyam/bookauth/stores/gae"
	gormstore "github.com/panyam/bookauth/stores/gorm"
	"github.com/panyam/bookauth/stores/memory"
)

type commandContext struct {
	configFlag    *string
	logFormatFlag *string
	logLevelFlag  *string

	// where log output goes, stderr unless a test swaps it
	logOutput io.Writer

	configOnce sync.Once
	config     *config.Config
	configErr  error
	logger     *slog.Logger
}

func newCommandContext(configFlag, logFormatFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:    configFlag,
		logFormatFlag: logFormatFlag,
		logLevelFlag:  logLevelFlag,
		logOutput:     os.Stderr,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, err := config.Load(path)
		if err != nil {
			c.configErr = fmt.Errorf("load config: %w", err)
			return
		}
		if c.logFormatFlag != nil && *c.logFormatFlag != "" {
			cfg.Logging.Format = *c.logFormatFlag
		}
		if c.logLevelFlag != nil && *c.logLevelFlag != "" {
			cfg.Logging.Level = *c.logLevelFlag
		}
		logger, err := newLogger(cfg.Logging, c.logOutput)
		if err != nil {
			c.configErr = err
			return
		}
		slog.SetDefault(logger)
		c.config = cfg
		c.logger = logger
	})
	return c.config, c.configErr
}

func newLogger(cfg config.Logging, out io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(out, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(out, opts)), nil
	}
	return nil, fmt.Errorf("unknown log format %q", cfg.Format)
}

// openStore builds the credential store selected by database.driver. The
// returned close function releases the connection.
func (c *commandContext) openStore(ctx context.Context) (bookauth.UserStore, func() error, error) {
	cfg := c.config
	nop := func() error { return nil }

	switch cfg.Database.Driver {
	case "memory":
		c.logger.Warn("using the in-memory store, accounts are lost on restart")
		return memory.NewUserStore(), nop, nil
	case "fs":
		return fsstore.NewFSUserStore(cfg.Database.Path), nop, nil
	case "postgres":
		db, err := gormstore.Open(cfg.Database.URL)
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, fmt.Errorf("database handle: %w", err)
		}
		return gormstore.NewUserStore(db), sqlDB.Close, nil
	case "datastore":
		client, err := datastore.NewClient(ctx, cfg.Database.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("datastore client: %w", err)
		}
		return gaestore.NewUserStore(client, cfg.Database.Namespace), client.Close, nil
	}
	return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
}
