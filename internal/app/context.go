package app

import (
	"database/sql"
	"fmt"

	"conclave/internal/config"
	"conclave/internal/db"
	"conclave/internal/engine"
	"conclave/internal/migrate"
)

// Context is an opened workspace: database, config, and a ready engine.
type Context struct {
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
}

// Open prepares the workspace end to end: directory, database,
// migrations, config, engine. Callers own Close.
func Open(workspace string) (*Context, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("load config: %w", err)
	}
	e, err := engine.New(conn, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &Context{DB: conn, Config: cfg, Engine: e}, nil
}

// Close releases the workspace handle.
func (c *Context) Close() error {
	if c == nil || c.DB == nil {
		return nil
	}
	return c.DB.Close()
}
