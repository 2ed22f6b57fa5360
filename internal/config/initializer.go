package config

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/mosaicgis/cartographer/internal/catalog"
)

// InitializeStore opens the catalog connection and wires the entity store
// from config.
func InitializeStore(ctx context.Context, c *Cartographer, logger *zap.Logger) (*catalog.Store, error) {
	db, err := sql.Open("pgx", c.Catalog.ConnectionString)
	if err != nil {
		return nil, err
	}

	opts := []catalog.StoreOption{
		catalog.WithLogger(logger),
		catalog.WithLayerLevels(c.LayerLevels()),
	}
	if c.Catalog.Table != "" {
		opts = append(opts, catalog.WithTable(c.Catalog.Table))
	}
	store := catalog.NewStore(db, opts...)

	if err := store.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}
