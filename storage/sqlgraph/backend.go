// Package sqlgraph stores graph snapshots in a SQL table through gorm.
//
// One row per graph name holds the encoded snapshot and a revision counter.
// Saves are conditional updates on that counter, which gives the same CAS
// contract as the KV backend on sqlite, postgres and mysql.
package sqlgraph

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/c360/sensorgraph/errors"
	"github.com/c360/sensorgraph/graph"
)

// Supported drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// DefaultName is the snapshot row used when none is configured
const DefaultName = "graph"

// GraphSnapshot is the persisted row
type GraphSnapshot struct {
	Name      string `gorm:"column:name;primaryKey;size:128"`
	Revision  uint64 `gorm:"column:revision;not null"`
	Data      []byte `gorm:"column:data"`
	UpdatedAt time.Time
}

// TableName implements gorm's tabler
func (GraphSnapshot) TableName() string { return "graph_snapshots" }

// Config selects the database
type Config struct {
	Driver          string
	DSN             string
	Username        string
	Password        string
	Name            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LogLevel        logger.LogLevel
}

// Backend implements graph.Backend over a gorm connection.
type Backend struct {
	db     *gorm.DB
	name   string
	driver string
}

func dialector(cfg Config) (gorm.Dialector, error) {
	dsn, err := withCredentials(cfg.Driver, cfg.DSN, cfg.Username, cfg.Password)
	if err != nil {
		return nil, err
	}
	switch cfg.Driver {
	case DriverMySQL:
		return mysql.Open(dsn), nil
	case DriverPostgres:
		return postgres.Open(dsn), nil
	case DriverSQLite:
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// Open connects, applies the pool settings and migrates the snapshot table.
func Open(ctx context.Context, cfg Config) (*Backend, error) {
	d, err := dialector(cfg)
	if err != nil {
		return nil, errors.WrapInvalid(err, "sqlgraph", "Open", "select driver")
	}
	level := cfg.LogLevel
	if level == 0 {
		level = logger.Warn
	}

	db, err := gorm.Open(d, &gorm.Config{Logger: logger.Default.LogMode(level)})
	if err != nil {
		return nil, errors.WrapTransient(err, "sqlgraph", "Open", "connect")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.WrapFatal(err, "sqlgraph", "Open", "get sql.DB")
	}
	if cfg.Driver == DriverSQLite {
		// in-memory databases exist per connection
		sqlDB.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, errors.WrapTransient(err, "sqlgraph", "Open", "ping")
	}

	if err := db.WithContext(ctx).AutoMigrate(&GraphSnapshot{}); err != nil {
		_ = sqlDB.Close()
		return nil, errors.WrapFatal(err, "sqlgraph", "Open", "migrate")
	}

	name := cfg.Name
	if name == "" {
		name = DefaultName
	}
	return &Backend{db: db, name: name, driver: cfg.Driver}, nil
}

// Name implements graph.Backend.
func (b *Backend) Name() string { return "sql-" + b.driver }

// Load implements graph.Backend.
func (b *Backend) Load(ctx context.Context) ([]byte, uint64, error) {
	var row GraphSnapshot
	err := b.db.WithContext(ctx).Where("name = ?", b.name).Take(&row).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, errors.WrapTransient(err, "sqlgraph", "Load", "select snapshot")
	}
	return row.Data, row.Revision, nil
}

// Save implements graph.Backend.
func (b *Backend) Save(ctx context.Context, data []byte, expected uint64) (uint64, error) {
	db := b.db.WithContext(ctx)
	next := expected + 1

	if expected == 0 {
		res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&GraphSnapshot{
			Name:     b.name,
			Revision: next,
			Data:     data,
		})
		if res.Error != nil {
			return 0, errors.WrapTransient(res.Error, "sqlgraph", "Save", "insert snapshot")
		}
		if res.RowsAffected == 0 {
			return 0, graph.ErrRevisionConflict
		}
		return next, nil
	}

	res := db.Model(&GraphSnapshot{}).
		Where("name = ? AND revision = ?", b.name, expected).
		Updates(map[string]any{"revision": next, "data": data, "updated_at": time.Now()})
	if res.Error != nil {
		return 0, errors.WrapTransient(res.Error, "sqlgraph", "Save", "update snapshot")
	}
	if res.RowsAffected == 0 {
		return 0, graph.ErrRevisionConflict
	}
	return next, nil
}

// Ping implements graph.Pinger.
func (b *Backend) Ping(ctx context.Context) error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close implements graph.Backend.
func (b *Backend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}
