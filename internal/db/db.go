package db

import (
	"errors"
	"fmt"
	"strings"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type Options struct {
	DSN             string
	MinConns        int
	MaxConns        int
	ConnMaxLifetime time.Duration
	Verbose         bool
}

// Pool owns the process-wide connection pool. It is opened once at startup,
// handed to every component that needs the store and closed at shutdown.
type Pool struct {
	gdb *gorm.DB
}

func Open(opts Options) (*Pool, error) {
	dialector, err := dialectorFor(opts.DSN)
	if err != nil {
		return nil, err
	}

	logLevel := gormlogger.Warn
	if opts.Verbose {
		logLevel = gormlogger.Info
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(logLevel),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	if opts.MaxConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxConns)
	}
	if opts.MinConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MinConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	return &Pool{gdb: gdb}, nil
}

// Wrap adopts an already opened handle (tests).
func Wrap(gdb *gorm.DB) *Pool {
	return &Pool{gdb: gdb}
}

func (p *Pool) DB() *gorm.DB {
	return p.gdb
}

func (p *Pool) Migrate(models ...any) error {
	if err := p.gdb.AutoMigrate(models...); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	return nil
}

func (p *Pool) Close() error {
	if p == nil || p.gdb == nil {
		return nil
	}
	sqlDB, err := p.gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// dialectorFor picks the driver from the DSN shape:
// postgres:// or postgresql:// -> postgres, sqlite: -> sqlite, anything else -> mysql.
func dialectorFor(dsn string) (gorm.Dialector, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "":
		return nil, errors.New("db: empty dsn")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return postgres.Open(dsn), nil
	case strings.HasPrefix(dsn, "sqlite:"):
		return gormsqlite.Open(strings.TrimPrefix(dsn, "sqlite:")), nil
	default:
		return mysql.Open(dsn), nil
	}
}
