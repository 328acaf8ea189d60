package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jackc/pgx/v4/stdlib"
	"github.com/postqode/agentdeploy/pkg/crypto"
	"github.com/postqode/agentdeploy/pkg/metrics"
	"github.com/pressly/goose/v3"
	log "github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrations embed.FS

const uniqueViolation = "23505"

var (
	ErrNotFound = fmt.Errorf("database row not found")
)

type Database struct {
	conn          *pgxpool.Pool
	encryptionKey []byte
}

func IsErrNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Returns true if the error is a unique index violation
func IsErrUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func New(ctx context.Context, dsn string, encryptionKey []byte) (*Database, error) {
	if len(encryptionKey) != crypto.KeySize {
		return nil, fmt.Errorf("database encryption key must be %d bytes", crypto.KeySize)
	}

	conn, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}

	return &Database{
		conn:          conn,
		encryptionKey: encryptionKey,
	}, nil
}

func (db *Database) Close() {
	db.conn.Close()
}

func (db *Database) timedQuery(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	now := time.Now()
	rows, err := db.conn.Query(ctx, sql, args...)
	metrics.DatabaseQuery(now, err)
	return rows, err
}

func (db *Database) timedExec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	now := time.Now()
	tag, err := db.conn.Exec(ctx, sql, args...)
	metrics.DatabaseQuery(now, err)
	return tag, err
}

func (db *Database) timedQueryRow(ctx context.Context, sql string, args []interface{}, dest ...interface{}) error {
	now := time.Now()
	err := db.conn.QueryRow(ctx, sql, args...).Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		err = ErrNotFound
	}
	metrics.DatabaseQuery(now, err)
	return err
}

// Migrate brings the schema up to date with the embedded migrations.
func (db *Database) Migrate(ctx context.Context) error {
	sqldb := stdlib.OpenDB(*db.conn.Config().ConnConfig)
	defer sqldb.Close()

	goose.SetBaseFS(migrations)
	goose.SetLogger(log.StandardLogger())
	err := goose.SetDialect("postgres")
	if err != nil {
		return fmt.Errorf("configure migrations: %w", err)
	}

	err = goose.UpContext(ctx, sqldb, "migrations")
	if err != nil {
		return fmt.Errorf("migrating database schema: %w", err)
	}

	return nil
}
