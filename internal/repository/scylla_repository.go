// internal/repository/scylla_repository.go

package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"

	"RaspiSensing.scylla/internal/config"
	"RaspiSensing.scylla/internal/models"
	"github.com/gocql/gocql"
)

// Repository is the storage surface the services need. Implementations
// must be safe for concurrent use.
type Repository interface {
	InsertReading(ctx context.Context, row models.StoredRow) error
	LatestTemp(ctx context.Context, name string) (models.Temp, error)
	RecentTemps(ctx context.Context, name string, limit int) ([]models.Temp, error)
}

// identifierPattern matches CQL names that are safe to interpolate.
// Keyspace and table names cannot be bound as parameters.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,47}$`)

// statements holds the CQL for one keyspace-qualified table. Every value
// is bound positionally.
type statements struct {
	table  string
	insert string
	latest string
	recent string
	create string
}

func newStatements(keyspace, table string) (*statements, error) {
	if !identifierPattern.MatchString(keyspace) {
		return nil, fmt.Errorf("invalid keyspace name %q", keyspace)
	}
	if !identifierPattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	qualified := keyspace + "." + table
	return &statements{
		table:  qualified,
		insert: `INSERT INTO ` + qualified + ` (name,time,"auth-code",humidity,id,pressure,temp) VALUES (?,?,?,?,?,?,?)`,
		latest: `SELECT temp, time FROM ` + qualified + ` WHERE name = ? ORDER BY id DESC LIMIT 1`,
		recent: `SELECT temp, time FROM ` + qualified + ` WHERE name = ? ORDER BY id DESC LIMIT ?`,
		create: `CREATE TABLE IF NOT EXISTS ` + qualified + ` (
	name text,
	time int,
	"auth-code" text,
	humidity float,
	id timeuuid,
	pressure float,
	temp float,
	PRIMARY KEY ((name), id)
) WITH CLUSTERING ORDER BY (id DESC)`,
	}, nil
}

// ScyllaRepository stores readings in a Scylla (or Cassandra) cluster.
// One instance wraps one long-lived session that is shared by every
// request; gocql pools connections behind it.
type ScyllaRepository struct {
	session *gocql.Session
	logger  *slog.Logger
	stmts   atomic.Pointer[statements]
}

// Connect opens the process-wide session. The initial connection must be
// established within cfg.ConnectTimeout. cfg.MetadataRefresh sets how
// often gocql re-checks hosts it has marked down. The driver's own retry
// policy is disabled: a failed statement is reported, never replayed.
func Connect(cfg config.ScyllaConfig, logger *slog.Logger) (*ScyllaRepository, error) {
	consistency, err := gocql.ParseConsistencyWrapper(cfg.Consistency)
	if err != nil {
		return nil, &StartupError{Stage: "connect", Err: err}
	}

	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.ConnectTimeout = cfg.ConnectTimeout
	cluster.Timeout = cfg.ConnectTimeout
	cluster.ReconnectInterval = cfg.MetadataRefresh
	cluster.Consistency = consistency
	cluster.RetryPolicy = &gocql.SimpleRetryPolicy{NumRetries: 0}
	if cfg.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, &StartupError{Stage: "connect", Err: fmt.Errorf("hosts %s: %w", strings.Join(cfg.Hosts, ","), err)}
	}

	logger.Info("connected to scylla cluster", "hosts", cfg.Hosts, "consistency", consistency.String())
	return &ScyllaRepository{session: session, logger: logger}, nil
}

// UseKeyspace selects the keyspace and table for later statements. The
// keyspace must already exist. gocql rejects USE statements on a pooled
// session, so the names are validated and qualified into each statement.
func (r *ScyllaRepository) UseKeyspace(keyspace, table string) error {
	stmts, err := newStatements(keyspace, table)
	if err != nil {
		return &StartupError{Stage: "keyspace", Err: err}
	}
	if _, err := r.session.KeyspaceMetadata(strings.ToLower(keyspace)); err != nil {
		return &StartupError{Stage: "keyspace", Err: fmt.Errorf("%s: %w", keyspace, err)}
	}
	r.stmts.Store(stmts)
	r.logger.Info("using keyspace", "keyspace", keyspace, "table", stmts.table)
	return nil
}

// EnsureSchema creates the readings table if it does not exist and waits
// for the cluster to agree on the schema.
func (r *ScyllaRepository) EnsureSchema(ctx context.Context) error {
	stmts := r.stmts.Load()
	if stmts == nil {
		return &StartupError{Stage: "schema", Err: ErrNoKeyspace}
	}
	if err := r.session.Query(stmts.create).WithContext(ctx).Exec(); err != nil {
		return &StartupError{Stage: "schema", Err: err}
	}
	if err := r.session.AwaitSchemaAgreement(ctx); err != nil {
		return &StartupError{Stage: "schema", Err: err}
	}
	r.logger.Info("schema ready", "table", stmts.table)
	return nil
}

// InsertReading writes one row. It returns only after the cluster has
// acknowledged the write at the configured consistency.
func (r *ScyllaRepository) InsertReading(ctx context.Context, row models.StoredRow) error {
	stmts := r.stmts.Load()
	if stmts == nil {
		return &StoreError{Op: "insert", Err: ErrNoKeyspace}
	}
	err := r.session.Query(stmts.insert, insertArgs(row)...).WithContext(ctx).Exec()
	if err != nil {
		return &StoreError{Op: "insert", Err: err}
	}
	return nil
}

// insertArgs binds row in the column order of statements.insert.
func insertArgs(row models.StoredRow) []interface{} {
	return []interface{}{
		row.Name,
		row.Time,
		row.AuthCode,
		row.Humidity,
		gocql.UUID(row.ID),
		row.Pressure,
		row.Temp,
	}
}

// LatestTemp returns the newest temperature stored for name.
func (r *ScyllaRepository) LatestTemp(ctx context.Context, name string) (models.Temp, error) {
	stmts := r.stmts.Load()
	if stmts == nil {
		return models.Temp{}, &StoreError{Op: "latest", Err: ErrNoKeyspace}
	}
	var t models.Temp
	err := r.session.Query(stmts.latest, name).WithContext(ctx).Scan(&t.Temp, &t.Time)
	if errors.Is(err, gocql.ErrNotFound) {
		return models.Temp{}, ErrNotFound
	}
	if err != nil {
		return models.Temp{}, &StoreError{Op: "latest", Err: err}
	}
	return t, nil
}

// RecentTemps returns up to limit temperatures for name, newest first.
func (r *ScyllaRepository) RecentTemps(ctx context.Context, name string, limit int) ([]models.Temp, error) {
	stmts := r.stmts.Load()
	if stmts == nil {
		return nil, &StoreError{Op: "recent", Err: ErrNoKeyspace}
	}
	iter := r.session.Query(stmts.recent, name, limit).WithContext(ctx).Iter()

	temps := make([]models.Temp, 0, iter.NumRows())
	var t models.Temp
	for iter.Scan(&t.Temp, &t.Time) {
		temps = append(temps, t)
	}
	if err := iter.Close(); err != nil {
		return nil, &StoreError{Op: "recent", Err: err}
	}
	return temps, nil
}

// Close releases the session. It must only be called at shutdown.
func (r *ScyllaRepository) Close() {
	r.session.Close()
}
