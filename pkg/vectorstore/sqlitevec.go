package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/agentlab/internal/tracing"
)

func init() {
	// registers vec_* functions on every new sqlite3 connection
	sqlite_vec.Auto()
}

const sqliteVecSchema = `
CREATE TABLE IF NOT EXISTS vector_indexes (
	name       TEXT PRIMARY KEY,
	dimension  INTEGER NOT NULL,
	metric     TEXT NOT NULL,
	cloud      TEXT,
	region     TEXT,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS vectors (
	index_name TEXT NOT NULL REFERENCES vector_indexes(name) ON DELETE CASCADE,
	namespace  TEXT NOT NULL DEFAULT '',
	id         TEXT NOT NULL,
	embedding  BLOB NOT NULL,
	metadata   TEXT,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (index_name, namespace, id)
);
`

// SQLiteVecConfig configures a local sqlite-vec store
type SQLiteVecConfig struct {
	// Path of the database file, or :memory:.
	Path   string
	Logger zerolog.Logger
}

// SQLiteVec is a Store kept in a SQLite file, ranked with the sqlite-vec
// distance functions. Cosine and euclidean indexes are supported.
type SQLiteVec struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger
}

// NewSQLiteVec opens (creating if needed) a local vector store
func NewSQLiteVec(cfg SQLiteVecConfig) (*SQLiteVec, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("vector store path cannot be empty")
	}

	dsn := cfg.Path
	if cfg.Path != ":memory:" {
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return nil, fmt.Errorf("failed to create vector store directory: %w", err)
			}
		}
		dsn = "file:" + cfg.Path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	} else {
		dsn = "file::memory:?_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}
	db.SetMaxOpenConns(1)

	var version string
	if err := db.QueryRow("SELECT vec_version()").Scan(&version); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite-vec extension not available: %w", err)
	}
	if _, err := db.Exec(sqliteVecSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize vector schema: %w", err)
	}

	logger := cfg.Logger.With().Str("component", "sqlitevec").Logger()
	logger.Info().Str("path", cfg.Path).Str("vec_version", version).Msg("Vector store opened")

	return &SQLiteVec{db: db, path: cfg.Path, logger: logger}, nil
}

func (s *SQLiteVec) ListIndexes(ctx context.Context) (out []IndexDescription, err error) {
	defer record("sqlitevec", "list_indexes", time.Now(), &err)

	rows, err := s.db.QueryContext(ctx, `SELECT name, dimension, metric FROM vector_indexes ORDER BY created_at, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		d := IndexDescription{Host: "sqlite://" + s.path, Ready: true}
		if err = rows.Scan(&d.Name, &d.Dimension, &d.Metric); err != nil {
			return nil, fmt.Errorf("failed to scan index: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteVec) CreateIndex(ctx context.Context, spec IndexSpec) (err error) {
	defer record("sqlitevec", "create_index", time.Now(), &err)

	if err = ValidateSpec(spec); err != nil {
		return err
	}
	if spec.Metric == MetricDotProduct {
		return fmt.Errorf("%w: %s is not available in the local store", ErrUnsupportedMetric, spec.Metric)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO vector_indexes (name, dimension, metric, cloud, region, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		spec.Name, spec.Dimension, spec.Metric, spec.Cloud, spec.Region, time.Now().UnixNano())
	if err != nil {
		var sqlErr sqlite3.Error
		if errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return fmt.Errorf("%w: %s", ErrIndexExists, spec.Name)
		}
		return fmt.Errorf("failed to create index %s: %w", spec.Name, err)
	}
	s.logger.Info().Str("index", spec.Name).Int("dimension", spec.Dimension).Str("metric", spec.Metric).Msg("Index created")
	return nil
}

func (s *SQLiteVec) DescribeIndex(ctx context.Context, name string) (_ *IndexDescription, err error) {
	defer record("sqlitevec", "describe_index", time.Now(), &err)

	d := IndexDescription{Name: name, Host: "sqlite://" + s.path, Ready: true}
	err = s.db.QueryRowContext(ctx, `SELECT dimension, metric FROM vector_indexes WHERE name = ?`, name).
		Scan(&d.Dimension, &d.Metric)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to describe index %s: %w", name, err)
	}
	return &d, nil
}

func (s *SQLiteVec) DeleteIndex(ctx context.Context, name string) (err error) {
	defer record("sqlitevec", "delete_index", time.Now(), &err)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx, `DELETE FROM vectors WHERE index_name = ?`, name); err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM vector_indexes WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete index %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = fmt.Errorf("%w: %s", ErrIndexNotFound, name)
		return err
	}
	return tx.Commit()
}

func (s *SQLiteVec) DescribeIndexStats(ctx context.Context, name string) (_ *IndexStats, err error) {
	defer record("sqlitevec", "describe_index_stats", time.Now(), &err)

	desc, err := s.DescribeIndex(ctx, name)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT namespace, COUNT(*) FROM vectors WHERE index_name = ? GROUP BY namespace`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to count vectors: %w", err)
	}
	defer rows.Close()

	stats := &IndexStats{Dimension: desc.Dimension, Namespaces: map[string]NamespaceStats{}}
	for rows.Next() {
		var ns string
		var count int
		if err = rows.Scan(&ns, &count); err != nil {
			return nil, fmt.Errorf("failed to scan namespace count: %w", err)
		}
		stats.Namespaces[ns] = NamespaceStats{VectorCount: count}
		stats.TotalVectorCount += count
	}
	return stats, rows.Err()
}

func (s *SQLiteVec) Upsert(ctx context.Context, index, namespace string, vectors []Vector) (n int, err error) {
	defer record("sqlitevec", "upsert", time.Now(), &err)

	ctx, span := tracing.StartSpan(ctx, "agentlab.vectorstore", "vectorstore.upsert",
		attribute.String("backend", "sqlitevec"),
		attribute.String("index", index),
		attribute.Int("count", len(vectors)),
	)
	defer span.End()

	desc, err := s.DescribeIndex(ctx, index)
	if err != nil {
		tracing.FailSpan(span, err)
		return 0, err
	}
	if err = checkVectors(desc.Dimension, vectors); err != nil {
		tracing.FailSpan(span, err)
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vectors (index_name, namespace, id, embedding, metadata, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (index_name, namespace, id) DO UPDATE SET
			embedding = excluded.embedding,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixNano()
	for _, v := range vectors {
		blob, serr := sqlite_vec.SerializeFloat32(v.Values)
		if serr != nil {
			err = fmt.Errorf("failed to serialize vector %s: %w", v.ID, serr)
			return 0, err
		}
		var meta []byte
		if v.Metadata != nil {
			if meta, err = json.Marshal(v.Metadata); err != nil {
				return 0, fmt.Errorf("failed to marshal metadata for %s: %w", v.ID, err)
			}
		}
		if _, err = stmt.ExecContext(ctx, index, namespace, v.ID, blob, nullString(meta), now); err != nil {
			tracing.FailSpan(span, err)
			return 0, fmt.Errorf("failed to upsert vector %s: %w", v.ID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit upsert: %w", err)
	}
	return len(vectors), nil
}

func (s *SQLiteVec) DeleteVectors(ctx context.Context, index, namespace string, ids []string) (err error) {
	defer record("sqlitevec", "delete_vectors", time.Now(), &err)

	if _, err = s.DescribeIndex(ctx, index); err != nil {
		return err
	}

	query := `DELETE FROM vectors WHERE index_name = ? AND namespace = ?`
	args := []any{index, namespace}
	if len(ids) > 0 {
		query += ` AND id IN (?` + strings.Repeat(`, ?`, len(ids)-1) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete vectors from %s: %w", index, err)
	}
	n, _ := res.RowsAffected()
	s.logger.Debug().Str("index", index).Str("namespace", namespace).Int64("deleted", n).Msg("Vectors deleted")
	return nil
}

func (s *SQLiteVec) Query(ctx context.Context, index string, req QueryRequest) (out []Match, err error) {
	defer record("sqlitevec", "query", time.Now(), &err)

	ctx, span := tracing.StartSpan(ctx, "agentlab.vectorstore", "vectorstore.query",
		attribute.String("backend", "sqlitevec"),
		attribute.String("index", index),
		attribute.Int("top_k", req.TopK),
	)
	defer span.End()

	desc, err := s.DescribeIndex(ctx, index)
	if err != nil {
		tracing.FailSpan(span, err)
		return nil, err
	}
	if err = checkQuery(desc.Dimension, req); err != nil {
		tracing.FailSpan(span, err)
		return nil, err
	}

	distance := "vec_distance_cosine"
	if desc.Metric == MetricEuclidean {
		distance = "vec_distance_l2"
	}
	query, err := sqlite_vec.SerializeFloat32(req.Vector)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize query vector: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, metadata, vec_to_json(embedding), %s(embedding, ?) AS distance
		FROM vectors
		WHERE index_name = ? AND namespace = ?
		ORDER BY distance ASC, id ASC
		LIMIT ?`, distance),
		query, index, req.Namespace, req.TopK)
	if err != nil {
		tracing.FailSpan(span, err)
		return nil, fmt.Errorf("failed to query %s: %w", index, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m      Match
			meta   sql.NullString
			values string
			dist   float64
		)
		if err = rows.Scan(&m.ID, &meta, &values, &dist); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		m.Score = score(desc.Metric, dist)
		if req.IncludeMetadata && meta.Valid {
			if err = json.Unmarshal([]byte(meta.String), &m.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata for %s: %w", m.ID, err)
			}
		}
		if req.IncludeValues {
			if err = json.Unmarshal([]byte(values), &m.Values); err != nil {
				return nil, fmt.Errorf("failed to decode values for %s: %w", m.ID, err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteVec) Close() error {
	return s.db.Close()
}

// score turns a distance into a similarity where higher is closer.
// Cosine gives 1 - distance; euclidean gives 1 / (1 + distance).
func score(metric string, distance float64) float32 {
	if metric == MetricEuclidean {
		return float32(1 / (1 + distance))
	}
	return float32(1 - distance)
}

func nullString(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
