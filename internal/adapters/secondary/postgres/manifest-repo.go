package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"model-uploader/internal/core/domain"
	"model-uploader/internal/core/ports/output"
)

const manifestChannel = "upload_manifests"

const schema = `
	CREATE TABLE IF NOT EXISTS upload_manifest (
		op_id      TEXT PRIMARY KEY,
		started_at TIMESTAMPTZ NOT NULL,
		ended_at   TIMESTAMPTZ NOT NULL,
		mode       TEXT NOT NULL,
		status     TEXT NOT NULL,
		workspace  TEXT NOT NULL DEFAULT '',
		project    TEXT NOT NULL DEFAULT '',
		document   JSONB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS upload_manifest_started_at_idx ON upload_manifest (started_at DESC);
`

// ManifestRepository keeps each manifest as a JSONB document next to the
// columns the history filters use. Inserts notify listeners on commit.
type ManifestRepository struct {
	pool *pgxpool.Pool
}

func NewManifestRepository(pool *pgxpool.Pool) *ManifestRepository {
	return &ManifestRepository{pool: pool}
}

// EnsureSchema creates the manifest table if it does not exist.
func (r *ManifestRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure manifest schema: %w", err)
	}
	return nil
}

func (r *ManifestRepository) Write(ctx context.Context, m *domain.Manifest) error {
	if err := m.Validate(); err != nil {
		return err
	}
	doc, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	query := `
		INSERT INTO upload_manifest
			(op_id, started_at, ended_at, mode, status, workspace, project, document)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`
	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, query,
			m.OpID, m.StartedAt, m.EndedAt, string(m.Mode), string(m.Status),
			m.Workspace, m.Project, doc,
		); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, "SELECT pg_notify($1, $2)", manifestChannel, m.OpID)
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return domain.ErrManifestExists
		}
		return fmt.Errorf("insert manifest: %w", err)
	}
	return nil
}

func (r *ManifestRepository) Get(ctx context.Context, opID string) (*domain.Manifest, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx, `SELECT document FROM upload_manifest WHERE op_id = $1`, opID).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrManifestNotFound
		}
		return nil, fmt.Errorf("get manifest: %w", err)
	}
	return decode(opID, doc)
}

func (r *ManifestRepository) List(ctx context.Context, filter ports.ManifestFilter) iter.Seq2[*domain.Manifest, error] {
	return func(yield func(*domain.Manifest, error) bool) {
		conditions := []string{}
		args := []interface{}{}
		argPos := 1

		if !filter.Since.IsZero() {
			conditions = append(conditions, fmt.Sprintf("started_at >= $%d", argPos))
			args = append(args, filter.Since)
			argPos++
		}
		if !filter.Until.IsZero() {
			conditions = append(conditions, fmt.Sprintf("started_at < $%d", argPos))
			args = append(args, filter.Until)
			argPos++
		}
		if filter.Status != "" {
			conditions = append(conditions, fmt.Sprintf("status = $%d", argPos))
			args = append(args, string(filter.Status))
			argPos++
		}
		if filter.Mode != "" {
			conditions = append(conditions, fmt.Sprintf("mode = $%d", argPos))
			args = append(args, string(filter.Mode))
			argPos++
		}
		if filter.Workspace != "" {
			conditions = append(conditions, fmt.Sprintf("workspace = $%d", argPos))
			args = append(args, filter.Workspace)
			argPos++
		}
		if filter.Project != "" {
			conditions = append(conditions, fmt.Sprintf("project = $%d", argPos))
			args = append(args, filter.Project)
			argPos++
		}

		whereClause := "1=1"
		if len(conditions) > 0 {
			whereClause = strings.Join(conditions, " AND ")
		}
		// Limit counts decoded manifests, so it is applied while reading
		// rather than in SQL where corrupt rows would use it up.
		query := fmt.Sprintf(`SELECT op_id, document FROM upload_manifest WHERE %s ORDER BY op_id DESC`, whereClause)
		yield = limitValid(filter.Limit, yield)

		rows, err := r.pool.Query(ctx, query, args...)
		if err != nil {
			yield(nil, fmt.Errorf("list manifests: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var opID string
			var doc []byte
			if err := rows.Scan(&opID, &doc); err != nil {
				yield(nil, fmt.Errorf("scan manifest: %w", err))
				return
			}
			if !yield(decode(opID, doc)) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("iterate manifests: %w", err))
		}
	}
}

// Watch listens for inserts from any writer sharing the database.
func (r *ManifestRepository) Watch(ctx context.Context) (<-chan *domain.Manifest, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+manifestChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", manifestChannel, err)
	}

	out := make(chan *domain.Manifest)
	go func() {
		defer close(out)
		defer conn.Release()

		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.WithError(err).Warn("manifest listener stopped")
				}
				return
			}
			m, err := r.Get(ctx, n.Payload)
			if err != nil {
				log.WithFields(log.Fields{
					"op_id": n.Payload,
					"error": err,
				}).Warn("skipping unreadable manifest")
				continue
			}
			select {
			case out <- m:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// limitValid wraps yield so iteration stops once limit manifests decoded
// cleanly. Corrupt records are still delivered but do not count.
func limitValid(limit int, yield func(*domain.Manifest, error) bool) func(*domain.Manifest, error) bool {
	if limit <= 0 {
		return yield
	}
	matched := 0
	return func(m *domain.Manifest, err error) bool {
		if !yield(m, err) {
			return false
		}
		if err == nil {
			matched++
		}
		return matched < limit
	}
}

func decode(opID string, doc []byte) (*domain.Manifest, error) {
	var m domain.Manifest
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, &domain.CorruptManifestError{Source: opID, Err: err}
	}
	if err := m.Validate(); err != nil {
		return nil, &domain.CorruptManifestError{Source: opID, Err: err}
	}
	return &m, nil
}

var _ ports.ManifestRepository = (*ManifestRepository)(nil)
var _ ports.ManifestWatcher = (*ManifestRepository)(nil)
