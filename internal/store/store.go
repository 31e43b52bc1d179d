// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/gameward/gameward/internal/domain"
	"github.com/gameward/gameward/lib/codec"
	"github.com/gameward/gameward/lib/sqlitepool"
)

const schema = `
CREATE TABLE IF NOT EXISTS instances (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	path       TEXT NOT NULL UNIQUE,
	state      TEXT NOT NULL,
	data       BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_instances_state ON instances(state);

CREATE TABLE IF NOT EXISTS instance_users (
	id            TEXT PRIMARY KEY,
	instance_id   TEXT NOT NULL,
	name          TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	rights        INTEGER NOT NULL,
	created_at    INTEGER NOT NULL,
	UNIQUE(instance_id, name)
);
CREATE INDEX IF NOT EXISTS idx_instance_users_instance ON instance_users(instance_id);

CREATE TABLE IF NOT EXISTS jobs (
	id          TEXT PRIMARY KEY,
	instance_id TEXT,
	state       TEXT NOT NULL,
	data        BLOB NOT NULL,
	started_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_instance ON jobs(instance_id);
CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);
`

// Store is the controller's Global Database: instances, their
// per-instance users, and jobs, backed by a SQLite connection pool.
type Store struct {
	pool *sqlitepool.Pool
}

// Config holds the parameters for opening the Global Database.
type Config struct {
	Path     string
	PoolSize int
	Logger   *slog.Logger
}

// Open opens (creating if necessary) the Global Database and applies
// its schema.
func Open(cfg Config) (*Store, error) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   cfg.Logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// --- Instances ---

func (s *Store) CreateInstance(inst *domain.Instance) error {
	return s.SaveInstance(inst)
}

func (s *Store) SaveInstance(inst *domain.Instance) error {
	data, err := codec.Marshal(inst)
	if err != nil {
		return fmt.Errorf("store: marshal instance: %w", err)
	}

	conn, err := s.pool.Take(context.Background())
	if err != nil {
		return fmt.Errorf("store: save instance: %w", err)
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn, `
		INSERT INTO instances (id, name, path, state, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			path = excluded.path,
			state = excluded.state,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		&sqlitex.ExecOptions{
			Args: []any{
				inst.ID, inst.Name, inst.Path, string(inst.State), data,
				inst.CreatedAt.UnixNano(), inst.UpdatedAt.UnixNano(),
			},
		})
}

func (s *Store) DeleteInstance(id string) error {
	conn, err := s.pool.Take(context.Background())
	if err != nil {
		return fmt.Errorf("store: delete instance: %w", err)
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, `DELETE FROM instance_users WHERE instance_id = ?`,
		&sqlitex.ExecOptions{Args: []any{id}}); err != nil {
		return fmt.Errorf("store: delete instance users: %w", err)
	}
	return sqlitex.Execute(conn, `DELETE FROM instances WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{id}})
}

func (s *Store) GetInstance(id string) (*domain.Instance, bool) {
	return s.queryOneInstance(`SELECT data FROM instances WHERE id = ?`, id)
}

func (s *Store) GetInstanceByPath(path string) (*domain.Instance, bool) {
	return s.queryOneInstance(`SELECT data FROM instances WHERE path = ?`, path)
}

func (s *Store) queryOneInstance(query, arg string) (*domain.Instance, bool) {
	conn, err := s.pool.Take(context.Background())
	if err != nil {
		return nil, false
	}
	defer s.pool.Put(conn)

	var inst *domain.Instance
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: []any{arg},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			blob := make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, blob)
			var decoded domain.Instance
			if err := codec.Unmarshal(blob, &decoded); err != nil {
				return err
			}
			inst = &decoded
			return nil
		},
	})
	if err != nil || inst == nil {
		return nil, false
	}
	return inst, true
}

func (s *Store) ListInstances() []*domain.Instance {
	conn, err := s.pool.Take(context.Background())
	if err != nil {
		return nil
	}
	defer s.pool.Put(conn)

	var instances []*domain.Instance
	err = sqlitex.Execute(conn, `SELECT data FROM instances ORDER BY created_at`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			blob := make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, blob)
			var decoded domain.Instance
			if err := codec.Unmarshal(blob, &decoded); err != nil {
				return err
			}
			instances = append(instances, &decoded)
			return nil
		},
	})
	if err != nil {
		return nil
	}
	return instances
}

// --- Instance users ---

func (s *Store) CreateInstanceUser(user *domain.InstanceUser) error {
	conn, err := s.pool.Take(context.Background())
	if err != nil {
		return fmt.Errorf("store: create instance user: %w", err)
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn, `
		INSERT INTO instance_users (id, instance_id, name, password_hash, rights, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{user.ID, user.InstanceID, user.Name, user.PasswordHash,
				int64(user.Rights), user.CreatedAt.UnixNano()},
		})
}

// GrantFullRights creates (or upgrades) a user on instanceID with
// every defined Rights bit set. Used by create-or-attach to give the
// caller full control of the instance they just created.
func (s *Store) GrantFullRights(instanceID, userID string) error {
	const allRights = domain.RightRelocate | domain.RightRename | domain.RightSetOnline |
		domain.RightSetConfig | domain.RightSetAutoUpdate | domain.RightCancelJob |
		domain.RightLaunchSession | domain.RightTerminateSession |
		domain.RightCompile | domain.RightRepository

	conn, err := s.pool.Take(context.Background())
	if err != nil {
		return fmt.Errorf("store: grant full rights: %w", err)
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn, `
		INSERT INTO instance_users (id, instance_id, name, password_hash, rights, created_at)
		VALUES (?, ?, ?, '', ?, ?)
		ON CONFLICT(instance_id, name) DO UPDATE SET rights = excluded.rights`,
		&sqlitex.ExecOptions{
			Args: []any{userID, instanceID, userID, int64(allRights), 0},
		})
}

// GetInstanceUserByName looks up one instance's user by name, for
// authentication.
func (s *Store) GetInstanceUserByName(instanceID, name string) (*domain.InstanceUser, bool) {
	conn, err := s.pool.Take(context.Background())
	if err != nil {
		return nil, false
	}
	defer s.pool.Put(conn)

	var user *domain.InstanceUser
	err = sqlitex.Execute(conn, `
		SELECT id, instance_id, name, password_hash, rights, created_at
		FROM instance_users WHERE instance_id = ? AND name = ?`,
		&sqlitex.ExecOptions{
			Args: []any{instanceID, name},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				user = &domain.InstanceUser{
					ID:           stmt.ColumnText(0),
					InstanceID:   stmt.ColumnText(1),
					Name:         stmt.ColumnText(2),
					PasswordHash: stmt.ColumnText(3),
					Rights:       domain.Rights(stmt.ColumnInt64(4)),
				}
				return nil
			},
		})
	if err != nil || user == nil {
		return nil, false
	}
	return user, true
}

// --- Jobs ---

func (s *Store) SaveJob(job *domain.Job) error {
	data, err := codec.Marshal(job)
	if err != nil {
		return fmt.Errorf("store: marshal job: %w", err)
	}

	conn, err := s.pool.Take(context.Background())
	if err != nil {
		return fmt.Errorf("store: save job: %w", err)
	}
	defer s.pool.Put(conn)

	var instanceID any
	if job.InstanceID != "" {
		instanceID = job.InstanceID
	}

	return sqlitex.Execute(conn, `
		INSERT INTO jobs (id, instance_id, state, data, started_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			data = excluded.data`,
		&sqlitex.ExecOptions{
			Args: []any{job.ID, instanceID, string(job.State), data, job.StartedAt.UnixNano()},
		})
}

// LoadRunningJobs returns every job persisted in a non-terminal state,
// for restart recovery via job.Manager.MarkOrphansCancelled.
func (s *Store) LoadRunningJobs() ([]*domain.Job, error) {
	conn, err := s.pool.Take(context.Background())
	if err != nil {
		return nil, fmt.Errorf("store: load running jobs: %w", err)
	}
	defer s.pool.Put(conn)

	var jobs []*domain.Job
	err = sqlitex.Execute(conn, `
		SELECT data FROM jobs WHERE state IN ('registered', 'running')`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				blob := make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, blob)
				var decoded domain.Job
				if err := codec.Unmarshal(blob, &decoded); err != nil {
					return err
				}
				jobs = append(jobs, &decoded)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: load running jobs: %w", err)
	}
	return jobs, nil
}
