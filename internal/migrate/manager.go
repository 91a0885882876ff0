// Package migrate applies the versioned SQL schema to PostgreSQL.
//
// A migration is a pair of files NNNN_name.up.sql and NNNN_name.down.sql. Each one
// runs in its own transaction together with its bookkeeping row, under an advisory
// lock, so concurrent migrators apply every version at most once.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

const (
	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"

	versionTable = "schema_migrations"
	lockName     = "villagepay_schema"
)

// Migration is one schema version.
type Migration struct {
	Version string
	Up      string
	Down    string
}

// State reports whether a known version is applied.
type State struct {
	Version   string
	AppliedAt *time.Time
}

func (s State) String() string {
	if s.AppliedAt == nil {
		return s.Version + "\tpending"
	}
	return s.Version + "\tapplied " + s.AppliedAt.UTC().Format(time.RFC3339)
}

// Manager applies migrations loaded from a file system, usually the schema
// embedded in the store package.
type Manager struct {
	db         *sql.DB
	migrations []Migration
}

// NewManager loads and pairs the migrations in fsys.
func NewManager(db *sql.DB, fsys fs.FS) (*Manager, error) {
	migrations, err := Load(fsys)
	if err != nil {
		return nil, err
	}
	return &Manager{db: db, migrations: migrations}, nil
}

// Load reads every up/down pair in fsys ordered by version. An up file without
// its down file is an error.
func Load(fsys fs.FS) ([]Migration, error) {
	byVersion := map[string]*Migration{}
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		name := path.Base(p)
		var version string
		var up bool
		switch {
		case strings.HasSuffix(name, upSuffix):
			version, up = strings.TrimSuffix(name, upSuffix), true
		case strings.HasSuffix(name, downSuffix):
			version = strings.TrimSuffix(name, downSuffix)
		default:
			return nil
		}
		body, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		mig := byVersion[version]
		if mig == nil {
			mig = &Migration{Version: version}
			byVersion[version] = mig
		}
		if up {
			mig.Up = string(body)
		} else {
			mig.Down = string(body)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("migrate: load: %w", err)
	}

	out := make([]Migration, 0, len(byVersion))
	for _, mig := range byVersion {
		if strings.TrimSpace(mig.Up) == "" || strings.TrimSpace(mig.Down) == "" {
			return nil, fmt.Errorf("migrate: version %s needs both %s and %s", mig.Version, upSuffix, downSuffix)
		}
		out = append(out, *mig)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Up applies every pending migration in version order.
func (m *Manager) Up(ctx context.Context) error {
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}
	for _, mig := range m.migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		err := m.inTx(ctx, mig.Up, `insert into `+versionTable+` (version, applied_at) values ($1, $2)`,
			mig.Version, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("migrate: up %s: %w", mig.Version, err)
		}
	}
	return nil
}

// Down reverts the highest applied version.
func (m *Manager) Down(ctx context.Context) error {
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}
	for i := len(m.migrations) - 1; i >= 0; i-- {
		mig := m.migrations[i]
		if _, ok := applied[mig.Version]; !ok {
			continue
		}
		if err := m.inTx(ctx, mig.Down, `delete from `+versionTable+` where version = $1`, mig.Version); err != nil {
			return fmt.Errorf("migrate: down %s: %w", mig.Version, err)
		}
		return nil
	}
	return errors.New("migrate: no migrations applied")
}

// Status lists every known version with its applied time.
func (m *Manager) Status(ctx context.Context) ([]State, error) {
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]State, 0, len(m.migrations))
	for _, mig := range m.migrations {
		st := State{Version: mig.Version}
		if at, ok := applied[mig.Version]; ok {
			at := at
			st.AppliedAt = &at
		}
		out = append(out, st)
	}
	return out, nil
}

func (m *Manager) applied(ctx context.Context) (map[string]time.Time, error) {
	_, err := m.db.ExecContext(ctx, `create table if not exists `+versionTable+` (
		version text primary key,
		applied_at timestamptz not null default now()
	)`)
	if err != nil {
		return nil, fmt.Errorf("migrate: version table: %w", err)
	}
	rows, err := m.db.QueryContext(ctx, `select version, applied_at from `+versionTable)
	if err != nil {
		return nil, fmt.Errorf("migrate: read versions: %w", err)
	}
	defer rows.Close()
	out := map[string]time.Time{}
	for rows.Next() {
		var (
			version string
			at      time.Time
		)
		if err := rows.Scan(&version, &at); err != nil {
			return nil, err
		}
		out[version] = at
	}
	return out, rows.Err()
}

// inTx runs script followed by the bookkeeping statement in one transaction.
func (m *Manager) inTx(ctx context.Context, script, record string, args ...any) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `select pg_advisory_xact_lock(hashtext($1))`, lockName); err != nil {
		return err
	}
	for _, stmt := range splitStatements(script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return err
	}
	return tx.Commit()
}

// splitStatements cuts a script at semicolons outside quotes and line comments.
// Empty statements are dropped.
func splitStatements(script string) []string {
	var (
		out     []string
		cur     strings.Builder
		quoted  bool
		comment bool
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	runes := []rune(script)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case comment:
			if r == '\n' {
				comment = false
				cur.WriteRune(r)
			}
		case !quoted && r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			comment = true
			i++
		case r == '\'':
			quoted = !quoted
			cur.WriteRune(r)
		case r == ';' && !quoted:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}
