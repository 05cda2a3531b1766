// Package attrstore reads document attributes such as spamScore, rawUrl and
// PageRank from a Postgres table keyed by external document id:
//
//	CREATE TABLE document_attributes (
//	    external_id TEXT NOT NULL,
//	    name        TEXT NOT NULL,
//	    value       TEXT NOT NULL,
//	    PRIMARY KEY (external_id, name)
//	);
package attrstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Source supplies stored document attributes by internal id.
type Source interface {
	Attribute(name string, doc int) (string, bool)
}

// IDMapper maps internal document ids to external ids.
type IDMapper interface {
	ExternalID(doc int) (string, error)
}

// Store looks attributes up in Postgres. All attributes of a document are
// fetched together on first use and kept for the life of the Store.
type Store struct {
	db      *sql.DB
	table   string
	ids     IDMapper
	timeout time.Duration
	logger  *slog.Logger

	mu    sync.Mutex
	byDoc map[int]map[string]string
}

// Open connects to dsn and verifies the connection.
func Open(dsn, table string, ids IDMapper) (*Store, error) {
	if !identifier.MatchString(table) {
		return nil, fmt.Errorf("invalid attribute table name %q", table)
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Store{
		db:      db,
		table:   table,
		ids:     ids,
		timeout: 5 * time.Second,
		logger:  slog.Default().With("component", "attrstore"),
		byDoc:   make(map[int]map[string]string),
	}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the attribute table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		external_id TEXT NOT NULL,
		name        TEXT NOT NULL,
		value       TEXT NOT NULL,
		PRIMARY KEY (external_id, name))`, s.table))
	if err != nil {
		return fmt.Errorf("creating %s: %w", s.table, err)
	}
	return nil
}

// Put stores one attribute, replacing an existing value.
func (s *Store) Put(ctx context.Context, externalID, name, value string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (external_id, name, value) VALUES ($1, $2, $3)
		 ON CONFLICT (external_id, name) DO UPDATE SET value = EXCLUDED.value`, s.table),
		externalID, name, value)
	if err != nil {
		return fmt.Errorf("storing attribute %s of %s: %w", name, externalID, err)
	}
	return nil
}

// Attribute returns the named attribute of doc. Lookup failures are logged
// and reported as a missing attribute.
func (s *Store) Attribute(name string, doc int) (string, bool) {
	attrs, err := s.load(doc)
	if err != nil {
		s.logger.Warn("attribute lookup failed", "doc", doc, "name", name, "error", err)
		return "", false
	}
	v, ok := attrs[name]
	return v, ok
}

func (s *Store) load(doc int) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if attrs, ok := s.byDoc[doc]; ok {
		return attrs, nil
	}

	ext, err := s.ids.ExternalID(doc)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT name, value FROM %s WHERE external_id = $1`, s.table), ext)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attrs := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		attrs[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	s.byDoc[doc] = attrs
	return attrs, nil
}

// Overlay answers from Primary and falls back to Fallback for attributes
// Primary does not have.
type Overlay struct {
	Primary  Source
	Fallback Source
}

// Attribute implements Source.
func (o Overlay) Attribute(name string, doc int) (string, bool) {
	if o.Primary != nil {
		if v, ok := o.Primary.Attribute(name, doc); ok {
			return v, true
		}
	}
	if o.Fallback != nil {
		return o.Fallback.Attribute(name, doc)
	}
	return "", false
}
