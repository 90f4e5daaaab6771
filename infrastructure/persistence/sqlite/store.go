// Package sqlite implements the durable node store on a single SQLite
// database in WAL mode: concurrent readers never block and writers serialize
// on the connection. Optimistic concurrency is the only coordination — every
// write compares the caller's version token, there are no row locks held
// across calls.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"nodebase/application/ports"
	"nodebase/domain/core/entities"
	pkgerrors "nodebase/pkg/errors"
)

const ddl = `
CREATE TABLE IF NOT EXISTS nodes (
    id                TEXT PRIMARY KEY,
    node_type         TEXT NOT NULL,
    content           TEXT NOT NULL DEFAULT '',
    parent_id         TEXT,
    container_id      TEXT,
    before_sibling_id TEXT,
    version           INTEGER NOT NULL DEFAULT 1,
    created_at        TEXT NOT NULL,
    modified_at       TEXT NOT NULL,
    properties        TEXT NOT NULL DEFAULT '{}',
    embedding         BLOB
);

CREATE INDEX IF NOT EXISTS idx_nodes_parent ON nodes(parent_id);
CREATE INDEX IF NOT EXISTS idx_nodes_container ON nodes(container_id);
CREATE INDEX IF NOT EXISTS idx_nodes_type ON nodes(node_type);

-- Referential integrity is application-managed; no foreign keys.
CREATE TABLE IF NOT EXISTS mentions (
    node_id          TEXT NOT NULL,
    mentions_node_id TEXT NOT NULL,
    PRIMARY KEY (node_id, mentions_node_id)
);

CREATE INDEX IF NOT EXISTS idx_mentions_target ON mentions(mentions_node_id);
`

const nodeColumns = "id, node_type, content, parent_id, container_id, before_sibling_id, version, created_at, modified_at, properties, embedding"

// Store is the SQLite-backed node store. Safe for concurrent use; all callers
// share the one underlying connection pool.
type Store struct {
	db     *sql.DB
	logger *zap.Logger

	// testHookMidDelete, when set, runs inside the cascade transaction after
	// each row delete. Returning an error aborts the transaction.
	testHookMidDelete func(deletedSoFar int) error
}

// Compile-time interface check
var _ ports.NodeStore = (*Store)(nil)

// Open opens (creating if necessary) the database at path.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, pkgerrors.NewDatabaseError("create database directory", err)
		}
	}
	return open(path+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate", logger)
}

// OpenInMemory opens a private in-memory database, used by tests.
func OpenInMemory(logger *zap.Logger) (*Store, error) {
	s, err := open(":memory:?_busy_timeout=5000&_txlock=immediate", logger)
	if err != nil {
		return nil, err
	}
	// An in-memory database exists per connection; pin the pool to one so
	// every caller sees the same data.
	s.db.SetMaxOpenConns(1)
	return s, nil
}

func open(dsn string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("open", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		db.Close()
		return nil, pkgerrors.NewDatabaseError("set synchronous pragma", err)
	}
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, pkgerrors.NewDatabaseError("create schema", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, pkgerrors.NewDatabaseError("ping", err)
	}

	logger.Info("node store opened")
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the node with the given id, or a not-found error.
func (s *Store) Get(ctx context.Context, id string) (*entities.Node, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+nodeColumns+" FROM nodes WHERE id = ?", id)

	node, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, pkgerrors.NewNotFoundError(fmt.Sprintf("node %s", id))
	}
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("get", err)
	}
	return node, nil
}

// Put is the sole mutation primitive. expectedVersion 0 inserts the node with
// version 1; any other value applies a compare-and-swap update that only
// succeeds while the stored version still matches. On mismatch nothing is
// written and a version conflict is returned.
func (s *Store) Put(ctx context.Context, node *entities.Node, expectedVersion int64) (*entities.Node, error) {
	props, err := marshalProperties(node.Properties)
	if err != nil {
		return nil, err
	}

	stored := node.Clone()
	stored.ModifiedAt = time.Now().UTC()

	if expectedVersion == 0 {
		stored.Version = 1
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = stored.ModifiedAt
		}
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO nodes (`+nodeColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			stored.ID, stored.NodeType, stored.Content,
			nullable(stored.ParentID), nullable(stored.ContainerID), nullable(stored.BeforeSiblingID),
			stored.Version, formatTime(stored.CreatedAt), formatTime(stored.ModifiedAt),
			props, stored.EmbeddingVector)
		if err != nil {
			if isUniqueViolation(err) {
				actual, verr := s.currentVersion(ctx, stored.ID)
				if verr != nil {
					return nil, verr
				}
				return nil, pkgerrors.NewVersionConflictError(stored.ID, 0, actual)
			}
			return nil, pkgerrors.NewDatabaseError("insert", err)
		}
		return stored, nil
	}

	stored.Version = expectedVersion + 1
	res, err := s.db.ExecContext(ctx, `
		UPDATE nodes
		SET node_type = ?, content = ?, parent_id = ?, container_id = ?,
		    before_sibling_id = ?, version = ?, modified_at = ?, properties = ?, embedding = ?
		WHERE id = ? AND version = ?`,
		stored.NodeType, stored.Content,
		nullable(stored.ParentID), nullable(stored.ContainerID), nullable(stored.BeforeSiblingID),
		stored.Version, formatTime(stored.ModifiedAt), props, stored.EmbeddingVector,
		stored.ID, expectedVersion)
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("update", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("update", err)
	}
	if affected == 0 {
		actual, verr := s.currentVersion(ctx, stored.ID)
		if verr != nil {
			return nil, verr
		}
		return nil, pkgerrors.NewVersionConflictError(stored.ID, expectedVersion, actual)
	}
	return stored, nil
}

// Query returns nodes matching the filter, ordered by creation time. Results
// reflect committed state only: SQLite's WAL snapshot isolation means a
// reader never sees a half-applied insert or cascade.
func (s *Store) Query(ctx context.Context, filter ports.Filter) ([]*entities.Node, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.NodeType != nil {
		where = append(where, "node_type = ?")
		args = append(args, *filter.NodeType)
	}
	if filter.RootsOnly {
		where = append(where, "parent_id IS NULL")
	} else if filter.ParentID != nil {
		where = append(where, "parent_id = ?")
		args = append(args, *filter.ParentID)
	}
	if filter.ContainerID != nil {
		where = append(where, "container_id = ?")
		args = append(args, *filter.ContainerID)
	}

	query := "SELECT " + nodeColumns + " FROM nodes"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("query", err)
	}
	defer rows.Close()

	var nodes []*entities.Node
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, pkgerrors.NewDatabaseError("query scan", err)
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.NewDatabaseError("query", err)
	}
	return nodes, nil
}

// DeleteSubtree removes the node, all of its descendants and every mention
// edge touching the deleted set inside one transaction. Traversal is an
// explicit worklist, so arbitrarily deep hierarchies cannot exhaust the stack.
// When expectedVersion is non-zero the root's stored version must still match
// or nothing is deleted.
func (s *Store) DeleteSubtree(ctx context.Context, id string, expectedVersion int64) (ports.DeleteSummary, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ports.DeleteSummary{}, pkgerrors.NewDatabaseError("begin delete", err)
	}
	defer tx.Rollback()

	var rootVersion int64
	err = tx.QueryRowContext(ctx, "SELECT version FROM nodes WHERE id = ?", id).Scan(&rootVersion)
	if err == sql.ErrNoRows {
		return ports.DeleteSummary{}, pkgerrors.NewNotFoundError(fmt.Sprintf("node %s", id))
	}
	if err != nil {
		return ports.DeleteSummary{}, pkgerrors.NewDatabaseError("delete lookup", err)
	}
	if expectedVersion != 0 && rootVersion != expectedVersion {
		return ports.DeleteSummary{}, pkgerrors.NewVersionConflictError(id, expectedVersion, rootVersion)
	}

	// Collect the subtree breadth-first; deletion then runs in reverse so
	// children always go before their parent.
	doomed := []string{id}
	for frontier := []string{id}; len(frontier) > 0; {
		next := frontier[0]
		frontier = frontier[1:]

		rows, err := tx.QueryContext(ctx, "SELECT id FROM nodes WHERE parent_id = ?", next)
		if err != nil {
			return ports.DeleteSummary{}, pkgerrors.NewDatabaseError("delete traversal", err)
		}
		for rows.Next() {
			var child string
			if err := rows.Scan(&child); err != nil {
				rows.Close()
				return ports.DeleteSummary{}, pkgerrors.NewDatabaseError("delete traversal", err)
			}
			doomed = append(doomed, child)
			frontier = append(frontier, child)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return ports.DeleteSummary{}, pkgerrors.NewDatabaseError("delete traversal", err)
		}
		rows.Close()
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(doomed)), ",")
	args := make([]interface{}, 0, len(doomed)*2)
	for _, d := range doomed {
		args = append(args, d)
	}
	for _, d := range doomed {
		args = append(args, d)
	}

	res, err := tx.ExecContext(ctx,
		"DELETE FROM mentions WHERE node_id IN ("+placeholders+") OR mentions_node_id IN ("+placeholders+")",
		args...)
	if err != nil {
		return ports.DeleteSummary{}, pkgerrors.NewDatabaseError("delete mentions", err)
	}
	mentionCount, _ := res.RowsAffected()

	summary := ports.DeleteSummary{MentionsDeleted: int(mentionCount)}
	for i := len(doomed) - 1; i >= 0; i-- {
		if _, err := tx.ExecContext(ctx, "DELETE FROM nodes WHERE id = ?", doomed[i]); err != nil {
			return ports.DeleteSummary{}, pkgerrors.NewDatabaseError("delete node", err)
		}
		summary.NodesDeleted++
		if s.testHookMidDelete != nil {
			if err := s.testHookMidDelete(summary.NodesDeleted); err != nil {
				return ports.DeleteSummary{}, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return ports.DeleteSummary{}, pkgerrors.NewDatabaseError("commit delete", err)
	}

	s.logger.Info("subtree deleted",
		zap.String("rootID", id),
		zap.Int("nodes", summary.NodesDeleted),
		zap.Int("mentions", summary.MentionsDeleted),
	)
	return summary, nil
}

// ReplaceMentions replaces the outgoing mention edges of a node with the given
// target set, atomically.
func (s *Store) ReplaceMentions(ctx context.Context, nodeID string, targets []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return pkgerrors.NewDatabaseError("begin mentions", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM mentions WHERE node_id = ?", nodeID); err != nil {
		return pkgerrors.NewDatabaseError("clear mentions", err)
	}
	for _, target := range targets {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO mentions (node_id, mentions_node_id) VALUES (?, ?)",
			nodeID, target); err != nil {
			return pkgerrors.NewDatabaseError("insert mention", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return pkgerrors.NewDatabaseError("commit mentions", err)
	}
	return nil
}

// MentionsFrom returns the ids a node's content references.
func (s *Store) MentionsFrom(ctx context.Context, nodeID string) ([]string, error) {
	return s.mentionColumn(ctx,
		"SELECT mentions_node_id FROM mentions WHERE node_id = ? ORDER BY mentions_node_id", nodeID)
}

// Backlinks returns the ids of nodes whose content references the given node.
func (s *Store) Backlinks(ctx context.Context, nodeID string) ([]string, error) {
	return s.mentionColumn(ctx,
		"SELECT node_id FROM mentions WHERE mentions_node_id = ? ORDER BY node_id", nodeID)
}

func (s *Store) mentionColumn(ctx context.Context, query, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("mentions query", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, pkgerrors.NewDatabaseError("mentions scan", err)
		}
		ids = append(ids, v)
	}
	return ids, rows.Err()
}

func (s *Store) currentVersion(ctx context.Context, id string) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, "SELECT version FROM nodes WHERE id = ?", id).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, pkgerrors.NewNotFoundError(fmt.Sprintf("node %s", id))
	}
	if err != nil {
		return 0, pkgerrors.NewDatabaseError("version lookup", err)
	}
	return v, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNode(row rowScanner) (*entities.Node, error) {
	var (
		node                         entities.Node
		parentID, containerID        sql.NullString
		beforeSiblingID              sql.NullString
		createdAt, modifiedAt, props string
		embedding                    []byte
	)

	err := row.Scan(&node.ID, &node.NodeType, &node.Content,
		&parentID, &containerID, &beforeSiblingID,
		&node.Version, &createdAt, &modifiedAt, &props, &embedding)
	if err != nil {
		return nil, err
	}

	if parentID.Valid {
		node.ParentID = &parentID.String
	}
	if containerID.Valid {
		node.ContainerID = &containerID.String
	}
	if beforeSiblingID.Valid {
		node.BeforeSiblingID = &beforeSiblingID.String
	}
	if node.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if node.ModifiedAt, err = parseTime(modifiedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(props), &node.Properties); err != nil {
		return nil, fmt.Errorf("malformed properties for node %s: %w", node.ID, err)
	}
	if len(embedding) > 0 {
		node.EmbeddingVector = embedding
	}
	return &node, nil
}

func marshalProperties(props map[string]interface{}) (string, error) {
	if props == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(props)
	if err != nil {
		return "", pkgerrors.NewValidationError("properties are not JSON-serializable").WithCause(err)
	}
	return string(raw), nil
}

func nullable(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func isUniqueViolation(err error) bool {
	if se, ok := err.(sqlite3.Error); ok {
		return se.Code == sqlite3.ErrConstraint
	}
	return false
}
