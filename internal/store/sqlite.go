package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteEntityStore implements EntityStore on a private in-memory SQLite
// database. Nothing is written to disk; the data lives as long as the store.
type SQLiteEntityStore struct {
	mu sync.RWMutex
	db *sql.DB
}

// NewSQLiteEntityStore opens a fresh in-memory database and creates the schema.
func NewSQLiteEntityStore(ctx context.Context) (*SQLiteEntityStore, error) {
	// A named shared-cache database survives the pool recycling connections;
	// the random name keeps stores isolated from each other.
	dsn := fmt.Sprintf("file:ecsrepl-%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite works best with single writer
	db.SetConnMaxLifetime(0)

	if err := createSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteEntityStore{db: db}, nil
}

// CheckIntegrity runs SQLite's integrity and foreign key checks over the
// store's database and returns one line per problem.
func (s *SQLiteEntityStore) CheckIntegrity(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return integrityIssues(ctx, s.db)
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// inTx runs fn in a transaction, committing only if fn succeeds.
func (s *SQLiteEntityStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateEntity allocates a fresh ID bound to name.
func (s *SQLiteEntityStore) CreateEntity(ctx context.Context, name string) (EntityID, error) {
	if err := ValidateName(name); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var id EntityID
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities WHERE name = ?`, name).Scan(&n); err != nil {
			return fmt.Errorf("failed to check name: %w", err)
		}
		if n > 0 {
			return fmt.Errorf("entity %q: %w", name, ErrAlreadyExists)
		}

		epoch, err := currentEpoch(ctx, tx)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO entities (name, created_epoch) VALUES (?, ?)`, name, int64(epoch))
		if err != nil {
			return fmt.Errorf("failed to insert entity: %w", err)
		}
		rowID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read entity id: %w", err)
		}
		id = EntityID(rowID)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// RemoveEntity deletes the entity, its attributes and every edge touching it.
func (s *SQLiteEntityStore) RemoveEntity(ctx context.Context, id EntityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		snaps, err := loadSnapshots(ctx, tx, id)
		if err != nil {
			return err
		}
		if len(snaps) == 0 {
			return notFound(id)
		}
		tomb := snaps[0]

		epoch, err := currentEpoch(ctx, tx)
		if err != nil {
			return err
		}

		// Former neighbours lose an edge, so they count as modified
		if _, err := tx.ExecContext(ctx, `
			UPDATE entities SET modified_epoch = ?
			WHERE id IN (
				SELECT parent FROM relations WHERE child = ?
				UNION
				SELECT child FROM relations WHERE parent = ?
			) AND id != ?`, int64(epoch), int64(id), int64(id), int64(id)); err != nil {
			return fmt.Errorf("failed to touch neighbours: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM relations WHERE child = ? OR parent = ?`, int64(id), int64(id)); err != nil {
			return fmt.Errorf("failed to delete relations: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM attributes WHERE entity_id = ?`, int64(id)); err != nil {
			return fmt.Errorf("failed to delete attributes: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, int64(id)); err != nil {
			return fmt.Errorf("failed to delete entity: %w", err)
		}

		attrsJSON, err := json.Marshal(tomb.Attributes)
		if err != nil {
			return fmt.Errorf("failed to marshal attributes: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tombstones (id, name, attributes, created_epoch, modified_epoch, removed_epoch)
			VALUES (?, ?, ?, ?, ?, ?)`,
			int64(id), tomb.Name, string(attrsJSON), int64(tomb.Created), int64(tomb.Modified), int64(epoch)); err != nil {
			return fmt.Errorf("failed to record tombstone: %w", err)
		}
		return nil
	})
}

// Lookup returns the ID of the live entity with the given name.
func (s *SQLiteEntityStore) Lookup(ctx context.Context, name string) (EntityID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM entities WHERE name = ?`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("entity %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up %q: %w", name, err)
	}
	return EntityID(id), nil
}

// Entity returns a snapshot of one live entity.
func (s *SQLiteEntityStore) Entity(ctx context.Context, id EntityID) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps, err := loadSnapshots(ctx, s.db, id)
	if err != nil {
		return Snapshot{}, err
	}
	if len(snaps) == 0 {
		return Snapshot{}, notFound(id)
	}
	return snaps[0], nil
}

// Entities returns every live entity in creation order.
func (s *SQLiteEntityStore) Entities(ctx context.Context) ([]Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return loadSnapshots(ctx, s.db, 0)
}

// SetAttribute creates or overwrites an attribute and marks the owner modified.
func (s *SQLiteEntityStore) SetAttribute(ctx context.Context, id EntityID, name string, value int64) error {
	return s.SetAttributes(ctx, id, Attribute{Name: name, Value: value})
}

// SetAttributes creates or overwrites several attributes in one transaction.
func (s *SQLiteEntityStore) SetAttributes(ctx context.Context, id EntityID, attrs ...Attribute) error {
	for _, a := range attrs {
		if err := ValidateName(a.Name); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := requireEntities(ctx, tx, id); err != nil {
			return err
		}
		if len(attrs) == 0 {
			return nil
		}
		for _, a := range attrs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO attributes (entity_id, name, value) VALUES (?, ?, ?)
				ON CONFLICT (entity_id, name) DO UPDATE SET value = excluded.value`,
				int64(id), a.Name, a.Value); err != nil {
				return fmt.Errorf("failed to set attribute: %w", err)
			}
		}
		return touch(ctx, tx, id)
	})
}

// UpdateAttribute rewrites an existing attribute through fn in one transaction.
func (s *SQLiteEntityStore) UpdateAttribute(ctx context.Context, id EntityID, name string, fn func(cur int64) (int64, error)) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := requireEntities(ctx, tx, id); err != nil {
			return err
		}
		var cur int64
		err := tx.QueryRowContext(ctx,
			`SELECT value FROM attributes WHERE entity_id = ? AND name = ?`, int64(id), name).Scan(&cur)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("entity %d attribute %q: %w", id, name, ErrAttributeMissing)
		}
		if err != nil {
			return fmt.Errorf("failed to read attribute: %w", err)
		}
		if next, err = fn(cur); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE attributes SET value = ? WHERE entity_id = ? AND name = ?`, next, int64(id), name); err != nil {
			return fmt.Errorf("failed to update attribute: %w", err)
		}
		return touch(ctx, tx, id)
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

// GetAttribute reads an attribute without side effects.
func (s *SQLiteEntityStore) GetAttribute(ctx context.Context, id EntityID, name string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := requireEntities(ctx, s.db, id); err != nil {
		return 0, err
	}
	var value int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM attributes WHERE entity_id = ? AND name = ?`, int64(id), name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("entity %d attribute %q: %w", id, name, ErrAttributeMissing)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read attribute: %w", err)
	}
	return value, nil
}

// SetRelation makes parent the only parent of child under rel.
func (s *SQLiteEntityStore) SetRelation(ctx context.Context, rel string, child, parent EntityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := checkEdge(ctx, tx, rel, child, parent); err != nil {
			return err
		}

		// Overwritten parents lose a child
		if _, err := tx.ExecContext(ctx, `
			UPDATE entities SET modified_epoch = (SELECT value FROM store_meta WHERE key = 'epoch')
			WHERE id IN (SELECT parent FROM relations WHERE rel = ? AND child = ? AND parent != ?)`,
			rel, int64(child), int64(parent)); err != nil {
			return fmt.Errorf("failed to touch old parents: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM relations WHERE rel = ? AND child = ?`, rel, int64(child)); err != nil {
			return fmt.Errorf("failed to clear parents: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO relations (rel, child, parent) VALUES (?, ?, ?)`, rel, int64(child), int64(parent)); err != nil {
			return fmt.Errorf("failed to insert relation: %w", err)
		}
		return touch(ctx, tx, child, parent)
	})
}

// LinkRelation adds parent to child's parents under rel. Linking an existing
// edge is a no-op.
func (s *SQLiteEntityStore) LinkRelation(ctx context.Context, rel string, child, parent EntityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := checkEdge(ctx, tx, rel, child, parent); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO relations (rel, child, parent) VALUES (?, ?, ?)`, rel, int64(child), int64(parent))
		if err != nil {
			return fmt.Errorf("failed to insert relation: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		return touch(ctx, tx, child, parent)
	})
}

// RemoveRelation deletes the edge child -> parent under rel.
func (s *SQLiteEntityStore) RemoveRelation(ctx context.Context, rel string, child, parent EntityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := requireEntities(ctx, tx, child, parent); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`DELETE FROM relations WHERE rel = ? AND child = ? AND parent = ?`, rel, int64(child), int64(parent))
		if err != nil {
			return fmt.Errorf("failed to delete relation: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%s %d -> %d: %w", rel, child, parent, ErrRelationMissing)
		}
		return touch(ctx, tx, child, parent)
	})
}

// Parents returns child's parents under rel in creation order.
func (s *SQLiteEntityStore) Parents(ctx context.Context, rel string, child EntityID) ([]EntityID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := requireEntities(ctx, s.db, child); err != nil {
		return nil, err
	}
	return queryIDs(ctx, s.db,
		`SELECT parent FROM relations WHERE rel = ? AND child = ? ORDER BY parent`, rel, int64(child))
}

// Children returns parent's children under rel in creation order.
func (s *SQLiteEntityStore) Children(ctx context.Context, rel string, parent EntityID) ([]EntityID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := requireEntities(ctx, s.db, parent); err != nil {
		return nil, err
	}
	return queryIDs(ctx, s.db,
		`SELECT child FROM relations WHERE rel = ? AND parent = ? ORDER BY child`, rel, int64(parent))
}

// Orphans returns entities with neither parents nor children under rel.
func (s *SQLiteEntityStore) Orphans(ctx context.Context, rel string) ([]EntityID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids, err := queryIDs(ctx, s.db, `
		SELECT id FROM entities e
		WHERE NOT EXISTS (SELECT 1 FROM relations r WHERE r.rel = ? AND (r.child = e.id OR r.parent = e.id))
		ORDER BY id`, rel)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return ids, nil
}

// Dump returns the entities selected by filter in creation order.
func (s *SQLiteEntityStore) Dump(ctx context.Context, filter Filter) ([]Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if filter.Kind == FilterRemoved {
		return loadTombstones(ctx, s.db, filter.Since)
	}
	snaps, err := loadSnapshots(ctx, s.db, 0)
	if err != nil {
		return nil, err
	}
	return filterSnapshots(snaps, filter), nil
}

// TreeDFS walks rel depth-first from each root.
func (s *SQLiteEntityStore) TreeDFS(ctx context.Context, rel string) ([]EntityID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps, err := loadSnapshots(ctx, s.db, 0)
	if err != nil {
		return nil, err
	}
	return newForest(snaps, rel).dfsOrder(), nil
}

// TreeTopo orders rel parents-before-children.
func (s *SQLiteEntityStore) TreeTopo(ctx context.Context, rel string) ([]EntityID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps, err := loadSnapshots(ctx, s.db, 0)
	if err != nil {
		return nil, err
	}
	return newForest(snaps, rel).topo()
}

// Epoch returns the current epoch.
func (s *SQLiteEntityStore) Epoch(ctx context.Context) (Epoch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return currentEpoch(ctx, s.db)
}

// AdvanceEpoch increments the epoch and returns the new value.
func (s *SQLiteEntityStore) AdvanceEpoch(ctx context.Context) (Epoch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var epoch Epoch
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE store_meta SET value = value + 1 WHERE key = 'epoch'`); err != nil {
			return fmt.Errorf("failed to advance epoch: %w", err)
		}
		var err error
		epoch, err = currentEpoch(ctx, tx)
		return err
	})
	return epoch, err
}

// Close closes the database, discarding its contents.
func (s *SQLiteEntityStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Close()
}

func currentEpoch(ctx context.Context, q queryer) (Epoch, error) {
	var epoch int64
	if err := q.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = 'epoch'`).Scan(&epoch); err != nil {
		return 0, fmt.Errorf("failed to read epoch: %w", err)
	}
	return Epoch(epoch), nil
}

// requireEntities returns a wrapped ErrNotFound for the first id that is not live.
func requireEntities(ctx context.Context, q queryer, ids ...EntityID) error {
	for _, id := range ids {
		var n int
		if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities WHERE id = ?`, int64(id)).Scan(&n); err != nil {
			return fmt.Errorf("failed to check entity %d: %w", id, err)
		}
		if n == 0 {
			return notFound(id)
		}
	}
	return nil
}

// touch marks ids modified in the current epoch.
func touch(ctx context.Context, q queryer, ids ...EntityID) error {
	for _, id := range ids {
		if _, err := q.ExecContext(ctx, `
			UPDATE entities SET modified_epoch = (SELECT value FROM store_meta WHERE key = 'epoch')
			WHERE id = ?`, int64(id)); err != nil {
			return fmt.Errorf("failed to mark entity %d modified: %w", id, err)
		}
	}
	return nil
}

// checkEdge validates a prospective edge child -> parent. The recursive CTE
// uses UNION so it terminates even on a malformed cyclic table.
func checkEdge(ctx context.Context, q queryer, rel string, child, parent EntityID) error {
	if err := ValidateName(rel); err != nil {
		return err
	}
	if err := requireEntities(ctx, q, child, parent); err != nil {
		return err
	}
	if child == parent {
		return fmt.Errorf("%s %d -> %d: self-parenting: %w", rel, child, parent, ErrCycleDetected)
	}

	var n int
	err := q.QueryRowContext(ctx, `
		WITH RECURSIVE ancestors(id) AS (
			SELECT ?
			UNION
			SELECT r.parent FROM relations r JOIN ancestors a ON r.child = a.id WHERE r.rel = ?
		)
		SELECT COUNT(*) FROM ancestors WHERE id = ?`, int64(parent), rel, int64(child)).Scan(&n)
	if err != nil {
		return fmt.Errorf("failed to check ancestry: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("%s %d -> %d: %d is a descendant of %d: %w", rel, child, parent, parent, child, ErrCycleDetected)
	}
	return nil
}

func queryIDs(ctx context.Context, q queryer, query string, args ...any) ([]EntityID, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	defer rows.Close()

	var ids []EntityID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, EntityID(id))
	}
	return ids, rows.Err()
}

// loadSnapshots reads live entities in creation order. only = 0 loads all.
func loadSnapshots(ctx context.Context, q queryer, only EntityID) ([]Snapshot, error) {
	where, args := "", []any{}
	if only != 0 {
		where, args = " WHERE id = ?", []any{int64(only)}
	}

	rows, err := q.QueryContext(ctx,
		`SELECT id, name, created_epoch, modified_epoch FROM entities`+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	snaps := make([]Snapshot, 0)
	index := make(map[EntityID]int)
	for rows.Next() {
		var id, created, modified int64
		var name string
		if err := rows.Scan(&id, &name, &created, &modified); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		index[EntityID(id)] = len(snaps)
		snaps = append(snaps, Snapshot{ID: EntityID(id), Name: name, Created: Epoch(created), Modified: Epoch(modified)})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return snaps, nil
	}

	attrWhere := strings.Replace(where, "id", "entity_id", 1)
	rows, err = q.QueryContext(ctx,
		`SELECT entity_id, name, value FROM attributes`+attrWhere+` ORDER BY entity_id, rowid`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query attributes: %w", err)
	}
	for rows.Next() {
		var id, value int64
		var name string
		if err := rows.Scan(&id, &name, &value); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan attribute: %w", err)
		}
		if i, ok := index[EntityID(id)]; ok {
			snaps[i].Attributes = append(snaps[i].Attributes, Attribute{Name: name, Value: value})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	relWhere := ""
	relArgs := []any{}
	if only != 0 {
		relWhere, relArgs = " WHERE child = ? OR parent = ?", []any{int64(only), int64(only)}
	}
	rows, err = q.QueryContext(ctx,
		`SELECT rel, child, parent FROM relations`+relWhere+` ORDER BY rel, child, parent`, relArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to query relations: %w", err)
	}
	defer rows.Close()

	var children []struct {
		rel           string
		parent, child EntityID
	}
	for rows.Next() {
		var rel string
		var child, parent int64
		if err := rows.Scan(&rel, &child, &parent); err != nil {
			return nil, fmt.Errorf("failed to scan relation: %w", err)
		}
		if i, ok := index[EntityID(child)]; ok {
			if snaps[i].Parents == nil {
				snaps[i].Parents = make(map[string][]EntityID)
			}
			snaps[i].Parents[rel] = append(snaps[i].Parents[rel], EntityID(parent))
		}
		children = append(children, struct {
			rel           string
			parent, child EntityID
		}{rel, EntityID(parent), EntityID(child)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Rows are ordered by child, so each parent's children come out in creation order
	for _, edge := range children {
		i, ok := index[edge.parent]
		if !ok {
			continue
		}
		if snaps[i].Children == nil {
			snaps[i].Children = make(map[string][]EntityID)
		}
		snaps[i].Children[edge.rel] = append(snaps[i].Children[edge.rel], edge.child)
	}
	return snaps, nil
}

func loadTombstones(ctx context.Context, q queryer, since Epoch) ([]Snapshot, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, name, attributes, created_epoch, modified_epoch, removed_epoch
		FROM tombstones WHERE removed_epoch > ? ORDER BY seq`, int64(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query tombstones: %w", err)
	}
	defer rows.Close()

	out := make([]Snapshot, 0)
	for rows.Next() {
		var id, created, modified, removed int64
		var name string
		var attrsJSON sql.NullString
		if err := rows.Scan(&id, &name, &attrsJSON, &created, &modified, &removed); err != nil {
			return nil, fmt.Errorf("failed to scan tombstone: %w", err)
		}
		snap := Snapshot{ID: EntityID(id), Name: name, Created: Epoch(created), Modified: Epoch(modified), Removed: Epoch(removed)}
		if attrsJSON.Valid && attrsJSON.String != "" && attrsJSON.String != "null" {
			if err := json.Unmarshal([]byte(attrsJSON.String), &snap.Attributes); err != nil {
				return nil, fmt.Errorf("corrupt tombstone attributes for %d: %w", id, err)
			}
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}
