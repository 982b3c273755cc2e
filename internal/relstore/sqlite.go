package relstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore implements Store on an embedded SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenSQLite opens (or creates) the relation database at path and applies
// the schema. ":memory:" is accepted for testing.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// modernc's driver takes pragmas via _pragma=name(value); the mattn
	// style _journal_mode=... parameters would be silently ignored.
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Serialize access through a single connection. modernc's sqlite is
	// in-process; a single writer avoids SQLITE_BUSY under concurrency.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Debug("relation store opened", zap.String("path", path))
	return s, nil
}

// createTables applies the schema, including the member-count triggers.
func (s *SQLiteStore) createTables(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS access_transitions (
		from_id             TEXT NOT NULL,
		to_id               TEXT NOT NULL,
		transition_count    INTEGER NOT NULL DEFAULT 1,
		avg_seconds_between REAL NOT NULL DEFAULT 0,
		last_transition_at  INTEGER NOT NULL,
		session_id          TEXT,
		PRIMARY KEY (from_id, to_id)
	);
	CREATE INDEX IF NOT EXISTS idx_transitions_from ON access_transitions(from_id);

	CREATE TABLE IF NOT EXISTS hot_paths (
		path_hash        TEXT PRIMARY KEY,
		first_id         TEXT NOT NULL,
		memory_ids       TEXT NOT NULL,
		name             TEXT,
		access_count     INTEGER NOT NULL DEFAULT 1,
		heat_score       REAL NOT NULL DEFAULT 1.0,
		peak_heat_score  REAL NOT NULL DEFAULT 1.0,
		is_cached        INTEGER NOT NULL DEFAULT 0,
		cached_at        INTEGER,
		cache_hits       INTEGER NOT NULL DEFAULT 0,
		dominant_tags    TEXT,
		created_at       INTEGER NOT NULL,
		last_accessed_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_hot_paths_first ON hot_paths(first_id);
	CREATE INDEX IF NOT EXISTS idx_hot_paths_heat ON hot_paths(heat_score);

	CREATE TABLE IF NOT EXISTS quadrants (
		id           TEXT PRIMARY KEY,
		code         TEXT NOT NULL UNIQUE,
		centroid     BLOB,
		bounds       TEXT,
		parent_id    TEXT,
		depth        INTEGER NOT NULL DEFAULT 0,
		member_count INTEGER NOT NULL DEFAULT 0,
		capacity     INTEGER NOT NULL DEFAULT 1000,
		tags         TEXT,
		created_at   INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS quadrant_assignments (
		memory_id            TEXT NOT NULL,
		quadrant_id          TEXT NOT NULL,
		position             TEXT,
		distance_to_centroid REAL NOT NULL DEFAULT 0,
		method               TEXT NOT NULL DEFAULT 'auto',
		assigned_at          INTEGER NOT NULL,
		PRIMARY KEY (memory_id, quadrant_id)
	);
	CREATE INDEX IF NOT EXISTS idx_quadrant_assignments_quadrant ON quadrant_assignments(quadrant_id);

	CREATE TRIGGER IF NOT EXISTS quadrant_assignments_after_insert
	AFTER INSERT ON quadrant_assignments BEGIN
		UPDATE quadrants SET member_count = member_count + 1 WHERE id = NEW.quadrant_id;
	END;

	CREATE TRIGGER IF NOT EXISTS quadrant_assignments_after_delete
	AFTER DELETE ON quadrant_assignments BEGIN
		UPDATE quadrants SET member_count = member_count - 1 WHERE id = OLD.quadrant_id;
	END;

	CREATE TABLE IF NOT EXISTS clusters (
		id               TEXT PRIMARY KEY,
		name             TEXT,
		description      TEXT,
		cluster_type     TEXT NOT NULL DEFAULT 'semantic',
		centroid         BLOB,
		member_count     INTEGER NOT NULL DEFAULT 0,
		coherence_score  REAL,
		silhouette_score REAL,
		top_tags         TEXT,
		parent_id        TEXT,
		stable           INTEGER NOT NULL DEFAULT 0,
		created_at       INTEGER NOT NULL,
		updated_at       INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cluster_assignments (
		memory_id            TEXT NOT NULL,
		cluster_id           TEXT NOT NULL,
		membership_score     REAL NOT NULL DEFAULT 0,
		distance_to_centroid REAL NOT NULL DEFAULT 0,
		assigned_at          INTEGER NOT NULL,
		PRIMARY KEY (memory_id, cluster_id)
	);
	CREATE INDEX IF NOT EXISTS idx_cluster_assignments_cluster ON cluster_assignments(cluster_id);

	CREATE TRIGGER IF NOT EXISTS cluster_assignments_after_insert
	AFTER INSERT ON cluster_assignments BEGIN
		UPDATE clusters SET member_count = member_count + 1 WHERE id = NEW.cluster_id;
	END;

	CREATE TRIGGER IF NOT EXISTS cluster_assignments_after_delete
	AFTER DELETE ON cluster_assignments BEGIN
		UPDATE clusters SET member_count = member_count - 1 WHERE id = OLD.cluster_id;
	END;
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating tables: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- transitions ---

// IncrementTransition upserts a transition pair.
//
// The ON CONFLICT arithmetic reads the pre-update row, so the running average
// folds the sample in with the pre-increment count:
// newAvg = (oldAvg*oldCount + sample) / (oldCount+1).
func (s *SQLiteStore) IncrementTransition(ctx context.Context, from, to string, sampleSeconds float64, sessionID string) error {
	if from == "" || to == "" {
		return ErrEmptyMemoryID
	}
	if from == to {
		return fmt.Errorf("self-transitions are never recorded: %s", from)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO access_transitions (from_id, to_id, transition_count, avg_seconds_between, last_transition_at, session_id)
		VALUES (?, ?, 1, ?, ?, ?)
		ON CONFLICT(from_id, to_id) DO UPDATE SET
			avg_seconds_between = (avg_seconds_between * transition_count + excluded.avg_seconds_between) / (transition_count + 1),
			transition_count    = transition_count + 1,
			last_transition_at  = excluded.last_transition_at,
			session_id          = COALESCE(excluded.session_id, session_id)`,
		from, to, sampleSeconds, time.Now().Unix(), nullString(sessionID))
	if err != nil {
		return fmt.Errorf("incrementing transition %s->%s: %w", from, to, err)
	}
	return nil
}

// TransitionsFrom returns outgoing transitions ordered by count descending.
func (s *SQLiteStore) TransitionsFrom(ctx context.Context, from string) ([]AccessTransition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT from_id, to_id, transition_count, avg_seconds_between, last_transition_at, COALESCE(session_id, '')
		FROM access_transitions
		WHERE from_id = ?
		ORDER BY transition_count DESC, to_id ASC`, from)
	if err != nil {
		return nil, fmt.Errorf("querying transitions from %s: %w", from, err)
	}
	defer rows.Close()

	var out []AccessTransition
	for rows.Next() {
		var t AccessTransition
		var lastAt int64
		if err := rows.Scan(&t.FromID, &t.ToID, &t.Count, &t.AvgSecondsBetween, &lastAt, &t.SessionID); err != nil {
			return nil, fmt.Errorf("scanning transition: %w", err)
		}
		t.LastTransitionAt = time.Unix(lastAt, 0)
		out = append(out, t)
	}
	return out, rows.Err()
}

// TransitionCount returns the count for a pair, 0 when unobserved.
func (s *SQLiteStore) TransitionCount(ctx context.Context, from, to string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT transition_count FROM access_transitions WHERE from_id = ? AND to_id = ?`,
		from, to).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("querying transition count %s->%s: %w", from, to, err)
	}
	return count, nil
}

// --- hot paths ---

// UpsertHotPath inserts or bumps a hot path, keyed by path hash.
// Returns true when the path was newly created.
func (s *SQLiteStore) UpsertHotPath(ctx context.Context, path *HotPath) (bool, error) {
	if path == nil || path.PathHash == "" {
		return false, ErrEmptyPathHash
	}
	if len(path.MemoryIDs) == 0 {
		return false, fmt.Errorf("hot path must have member ids")
	}

	idsJSON, err := json.Marshal(path.MemoryIDs)
	if err != nil {
		return false, fmt.Errorf("encoding memory ids: %w", err)
	}
	tagsJSON, err := json.Marshal(path.DominantTags)
	if err != nil {
		return false, fmt.Errorf("encoding dominant tags: %w", err)
	}

	now := time.Now().Unix()
	var accessCount int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO hot_paths (path_hash, first_id, memory_ids, name, access_count, heat_score, peak_heat_score, dominant_tags, created_at, last_accessed_at)
		VALUES (?, ?, ?, ?, 1, 1.0, 1.0, ?, ?, ?)
		ON CONFLICT(path_hash) DO UPDATE SET
			access_count     = access_count + 1,
			heat_score       = min(heat_score + 0.5, 100.0),
			peak_heat_score  = max(peak_heat_score, min(heat_score + 0.5, 100.0)),
			last_accessed_at = excluded.last_accessed_at
		RETURNING access_count`,
		path.PathHash, path.MemoryIDs[0], string(idsJSON), nullString(path.Name), string(tagsJSON), now, now).Scan(&accessCount)
	if err != nil {
		return false, fmt.Errorf("upserting hot path %s: %w", path.PathHash, err)
	}

	return accessCount == 1, nil
}

const hotPathColumns = `path_hash, memory_ids, COALESCE(name, ''), access_count, heat_score, peak_heat_score,
	is_cached, cached_at, cache_hits, dominant_tags, created_at, last_accessed_at`

// GetHotPath returns a hot path by hash, nil when absent.
func (s *SQLiteStore) GetHotPath(ctx context.Context, hash string) (*HotPath, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+hotPathColumns+` FROM hot_paths WHERE path_hash = ?`, hash)

	path, err := scanHotPath(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying hot path %s: %w", hash, err)
	}
	return path, nil
}

// MarkCached flags a path as cached as of now.
func (s *SQLiteStore) MarkCached(ctx context.Context, hash string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE hot_paths SET is_cached = 1, cached_at = ? WHERE path_hash = ?`,
		time.Now().Unix(), hash)
	if err != nil {
		return fmt.Errorf("marking path %s cached: %w", hash, err)
	}
	return nil
}

// IncrementCacheHits bumps the cache hit counter for a path.
func (s *SQLiteStore) IncrementCacheHits(ctx context.Context, hash string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE hot_paths SET cache_hits = cache_hits + 1 WHERE path_hash = ?`, hash)
	if err != nil {
		return fmt.Errorf("incrementing cache hits for %s: %w", hash, err)
	}
	return nil
}

// ListDecayable returns paths with heat above the floor.
func (s *SQLiteStore) ListDecayable(ctx context.Context, floor float64) ([]HotPath, error) {
	return s.queryHotPaths(ctx,
		`SELECT `+hotPathColumns+` FROM hot_paths WHERE heat_score > ?`, floor)
}

// SetHeat overwrites a path's heat score.
func (s *SQLiteStore) SetHeat(ctx context.Context, hash string, heat float64) error {
	if math.IsNaN(heat) || math.IsInf(heat, 0) {
		return fmt.Errorf("invalid heat score %f for %s", heat, hash)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE hot_paths SET heat_score = ? WHERE path_hash = ?`, heat, hash)
	if err != nil {
		return fmt.Errorf("setting heat for %s: %w", hash, err)
	}
	return nil
}

// PruneHotPaths deletes paths with heat at or below minHeat.
func (s *SQLiteStore) PruneHotPaths(ctx context.Context, minHeat float64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM hot_paths WHERE heat_score <= ?`, minHeat)
	if err != nil {
		return 0, fmt.Errorf("pruning hot paths: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned paths: %w", err)
	}
	return n, nil
}

// ListUncachedAbove returns uncached paths matching the caching policy thresholds.
func (s *SQLiteStore) ListUncachedAbove(ctx context.Context, minHeat float64, minAccess int64, limit int) ([]HotPath, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.queryHotPaths(ctx, `
		SELECT `+hotPathColumns+` FROM hot_paths
		WHERE is_cached = 0 AND heat_score > ? AND access_count >= ?
		ORDER BY heat_score DESC
		LIMIT ?`, minHeat, minAccess, limit)
}

// ListPathsByFirstID returns paths starting with the given id, heat
// descending. limit <= 0 means no limit.
func (s *SQLiteStore) ListPathsByFirstID(ctx context.Context, firstID string, limit int) ([]HotPath, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.queryHotPaths(ctx, `
		SELECT `+hotPathColumns+` FROM hot_paths
		WHERE first_id = ?
		ORDER BY heat_score DESC
		LIMIT ?`, firstID, limit)
}

func (s *SQLiteStore) queryHotPaths(ctx context.Context, query string, args ...any) ([]HotPath, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying hot paths: %w", err)
	}
	defer rows.Close()

	var out []HotPath
	for rows.Next() {
		path, err := scanHotPath(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning hot path: %w", err)
		}
		out = append(out, *path)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHotPath(row rowScanner) (*HotPath, error) {
	var (
		p          HotPath
		idsJSON    string
		tagsJSON   sql.NullString
		isCached   int
		cachedAt   sql.NullInt64
		createdAt  int64
		accessedAt int64
	)
	err := row.Scan(&p.PathHash, &idsJSON, &p.Name, &p.AccessCount, &p.HeatScore, &p.PeakHeatScore,
		&isCached, &cachedAt, &p.CacheHits, &tagsJSON, &createdAt, &accessedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(idsJSON), &p.MemoryIDs); err != nil {
		return nil, fmt.Errorf("decoding memory ids: %w", err)
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &p.DominantTags); err != nil {
			return nil, fmt.Errorf("decoding dominant tags: %w", err)
		}
	}

	p.IsCached = isCached != 0
	if cachedAt.Valid {
		t := time.Unix(cachedAt.Int64, 0)
		p.CachedAt = &t
	}
	p.CreatedAt = time.Unix(createdAt, 0)
	p.LastAccessedAt = time.Unix(accessedAt, 0)
	return &p, nil
}

// --- quadrants ---

// CreateQuadrant inserts a new quadrant.
func (s *SQLiteStore) CreateQuadrant(ctx context.Context, q *Quadrant) error {
	if q == nil || q.ID == "" {
		return ErrEmptyQuadrantID
	}
	if q.Code == "" {
		return fmt.Errorf("quadrant code cannot be empty")
	}

	boundsJSON, err := marshalOrNil(q.Bounds)
	if err != nil {
		return fmt.Errorf("encoding bounds: %w", err)
	}
	tagsJSON, err := marshalOrNil(q.Tags)
	if err != nil {
		return fmt.Errorf("encoding tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO quadrants (id, code, centroid, bounds, parent_id, depth, member_count, capacity, tags, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		q.ID, q.Code, encodeVector(q.Centroid), boundsJSON, nullString(q.ParentID),
		q.Depth, q.Capacity, tagsJSON, time.Now().Unix())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: quadrants.code") {
			return fmt.Errorf("%w: %s", ErrDuplicateCode, q.Code)
		}
		return fmt.Errorf("creating quadrant %s: %w", q.Code, err)
	}
	return nil
}

const quadrantColumns = `id, code, centroid, bounds, COALESCE(parent_id, ''), depth, member_count, capacity, tags, created_at`

// GetQuadrant returns a quadrant by id, nil when absent.
func (s *SQLiteStore) GetQuadrant(ctx context.Context, id string) (*Quadrant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+quadrantColumns+` FROM quadrants WHERE id = ?`, id)

	q, err := scanQuadrant(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying quadrant %s: %w", id, err)
	}
	return q, nil
}

// ListQuadrants returns all quadrants ordered by depth then code.
func (s *SQLiteStore) ListQuadrants(ctx context.Context) ([]Quadrant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+quadrantColumns+` FROM quadrants ORDER BY depth ASC, code ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing quadrants: %w", err)
	}
	defer rows.Close()

	var out []Quadrant
	for rows.Next() {
		q, err := scanQuadrant(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning quadrant: %w", err)
		}
		out = append(out, *q)
	}
	return out, rows.Err()
}

func scanQuadrant(row rowScanner) (*Quadrant, error) {
	var (
		q          Quadrant
		centroid   []byte
		boundsJSON sql.NullString
		tagsJSON   sql.NullString
		createdAt  int64
	)
	err := row.Scan(&q.ID, &q.Code, &centroid, &boundsJSON, &q.ParentID,
		&q.Depth, &q.MemberCount, &q.Capacity, &tagsJSON, &createdAt)
	if err != nil {
		return nil, err
	}

	q.Centroid = decodeVector(centroid)
	if boundsJSON.Valid && boundsJSON.String != "" {
		var r Rect
		if err := json.Unmarshal([]byte(boundsJSON.String), &r); err != nil {
			return nil, fmt.Errorf("decoding bounds: %w", err)
		}
		q.Bounds = &r
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &q.Tags); err != nil {
			return nil, fmt.Errorf("decoding tags: %w", err)
		}
	}
	q.CreatedAt = time.Unix(createdAt, 0)
	return &q, nil
}

// UpsertQuadrantAssignment upserts an assignment keyed by (memory, quadrant).
func (s *SQLiteStore) UpsertQuadrantAssignment(ctx context.Context, a *QuadrantAssignment) error {
	if a == nil || a.MemoryID == "" {
		return ErrEmptyMemoryID
	}
	if a.QuadrantID == "" {
		return ErrEmptyQuadrantID
	}

	posJSON, err := marshalOrNil(a.Position)
	if err != nil {
		return fmt.Errorf("encoding position: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO quadrant_assignments (memory_id, quadrant_id, position, distance_to_centroid, method, assigned_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(memory_id, quadrant_id) DO UPDATE SET
			position             = excluded.position,
			distance_to_centroid = excluded.distance_to_centroid,
			method               = excluded.method,
			assigned_at          = excluded.assigned_at`,
		a.MemoryID, a.QuadrantID, posJSON, a.DistanceToCentroid, string(a.Method), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("upserting quadrant assignment %s/%s: %w", a.MemoryID, a.QuadrantID, err)
	}
	return nil
}

// DeleteQuadrantAssignment removes an assignment if present.
func (s *SQLiteStore) DeleteQuadrantAssignment(ctx context.Context, memoryID, quadrantID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM quadrant_assignments WHERE memory_id = ? AND quadrant_id = ?`,
		memoryID, quadrantID)
	if err != nil {
		return fmt.Errorf("deleting quadrant assignment %s/%s: %w", memoryID, quadrantID, err)
	}
	return nil
}

// QuadrantAssignmentsFor returns all assignments held by a memory.
func (s *SQLiteStore) QuadrantAssignmentsFor(ctx context.Context, memoryID string) ([]QuadrantAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT memory_id, quadrant_id, position, distance_to_centroid, method, assigned_at
		FROM quadrant_assignments
		WHERE memory_id = ?`, memoryID)
	if err != nil {
		return nil, fmt.Errorf("querying assignments for %s: %w", memoryID, err)
	}
	defer rows.Close()

	var out []QuadrantAssignment
	for rows.Next() {
		var (
			a          QuadrantAssignment
			posJSON    sql.NullString
			method     string
			assignedAt int64
		)
		if err := rows.Scan(&a.MemoryID, &a.QuadrantID, &posJSON, &a.DistanceToCentroid, &method, &assignedAt); err != nil {
			return nil, fmt.Errorf("scanning assignment: %w", err)
		}
		if posJSON.Valid && posJSON.String != "" {
			var p Point
			if err := json.Unmarshal([]byte(posJSON.String), &p); err != nil {
				return nil, fmt.Errorf("decoding position: %w", err)
			}
			a.Position = &p
		}
		a.Method = AssignmentMethod(method)
		a.AssignedAt = time.Unix(assignedAt, 0)
		out = append(out, a)
	}
	return out, rows.Err()
}

// AssignedMemoryIDs returns distinct memory ids with at least one quadrant assignment.
func (s *SQLiteStore) AssignedMemoryIDs(ctx context.Context) ([]string, error) {
	return s.queryIDs(ctx, `SELECT DISTINCT memory_id FROM quadrant_assignments`)
}

// --- clusters ---

// CreateCluster inserts a new cluster.
func (s *SQLiteStore) CreateCluster(ctx context.Context, c *Cluster) error {
	if c == nil || c.ID == "" {
		return ErrEmptyClusterID
	}
	if !ValidClusterType(c.Type) {
		return fmt.Errorf("invalid cluster type %q", c.Type)
	}

	tagsJSON, err := marshalOrNil(c.TopTags)
	if err != nil {
		return fmt.Errorf("encoding top tags: %w", err)
	}

	now := time.Now().Unix()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO clusters (id, name, description, cluster_type, centroid, member_count,
			coherence_score, silhouette_score, top_tags, parent_id, stable, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, nullString(c.Name), nullString(c.Description), string(c.Type), encodeVector(c.Centroid),
		c.CoherenceScore, c.SilhouetteScore, tagsJSON, nullString(c.ParentID), boolToInt(c.Stable), now, now)
	if err != nil {
		return fmt.Errorf("creating cluster %s: %w", c.ID, err)
	}
	return nil
}

const clusterColumns = `id, COALESCE(name, ''), COALESCE(description, ''), cluster_type, centroid, member_count,
	coherence_score, silhouette_score, top_tags, COALESCE(parent_id, ''), stable, created_at, updated_at`

// GetCluster returns a cluster by id, nil when absent.
func (s *SQLiteStore) GetCluster(ctx context.Context, id string) (*Cluster, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+clusterColumns+` FROM clusters WHERE id = ?`, id)

	c, err := scanCluster(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying cluster %s: %w", id, err)
	}
	return c, nil
}

// ListClusters returns all clusters ordered by creation time.
func (s *SQLiteStore) ListClusters(ctx context.Context) ([]Cluster, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+clusterColumns+` FROM clusters ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing clusters: %w", err)
	}
	defer rows.Close()

	var out []Cluster
	for rows.Next() {
		c, err := scanCluster(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning cluster: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func scanCluster(row rowScanner) (*Cluster, error) {
	var (
		c          Cluster
		clusterTyp string
		centroid   []byte
		coherence  sql.NullFloat64
		silhouette sql.NullFloat64
		tagsJSON   sql.NullString
		stable     int
		createdAt  int64
		updatedAt  int64
	)
	err := row.Scan(&c.ID, &c.Name, &c.Description, &clusterTyp, &centroid, &c.MemberCount,
		&coherence, &silhouette, &tagsJSON, &c.ParentID, &stable, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	c.Type = ClusterType(clusterTyp)
	c.Centroid = decodeVector(centroid)
	if coherence.Valid {
		c.CoherenceScore = &coherence.Float64
	}
	if silhouette.Valid {
		c.SilhouetteScore = &silhouette.Float64
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &c.TopTags); err != nil {
			return nil, fmt.Errorf("decoding top tags: %w", err)
		}
	}
	c.Stable = stable != 0
	c.CreatedAt = time.Unix(createdAt, 0)
	c.UpdatedAt = time.Unix(updatedAt, 0)
	return &c, nil
}

// SetClusterCentroid overwrites a cluster's centroid.
func (s *SQLiteStore) SetClusterCentroid(ctx context.Context, id string, centroid []float32) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE clusters SET centroid = ?, updated_at = ? WHERE id = ?`,
		encodeVector(centroid), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("setting centroid for cluster %s: %w", id, err)
	}
	return nil
}

// SetClusterLabel overwrites a cluster's name and top tags.
func (s *SQLiteStore) SetClusterLabel(ctx context.Context, id, name string, topTags []string) error {
	tagsJSON, err := marshalOrNil(topTags)
	if err != nil {
		return fmt.Errorf("encoding top tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE clusters SET name = ?, top_tags = ?, updated_at = ? WHERE id = ?`,
		nullString(name), tagsJSON, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("labeling cluster %s: %w", id, err)
	}
	return nil
}

// UpsertClusterAssignment upserts an assignment keyed by (memory, cluster).
func (s *SQLiteStore) UpsertClusterAssignment(ctx context.Context, a *ClusterAssignment) error {
	if a == nil || a.MemoryID == "" {
		return ErrEmptyMemoryID
	}
	if a.ClusterID == "" {
		return ErrEmptyClusterID
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cluster_assignments (memory_id, cluster_id, membership_score, distance_to_centroid, assigned_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(memory_id, cluster_id) DO UPDATE SET
			membership_score     = excluded.membership_score,
			distance_to_centroid = excluded.distance_to_centroid,
			assigned_at          = excluded.assigned_at`,
		a.MemoryID, a.ClusterID, a.MembershipScore, a.DistanceToCentroid, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("upserting cluster assignment %s/%s: %w", a.MemoryID, a.ClusterID, err)
	}
	return nil
}

// ClusterMembers returns assignments for a cluster.
func (s *SQLiteStore) ClusterMembers(ctx context.Context, clusterID string) ([]ClusterAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT memory_id, cluster_id, membership_score, distance_to_centroid, assigned_at
		FROM cluster_assignments
		WHERE cluster_id = ?`, clusterID)
	if err != nil {
		return nil, fmt.Errorf("querying members of cluster %s: %w", clusterID, err)
	}
	defer rows.Close()

	var out []ClusterAssignment
	for rows.Next() {
		var (
			a          ClusterAssignment
			assignedAt int64
		)
		if err := rows.Scan(&a.MemoryID, &a.ClusterID, &a.MembershipScore, &a.DistanceToCentroid, &assignedAt); err != nil {
			return nil, fmt.Errorf("scanning cluster assignment: %w", err)
		}
		a.AssignedAt = time.Unix(assignedAt, 0)
		out = append(out, a)
	}
	return out, rows.Err()
}

// ClusteredMemoryIDs returns distinct memory ids with at least one cluster assignment.
func (s *SQLiteStore) ClusteredMemoryIDs(ctx context.Context) ([]string, error) {
	return s.queryIDs(ctx, `SELECT DISTINCT memory_id FROM cluster_assignments`)
}

// --- helpers ---

func (s *SQLiteStore) queryIDs(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// encodeVector packs a float32 vector into little-endian bytes.
// Returns nil for an empty vector so the column stores NULL.
func encodeVector(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeVector unpacks little-endian bytes into a float32 vector.
func decodeVector(buf []byte) []float32 {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// nullString maps an empty string to NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// marshalOrNil JSON-encodes v, mapping nil pointers/empty slices to NULL.
func marshalOrNil(v any) (any, error) {
	switch t := v.(type) {
	case *Rect:
		if t == nil {
			return nil, nil
		}
	case *Point:
		if t == nil {
			return nil, nil
		}
	case []string:
		if len(t) == 0 {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

var _ Store = (*SQLiteStore)(nil)
