package searchindex

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/coder/hnsw"
	"github.com/gofrs/flock"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	dierrors "github.com/Aman-CERP/docindex/internal/errors"
)

const (
	localDBFile   = "index.db"
	localLockFile = ".lock"
)

// LocalConfig configures the embedded index.
type LocalConfig struct {
	// Dir holds the SQLite database and the lock file.
	Dir    string
	Logger *slog.Logger
}

// Local is an embedded Service: records and schema live in SQLite, the
// vectors are served from an in-memory HNSW graph rebuilt on open. One
// process may hold a directory at a time.
type Local struct {
	dir    string
	db     *sql.DB
	lock   *flock.Flock
	logger *slog.Logger

	mu     sync.RWMutex
	schema *Schema
	graph  *hnsw.Graph[uint64]

	// Replaced and deleted records leave orphan nodes in the graph; only
	// keys present in keyMap are live.
	idMap   map[string]uint64
	keyMap  map[uint64]string
	groups  map[string][]string
	nextKey uint64

	closed bool
}

var _ Service = (*Local)(nil)

var localTables = []string{
	`CREATE TABLE IF NOT EXISTS index_schema (
		name       TEXT PRIMARY KEY,
		definition TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS records (
		id           TEXT PRIMARY KEY,
		content      TEXT NOT NULL,
		title        TEXT NOT NULL,
		filepath     TEXT NOT NULL,
		url          TEXT NOT NULL,
		chunk_id     TEXT NOT NULL,
		last_updated TEXT NOT NULL,
		group_ids    TEXT NOT NULL,
		tokensize    INTEGER NOT NULL,
		embedding    BLOB NOT NULL
	)`,
}

// OpenLocal opens (or creates) the index stored in cfg.Dir and takes an
// exclusive lock on it. A directory held by another process yields
// ERR_203_INDEX_LOCKED.
func OpenLocal(ctx context.Context, cfg LocalConfig) (*Local, error) {
	if cfg.Dir == "" {
		return nil, dierrors.ConfigError("local index directory is required", nil)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, dierrors.New(dierrors.ErrCodeFilePermission, "failed to create index directory", err).
			WithDetail("dir", cfg.Dir)
	}

	lock := flock.New(filepath.Join(cfg.Dir, localLockFile))
	acquired, err := lock.TryLock()
	if err != nil {
		return nil, dierrors.New(dierrors.ErrCodeFilePermission, "failed to lock index directory", err).
			WithDetail("dir", cfg.Dir)
	}
	if !acquired {
		return nil, dierrors.New(dierrors.ErrCodeIndexLocked, "local index is in use by another process", nil).
			WithDetail("dir", cfg.Dir).
			WithSuggestion("stop the other docindex process or use a different index.data_dir")
	}

	db, err := openLocalDB(ctx, filepath.Join(cfg.Dir, localDBFile))
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	l := &Local{
		dir:    cfg.Dir,
		db:     db,
		lock:   lock,
		logger: logger,
	}
	l.resetGraph(DefaultHNSWConfig())

	if err := l.load(ctx); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}

	logger.Info("local_index_opened",
		slog.String("dir", cfg.Dir),
		slog.Bool("has_schema", l.schema != nil),
		slog.Int("records", len(l.idMap)))
	return l, nil
}

func openLocalDB(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, dierrors.New(dierrors.ErrCodeCorruptIndex, "failed to open index database", err).
			WithDetail("path", path)
	}

	// Single writer to prevent lock contention
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, dierrors.New(dierrors.ErrCodeCorruptIndex, "failed to configure index database", err).
				WithDetail("pragma", pragma)
		}
	}

	var integrity string
	if err := db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&integrity); err != nil || integrity != "ok" {
		_ = db.Close()
		if err == nil {
			err = stderrors.New(integrity)
		}
		return nil, dierrors.New(dierrors.ErrCodeCorruptIndex, "index database failed integrity check", err).
			WithDetail("path", path).
			WithSuggestion("delete the index directory and ingest again")
	}

	for _, stmt := range localTables {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, dierrors.New(dierrors.ErrCodeCorruptIndex, "failed to create index tables", err)
		}
	}
	return db, nil
}

// load reads the stored schema and rebuilds the graph from the records.
func (l *Local) load(ctx context.Context) error {
	var def string
	err := l.db.QueryRowContext(ctx, "SELECT definition FROM index_schema LIMIT 1").Scan(&def)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return dierrors.New(dierrors.ErrCodeCorruptIndex, "failed to read index schema", err)
	}

	var schema Schema
	if err := json.Unmarshal([]byte(def), &schema); err != nil {
		return dierrors.New(dierrors.ErrCodeCorruptIndex, "stored index schema is malformed", err)
	}
	l.schema = &schema
	return l.rebuild(ctx)
}

func (l *Local) resetGraph(cfg HNSWConfig) {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	l.graph = graph
	l.idMap = make(map[string]uint64)
	l.keyMap = make(map[uint64]string)
	l.groups = make(map[string][]string)
	l.nextKey = 0
}

// rebuild recreates the graph from the records table, dropping orphans.
// Must be called with the write lock held (or before l is shared).
func (l *Local) rebuild(ctx context.Context) error {
	l.resetGraph(l.schema.Algorithm)

	rows, err := l.db.QueryContext(ctx, "SELECT id, group_ids, embedding FROM records ORDER BY id")
	if err != nil {
		return dierrors.New(dierrors.ErrCodeCorruptIndex, "failed to read records", err)
	}
	defer func() { _ = rows.Close() }()

	dims := l.schema.VectorDimensions()
	for rows.Next() {
		var (
			id, groupsJSON string
			blob           []byte
		)
		if err := rows.Scan(&id, &groupsJSON, &blob); err != nil {
			return dierrors.New(dierrors.ErrCodeCorruptIndex, "failed to scan record", err)
		}
		vec, err := decodeVector(blob)
		if err != nil || len(vec) != dims {
			return dierrors.New(dierrors.ErrCodeCorruptIndex, "stored vector does not match the schema", err).
				WithDetail("id", id)
		}
		var groups []string
		if err := json.Unmarshal([]byte(groupsJSON), &groups); err != nil {
			return dierrors.New(dierrors.ErrCodeCorruptIndex, "stored group ids are malformed", err).
				WithDetail("id", id)
		}
		l.addNode(id, vec, groups)
	}
	if err := rows.Err(); err != nil {
		return dierrors.New(dierrors.ErrCodeCorruptIndex, "failed to read records", err)
	}
	return nil
}

// addNode inserts or replaces id in the graph. vec is copied.
func (l *Local) addNode(id string, vec []float32, groups []string) {
	if old, ok := l.idMap[id]; ok {
		delete(l.keyMap, old)
	}

	key := l.nextKey
	l.nextKey++

	v := slices.Clone(vec)
	normalizeInPlace(v)
	l.graph.Add(hnsw.MakeNode(key, v))

	l.idMap[id] = key
	l.keyMap[key] = id
	l.groups[id] = slices.Clone(groups)
}

func (l *Local) removeNode(id string) {
	if key, ok := l.idMap[id]; ok {
		delete(l.keyMap, key)
		delete(l.idMap, id)
		delete(l.groups, id)
	}
}

// compactMinOrphans is the orphan count below which the graph is never
// compacted.
const compactMinOrphans = 64

// maybeCompact rebuilds the graph from the live nodes once orphans
// outnumber them. Must be called with l.mu held for writing.
func (l *Local) maybeCompact() {
	live := len(l.idMap)
	orphans := l.graph.Len() - live
	if orphans < compactMinOrphans || orphans <= live {
		return
	}

	type liveNode struct {
		id     string
		vec    []float32
		groups []string
	}
	nodes := make([]liveNode, 0, live)
	for id, key := range l.idMap {
		vec, ok := l.graph.Lookup(key)
		if !ok {
			continue
		}
		nodes = append(nodes, liveNode{id: id, vec: slices.Clone(vec), groups: l.groups[id]})
	}
	slices.SortFunc(nodes, func(a, b liveNode) int { return strings.Compare(a.id, b.id) })

	l.resetGraph(l.schema.Algorithm)
	for _, n := range nodes {
		l.addNode(n.id, n.vec, n.groups)
	}

	l.logger.Debug("local_graph_compacted",
		slog.Int("live", len(l.idMap)),
		slog.Int("orphans_dropped", orphans))
}

// CreateOrUpdateIndex stores schema and rebuilds the graph with its
// parameters. Changing the vector dimension of a populated index is
// rejected.
func (l *Local) CreateOrUpdateIndex(ctx context.Context, schema Schema) error {
	if err := schema.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return dierrors.InternalError("local index is closed", nil)
	}

	if l.schema != nil && len(l.idMap) > 0 && l.schema.VectorDimensions() != schema.VectorDimensions() {
		return dierrors.SchemaMismatchError("cannot change the vector dimension of a populated index", nil).
			WithDetail("existing", fmt.Sprint(l.schema.VectorDimensions())).
			WithDetail("requested", fmt.Sprint(schema.VectorDimensions())).
			WithSuggestion("purge the index or point index.data_dir at a new directory")
	}

	def, err := json.Marshal(schema)
	if err != nil {
		return dierrors.InternalError("failed to encode schema", err)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return dierrors.New(dierrors.ErrCodeIndexFailed, "failed to begin schema update", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM index_schema"); err != nil {
		return dierrors.New(dierrors.ErrCodeIndexFailed, "failed to replace schema", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO index_schema (name, definition) VALUES (?, ?)", schema.Name, string(def)); err != nil {
		return dierrors.New(dierrors.ErrCodeIndexFailed, "failed to store schema", err)
	}
	if err := tx.Commit(); err != nil {
		return dierrors.New(dierrors.ErrCodeIndexFailed, "failed to commit schema", err)
	}

	l.schema = &schema
	if err := l.rebuild(ctx); err != nil {
		return err
	}

	l.logger.Info("index_schema_applied",
		slog.String("backend", "local"),
		slog.String("index", schema.Name),
		slog.Int("dimensions", schema.VectorDimensions()),
		slog.Int("m", schema.Algorithm.M),
		slog.Int("ef_search", schema.Algorithm.EfSearch))
	return nil
}

// checkOpen must be called with l.mu held.
func (l *Local) checkOpen() error {
	if l.closed {
		return dierrors.InternalError("local index is closed", nil)
	}
	if l.schema == nil {
		return dierrors.SchemaMismatchError("index does not exist", nil).
			WithDetail("dir", l.dir)
	}
	return nil
}

const upsertRecordSQL = `INSERT INTO records
	(id, content, title, filepath, url, chunk_id, last_updated, group_ids, tokensize, embedding)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		content = excluded.content,
		title = excluded.title,
		filepath = excluded.filepath,
		url = excluded.url,
		chunk_id = excluded.chunk_id,
		last_updated = excluded.last_updated,
		group_ids = excluded.group_ids,
		tokensize = excluded.tokensize,
		embedding = excluded.embedding`

// Upsert writes records in one transaction.
func (l *Local) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkOpen(); err != nil {
		return err
	}

	dims := l.schema.VectorDimensions()
	for _, r := range records {
		if r.ID == "" {
			return dierrors.ValidationError("record id is required", nil)
		}
		if len(r.ContentVector) != dims {
			return dierrors.DimensionMismatchError(dims, len(r.ContentVector)).WithDetail("id", r.ID)
		}
		if !usableVector(r.ContentVector) {
			return dierrors.ValidationError("content vector must be finite and non-zero", nil).
				WithDetail("id", r.ID)
		}
		if err := ValidateGroups(r.GroupIDs); err != nil {
			return err
		}
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return dierrors.New(dierrors.ErrCodeIndexFailed, "failed to begin upsert", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, upsertRecordSQL)
	if err != nil {
		return dierrors.New(dierrors.ErrCodeIndexFailed, "failed to prepare upsert", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range records {
		groups, err := encodeGroups(r.GroupIDs)
		if err != nil {
			return dierrors.InternalError("failed to encode group ids", err)
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.Content, r.Title, r.Filepath, r.URL,
			r.ChunkID, r.LastUpdated, groups, r.TokenSize, encodeVector(r.ContentVector)); err != nil {
			return dierrors.New(dierrors.ErrCodeIndexFailed, "failed to write record", err).
				WithDetail("id", r.ID)
		}
	}
	if err := tx.Commit(); err != nil {
		return dierrors.New(dierrors.ErrCodeIndexFailed, "failed to commit upsert", err)
	}

	for _, r := range records {
		l.addNode(r.ID, r.ContentVector, r.GroupIDs)
	}
	l.maybeCompact()

	l.logger.Debug("local_upsert_complete", slog.Int("records", len(records)))
	return nil
}

// Delete removes ids in one transaction.
func (l *Local) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkOpen(); err != nil {
		return err
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return dierrors.New(dierrors.ErrCodeIndexFailed, "failed to begin delete", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, "DELETE FROM records WHERE id = ?", id); err != nil {
			return dierrors.New(dierrors.ErrCodeIndexFailed, "failed to delete record", err).
				WithDetail("id", id)
		}
	}
	if err := tx.Commit(); err != nil {
		return dierrors.New(dierrors.ErrCodeIndexFailed, "failed to commit delete", err)
	}

	for _, id := range ids {
		l.removeNode(id)
	}
	l.maybeCompact()

	l.logger.Debug("local_delete_complete", slog.Int("ids", len(ids)))
	return nil
}

type hit struct {
	id    string
	score float64
}

// Search runs a k-NN query. With a group filter the graph is searched with
// a growing k until TopK matching records are found; once every node has
// been requested the live records are scored exactly instead.
func (l *Local) Search(ctx context.Context, req SearchRequest) ([]Result, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if err := l.checkOpen(); err != nil {
		return nil, err
	}
	if dims := l.schema.VectorDimensions(); len(req.Vector) != dims {
		return nil, dierrors.DimensionMismatchError(dims, len(req.Vector))
	}
	if req.TopK <= 0 {
		return nil, dierrors.ValidationError("top k must be positive", nil)
	}
	if !usableVector(req.Vector) {
		return nil, dierrors.ValidationError("query vector must be finite and non-zero", nil)
	}
	if err := ValidateGroups(req.Groups); err != nil {
		return nil, err
	}
	if len(l.idMap) == 0 {
		return []Result{}, nil
	}

	query := slices.Clone(req.Vector)
	normalizeInPlace(query)

	// The graph may still hold orphans, so k is bounded by its size.
	total := l.graph.Len()
	k := req.TopK
	var hits []hit
	for {
		k = min(k, total)
		hits = l.graphSearch(query, k, req.Groups)
		if len(hits) >= req.TopK {
			break
		}
		if k >= total {
			hits = l.scan(query, req.Groups)
			break
		}
		k *= 2
	}

	slices.SortFunc(hits, func(a, b hit) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		default:
			return strings.Compare(a.id, b.id)
		}
	})
	if len(hits) > req.TopK {
		hits = hits[:req.TopK]
	}

	records, err := l.fetch(ctx, hits)
	if err != nil {
		return nil, err
	}

	fields := req.Select
	if len(fields) == 0 {
		fields = DefaultSelect
	}
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		rec, ok := records[h.id]
		if !ok {
			continue
		}
		results = append(results, Result{Record: project(rec, fields), Score: h.score})
	}
	return results, nil
}

func (l *Local) graphSearch(query []float32, k int, groups GroupFilter) []hit {
	var hits []hit
	for _, node := range l.graph.Search(query, k) {
		id, live := l.keyMap[node.Key]
		if !live || !groups.Matches(l.groups[id]) {
			continue
		}
		hits = append(hits, hit{id: id, score: cosineScore(l.graph.Distance(query, node.Value))})
	}
	return hits
}

// scan scores every live record passing the filter.
func (l *Local) scan(query []float32, groups GroupFilter) []hit {
	var hits []hit
	for id, key := range l.idMap {
		if !groups.Matches(l.groups[id]) {
			continue
		}
		vec, ok := l.graph.Lookup(key)
		if !ok {
			continue
		}
		hits = append(hits, hit{id: id, score: cosineScore(l.graph.Distance(query, vec))})
	}
	return hits
}

func (l *Local) fetch(ctx context.Context, hits []hit) (map[string]Record, error) {
	if len(hits) == 0 {
		return map[string]Record{}, nil
	}
	args := make([]any, len(hits))
	for i, h := range hits {
		args[i] = h.id
	}
	q := `SELECT id, content, title, filepath, url, chunk_id, last_updated, group_ids, tokensize, embedding
		FROM records WHERE id IN (?` + strings.Repeat(", ?", len(hits)-1) + `)`

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, dierrors.New(dierrors.ErrCodeSearchFailed, "failed to load search hits", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]Record, len(hits))
	for rows.Next() {
		var (
			r          Record
			groupsJSON string
			blob       []byte
		)
		if err := rows.Scan(&r.ID, &r.Content, &r.Title, &r.Filepath, &r.URL, &r.ChunkID,
			&r.LastUpdated, &groupsJSON, &r.TokenSize, &blob); err != nil {
			return nil, dierrors.New(dierrors.ErrCodeSearchFailed, "failed to scan search hit", err)
		}
		if err := json.Unmarshal([]byte(groupsJSON), &r.GroupIDs); err != nil {
			return nil, dierrors.New(dierrors.ErrCodeCorruptIndex, "stored group ids are malformed", err).
				WithDetail("id", r.ID)
		}
		if r.ContentVector, err = decodeVector(blob); err != nil {
			return nil, dierrors.New(dierrors.ErrCodeCorruptIndex, "stored vector is malformed", err).
				WithDetail("id", r.ID)
		}
		out[r.ID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, dierrors.New(dierrors.ErrCodeSearchFailed, "failed to load search hits", err)
	}
	return out, nil
}

// ListIDs returns all record ids in ascending order.
func (l *Local) ListIDs(ctx context.Context) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if err := l.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := l.db.QueryContext(ctx, "SELECT id FROM records ORDER BY id")
	if err != nil {
		return nil, dierrors.New(dierrors.ErrCodeSearchFailed, "failed to list ids", err)
	}
	defer func() { _ = rows.Close() }()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, dierrors.New(dierrors.ErrCodeSearchFailed, "failed to scan id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, dierrors.New(dierrors.ErrCodeSearchFailed, "failed to list ids", err)
	}
	return ids, nil
}

// Schema returns the stored definition, if any.
func (l *Local) Schema() (Schema, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.schema == nil {
		return Schema{}, false
	}
	return *l.schema, true
}

// Count returns the number of live records.
func (l *Local) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.idMap)
}

// Close releases the database and the directory lock.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	return stderrors.Join(l.db.Close(), l.lock.Unlock())
}

func encodeGroups(groups []string) (string, error) {
	if groups == nil {
		groups = []string{}
	}
	b, err := json.Marshal(groups)
	return string(b), err
}

// project keeps only the named fields of r.
func project(r Record, fields []string) Record {
	var out Record
	for _, f := range fields {
		switch f {
		case FieldID:
			out.ID = r.ID
		case FieldContent:
			out.Content = r.Content
		case FieldContentVector:
			out.ContentVector = r.ContentVector
		case FieldTitle:
			out.Title = r.Title
		case FieldFilepath:
			out.Filepath = r.Filepath
		case FieldURL:
			out.URL = r.URL
		case FieldChunkID:
			out.ChunkID = r.ChunkID
		case FieldLastUpdated:
			out.LastUpdated = r.LastUpdated
		case FieldGroupIDs:
			out.GroupIDs = r.GroupIDs
		case FieldTokenSize:
			out.TokenSize = r.TokenSize
		}
	}
	return out
}
