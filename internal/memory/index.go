// Package memory implements the long-term memory pipeline: a vector-indexed
// store with cosine retrieval, the legacy structured documents, and the
// background worker pool that extracts, compresses, and decays records.
package memory

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory categories.
const (
	CategoryFact       = "fact"
	CategoryPreference = "preference"
	CategoryProject    = "project"
	CategoryIdentity   = "identity"
	CategoryWorking    = "working"
	CategoryCompressed = "compressed"
	CategoryManual     = "manual"
)

var validCategories = map[string]bool{
	CategoryFact: true, CategoryPreference: true, CategoryProject: true,
	CategoryIdentity: true, CategoryWorking: true, CategoryCompressed: true,
	CategoryManual: true,
}

// maxRecordText caps stored memory text at 2 KB.
const maxRecordText = 2048

// accessBoost is added to importance each time a record is retrieved,
// clamped to 1.0.
const accessBoost = 0.05

// Embedder turns text into a fixed-dimensionality vector. Mixing dimensions
// silently corrupts cosine similarity, so the index freezes the
// dimensionality of the first vector it sees.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Record is one indexed memory.
type Record struct {
	ID          int64     `json:"id"`
	Text        string    `json:"text"`
	Category    string    `json:"category"`
	Source      string    `json:"source,omitempty"`
	Importance  float64   `json:"importance"`
	ContentHash string    `json:"content_hash"`
	CreatedAt   time.Time `json:"created_at"`
	AccessCount int       `json:"access_count,omitempty"`
	Similarity  float64   `json:"similarity,omitempty"` // set on search results
	embedding   []float32
}

// Index is the sqlite-backed vector store. All records and embeddings are
// mirrored in memory for the cosine scan; mutations write through to sqlite.
type Index struct {
	mu       sync.RWMutex
	db       *sql.DB
	embedder Embedder
	records  map[int64]*Record
	byHash   map[string]int64
	dims     int
	maxSize  int
}

// NewIndex creates the schema if missing and loads all records.
func NewIndex(db *sql.DB, embedder Embedder, maxSize int) (*Index, error) {
	const schema = `
CREATE TABLE IF NOT EXISTS memories (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	content      TEXT NOT NULL,
	category     TEXT NOT NULL,
	source       TEXT NOT NULL DEFAULT '',
	importance   REAL NOT NULL DEFAULT 0.5,
	content_hash TEXT NOT NULL UNIQUE,
	embedding    BLOB,
	created_at   TEXT NOT NULL,
	access_count INTEGER NOT NULL DEFAULT 0
)`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create memories schema: %w", err)
	}
	if maxSize <= 0 {
		maxSize = 5000
	}

	idx := &Index{
		db:       db,
		embedder: embedder,
		records:  make(map[int64]*Record),
		byHash:   make(map[string]int64),
		maxSize:  maxSize,
	}
	if err := idx.loadAll(); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *Index) loadAll() error {
	rows, err := idx.db.Query(
		`SELECT id, content, category, source, importance, content_hash, embedding, created_at, access_count FROM memories`)
	if err != nil {
		return fmt.Errorf("load memories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec Record
		var blob []byte
		var created string
		if err := rows.Scan(&rec.ID, &rec.Text, &rec.Category, &rec.Source,
			&rec.Importance, &rec.ContentHash, &blob, &created, &rec.AccessCount); err != nil {
			return fmt.Errorf("scan memory: %w", err)
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339, created)
		rec.embedding = decodeVector(blob)
		if idx.dims == 0 && len(rec.embedding) > 0 {
			idx.dims = len(rec.embedding)
		}
		idx.records[rec.ID] = &rec
		idx.byHash[rec.ContentHash] = rec.ID
	}
	return rows.Err()
}

// ContentHash returns the dedup hash of normalized text.
func ContentHash(text string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(text), " "))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Add indexes text. Idempotent by content hash: a duplicate returns the
// existing id with created=false.
func (idx *Index) Add(ctx context.Context, text, category, source string, importance float64) (int64, bool, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, false, fmt.Errorf("empty memory text")
	}
	if len(text) > maxRecordText {
		// Cut back to a rune boundary so stored text stays valid UTF-8.
		cut := maxRecordText
		for cut > 0 && text[cut]&0xC0 == 0x80 {
			cut--
		}
		text = text[:cut]
	}
	if !validCategories[category] {
		return 0, false, fmt.Errorf("unknown category %q", category)
	}
	if importance < 0 {
		importance = 0
	}
	if importance > 1 {
		importance = 1
	}

	hash := ContentHash(text)

	idx.mu.RLock()
	existing, dup := idx.byHash[hash]
	idx.mu.RUnlock()
	if dup {
		return existing, false, nil
	}

	vec, err := idx.embedder.Embed(ctx, text)
	if err != nil {
		return 0, false, fmt.Errorf("embed: %w", err)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	// Re-check under the write lock; a concurrent add may have won.
	if id, ok := idx.byHash[hash]; ok {
		return id, false, nil
	}
	if idx.dims == 0 {
		idx.dims = len(vec)
	} else if len(vec) != idx.dims {
		return 0, false, fmt.Errorf("embedding dimensionality changed: got %d, index has %d", len(vec), idx.dims)
	}

	now := time.Now().UTC()
	res, err := idx.db.Exec(`
INSERT INTO memories (content, category, source, importance, content_hash, embedding, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		text, category, source, importance, hash, encodeVector(vec), now.Format(time.RFC3339))
	if err != nil {
		return 0, false, fmt.Errorf("insert memory: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("insert memory id: %w", err)
	}

	idx.records[id] = &Record{
		ID: id, Text: text, Category: category, Source: source,
		Importance: importance, ContentHash: hash, CreatedAt: now,
		embedding: vec,
	}
	idx.byHash[hash] = id
	return id, true, nil
}

// Remove deletes a record by id. Missing ids are a no-op.
func (idx *Index) Remove(id int64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.removeLocked(id)
}

func (idx *Index) removeLocked(id int64) error {
	rec, ok := idx.records[id]
	if !ok {
		return nil
	}
	if _, err := idx.db.Exec(`DELETE FROM memories WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	delete(idx.byHash, rec.ContentHash)
	delete(idx.records, id)
	return nil
}

// Search returns up to topK records whose cosine similarity to the query is
// at least minScore, best first. Ties break by importance then recency.
// Returned records get an access bump.
func (idx *Index) Search(ctx context.Context, query string, topK int, minScore float64) ([]Record, error) {
	if topK <= 0 {
		topK = 5
	}
	qvec, err := idx.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	idx.mu.RLock()
	scored := make([]Record, 0, len(idx.records))
	for _, rec := range idx.records {
		score := cosine(qvec, rec.embedding)
		if score < minScore {
			continue
		}
		cp := *rec
		cp.Similarity = score
		scored = append(scored, cp)
	}
	idx.mu.RUnlock()

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		if scored[i].Importance != scored[j].Importance {
			return scored[i].Importance > scored[j].Importance
		}
		return scored[i].CreatedAt.After(scored[j].CreatedAt)
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}

	idx.bumpAccess(scored)
	return scored, nil
}

// bumpAccess records a read on each returned record and boosts importance,
// the one path where importance may rise under decay.
func (idx *Index) bumpAccess(recs []Record) {
	if len(recs) == 0 {
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for i := range recs {
		rec, ok := idx.records[recs[i].ID]
		if !ok {
			continue
		}
		rec.AccessCount++
		rec.Importance = math.Min(1, rec.Importance+accessBoost)
		idx.db.Exec(`UPDATE memories SET access_count = ?, importance = ? WHERE id = ?`,
			rec.AccessCount, rec.Importance, rec.ID)
	}
}

// Count returns the number of indexed records.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.records)
}

// CategoryCounts returns a per-category record breakdown.
func (idx *Index) CategoryCounts() map[string]int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	counts := make(map[string]int)
	for _, rec := range idx.records {
		counts[rec.Category]++
	}
	return counts
}

// OverCapacity reports how far the index is past its soft cap. Pruning is
// the compressor's job, not the index's.
func (idx *Index) OverCapacity() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if over := len(idx.records) - idx.maxSize; over > 0 {
		return over
	}
	return 0
}

// scaleImportance multiplies every record's importance by factor, used by
// the decay pass. Importance only rises again through access boosts.
func (idx *Index) scaleImportance(factor float64) {
	if factor >= 1 || factor <= 0 {
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, rec := range idx.records {
		rec.Importance *= factor
		idx.db.Exec(`UPDATE memories SET importance = ? WHERE id = ?`, rec.Importance, rec.ID)
	}
}

// snapshot returns copies of all records matching filter, for maintenance.
func (idx *Index) snapshot(filter func(*Record) bool) []Record {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]Record, 0, len(idx.records))
	for _, rec := range idx.records {
		if filter == nil || filter(rec) {
			out = append(out, *rec)
		}
	}
	return out
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	if len(buf) < 4 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
