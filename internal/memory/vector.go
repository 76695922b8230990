package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"deepresearch/internal/logging"
)

// Chunking parameters. Chunks overlap so a statement split across a
// boundary still lands whole in at least one chunk.
const (
	chunkSize    = 2048
	chunkOverlap = 256
)

// ScoredChunk is one semantic search hit.
type ScoredChunk struct {
	DocID string            `json:"doc_id"`
	Text  string            `json:"text"`
	Meta  map[string]string `json:"meta,omitempty"`
	Score float64           `json:"score"`
}

// initVecTable tries to create the vec0 virtual table. It fails cleanly
// when the driver carries no sqlite-vec extension; search then falls back
// to a brute-force scan over stored blobs.
func (s *Store) initVecTable(dims int) bool {
	_, err := s.db.Exec(fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(chunk_id INTEGER PRIMARY KEY, embedding float[%d])`, dims))
	if err != nil {
		logging.MemoryDebug("vec0 unavailable, using brute-force similarity: %v", err)
		return false
	}
	return true
}

// StoreDocument chunks and embeds a document, replacing any prior chunks
// for the same docID.
func (s *Store) StoreDocument(ctx context.Context, docID, text string, meta map[string]string) error {
	if s.embedder == nil {
		return fmt.Errorf("vector store disabled: no embedder configured")
	}
	timer := logging.StartTimer(logging.CategoryMemory, "StoreDocument")
	defer timer.Stop()

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode chunk metadata: %w", err)
	}

	chunks := ChunkText(text)

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if s.vec {
		if _, err := tx.Exec(`DELETE FROM vec_chunks WHERE chunk_id IN (SELECT id FROM doc_chunks WHERE doc_id = ?)`, docID); err != nil {
			return fmt.Errorf("failed to clear vector rows: %w", err)
		}
	}
	if _, err := tx.Exec(`DELETE FROM doc_chunks WHERE doc_id = ?`, docID); err != nil {
		return fmt.Errorf("failed to clear prior chunks: %w", err)
	}

	for seq, chunk := range chunks {
		vec, err := s.embedder.Embed(ctx, chunk)
		if err != nil {
			return fmt.Errorf("failed to embed chunk %d: %w", seq, err)
		}
		blob := encodeVector(vec)

		res, err := tx.Exec(`
			INSERT INTO doc_chunks (doc_id, seq, text, meta, embedding)
			VALUES (?, ?, ?, ?, ?)`,
			docID, seq, chunk, string(metaJSON), blob)
		if err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}
		if s.vec {
			id, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("failed to read chunk id: %w", err)
			}
			if _, err := tx.Exec(`INSERT INTO vec_chunks (chunk_id, embedding) VALUES (?, ?)`, id, blob); err != nil {
				return fmt.Errorf("failed to index chunk: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit document: %w", err)
	}
	logging.MemoryDebug("stored document %s in %d chunks", docID, len(chunks))
	return nil
}

// SearchSimilar returns the k chunks most similar to the query.
func (s *Store) SearchSimilar(ctx context.Context, query string, k int) ([]ScoredChunk, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("vector store disabled: no embedder configured")
	}
	if k <= 0 {
		k = 5
	}

	qvec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	if s.vec {
		return s.searchVec(qvec, k)
	}
	return s.searchBrute(qvec, k)
}

func (s *Store) searchVec(qvec []float32, k int) ([]ScoredChunk, error) {
	rows, err := s.db.Query(`
		SELECT c.doc_id, c.text, c.meta, v.distance
		FROM vec_chunks v
		JOIN doc_chunks c ON c.id = v.chunk_id
		WHERE v.embedding MATCH ? AND v.k = ?
		ORDER BY v.distance`,
		encodeVector(qvec), k)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	defer rows.Close()

	var out []ScoredChunk
	for rows.Next() {
		var hit ScoredChunk
		var metaJSON string
		var distance float64
		if err := rows.Scan(&hit.DocID, &hit.Text, &metaJSON, &distance); err != nil {
			return nil, err
		}
		decodeMeta(metaJSON, &hit)
		// vec0 reports L2 distance; invert so higher is better.
		hit.Score = 1 / (1 + distance)
		out = append(out, hit)
	}
	return out, rows.Err()
}

func (s *Store) searchBrute(qvec []float32, k int) ([]ScoredChunk, error) {
	rows, err := s.db.Query(`SELECT doc_id, text, meta, embedding FROM doc_chunks`)
	if err != nil {
		return nil, fmt.Errorf("chunk scan failed: %w", err)
	}
	defer rows.Close()

	var out []ScoredChunk
	for rows.Next() {
		var hit ScoredChunk
		var metaJSON string
		var blob []byte
		if err := rows.Scan(&hit.DocID, &hit.Text, &metaJSON, &blob); err != nil {
			return nil, err
		}
		decodeMeta(metaJSON, &hit)
		hit.Score = cosine(qvec, decodeVector(blob))
		out = append(out, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Partial selection sort: k is small.
	for i := 0; i < len(out) && i < k; i++ {
		best := i
		for j := i + 1; j < len(out); j++ {
			if out[j].Score > out[best].Score {
				best = j
			}
		}
		out[i], out[best] = out[best], out[i]
	}
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func decodeMeta(metaJSON string, hit *ScoredChunk) {
	if metaJSON == "" {
		return
	}
	if err := json.Unmarshal([]byte(metaJSON), &hit.Meta); err != nil {
		logging.MemoryDebug("undecodable chunk metadata: %v", err)
	}
}

// ChunkText splits text into overlapping chunks of at most chunkSize
// characters, preferring to break at whitespace near the boundary.
func ChunkText(text string) []string {
	if len(text) <= chunkSize {
		if text == "" {
			return nil
		}
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + chunkSize
		if end >= len(text) {
			chunks = append(chunks, text[start:])
			break
		}
		// Back up to the nearest space so words stay whole.
		cut := end
		for cut > start+chunkSize/2 && text[cut] != ' ' && text[cut] != '\n' {
			cut--
		}
		if cut == start+chunkSize/2 {
			cut = runeBoundary(text, end)
		}
		chunks = append(chunks, text[start:cut])
		start = runeBoundary(text, cut-chunkOverlap)
		if start < 0 {
			start = 0
		}
	}
	return chunks
}

// runeBoundary backs i up to the start of the rune containing it so a
// slice at i never splits a multi-byte sequence.
func runeBoundary(s string, i int) int {
	for i > 0 && i < len(s) && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}
