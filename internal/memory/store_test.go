package memory

import (
	"encoding/json"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"deepresearch/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "research.db"), NewHashEmbedder())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionRoundTrip(t *testing.T) {
	s := openTestStore(t)

	sess := &types.Session{
		ID:        "sess-1",
		Query:     "effects of warming on wheat yields",
		Domain:    types.DomainAcademic,
		Privacy:   types.PrivacyLocalOnly,
		Phase:     types.PhaseCollect,
		Cycle:     2,
		StartedAt: time.Now().UTC(),
		Entities: []types.Entity{
			{URL: "https://example.org/a", Title: "A", Provider: "tavily"},
		},
		Facts: []types.Fact{
			{Statement: "Yields decline 6% per degree", Source: "https://example.org/a", Confidence: 0.8},
		},
	}
	require.NoError(t, s.SaveSession(sess))

	got, err := s.LoadSession("sess-1")
	require.NoError(t, err)
	require.Equal(t, sess.Query, got.Query)
	require.Equal(t, types.PhaseCollect, got.Phase)
	require.Len(t, got.Entities, 1)
	require.Len(t, got.Facts, 1)

	// Upsert on phase advance keeps one row per session.
	sess.Phase = types.PhaseComplete
	sess.StopReason = types.StopSaturationReached
	require.NoError(t, s.SaveSession(sess))

	got, err = s.LoadSession("sess-1")
	require.NoError(t, err)
	require.Equal(t, types.PhaseComplete, got.Phase)
	require.Equal(t, types.StopSaturationReached, got.StopReason)
}

func TestLoadSessionNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.LoadSession("nope")
	require.Error(t, err)
}

func TestRecentSessionsOrderAndLimit(t *testing.T) {
	s := openTestStore(t)

	for i, id := range []string{"old", "mid", "new"} {
		sess := &types.Session{
			ID:        id,
			Query:     id + " query",
			Domain:    types.DomainMedical,
			Phase:     types.PhaseComplete,
			StartedAt: time.Now().UTC().Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.SaveSession(sess))
		time.Sleep(5 * time.Millisecond) // distinct updated_at
	}
	// A session from another domain must not leak in.
	require.NoError(t, s.SaveSession(&types.Session{
		ID: "other", Query: "x", Domain: types.DomainGeneral,
		Phase: types.PhaseComplete, StartedAt: time.Now().UTC(),
	}))

	got, err := s.RecentSessions(types.DomainMedical, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "new", got[0].ID)
	require.Equal(t, "mid", got[1].ID)
}

func TestEffectivenessEMA(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.ObserveEffectiveness(types.DomainMedical, "pubmed", 0.5))
	table, err := s.Effectiveness(types.DomainMedical)
	require.NoError(t, err)
	require.InDelta(t, 0.5, table["pubmed"], 1e-9, "first observation seeds the EMA")

	require.NoError(t, s.ObserveEffectiveness(types.DomainMedical, "pubmed", 1.0))
	table, err = s.Effectiveness(types.DomainMedical)
	require.NoError(t, err)
	want := EffectivenessAlpha*1.0 + (1-EffectivenessAlpha)*0.5
	require.InDelta(t, want, table["pubmed"], 1e-9)

	// Domains keep separate tables.
	other, err := s.Effectiveness(types.DomainAcademic)
	require.NoError(t, err)
	require.Empty(t, other)
}

func TestAccessFailuresAndDeadThreshold(t *testing.T) {
	s := openTestStore(t)
	url := "https://paywalled.example.com/article"

	require.False(t, s.KnownDead(url))

	require.NoError(t, s.RecordAccessFailure(url, "crawler", "paywall"))
	require.NoError(t, s.RecordAccessFailure(url, "crawler", "paywall"))
	count, err := s.FailureCount(url)
	require.NoError(t, err)
	require.Equal(t, 2, count)
	require.False(t, s.KnownDead(url))

	// Failures aggregate across providers.
	require.NoError(t, s.RecordAccessFailure(url, "exa", "timeout"))
	require.True(t, s.KnownDead(url))
}

func TestDomainOverrides(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SetOverride(types.DomainRegulatory, "max_cycles", json.RawMessage(`7`)))
	require.NoError(t, s.SetOverride(types.DomainRegulatory, "max_cycles", json.RawMessage(`9`)))
	require.NoError(t, s.SetOverride(types.DomainRegulatory, "verify_facts", json.RawMessage(`true`)))

	got, err := s.Overrides(types.DomainRegulatory)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.JSONEq(t, `9`, string(got["max_cycles"]))
	require.JSONEq(t, `true`, string(got["verify_facts"]))
}

func TestStoreDocumentAndSearch(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	require.NoError(t, s.StoreDocument(ctx, "doc-wheat",
		"Wheat yields decline under sustained heat stress.",
		map[string]string{"url": "https://example.org/wheat"}))
	require.NoError(t, s.StoreDocument(ctx, "doc-rice",
		"Rice paddies respond differently to temperature shifts.",
		map[string]string{"url": "https://example.org/rice"}))

	// The hash embedder is deterministic, so the exact text scores 1.0.
	hits, err := s.SearchSimilar(ctx, "Wheat yields decline under sustained heat stress.", 2)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	require.Equal(t, "doc-wheat", hits[0].DocID)
	require.InDelta(t, 1.0, hits[0].Score, 1e-5)
	require.Equal(t, "https://example.org/wheat", hits[0].Meta["url"])
}

func TestStoreDocumentReplacesChunks(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	require.NoError(t, s.StoreDocument(ctx, "doc", "original text", nil))
	require.NoError(t, s.StoreDocument(ctx, "doc", "replacement text", nil))

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM doc_chunks WHERE doc_id = 'doc'`).Scan(&n))
	require.Equal(t, 1, n)
}

func TestChunkText(t *testing.T) {
	require.Nil(t, ChunkText(""))
	require.Equal(t, []string{"short"}, ChunkText("short"))

	long := ""
	for i := 0; i < 600; i++ {
		long += "word here "
	}
	chunks := ChunkText(long)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		require.LessOrEqual(t, len(c), chunkSize)
	}
	// Overlap means consecutive chunks share a suffix/prefix region.
	require.Contains(t, long, chunks[1][:50])
}

func TestChunkTextKeepsMultiByteRunesWhole(t *testing.T) {
	// No whitespace anywhere, so every cut takes the raw fallback path.
	long := strings.Repeat("研究資料の要約と分析", 400)
	chunks := ChunkText(long)
	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		require.True(t, utf8.ValidString(c), "chunk %d splits a rune", i)
		require.LessOrEqual(t, len(c), chunkSize)
	}
}

func TestHashEmbedderDeterministic(t *testing.T) {
	e := NewHashEmbedder()
	a, err := e.Embed(t.Context(), "same input")
	require.NoError(t, err)
	b, err := e.Embed(t.Context(), "same input")
	require.NoError(t, err)
	require.Equal(t, a, b)

	c, err := e.Embed(t.Context(), "different input")
	require.NoError(t, err)
	require.NotEqual(t, a, c)

	// Unit length after normalization.
	var sum float64
	for _, v := range a {
		sum += float64(v) * float64(v)
	}
	require.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}
