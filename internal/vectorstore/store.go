package vectorstore

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/kamusis/skillmatch/internal/domain"
	"github.com/kamusis/skillmatch/internal/embeddings"
	"github.com/kamusis/skillmatch/internal/textutil"
)

// Filter restricts a search. Empty fields match everything; a non-empty
// field must be satisfied. Tags match when the entry carries any of them.
type Filter struct {
	Categories []string
	Tags       []string
	IDs        []string
}

func (f Filter) empty() bool {
	return len(f.Categories) == 0 && len(f.Tags) == 0 && len(f.IDs) == 0
}

// Store holds the searchable snapshot of catalog entries and their vectors.
// Snapshots are immutable; Load swaps a new one in atomically so searches in
// flight keep using the snapshot they started with.
type Store struct {
	snap atomic.Pointer[snapshot]
}

type snapshot struct {
	modelID string
	dim     int
	entries []*domain.Entry
	vectors [][]float32
	byID    map[string]int
}

// New returns an empty store. Search fails with ErrIndexNotLoaded until Load.
func New() *Store {
	return &Store{}
}

// Load replaces the snapshot. Every entry must have exactly one vector and
// every vector exactly one entry; all vectors must share a model and dimension
// and contain only finite values.
func (s *Store) Load(entries []*domain.Entry, vectors map[string]embeddings.Embedding) error {
	if len(entries) != len(vectors) {
		return domain.NewValidationError("vectors", "got %d vectors for %d entries", len(vectors), len(entries))
	}

	sorted := make([]*domain.Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	next := &snapshot{
		entries: sorted,
		vectors: make([][]float32, len(sorted)),
		byID:    make(map[string]int, len(sorted)),
	}
	for i, e := range sorted {
		if e == nil || e.ID == "" {
			return domain.NewValidationError("entries", "entry %d has no id", i)
		}
		if _, dup := next.byID[e.ID]; dup {
			return domain.NewValidationError("entries", "duplicate id %q", e.ID)
		}
		emb, ok := vectors[e.ID]
		if !ok {
			return domain.NewValidationError("vectors", "no vector for entry %q", e.ID)
		}
		if len(emb.Vector) == 0 || len(emb.Vector) != emb.Dimension {
			return domain.NewValidationError("vectors", "vector for %q has length %d, declared %d", e.ID, len(emb.Vector), emb.Dimension)
		}
		if i == 0 {
			next.modelID, next.dim = emb.ModelID, emb.Dimension
		} else if emb.ModelID != next.modelID || emb.Dimension != next.dim {
			return &domain.DimensionMismatchError{
				Want: next.dim, Got: emb.Dimension,
				WantModel: next.modelID, GotModel: emb.ModelID,
			}
		}
		if err := embeddings.CheckFinite(emb.Vector); err != nil {
			return fmt.Errorf("vector for %q: %w", e.ID, err)
		}
		v := make([]float32, len(emb.Vector))
		copy(v, emb.Vector)
		next.vectors[i] = v
		next.byID[e.ID] = i
	}

	s.snap.Store(next)
	return nil
}

// Loaded reports whether Load has succeeded at least once.
func (s *Store) Loaded() bool { return s.snap.Load() != nil }

// Len returns the number of entries in the current snapshot.
func (s *Store) Len() int {
	if sn := s.snap.Load(); sn != nil {
		return len(sn.entries)
	}
	return 0
}

// ModelID returns the model of the loaded vectors, or "" before Load.
func (s *Store) ModelID() string {
	if sn := s.snap.Load(); sn != nil {
		return sn.modelID
	}
	return ""
}

// Dim returns the dimension of the loaded vectors, or 0 before Load.
func (s *Store) Dim() int {
	if sn := s.snap.Load(); sn != nil {
		return sn.dim
	}
	return 0
}

// Entries returns the entries of the current snapshot sorted by id.
func (s *Store) Entries() []*domain.Entry {
	sn := s.snap.Load()
	if sn == nil {
		return nil
	}
	out := make([]*domain.Entry, len(sn.entries))
	copy(out, sn.entries)
	return out
}

// Get returns the entry with id.
func (s *Store) Get(id string) (*domain.Entry, bool) {
	sn := s.snap.Load()
	if sn == nil {
		return nil, false
	}
	i, ok := sn.byID[id]
	if !ok {
		return nil, false
	}
	return sn.entries[i], true
}

// Vector returns a copy of the stored vector for id.
func (s *Store) Vector(id string) (embeddings.Embedding, bool) {
	sn := s.snap.Load()
	if sn == nil {
		return embeddings.Embedding{}, false
	}
	i, ok := sn.byID[id]
	if !ok {
		return embeddings.Embedding{}, false
	}
	v := make([]float32, sn.dim)
	copy(v, sn.vectors[i])
	return embeddings.Embedding{Vector: v, Dimension: sn.dim, ModelID: sn.modelID}, true
}

// Search ranks entries matching filter by cosine similarity to query, best
// first with ties broken by id. limit <= 0 returns every match.
func (s *Store) Search(query embeddings.Embedding, filter Filter, limit int) ([]domain.MatchResult, error) {
	sn := s.snap.Load()
	if sn == nil {
		return nil, domain.ErrIndexNotLoaded
	}
	if len(sn.entries) == 0 {
		return []domain.MatchResult{}, nil
	}
	if query.ModelID != sn.modelID || len(query.Vector) != sn.dim {
		return nil, &domain.DimensionMismatchError{
			Want: sn.dim, Got: len(query.Vector),
			WantModel: sn.modelID, GotModel: query.ModelID,
		}
	}
	if err := embeddings.CheckFinite(query.Vector); err != nil {
		return nil, err
	}

	m := newMatcher(filter)
	results := make([]domain.MatchResult, 0, len(sn.entries))
	for i, e := range sn.entries {
		if !m.match(e) {
			continue
		}
		score, err := embeddings.Cosine(query.Vector, sn.vectors[i])
		if err != nil {
			return nil, err
		}
		results = append(results, domain.MatchResult{
			Entry:         e,
			Score:         score,
			MatchType:     domain.MatchSemantic,
			SemanticScore: score,
		})
	}
	SortResults(results)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// SortResults sorts results by score (descending), then by entry id (ascending).
func SortResults(results []domain.MatchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].Entry.ID < results[j].Entry.ID
		}
		return results[i].Score > results[j].Score
	})
}

type filterMatcher struct {
	all        bool
	categories map[string]struct{}
	tags       map[string]struct{}
	ids        map[string]struct{}
}

func newMatcher(f Filter) filterMatcher {
	if f.empty() {
		return filterMatcher{all: true}
	}
	return filterMatcher{
		categories: foldSet(f.Categories),
		tags:       foldSet(f.Tags),
		ids:        foldSet(f.IDs),
	}
}

func foldSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(values)*2)
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out[textutil.Fold(v)] = struct{}{}
		if slug := textutil.Slug(v); slug != "" {
			out[slug] = struct{}{}
		}
	}
	return out
}

func (m filterMatcher) match(e *domain.Entry) bool {
	if m.all {
		return true
	}
	if m.ids != nil && !m.has(m.ids, e.ID) {
		return false
	}
	if m.categories != nil && (e.Category == "" || !m.has(m.categories, e.Category)) {
		return false
	}
	if m.tags != nil {
		for _, t := range e.Tags {
			if m.has(m.tags, t.ID) || m.has(m.tags, t.Name) {
				return true
			}
		}
		return false
	}
	return true
}

func (m filterMatcher) has(set map[string]struct{}, v string) bool {
	if v == "" {
		return false
	}
	if _, ok := set[textutil.Fold(v)]; ok {
		return true
	}
	slug := textutil.Slug(v)
	if slug == "" {
		return false
	}
	_, ok := set[slug]
	return ok
}
