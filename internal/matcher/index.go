package matcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kamusis/skillmatch/internal/catalog"
	"github.com/kamusis/skillmatch/internal/domain"
	"github.com/kamusis/skillmatch/internal/embeddings"
	"github.com/kamusis/skillmatch/internal/plugin"
	"github.com/kamusis/skillmatch/internal/vectorstore"
)

// BuildReport summarizes one BuildIndex run.
type BuildReport struct {
	Entries      int           `json:"entries"`
	Embedded     int           `json:"embedded"`
	Reused       int           `json:"reused"`
	ModelID      string        `json:"modelId"`
	Dim          int           `json:"dim"`
	CorpusHash   string        `json:"corpusHash"`
	FromSnapshot bool          `json:"fromSnapshot"`
	Persisted    bool          `json:"persisted"`
	Warnings     []string      `json:"warnings,omitempty"`
	Took         time.Duration `json:"took"`
}

type prepared struct {
	entries []*domain.Entry
	texts   map[string]string
	hashes  map[string]string
	corpus  []string
}

// BuildIndex loads the catalog, embeds every entry and swaps the result into
// the store. Vectors from the persisted snapshot are reused when the model and
// the entry text are unchanged, unless force is set. Failing to persist the
// new snapshot is reported as a warning.
func (s *Service) BuildIndex(ctx context.Context, force bool) (*BuildReport, error) {
	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	start := time.Now()
	ctx = ensureCorrelation(ctx)

	p, err := s.prepare(ctx)
	if err != nil {
		s.reg.Emit(ctx, plugin.EventError, plugin.ErrorEvent{Op: "index", Err: err.Error()})
		return nil, err
	}
	corpusHash := catalog.CorpusHash(p.hashes)
	report := &BuildReport{Entries: len(p.entries), CorpusHash: corpusHash}

	var prev *vectorstore.Snapshot
	if !force && s.cfg.IndexDir != "" {
		prev, err = vectorstore.ReadSnapshot(s.cfg.IndexDir)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn().Err(err).Str("dir", s.cfg.IndexDir).Msg("ignoring unreadable index snapshot")
		}
	}

	firstBuild := !s.store.Loaded()
	if err := s.swap(ctx, p, prev, corpusHash, report); err != nil {
		s.reg.Emit(ctx, plugin.EventError, plugin.ErrorEvent{Op: "index", Err: err.Error()})
		return nil, err
	}

	if s.cfg.IndexDir != "" && !report.FromSnapshot && report.Entries > 0 {
		if err := s.persist(p.hashes, corpusHash); err != nil {
			s.logger.Warn().Err(err).Str("dir", s.cfg.IndexDir).Msg("index snapshot not persisted")
			report.Warnings = append(report.Warnings, "snapshot not persisted: "+err.Error())
		} else {
			report.Persisted = true
		}
	}

	report.Took = time.Since(start)
	typ := plugin.EventIndexUpdated
	if firstBuild {
		typ = plugin.EventIndexBuilt
	}
	s.reg.Emit(ctx, typ, plugin.IndexEvent{
		Entries:  report.Entries,
		Embedded: report.Embedded,
		Reused:   report.Reused,
		ModelID:  report.ModelID,
		Took:     report.Took,
	})
	s.logger.Info().
		Int("entries", report.Entries).
		Int("embedded", report.Embedded).
		Int("reused", report.Reused).
		Str("model", report.ModelID).
		Bool("from_snapshot", report.FromSnapshot).
		Dur("took", report.Took).
		Msg("index built")
	return report, nil
}

// prepare loads and preprocesses the catalog and computes embedding texts.
func (s *Service) prepare(ctx context.Context) (*prepared, error) {
	if s.loader == nil {
		return nil, errors.New("no catalog loader configured")
	}
	raw, err := s.loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	p := &prepared{
		entries: make([]*domain.Entry, 0, len(raw)),
		texts:   make(map[string]string, len(raw)),
		hashes:  make(map[string]string, len(raw)),
		corpus:  make([]string, 0, len(raw)),
	}
	for _, e := range raw {
		pe, err := s.reg.ApplyPreprocessors(ctx, e)
		if err != nil {
			return nil, err
		}
		if pe.ID != e.ID {
			return nil, domain.NewValidationError("catalog", "preprocessing changed id %q to %q", e.ID, pe.ID)
		}
		text := catalog.CanonicalText(pe)
		p.entries = append(p.entries, pe)
		p.texts[pe.ID] = text
		p.hashes[pe.ID] = catalog.TextHash(text)
		p.corpus = append(p.corpus, text)
	}
	if err := catalog.Validate(p.entries); err != nil {
		return nil, err
	}
	return p, nil
}

// swap fits the provider, embeds the entries and loads the store. A fitted
// provider changes its model id, so the whole sequence runs under the write
// lock; otherwise only the store load does.
func (s *Service) swap(ctx context.Context, p *prepared, prev *vectorstore.Snapshot, corpusHash string, report *BuildReport) error {
	fitted := embeddings.IsFitted(s.provider)
	if fitted {
		s.mu.Lock()
		defer s.mu.Unlock()
		if f, ok := s.provider.(embeddings.Fitter); ok {
			if err := f.Initialize(ctx, p.corpus); err != nil {
				return fmt.Errorf("fit embeddings: %w", err)
			}
		}
	}

	vectors, err := s.embedAll(ctx, p, prev, corpusHash, report)
	if err != nil {
		return err
	}

	if !fitted {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	if err := s.store.Load(p.entries, vectors); err != nil {
		return fmt.Errorf("load vector store: %w", err)
	}
	s.corpus = corpusHash
	s.builtAt = time.Now()
	return nil
}

func (s *Service) embedAll(ctx context.Context, p *prepared, prev *vectorstore.Snapshot, corpusHash string, report *BuildReport) (map[string]embeddings.Embedding, error) {
	model := s.provider.ModelID()
	report.ModelID = model
	report.Dim = s.provider.Dim()

	reusable := map[string][]float32{}
	if prev != nil && prev.Manifest.ModelID == model {
		reusable = prev.Reusable(p.hashes)
	}

	vectors := make(map[string]embeddings.Embedding, len(p.entries))
	for _, e := range p.entries {
		if v, ok := reusable[e.ID]; ok {
			vectors[e.ID] = embeddings.Embedding{Vector: v, Dimension: len(v), ModelID: model}
			report.Reused++
			continue
		}
		emb, err := embeddings.EmbedText(ctx, s.provider, p.texts[e.ID])
		if err != nil {
			return nil, fmt.Errorf("embed %s: %w", e.ID, err)
		}
		vectors[e.ID] = emb
		report.Embedded++
	}
	report.FromSnapshot = prev != nil && report.Embedded == 0 && report.Reused > 0 &&
		prev.Manifest.CorpusHash == corpusHash && len(prev.Entries) == len(p.entries)
	if d := firstDim(vectors); d > 0 {
		report.Dim = d
	}
	return vectors, nil
}

// persist writes the loaded store to a temporary directory next to IndexDir
// and renames it into place.
func (s *Service) persist(hashes map[string]string, corpusHash string) error {
	snap, err := s.store.Snapshot(hashes, corpusHash)
	if err != nil {
		return err
	}
	parent := filepath.Dir(s.cfg.IndexDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("cannot create index parent %s: %w", parent, err)
	}
	tmp, err := os.MkdirTemp(parent, ".index-*")
	if err != nil {
		return fmt.Errorf("cannot create temp index dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := vectorstore.WriteSnapshot(tmp, snap); err != nil {
		return err
	}
	if err := vectorstore.AtomicSwap(tmp, s.cfg.IndexDir); err != nil {
		return fmt.Errorf("cannot install index: %w", err)
	}
	return nil
}

func firstDim(vectors map[string]embeddings.Embedding) int {
	for _, v := range vectors {
		return v.Dimension
	}
	return 0
}
