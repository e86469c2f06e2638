package vectorstore

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/kamusis/skillmatch/internal/domain"
)

const (
	snapshotVersion  = 1
	manifestFile     = "index_manifest.json"
	defaultVectors   = "vectors.f32"
	defaultEntryFile = "entries.jsonl"
)

// Manifest describes a persisted snapshot and how to interpret it.
type Manifest struct {
	IndexVersion int    `json:"index_version"`
	CreatedAt    string `json:"created_at"`
	ModelID      string `json:"model_id"`
	Dim          int    `json:"dim"`
	CorpusHash   string `json:"corpus_hash"`
	VectorFile   string `json:"vector_file"`
	EntriesFile  string `json:"entries_file"`
}

// EntryRecord is one row of entries.jsonl. Row i owns vector i.
type EntryRecord struct {
	ID       string `json:"id"`
	Path     string `json:"path,omitempty"`
	Name     string `json:"name"`
	TextHash string `json:"text_hash"`
}

// Snapshot is the on-disk form of a store: manifest, entry rows and a flat
// little-endian float32 vector block.
type Snapshot struct {
	Manifest Manifest
	Entries  []EntryRecord
	Vectors  []float32
}

// Vector returns the vector of row i (sharing storage with the snapshot).
func (s *Snapshot) Vector(i int) []float32 {
	d := s.Manifest.Dim
	return s.Vectors[i*d : (i+1)*d]
}

// Reusable returns, per entry id, the stored vector when the stored text hash
// still equals hashes[id].
func (s *Snapshot) Reusable(hashes map[string]string) map[string][]float32 {
	out := make(map[string][]float32)
	if s == nil {
		return out
	}
	for i, e := range s.Entries {
		if e.TextHash == "" || hashes[e.ID] != e.TextHash {
			continue
		}
		v := make([]float32, s.Manifest.Dim)
		copy(v, s.Vector(i))
		out[e.ID] = v
	}
	return out
}

// Snapshot exports the loaded store. hashes supplies each entry's text hash.
func (s *Store) Snapshot(hashes map[string]string, corpusHash string) (*Snapshot, error) {
	sn := s.snap.Load()
	if sn == nil {
		return nil, fmt.Errorf("export snapshot: %w", domain.ErrIndexNotLoaded)
	}
	out := &Snapshot{
		Manifest: Manifest{
			IndexVersion: snapshotVersion,
			CreatedAt:    time.Now().UTC().Format(time.RFC3339),
			ModelID:      sn.modelID,
			Dim:          sn.dim,
			CorpusHash:   corpusHash,
			VectorFile:   defaultVectors,
			EntriesFile:  defaultEntryFile,
		},
		Entries: make([]EntryRecord, len(sn.entries)),
		Vectors: make([]float32, 0, len(sn.entries)*sn.dim),
	}
	for i, e := range sn.entries {
		out.Entries[i] = EntryRecord{ID: e.ID, Path: e.Path, Name: e.Name, TextHash: hashes[e.ID]}
		out.Vectors = append(out.Vectors, sn.vectors[i]...)
	}
	return out, nil
}

// WriteSnapshot writes snapshot artifacts to dir.
func WriteSnapshot(dir string, snap *Snapshot) error {
	m := snap.Manifest
	if m.Dim <= 0 {
		return fmt.Errorf("invalid dim: %d", m.Dim)
	}
	if len(snap.Vectors) != len(snap.Entries)*m.Dim {
		return fmt.Errorf("vector length mismatch: got %d want %d", len(snap.Vectors), len(snap.Entries)*m.Dim)
	}
	if m.IndexVersion == 0 {
		m.IndexVersion = snapshotVersion
	}
	if m.VectorFile == "" {
		m.VectorFile = defaultVectors
	}
	if m.EntriesFile == "" {
		m.EntriesFile = defaultEntryFile
	}
	if m.CreatedAt == "" {
		m.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create index dir %s: %w", dir, err)
	}

	mb, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), mb, 0o644); err != nil {
		return fmt.Errorf("cannot write manifest: %w", err)
	}

	if err := writeEntries(filepath.Join(dir, m.EntriesFile), snap.Entries); err != nil {
		return err
	}

	vf, err := os.Create(filepath.Join(dir, m.VectorFile))
	if err != nil {
		return fmt.Errorf("cannot create vectors file: %w", err)
	}
	bw := bufio.NewWriter(vf)
	if err := binary.Write(bw, binary.LittleEndian, snap.Vectors); err != nil {
		_ = vf.Close()
		return fmt.Errorf("cannot write vectors: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = vf.Close()
		return err
	}
	return vf.Close()
}

func writeEntries(path string, entries []EntryRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cannot create entries file: %w", err)
	}
	bw := bufio.NewWriter(f)
	enc := json.NewEncoder(bw)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ReadSnapshot reads a snapshot written by WriteSnapshot.
func ReadSnapshot(dir string) (*Snapshot, error) {
	manifestPath := filepath.Join(dir, manifestFile)
	b, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("cannot read manifest %s: %w", manifestPath, err)
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("invalid manifest JSON %s: %w", manifestPath, err)
	}
	if m.IndexVersion != snapshotVersion {
		return nil, fmt.Errorf("unsupported index version %d", m.IndexVersion)
	}
	if m.Dim <= 0 {
		return nil, fmt.Errorf("invalid dim in manifest: %d", m.Dim)
	}
	if m.VectorFile == "" {
		m.VectorFile = defaultVectors
	}
	if m.EntriesFile == "" {
		m.EntriesFile = defaultEntryFile
	}

	entries, err := readEntries(filepath.Join(dir, m.EntriesFile))
	if err != nil {
		return nil, err
	}
	vectors, err := readVectors(filepath.Join(dir, m.VectorFile), len(entries), m.Dim)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Manifest: m, Entries: entries, Vectors: vectors}, nil
}

func readEntries(path string) ([]EntryRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open entries file %s: %w", path, err)
	}
	defer f.Close()

	var out []EntryRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e EntryRecord
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("invalid entries JSONL %s: %w", path, err)
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("cannot read entries file %s: %w", path, err)
	}
	return out, nil
}

func readVectors(path string, n, dim int) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open vector file %s: %w", path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("cannot stat vector file %s: %w", path, err)
	}
	expected := int64(n) * int64(dim) * 4
	if st.Size() != expected {
		return nil, fmt.Errorf("vector file size mismatch: got %d want %d (entries=%d dim=%d)", st.Size(), expected, n, dim)
	}

	out := make([]float32, n*dim)
	if err := binary.Read(bufio.NewReader(io.LimitReader(f, expected)), binary.LittleEndian, out); err != nil {
		return nil, fmt.Errorf("cannot read vectors from %s: %w", path, err)
	}
	return out, nil
}

// AtomicSwap replaces destDir with srcDir by renaming. The previous contents
// are kept as destDir.bak until the swap succeeds.
func AtomicSwap(srcDir, destDir string) error {
	if err := os.MkdirAll(filepath.Dir(destDir), 0o755); err != nil {
		return err
	}
	backup := destDir + ".bak"
	_ = os.RemoveAll(backup)
	if _, err := os.Stat(destDir); err == nil {
		if err := os.Rename(destDir, backup); err != nil {
			return err
		}
	}
	if err := os.Rename(srcDir, destDir); err != nil {
		if _, stErr := os.Stat(backup); stErr == nil {
			_ = os.Rename(backup, destDir)
		}
		return err
	}
	_ = os.RemoveAll(backup)
	return nil
}
