package detector

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	modelFile    = "model.json"
	scalerFile   = "scaler.json"
	metadataFile = "metadata.json"
	latestFile   = "latest"
)

// GenerationStore persists model generations under a base directory. Each
// generation is its own timestamped subdirectory holding model, scaler,
// and metadata; a single pointer file names the latest generation and is
// updated only after all three files are fully written. A crash mid-save
// leaves the pointer at the previous complete generation.
type GenerationStore struct {
	baseDir string
}

// NewGenerationStore creates a store rooted at baseDir.
func NewGenerationStore(baseDir string) *GenerationStore {
	return &GenerationStore{baseDir: baseDir}
}

// Dir returns the store's base directory.
func (s *GenerationStore) Dir() string {
	return s.baseDir
}

// Save writes one generation and flips the latest pointer to it.
func (s *GenerationStore) Save(model *IsolationForest, scaler *StandardScaler, meta Metadata) error {
	name := time.Now().Format("20060102_150405.000000")
	genDir := filepath.Join(s.baseDir, name)
	if err := os.MkdirAll(genDir, 0o755); err != nil {
		return fmt.Errorf("create generation dir: %w", err)
	}

	if err := writeJSON(filepath.Join(genDir, modelFile), model); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(genDir, scalerFile), scaler); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(genDir, metadataFile), meta); err != nil {
		return err
	}

	// The pointer flip is the commit point: write to a temp file, then
	// rename over the pointer.
	tmp := filepath.Join(s.baseDir, latestFile+".tmp")
	if err := os.WriteFile(tmp, []byte(name), 0o644); err != nil {
		return fmt.Errorf("write latest pointer: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(s.baseDir, latestFile)); err != nil {
		return fmt.Errorf("commit latest pointer: %w", err)
	}
	return nil
}

// LoadLatest reads the generation the pointer names. A missing pointer
// means no generation exists yet and returns all-nil without error;
// a present but unreadable generation is an error.
func (s *GenerationStore) LoadLatest() (*IsolationForest, *StandardScaler, Metadata, error) {
	var meta Metadata

	pointer, err := os.ReadFile(filepath.Join(s.baseDir, latestFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, meta, nil
		}
		return nil, nil, meta, fmt.Errorf("read latest pointer: %w", err)
	}

	genDir := filepath.Join(s.baseDir, string(pointer))

	var model IsolationForest
	if err := readJSON(filepath.Join(genDir, modelFile), &model); err != nil {
		return nil, nil, meta, err
	}
	var scaler StandardScaler
	if err := readJSON(filepath.Join(genDir, scalerFile), &scaler); err != nil {
		return nil, nil, meta, err
	}
	if err := readJSON(filepath.Join(genDir, metadataFile), &meta); err != nil {
		return nil, nil, meta, err
	}

	return &model, &scaler, meta, nil
}

func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", filepath.Base(path), err)
	}
	return nil
}
