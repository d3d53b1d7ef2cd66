package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/fakeyudi/aiop/internal/digest"
)

// Manifest is the subset of the compiled pipeline manifest the report uses.
type Manifest struct {
	Present bool   // false when the session has no manifest file
	Path    string // file the manifest was read from
	Name    string
	Hash    string // as recorded; may carry a legacy algorithm prefix
	Steps   []Step
}

// Step is one compiled pipeline step.
type Step struct {
	ID        string
	Component string
	Needs     []string
}

type manifestDoc struct {
	Name         string `yaml:"name"`
	ManifestHash string `yaml:"manifest_hash"`
	Pipeline     struct {
		ID           string `yaml:"id"`
		Name         string `yaml:"name"`
		Fingerprints struct {
			ManifestFP string `yaml:"manifest_fp"`
		} `yaml:"fingerprints"`
	} `yaml:"pipeline"`
	Meta struct {
		ManifestHash string `yaml:"manifest_hash"`
	} `yaml:"meta"`
	Steps []struct {
		ID        string   `yaml:"id"`
		Component string   `yaml:"component"`
		Driver    string   `yaml:"driver"`
		Needs     []string `yaml:"needs"`
	} `yaml:"steps"`
}

// Manifest reads artifacts/manifest.yaml (or .yml/.json). A session without
// a manifest yields a non-present Manifest whose hash is the digest of the
// empty input. When the manifest records no hash, the digest of the file
// bytes is used.
func (s *Session) Manifest() (*Manifest, error) {
	for _, name := range manifestNames {
		path := filepath.Join(s.Dir, ArtifactsDir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read manifest: %w", err)
		}
		return parseManifest(path, data)
	}
	return &Manifest{Hash: digest.Sum(nil)}, nil
}

func parseManifest(path string, data []byte) (*Manifest, error) {
	var doc manifestDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	m := &Manifest{Present: true, Path: path, Name: firstNonEmpty(doc.Name, doc.Pipeline.Name, doc.Pipeline.ID)}
	m.Hash = firstNonEmpty(doc.ManifestHash, doc.Meta.ManifestHash, doc.Pipeline.Fingerprints.ManifestFP)
	if m.Hash == "" {
		m.Hash = digest.Sum(data)
	}
	for _, st := range doc.Steps {
		m.Steps = append(m.Steps, Step{
			ID:        st.ID,
			Component: firstNonEmpty(st.Component, st.Driver),
			Needs:     st.Needs,
		})
	}
	return m, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
