package registry

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/ashita-ai/hakari/internal/model"
	"github.com/ashita-ai/hakari/internal/scoring"
)

// Manifest lists the algorithms a process serves.
type Manifest struct {
	Algorithms []ManifestEntry `yaml:"algorithms"`

	// dir resolves relative artifact and reference paths.
	dir string
}

// ManifestEntry is one algorithm in the manifest. Exactly one of Artifact
// or Reference is set: trained models load an artifact, the reserved
// statistical classifiers fit a reference dataset.
type ManifestEntry struct {
	Classifier  string     `yaml:"classifier"`
	Endpoint    string     `yaml:"endpoint"`
	Description string     `yaml:"description"`
	Version     string     `yaml:"version"`
	CreatedBy   string     `yaml:"created_by"`
	Status      string     `yaml:"status"`
	Dataset     string     `yaml:"dataset"`
	Region      string     `yaml:"region"`
	Artifact    string     `yaml:"artifact"`
	Reference   *Reference `yaml:"reference"`
}

// Reference points at the CSV a statistical method is fitted on.
type Reference struct {
	Path                   string `yaml:"path"`
	scoring.DatasetOptions `yaml:",inline"`
}

// ParseManifest decodes a YAML manifest. Relative paths inside it resolve
// against dir.
func ParseManifest(r io.Reader, dir string) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("registry: decode manifest: %w", err)
	}
	m.dir = dir
	for i, e := range m.Algorithms {
		if err := e.validate(); err != nil {
			return nil, fmt.Errorf("registry: manifest entry %d: %w", i, err)
		}
	}
	return &m, nil
}

// LoadManifest reads the manifest file at path.
func LoadManifest(path string) (*Manifest, error) {
	f, err := os.Open(path) //nolint:gosec // operator-supplied configuration path
	if err != nil {
		return nil, fmt.Errorf("registry: open manifest: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ParseManifest(f, filepath.Dir(path))
}

func (e ManifestEntry) validate() error {
	statistical := scoring.IsStatistical(e.Classifier)
	switch {
	case statistical && e.Reference == nil:
		return fmt.Errorf("%w: %s needs a reference dataset", ErrInvalidDescriptor, e.Classifier)
	case statistical && e.Artifact != "":
		return fmt.Errorf("%w: %s is fitted at startup and takes no artifact", ErrInvalidDescriptor, e.Classifier)
	case !statistical && e.Artifact == "":
		return fmt.Errorf("%w: %s needs an artifact", ErrInvalidDescriptor, e.Classifier)
	case !statistical && e.Reference != nil:
		return fmt.Errorf("%w: only statistical classifiers take a reference dataset", ErrInvalidDescriptor)
	}
	if e.Status != "" {
		if _, err := model.ParseStatus(e.Status); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidDescriptor, err)
		}
	}
	return nil
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) || m.dir == "" {
		return p
	}
	return filepath.Join(m.dir, p)
}

// load builds the predictor for one entry.
func (m *Manifest) load(e ManifestEntry) (scoring.Predictor, error) {
	if e.Reference != nil {
		return scoring.LoadStatistical(e.Classifier, m.resolve(e.Reference.Path), e.Reference.DatasetOptions)
	}
	return scoring.LoadArtifact(m.resolve(e.Artifact))
}

// Bootstrap loads every predictor in the manifest concurrently, registers
// the entries in manifest order, then seals the registry. Any failure
// aborts startup; the registry is left unsealed in that case.
func (r *Registry) Bootstrap(ctx context.Context, m *Manifest) error {
	predictors := make([]scoring.Predictor, len(m.Algorithms))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, e := range m.Algorithms {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p, err := m.load(e)
			if err != nil {
				return fmt.Errorf("registry: load %s/%s@%s: %w", e.Endpoint, e.Classifier, e.Version, err)
			}
			predictors[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, e := range m.Algorithms {
		if _, err := r.Register(ctx, Descriptor{
			Classifier:  e.Classifier,
			Endpoint:    e.Endpoint,
			Description: e.Description,
			Version:     e.Version,
			CreatedBy:   e.CreatedBy,
			Dataset:     e.Dataset,
			Region:      e.Region,
			Status:      model.Status(e.Status),
			Predictor:   predictors[i],
		}); err != nil {
			return err
		}
	}

	r.Seal()
	r.logger.Info("registry sealed", "algorithms", r.Len())
	return nil
}
