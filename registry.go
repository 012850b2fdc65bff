package webdistributor

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/csmith/webdistributor/model"
	"github.com/go-playground/validator/v10"
	"github.com/jxskiss/errors"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

const registryMode = 0644

var validate = validator.New()

// RegistryStore loads and saves the registry document at a single path. The document is TOML unless the path has
// a YAML extension.
type RegistryStore struct {
	logger *zap.SugaredLogger
	path   string
}

// NewRegistryStore creates a new registry store, using the specified path for storage.
func NewRegistryStore(logger *zap.SugaredLogger, path string) *RegistryStore {
	return &RegistryStore{
		logger: logger,
		path:   path,
	}
}

// Path returns the location of the registry document.
func (s *RegistryStore) Path() string {
	return s.path
}

// Load reads the registry from disk. If the file does not exist a default registry is created, saved and returned.
func (s *RegistryStore) Load() (*model.Registry, error) {
	b, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.logger.Infof("Registry %s not found, creating a default one", s.path)
		registry := model.NewRegistry()
		if err := s.Save(registry); err != nil {
			return nil, err
		}
		return registry, nil
	} else if err != nil {
		return nil, errors.WithMessagef(err, "read registry %s", s.path)
	}

	registry, err := s.decode(b)
	if err != nil {
		return nil, errors.WithMessagef(err, "parse registry %s", s.path)
	}
	registry.EnsureMaps()

	if err := validate.Struct(registry); err != nil {
		return nil, errors.WithMessagef(err, "invalid registry %s", s.path)
	}
	return registry, nil
}

// Save serialises the whole registry and replaces the document on disk.
func (s *RegistryStore) Save(registry *model.Registry) error {
	b, err := s.encode(registry)
	if err != nil {
		return errors.WithMessage(err, "serialise registry")
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return errors.WithMessagef(err, "create directory for registry %s", s.path)
	}

	s.logger.Debugf("Writing registry to %s", s.path)
	return writeFileAtomic(s.path, b, registryMode)
}

func (s *RegistryStore) isYAML() bool {
	ext := strings.ToLower(filepath.Ext(s.path))
	return ext == ".yaml" || ext == ".yml"
}

func (s *RegistryStore) decode(b []byte) (*model.Registry, error) {
	registry := &model.Registry{}
	var err error
	if s.isYAML() {
		err = yaml.UnmarshalStrict(b, registry)
	} else {
		err = toml.NewDecoder(bytes.NewReader(b)).DisallowUnknownFields().Decode(registry)
	}
	return registry, err
}

func (s *RegistryStore) encode(registry *model.Registry) ([]byte, error) {
	if s.isYAML() {
		return yaml.Marshal(registry)
	}
	return toml.Marshal(registry)
}
