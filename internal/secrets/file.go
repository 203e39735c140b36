package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// FileConfig points at a flat JSON object of key to value.
type FileConfig struct {
	Path string
	// Optional makes a missing file behave like an empty one.
	Optional bool
}

// FileProvider reads secrets from a JSON file. Meant for local development.
type FileProvider struct {
	config *FileConfig
	data   map[string]string
}

// NewFileProvider loads the file named by config.
func NewFileProvider(config *FileConfig) (*FileProvider, error) {
	if config == nil || config.Path == "" {
		return nil, errors.New("file path required")
	}
	p := &FileProvider{config: config, data: map[string]string{}}
	if err := p.load(); err != nil {
		if !errors.Is(err, os.ErrNotExist) || !config.Optional {
			return nil, fmt.Errorf("load secrets file: %w", err)
		}
	}
	return p, nil
}

func (p *FileProvider) Name() string { return "file" }

func (p *FileProvider) Get(_ context.Context, key string) (string, error) {
	val, ok := p.data[key]
	if !ok {
		return "", fmt.Errorf("%w: %s in %s", ErrNotFound, key, p.config.Path)
	}
	return val, nil
}

func (p *FileProvider) load() error {
	raw, err := os.ReadFile(p.config.Path)
	if err != nil {
		return err
	}
	data := map[string]string{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("parse %s: %w", p.config.Path, err)
	}
	p.data = data
	return nil
}
