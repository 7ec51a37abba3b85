package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/seqsense/splatclean/cloud"
	"github.com/seqsense/splatclean/pipeline"
)

const presetsFileName = "presets.yaml"

// preset is a named cleaning configuration.
type preset struct {
	GSMode bool                   `yaml:"gs_mode"`
	Stages []pipeline.StageConfig `yaml:"stages"`
}

// stage returns the stage of type t, appending an enabled one if missing.
func (p *preset) stage(t pipeline.StageType) *pipeline.StageConfig {
	for i := range p.Stages {
		if p.Stages[i].Type == t {
			return &p.Stages[i]
		}
	}
	p.Stages = append(p.Stages, pipeline.StageConfig{Type: t, Enabled: true})
	return &p.Stages[len(p.Stages)-1]
}

func (p *preset) has(t pipeline.StageType) bool {
	for _, s := range p.Stages {
		if s.Type == t && s.Enabled {
			return true
		}
	}
	return false
}

// profile holds the interactive preferences.
type profile struct {
	Eps         float32 `yaml:"eps"`
	MinPoints   int     `yaml:"min_points"`
	AutoCluster bool    `yaml:"auto_cluster"`
	GSMode      bool    `yaml:"gs_mode"`

	// Orientation is applied to the working positions after load and reset
	// when AutoOrientation is set.
	Orientation     cloud.Orientation `yaml:"orientation"`
	AutoOrientation bool              `yaml:"auto_orientation"`
}

var defaultProfile = profile{
	Eps:         0.03,
	MinPoints:   30,
	GSMode:      true,
	Orientation: cloud.NoOrientation,
}

type presetStore struct {
	Presets map[string]preset `yaml:"presets,omitempty"`
	Profile profile           `yaml:"profile"`

	path string
}

func defaultPresetsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return presetsFileName
	}
	return filepath.Join(dir, "splatclean", presetsFileName)
}

// loadPresets reads the store at path. A missing file gives an empty store.
func loadPresets(path string) (*presetStore, error) {
	s := &presetStore{
		Presets: map[string]preset{},
		Profile: defaultProfile,
		path:    path,
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if s.Presets == nil {
		s.Presets = map[string]preset{}
	}
	if err := s.Profile.Orientation.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func (s *presetStore) save() error {
	b, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.path, b, 0o644)
}

func (s *presetStore) get(name string) (preset, error) {
	p, ok := s.Presets[name]
	if !ok {
		return preset{}, fmt.Errorf("preset %q not found", name)
	}
	// Stage parameters are pointers; copy them so that flag overrides do not
	// leak into the stored preset.
	out := preset{GSMode: p.GSMode, Stages: make([]pipeline.StageConfig, len(p.Stages))}
	for i, c := range p.Stages {
		out.Stages[i] = copyStage(c)
	}
	return out, nil
}

func (s *presetStore) names() []string {
	names := make([]string, 0, len(s.Presets))
	for name := range s.Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func copyStage(c pipeline.StageConfig) pipeline.StageConfig {
	if c.Cluster != nil {
		v := *c.Cluster
		c.Cluster = &v
	}
	if c.Radius != nil {
		v := *c.Radius
		c.Radius = &v
	}
	if c.Statistical != nil {
		v := *c.Statistical
		c.Statistical = &v
	}
	if c.Crop != nil {
		v := *c.Crop
		c.Crop = &v
	}
	if c.Voxel != nil {
		v := *c.Voxel
		c.Voxel = &v
	}
	return c
}
