package risk

import (
	"context"

	"github.com/spf13/viper"

	apperrors "github.com/openidx/authrisk/internal/common/errors"
)

// FileSource reads threat intelligence from a YAML, JSON or TOML file
type FileSource struct {
	Path string
}

// NewFileSource creates a FileSource for path
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

// Name returns the source name
func (s *FileSource) Name() string { return "file" }

// Load reads and validates the file. The format follows the file extension.
func (s *FileSource) Load(ctx context.Context) (*ThreatIntel, error) {
	v := viper.New()
	v.SetConfigFile(s.Path)
	if err := v.ReadInConfig(); err != nil {
		return nil, apperrors.ThreatIntelUnavailable(s.Name(), err).WithDetails(s.Path)
	}

	var cfg ThreatIntelConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.Configuration("malformed threat intel file", err).WithDetails(s.Path)
	}
	return NewThreatIntel(cfg)
}
