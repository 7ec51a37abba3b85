// Package filter defines the cleaning stage contracts.
package filter

import (
	"context"
	"fmt"

	"github.com/seqsense/splatclean/cloud"
)

// Filter computes which points of a set to keep. A Filter never changes
// positions or attributes, so applying its mask preserves the mapping.
type Filter interface {
	Mask(ctx context.Context, s *cloud.PointSet) (cloud.Mask, error)
}

// Resampler produces new points, breaking the mapping to original records.
type Resampler interface {
	Resample(ctx context.Context, s *cloud.PointSet) (*cloud.PointSet, error)
}

// ConfigError reports an invalid stage configuration. It is detected before
// any point is processed.
type ConfigError struct {
	Stage  string
	Param  string
	Value  interface{}
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("%s: %s", e.Stage, e.Reason)
	}
	return fmt.Sprintf("%s: invalid %s %v: %s", e.Stage, e.Param, e.Value, e.Reason)
}
