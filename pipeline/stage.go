// Package pipeline applies ordered cleaning stages to point sets while
// keeping the mapping to the original records.
package pipeline

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/seqsense/splatclean/cloud/filter"
	"github.com/seqsense/splatclean/cloud/filter/crop"
	"github.com/seqsense/splatclean/cloud/filter/outlier"
	"github.com/seqsense/splatclean/cloud/filter/voxelgrid"
	"github.com/seqsense/splatclean/cloud/segmentation/dbscan"
)

// StageType names a cleaning stage.
type StageType string

const (
	ClusterIsolate     StageType = "cluster_isolate"
	RadiusOutlier      StageType = "radius_outlier"
	StatisticalOutlier StageType = "statistical_outlier"
	AABBCrop           StageType = "aabb_crop"
	// VoxelDownsample breaks the mapping and is refused in 3DGS mode.
	VoxelDownsample StageType = "voxel_downsample"
)

// StageConfig selects a stage and holds its parameters. Only the parameter
// block matching Type is used.
type StageConfig struct {
	Type    StageType `yaml:"type"`
	Enabled bool      `yaml:"enabled"`

	Cluster     *dbscan.Params       `yaml:"cluster,omitempty"`
	Radius      *outlier.Radius      `yaml:"radius,omitempty"`
	Statistical *outlier.Statistical `yaml:"statistical,omitempty"`
	Crop        *crop.Box            `yaml:"crop,omitempty"`
	Voxel       *voxelgrid.Params    `yaml:"voxel,omitempty"`
}

// UnmarshalYAML enables stages unless stated otherwise.
func (c *StageConfig) UnmarshalYAML(value *yaml.Node) error {
	type raw StageConfig
	r := raw{Enabled: true}
	if err := value.Decode(&r); err != nil {
		return err
	}
	*c = StageConfig(r)
	return nil
}

func (c StageConfig) String() string {
	switch c.Type {
	case ClusterIsolate:
		if c.Cluster != nil {
			return fmt.Sprintf("%s(eps=%g, min_points=%d)", c.Type, c.Cluster.Eps, c.Cluster.MinPoints)
		}
	case RadiusOutlier:
		if c.Radius != nil {
			return fmt.Sprintf("%s(radius=%g, min_neighbors=%d)", c.Type, c.Radius.Radius, c.Radius.MinNeighbors)
		}
	case StatisticalOutlier:
		if c.Statistical != nil {
			return fmt.Sprintf("%s(k=%d, std_ratio=%g)", c.Type, c.Statistical.K, c.Statistical.StdRatio)
		}
	case AABBCrop:
		if c.Crop != nil {
			return fmt.Sprintf("%s(min=%v, max=%v)", c.Type, c.Crop.Min, c.Crop.Max)
		}
	case VoxelDownsample:
		if c.Voxel != nil {
			return fmt.Sprintf("%s(leaf_size=%g)", c.Type, c.Voxel.LeafSize)
		}
	}
	return string(c.Type)
}

// Subsetting reports whether the stage only removes points.
func (c StageConfig) Subsetting() bool {
	return c.Type != VoxelDownsample
}

type validator interface {
	Validate() error
}

func (c StageConfig) params() (validator, bool) {
	switch c.Type {
	case ClusterIsolate:
		return c.Cluster, c.Cluster != nil
	case RadiusOutlier:
		return c.Radius, c.Radius != nil
	case StatisticalOutlier:
		return c.Statistical, c.Statistical != nil
	case AABBCrop:
		return c.Crop, c.Crop != nil
	case VoxelDownsample:
		return c.Voxel, c.Voxel != nil
	}
	return nil, false
}

// Validate checks that the parameters for Type are present and valid.
func (c StageConfig) Validate() error {
	switch c.Type {
	case ClusterIsolate, RadiusOutlier, StatisticalOutlier, AABBCrop, VoxelDownsample:
	default:
		return &filter.ConfigError{Stage: string(c.Type), Param: "type", Value: c.Type, Reason: "unknown stage type"}
	}
	p, ok := c.params()
	if !ok {
		return &filter.ConfigError{Stage: string(c.Type), Reason: "missing parameters"}
	}
	return p.Validate()
}

func rank(t StageType, seenCluster bool) int {
	switch t {
	case ClusterIsolate:
		if seenCluster {
			return 4
		}
		return 0
	case RadiusOutlier:
		return 1
	case StatisticalOutlier:
		return 2
	case AABBCrop:
		return 3
	}
	return 5
}

// Recommended returns the stages in the recommended order: cluster isolation,
// radius outlier removal, statistical outlier removal, crop, then any further
// cluster pass. The relative order of stages of the same kind is kept.
func Recommended(stages []StageConfig) []StageConfig {
	type ranked struct {
		StageConfig
		rank int
	}
	rs := make([]ranked, len(stages))
	var seenCluster bool
	for i, s := range stages {
		rs[i] = ranked{StageConfig: s, rank: rank(s.Type, seenCluster)}
		if s.Type == ClusterIsolate {
			seenCluster = true
		}
	}
	sort.SliceStable(rs, func(i, j int) bool {
		return rs[i].rank < rs[j].rank
	})
	out := make([]StageConfig, len(rs))
	for i, r := range rs {
		out[i] = r.StageConfig
	}
	return out
}
