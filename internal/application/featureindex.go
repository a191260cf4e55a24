package application

import "github.com/jobrunner/geosplit/internal/domain"

// assumedFeatureBytes sizes vector layers whose byte size is unknown.
const assumedFeatureBytes = 512

// VectorFeatureIndex exposes a vector layer as the addressable space
// [0, FeatureCount).
type VectorFeatureIndex struct {
	info domain.LayerInfo
}

// NewVectorFeatureIndex creates an index for an opened layer.
func NewVectorFeatureIndex(info domain.LayerInfo) *VectorFeatureIndex {
	return &VectorFeatureIndex{info: info}
}

// FeatureCount returns the number of features.
func (ix *VectorFeatureIndex) FeatureCount() int64 {
	return ix.info.FeatureCount
}

// Info returns the layer description.
func (ix *VectorFeatureIndex) Info() domain.LayerInfo {
	return ix.info
}

// EstimatedSize returns the layer size in bytes.
func (ix *VectorFeatureIndex) EstimatedSize() int64 {
	if ix.info.SizeBytes > 0 {
		return ix.info.SizeBytes
	}
	return ix.info.FeatureCount * assumedFeatureBytes
}

// InitialRanges partitions the features into contiguous ranges of roughly
// desiredBundleSize bytes.
func (ix *VectorFeatureIndex) InitialRanges(desiredBundleSize int64) []domain.Range {
	parts := domain.PartsForBundle(ix.EstimatedSize(), desiredBundleSize)
	return domain.SplitEvenly(ix.info.FeatureCount, parts)
}
