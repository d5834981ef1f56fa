//go:build !linux

package agent

import "github.com/droverd/drover/pkg/types"

// systemSampler is a no-op off Linux; heartbeats carry zero metrics and
// placement falls back to load-based scoring.
type systemSampler struct{}

func newSystemSampler() *systemSampler {
	return &systemSampler{}
}

func (s *systemSampler) Sample() types.NodeMetrics {
	return types.NodeMetrics{}
}
