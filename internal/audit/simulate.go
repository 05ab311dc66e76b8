package audit

import (
	"context"
	"hash/fnv"
	"math/rand"
)

// Simulator is a deterministic stand-in for a satellite imagery backend.
// Each project draws its metric from a PRNG seeded by its project key, so
// repeated runs produce identical audits without network access. Projects
// that were never started (cancelled or announced) draw from a near-zero
// band, mirroring sites where no ground was ever broken.
type Simulator struct{}

// NewSimulator creates a simulated NDVI provider.
func NewSimulator() *Simulator {
	return &Simulator{}
}

// NDVIChange returns a deterministic simulated metric for the project.
func (s *Simulator) NDVIChange(_ context.Context, req Request, _ Window) (float64, error) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(req.ProjectKey))
	rng := rand.New(rand.NewSource(int64(h.Sum64()))) //nolint:gosec // simulation, not security

	switch req.Status {
	case "cancelled", "announced":
		return 0.001 + rng.Float64()*0.009, nil
	default:
		return 0.001 + rng.Float64()*0.199, nil
	}
}

var _ Provider = (*Simulator)(nil)
