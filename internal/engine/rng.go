package engine

import (
	"encoding/binary"

	"github.com/zeebo/blake3"
)

// Sampler derives reproducible values from (seed, entity id, salt). The same
// inputs always produce the same output, independent of call order.
type Sampler struct {
	seed string
}

func NewSampler(seed string) Sampler {
	return Sampler{seed: seed}
}

// Float64 returns a value in [0, 1).
func (s Sampler) Float64(id, salt string) float64 {
	buf := make([]byte, 0, len(s.seed)+len(id)+len(salt)+2)
	buf = append(buf, s.seed...)
	buf = append(buf, 0)
	buf = append(buf, id...)
	buf = append(buf, 0)
	buf = append(buf, salt...)
	sum := blake3.Sum256(buf)
	return float64(binary.BigEndian.Uint64(sum[:8])>>11) / (1 << 53)
}

// Uniform returns a value in [lo, hi]; a degenerate range returns lo.
func (s Sampler) Uniform(id, salt string, lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + s.Float64(id, salt)*(hi-lo)
}
