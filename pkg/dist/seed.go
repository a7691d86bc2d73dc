package dist

// Deterministic seed derivation. Every sampling call in a simulation run
// derives its own seed from (master seed, run index, entity id, event
// sequence) instead of drawing from a shared mutable stream, which keeps
// runs independent and reproducible across hosts.

const (
	fnvOffset64 = 0xcbf29ce484222325
	fnvPrime64  = 0x100000001b3
)

// splitmix64 is the finalizer from Vigna's SplitMix64 generator. It maps
// any 64-bit state to a well-mixed output and is the only mixing primitive
// used by the package.
func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// rederive produces the next seed in a rejection-resampling chain.
func rederive(seed uint64) uint64 { return splitmix64(seed + 1) }

// hashString folds a string into the running hash using FNV-1a.
func hashString(h uint64, s string) uint64 {
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= fnvPrime64
	}
	return h
}

// DeriveSeed computes a stable per-event seed from the master seed, run
// index, entity identifier and event sequence number. The same inputs
// always produce the same seed on every platform.
func DeriveSeed(master int64, runIndex int, entityID string, sequence uint64) uint64 {
	h := uint64(fnvOffset64)
	h = splitmix64(h ^ uint64(master))
	h = splitmix64(h ^ uint64(runIndex))
	h = hashString(h, entityID)
	h = splitmix64(h ^ sequence)
	return h
}

// uniform maps a seed to a float64 strictly inside (0, 1).
func uniform(seed uint64) float64 {
	return (float64(splitmix64(seed)>>11) + 0.5) / (1 << 53)
}
