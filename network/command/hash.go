package command

// Hash computes the one-at-a-time hash of a command type name. Every byte is
// treated as unsigned, so the result is stable across platforms and matches the
// value peers compute for the same name.
func Hash(name string) uint32 {
	var h uint32
	for i := 0; i < len(name); i++ {
		h += uint32(name[i])
		h += h << 10
		h ^= h >> 6
	}
	h += h << 3
	h ^= h >> 11
	h += h << 15
	return h
}
