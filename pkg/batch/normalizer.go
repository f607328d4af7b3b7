package batch

import "strings"

// Normalizer maps raw region names onto a shared vocabulary
type Normalizer struct {
	aliases map[string]string
}

// NewNormalizer builds a normalizer; alias keys are matched case-insensitively
func NewNormalizer(aliases map[string]string) *Normalizer {
	n := &Normalizer{aliases: make(map[string]string, len(aliases))}
	for raw, normalized := range aliases {
		n.aliases[key(raw)] = strings.TrimSpace(normalized)
	}
	return n
}

// Normalize returns the alias for name, or the trimmed name when none is configured
func (n *Normalizer) Normalize(name string) string {
	if v, ok := n.aliases[key(name)]; ok {
		return v
	}
	return strings.TrimSpace(name)
}

func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
