package crawl

import (
	"strings"
)

// Mode is the deployment mode that picks the primary mechanism.
type Mode string

// Deployment modes.
const (
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
)

// ParseMode maps a deployment flag (e.g. NODE_ENV) to a Mode.
func ParseMode(raw string) Mode {
	if strings.EqualFold(strings.TrimSpace(raw), string(ModeProduction)) {
		return ModeProduction
	}
	return ModeDevelopment
}

// PrimaryFor returns the primary mechanism for mode: the constrained headless
// browser in production, the static fetch otherwise.
func PrimaryFor(mode Mode) MechanismKind {
	if mode == ModeProduction {
		return MechanismConstrained
	}
	return MechanismStatic
}

// Registry holds the available mechanisms and their acquisition profiles.
type Registry struct {
	mechanisms map[MechanismKind]Mechanism
	profiles   map[MechanismKind]Acquisition
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		mechanisms: make(map[MechanismKind]Mechanism),
		profiles:   make(map[MechanismKind]Acquisition),
	}
}

// Register adds a mechanism with the profile it runs under.
func (r *Registry) Register(m Mechanism, acq Acquisition) {
	acq.Mechanism = m.Kind()
	r.mechanisms[m.Kind()] = m
	r.profiles[m.Kind()] = acq
}

// Has reports whether kind is registered.
func (r *Registry) Has(kind MechanismKind) bool {
	_, ok := r.mechanisms[kind]
	return ok
}

// Single returns the candidate list containing only kind.
func (r *Registry) Single(kind MechanismKind) []Candidate {
	m, ok := r.mechanisms[kind]
	if !ok {
		return nil
	}
	return []Candidate{{Mechanism: m, Acquisition: r.profiles[kind]}}
}

// WithFallback returns primary followed by the full browser mechanism, which
// is retried when the primary mechanism resolves no ranking list.
func (r *Registry) WithFallback(primary MechanismKind) []Candidate {
	candidates := r.Single(primary)
	if primary != MechanismBrowser {
		candidates = append(candidates, r.Single(MechanismBrowser)...)
	}
	return candidates
}
