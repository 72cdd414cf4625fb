package converter

import "github.com/cwygoda/printq/internal/domain"

// Registry holds registered converters in priority order.
type Registry struct {
	converters []domain.Converter
}

// NewRegistry creates an empty converter registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a converter to the registry.
func (r *Registry) Register(c domain.Converter) {
	r.converters = append(r.converters, c)
}

// Match returns the first converter that matches filename, or nil.
func (r *Registry) Match(filename string) domain.Converter {
	if r == nil {
		return nil
	}
	for _, c := range r.converters {
		if c.Match(filename) {
			return c
		}
	}
	return nil
}

// Converters returns all registered converters.
func (r *Registry) Converters() []domain.Converter {
	return r.converters
}
