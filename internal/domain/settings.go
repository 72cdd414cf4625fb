package domain

// DocumentSettings holds the print options of a single queued document.
type DocumentSettings struct {
	Quantity int  `json:"quantity"`
	IsA3     bool `json:"isA3"`
}

// DefaultSettings is applied to documents without stored settings.
var DefaultSettings = DocumentSettings{Quantity: 1, IsA3: false}

// Normalize returns the settings with quantity clamped to at least 1.
// It is applied on every read and write so stale persisted values self-heal.
func (s DocumentSettings) Normalize() DocumentSettings {
	if s.Quantity < 1 {
		s.Quantity = 1
	}
	return s
}

// NormalizeAll returns a normalized copy of a settings map.
func NormalizeAll(settings map[string]DocumentSettings) map[string]DocumentSettings {
	out := make(map[string]DocumentSettings, len(settings))
	for id, s := range settings {
		out[id] = s.Normalize()
	}
	return out
}
