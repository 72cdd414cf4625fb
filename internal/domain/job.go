package domain

// Descriptor is the normalized view of one queue entry used for display and planning.
type Descriptor struct {
	Identifier string `json:"identifier"`
	Quantity   int    `json:"quantity"`
	IsA3       bool   `json:"is_a3"`
}

// Settings returns the descriptor's print options.
func (d Descriptor) Settings() DocumentSettings {
	return DocumentSettings{Quantity: d.Quantity, IsA3: d.IsA3}
}

// UploadUnit is one physical copy to upload. Units expanded from the same
// document share its identifier as GroupID.
type UploadUnit struct {
	GroupID      string
	FileLocation string
	IsA3         bool
}

// UploadProgress is a snapshot of an upload session.
// SuccessCount always equals the sum of CompletedPerGroup values.
type UploadProgress struct {
	SuccessCount      int            `json:"success_count"`
	TotalCount        int            `json:"total_count"`
	CompletedPerGroup map[string]int `json:"completed_per_group"`
}

// Clone returns a deep copy safe to hand to another goroutine.
func (p UploadProgress) Clone() UploadProgress {
	groups := make(map[string]int, len(p.CompletedPerGroup))
	for id, n := range p.CompletedPerGroup {
		groups[id] = n
	}
	p.CompletedPerGroup = groups
	return p
}

// Done reports whether every unit has completed.
func (p UploadProgress) Done() bool {
	return p.TotalCount > 0 && p.SuccessCount == p.TotalCount
}
