// Package upload expands the queue into upload units and runs them
// concurrently against the print server.
package upload

import (
	"github.com/cwygoda/printq/internal/domain"
)

// Plan is the expansion of a queue snapshot into one unit per physical copy.
type Plan struct {
	Units             []domain.UploadUnit
	TotalCount        int
	CompletedPerGroup map[string]int
}

// InitialProgress returns the zero progress snapshot for the plan.
func (p Plan) InitialProgress() domain.UploadProgress {
	return domain.UploadProgress{
		TotalCount:        p.TotalCount,
		CompletedPerGroup: p.CompletedPerGroup,
	}.Clone()
}

// MakePlan expands descriptors into upload units in queue order. It fails
// with domain.ErrEmptyQueue when there is nothing to upload and with a
// *domain.LocationError when an identifier does not name a local file.
func MakePlan(descriptors []domain.Descriptor) (Plan, error) {
	if len(descriptors) == 0 {
		return Plan{}, domain.ErrEmptyQueue
	}

	plan := Plan{CompletedPerGroup: make(map[string]int, len(descriptors))}
	for _, d := range descriptors {
		path, err := domain.ParseLocation(d.Identifier)
		if err != nil {
			return Plan{}, err
		}
		for i := 0; i < max(d.Quantity, 1); i++ {
			plan.Units = append(plan.Units, domain.UploadUnit{
				GroupID:      d.Identifier,
				FileLocation: path,
				IsA3:         d.IsA3,
			})
		}
		plan.CompletedPerGroup[d.Identifier] = 0
	}
	plan.TotalCount = len(plan.Units)

	return plan, nil
}
