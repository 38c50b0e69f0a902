package repository

import "fmt"

// ModelHandlers gives the generic repository typed access to the fields it
// must read and force on every record: the primary key and the owning
// clinic. Defining them as functions keeps the repository free of reflection
// on the hot path.
type ModelHandlers[T any] struct {
	// NewRecord returns an empty record, used as the scan target for reads
	// and as the table reference for set-based updates.
	NewRecord func() T

	// GetID and SetID access the primary key.
	GetID func(T) int64
	SetID func(T, int64)

	// GetClinicID and SetClinicID access the owning clinic. SetClinicID is
	// what enforces ownership on create: the repository overwrites whatever
	// the caller supplied.
	GetClinicID func(T) int64
	SetClinicID func(T, int64)

	// EntityType names the entity in audit records and errors,
	// e.g. "contact".
	EntityType string
}

func (h ModelHandlers[T]) validate() error {
	if h.NewRecord == nil {
		return fmt.Errorf("repository: ModelHandlers.NewRecord is required")
	}
	if h.GetID == nil || h.SetID == nil {
		return fmt.Errorf("repository: ModelHandlers ID accessors are required")
	}
	if h.GetClinicID == nil || h.SetClinicID == nil {
		return fmt.Errorf("repository: ModelHandlers clinic accessors are required")
	}
	if h.EntityType == "" {
		return fmt.Errorf("repository: ModelHandlers.EntityType is required")
	}
	return nil
}
