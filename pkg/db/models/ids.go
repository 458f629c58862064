package models

import "github.com/google/uuid"

// assignID fills zero primary keys so inserts never rely on database-side
// uuid generation.
func assignID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
