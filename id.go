package tandem

import "github.com/evercart/tandem/id"

// ID is the primary identifier type for all Tandem entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
