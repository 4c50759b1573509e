package types

import "time"

// Space is a tenant boundary that owns documents and memories. OwnerID is the
// encryption and versioning scope key for everything inside the space.
type Space struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
