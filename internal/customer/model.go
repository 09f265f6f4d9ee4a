// Package customer provides models and persistence for buyer identities
// captured at checkout time.
package customer

import "time"

// Customer is a buyer identity. It is created on the first checkout attempt
// and looked up by email on repeat purchases; this subsystem never deletes it.
type Customer struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	Phone     string     `json:"phone,omitempty"`
	Address   string     `json:"address,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}
