package models

import "time"

// Schedule is the server-owned digest delivery schedule. The client only
// ever reads it; a nil NextDelivery means the server has not computed one.
type Schedule struct {
	Enabled      bool       `json:"enabled"`
	Hour         int        `json:"hour"`
	Minute       int        `json:"minute"`
	Timezone     string     `json:"timezone"`
	NextDelivery *time.Time `json:"next_delivery,omitempty"`
}
