package state

import "time"

// Event is one address change applied to a DNS record.
type Event struct {
	FQDN     string    `json:"fqdn"`
	Previous string    `json:"previous"`
	Address  string    `json:"address"`
	RecordID string    `json:"recordId"`
	DryRun   bool      `json:"dryRun,omitempty"`
	Time     time.Time `json:"time"`
}
