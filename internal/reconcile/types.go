package reconcile

import (
	"net/netip"

	"github.com/evanofslack/ec2-dns-sync/internal/provider"
)

type Action string

const (
	ActionNoop    Action = "noop"
	ActionUpdated Action = "updated"
	ActionDryRun  Action = "dryrun"
)

// Result describes what one reconcile run did to the managed record.
type Result struct {
	Action   Action
	Address  netip.Addr
	Previous string
	Record   provider.Record
	// RecordID is the identifier reported by the provider after an update.
	RecordID string
}
