package provider

import (
	"context"
	"time"

	"github.com/libdns/libdns"
)

// Provider is the slice of a DNS management API needed to keep one record in
// sync. Providers never create records.
type Provider interface {
	// FindRecords returns the records of domain matching the zone-relative
	// name ("@" for the apex) and type.
	FindRecords(ctx context.Context, domain, name, recordType string) ([]Record, error)
	// UpdateRecord rewrites the record identified by record.ID and returns the
	// record ID reported by the provider.
	UpdateRecord(ctx context.Context, domain string, record Record) (string, error)
}

type Record struct {
	ID    string
	Name  string
	Type  string
	Value string
	Zone  string
	TTL   time.Duration
}

func (r Record) FQDN() string {
	return libdns.AbsoluteName(r.Name, r.Zone)
}

// RelativeName converts an absolute name into the zone-relative form used by
// Record.Name.
func RelativeName(fqdn, zone string) string {
	name := libdns.RelativeName(fqdn, zone)
	if name == "" {
		return "@"
	}
	return name
}
