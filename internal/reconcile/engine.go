package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/evanofslack/ec2-dns-sync/internal/config"
	"github.com/evanofslack/ec2-dns-sync/internal/errdefs"
	"github.com/evanofslack/ec2-dns-sync/internal/metrics"
	"github.com/evanofslack/ec2-dns-sync/internal/provider"
	"github.com/evanofslack/ec2-dns-sync/internal/source"
	"github.com/evanofslack/ec2-dns-sync/internal/state"
)

const hintCreateRecord = "create the record manually in the DNS provider console, it is never created automatically"

type Engine interface {
	Reconcile(ctx context.Context) (Result, error)
}

type engine struct {
	source      source.Source
	dnsProvider provider.Provider
	history     state.Manager
	domain      string
	rr          string
	recordType  string
	ttl         time.Duration
	dryRun      bool
	metrics     *metrics.Metrics
}

// NewEngine wires a reconcile engine. history may be nil, in which case no
// change events are stored.
func NewEngine(src source.Source, dp provider.Provider, history state.Manager, cfg *config.Config, metrics *metrics.Metrics) *engine {
	return &engine{
		source:      src,
		dnsProvider: dp,
		history:     history,
		domain:      cfg.DNS.Domain,
		rr:          cfg.DNS.RR,
		recordType:  cfg.DNS.Type,
		ttl:         time.Duration(cfg.DNS.TTL) * time.Second,
		dryRun:      cfg.Reconcile.DryRun,
		metrics:     metrics,
	}
}

// Reconcile performs one detect, compare and update step. The provider is
// always asked for the current record; nothing from earlier runs is reused.
func (e *engine) Reconcile(ctx context.Context) (Result, error) {
	addr, err := e.source.Address(ctx)
	e.metrics.IncDetectRequest(e.source.Name(), err == nil)
	if err != nil {
		if errdefs.KindOf(err) == errdefs.KindUnknown {
			err = errdefs.New(errdefs.KindDetection, "detect address", err, "")
		}
		return Result{}, fmt.Errorf("detect address: %w", err)
	}
	e.metrics.SetAddress(addr.String())
	slog.Info("Detected public address", "source", e.source.Name(), "address", addr)

	records, err := e.dnsProvider.FindRecords(ctx, e.domain, e.rr, e.recordType)
	if err != nil {
		return Result{}, fmt.Errorf("find records: %w", classified(err))
	}

	result := Result{Address: addr}
	switch len(records) {
	case 0:
		return result, errdefs.Newf(errdefs.KindNotFound, "find records", hintCreateRecord,
			"no %s record %s found in %s", e.recordType, e.rr, e.domain)
	case 1:
	default:
		ids := make([]string, 0, len(records))
		for _, r := range records {
			ids = append(ids, r.ID)
		}
		return result, errdefs.Newf(errdefs.KindProvider, "find records",
			"remove the duplicate records so exactly one remains",
			"multiple records, cannot safely update: %s", strings.Join(ids, ","))
	}

	current := records[0]
	result.Record = current
	result.Previous = current.Value
	fqdn := current.FQDN()
	if current.Zone == "" {
		fqdn = provider.Record{Name: e.rr, Zone: e.domain}.FQDN()
	}

	if strings.TrimSpace(current.Value) == addr.String() {
		slog.Info("DNS record up to date", "record", fqdn, "address", addr)
		e.metrics.IncDNSOperation("skip", e.domain, e.recordType)
		result.Action = ActionNoop
		return result, nil
	}

	updated := current
	updated.Value = addr.String()
	updated.TTL = e.ttl
	if updated.Zone == "" {
		updated.Zone = e.domain
	}

	if e.dryRun {
		slog.Info("Dry run: would update DNS record", "record", fqdn, "old", current.Value, "new", updated.Value, "ttl", e.ttl)
		result.Action = ActionDryRun
		result.Record = updated
		result.RecordID = current.ID
		e.recordEvent(ctx, state.Event{
			FQDN:     fqdn,
			Previous: current.Value,
			Address:  updated.Value,
			RecordID: current.ID,
			DryRun:   true,
			Time:     time.Now(),
		})
		return result, nil
	}

	id, err := e.dnsProvider.UpdateRecord(ctx, e.domain, updated)
	if err != nil {
		return result, fmt.Errorf("update record: %w", classified(err))
	}
	e.metrics.IncDNSOperation("update", e.domain, e.recordType)
	slog.Info("Updated DNS record", "record", fqdn, "old", current.Value, "new", updated.Value, "record_id", id)

	result.Action = ActionUpdated
	result.Record = updated
	result.RecordID = id

	e.recordEvent(ctx, state.Event{
		FQDN:     fqdn,
		Previous: current.Value,
		Address:  updated.Value,
		RecordID: id,
		Time:     time.Now(),
	})
	return result, nil
}

func (e *engine) recordEvent(ctx context.Context, event state.Event) {
	if e.history == nil {
		return
	}
	// a failed history write never fails the run
	if err := e.history.Record(ctx, event); err != nil {
		slog.Warn("Failed to record address change", "record", event.FQDN, "error", err)
	}
}

func classified(err error) error {
	if errdefs.KindOf(err) != errdefs.KindUnknown {
		return err
	}
	return errdefs.Provider("dns provider", err)
}
