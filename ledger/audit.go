/*
audit.go - Integrity checks and repair

PURPOSE:
  Read-only detection of structural anomalies (missing singletons, duplicate
  active owner locations, orphaned balances) plus the one repair routine,
  which delegates to the registry's transactional dedup. Repairs always
  return the audit trail of what changed; nothing is fixed silently.
*/
package ledger

import (
	"context"
	"sort"
)

type Auditor struct {
	store    TxStore
	registry *Registry
}

func NewAuditor(store TxStore, registry *Registry) *Auditor {
	return &Auditor{store: store, registry: registry}
}

// DuplicateOwnerViolation is one (kind, owner) pair with more than one
// active location.
type DuplicateOwnerViolation struct {
	Kind           LocationKind
	OwnerReference string
	LocationIDs    []LocationID
}

// IntegrityReport is the combined read-only health view.
type IntegrityReport struct {
	MissingCoreLocations    []LocationKind
	DuplicateOwnerLocations []DuplicateOwnerViolation
	OrphanedBalances        []Balance
}

func (r *IntegrityReport) Healthy() bool {
	return len(r.MissingCoreLocations) == 0 &&
		len(r.DuplicateOwnerLocations) == 0 &&
		len(r.OrphanedBalances) == 0
}

// Report runs every read-only check.
func (a *Auditor) Report(ctx context.Context) (*IntegrityReport, error) {
	missing, err := a.CheckCoreLocations(ctx)
	if err != nil {
		return nil, err
	}
	duplicates, err := a.CheckDuplicateOwnerLocations(ctx)
	if err != nil {
		return nil, err
	}
	orphans, err := a.CheckOrphanedBalances(ctx)
	if err != nil {
		return nil, err
	}
	return &IntegrityReport{
		MissingCoreLocations:    missing,
		DuplicateOwnerLocations: duplicates,
		OrphanedBalances:        orphans,
	}, nil
}

// CheckCoreLocations reports which singleton locations are missing.
func (a *Auditor) CheckCoreLocations(ctx context.Context) ([]LocationKind, error) {
	return a.registry.CheckCoreLocations(ctx)
}

// CheckDuplicateOwnerLocations lists every (kind, owner) pair with more than
// one active location. Singleton kinds are grouped under an empty owner, so
// a second active warehouse is reported the same way.
func (a *Auditor) CheckDuplicateOwnerLocations(ctx context.Context) ([]DuplicateOwnerViolation, error) {
	locs, err := a.store.ListLocations(ctx)
	if err != nil {
		return nil, err
	}
	type ownerKey struct {
		kind  LocationKind
		owner string
	}
	groups := make(map[ownerKey][]LocationID)
	for _, loc := range locs {
		if !loc.IsActive {
			continue
		}
		k := ownerKey{kind: loc.Kind, owner: loc.OwnerReference}
		groups[k] = append(groups[k], loc.ID)
	}

	var violations []DuplicateOwnerViolation
	for k, ids := range groups {
		if len(ids) < 2 {
			continue
		}
		violations = append(violations, DuplicateOwnerViolation{
			Kind:           k.kind,
			OwnerReference: k.owner,
			LocationIDs:    ids,
		})
	}
	sort.Slice(violations, func(i, j int) bool {
		if violations[i].Kind != violations[j].Kind {
			return violations[i].Kind < violations[j].Kind
		}
		return violations[i].OwnerReference < violations[j].OwnerReference
	})
	return violations, nil
}

// CheckOrphanedBalances lists balance rows pointing at locations that no
// longer exist. Should be unreachable (locations are deactivated, never
// deleted) but operator error can hard-remove rows underneath us.
func (a *Auditor) CheckOrphanedBalances(ctx context.Context) ([]Balance, error) {
	return a.store.OrphanedBalances(ctx)
}

// RepairDuplicates runs the transactional dedup for every violation found
// and returns a report per repair.
func (a *Auditor) RepairDuplicates(ctx context.Context, actor string) ([]DedupReport, error) {
	violations, err := a.CheckDuplicateOwnerLocations(ctx)
	if err != nil {
		return nil, err
	}
	reports := make([]DedupReport, 0, len(violations))
	for _, v := range violations {
		report, err := a.registry.Deduplicate(ctx, v.Kind, v.OwnerReference, actor)
		if err != nil {
			return reports, err
		}
		reports = append(reports, *report)
	}
	return reports, nil
}
