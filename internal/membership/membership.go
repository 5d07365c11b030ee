// Package membership models the fixed-size replica ensemble: identities,
// the adversarial thresholds f and k, and the Leader(view) function. The
// configuration-agent/configuration-manager glue that actually distributes
// membership and keys across a live deployment is out of scope (spec §1) —
// Source is the seam a future integration would implement.
package membership

import "fmt"

// ReplicaID identifies a replica in 1..N. ClientID space is disjoint and
// modeled as a separate type so the two can never be confused at a call
// site.
type ReplicaID int

// ClientID identifies a client of the replicated service.
type ClientID string

// Table is the static membership the ordering engine runs against: replica
// count N and the Byzantine/unavailable tolerances f and k, satisfying
// N >= 3f + 2k + 1.
type Table struct {
	N int
	F int
	K int

	// Self is this process's own replica id.
	Self ReplicaID
}

// Validate checks the N >= 3f+2k+1 invariant and that Self is in range.
func (t Table) Validate() error {
	if t.N < 3*t.F+2*t.K+1 {
		return fmt.Errorf("membership: N=%d does not satisfy N >= 3f+2k+1 (f=%d, k=%d)", t.N, t.F, t.K)
	}
	if t.Self < 1 || int(t.Self) > t.N {
		return fmt.Errorf("membership: self id %d out of range [1,%d]", t.Self, t.N)
	}
	return nil
}

// SmallQuorum is the 2f+k size used for prepare-certificates (excludes the
// Pre_Prepare originator).
func (t Table) SmallQuorum() int { return 2*t.F + t.K }

// LargeQuorum is the 2f+k+1 size used everywhere else a witnessed set is
// required: PO proofs, commit-certificates, view-change lists, reset
// certificates.
func (t Table) LargeQuorum() int { return 2*t.F + t.K + 1 }

// FPlusKPlusOne is the f+k+1 size used for order-statistic computations:
// tat_leader, tat_acceptable, Proof_ARU eligibility, and New-Leader-Proof
// composition thresholds that key off the (f+k+1)-th ranked value.
func (t Table) FPlusKPlusOne() int { return t.F + t.K + 1 }

// Leader returns the replica id that leads the given view: ((view-1) mod N) + 1.
func (t Table) Leader(view uint64) ReplicaID {
	n := uint64(t.N)
	return ReplicaID((view-1)%n + 1)
}

// Replicas returns every replica id in 1..N, in order. Used wherever a
// subsystem needs to range over the full membership (building a Proof
// Matrix column, initializing per-replica tables, and so on).
func (t Table) Replicas() []ReplicaID {
	out := make([]ReplicaID, t.N)
	for i := range out {
		out[i] = ReplicaID(i + 1)
	}
	return out
}

// Source is the seam toward the out-of-scope configuration-agent /
// configuration-manager subsystem: it supplies the current Table and the
// GlobalConfigNumber it was installed under, and reports whether a new,
// validly-signed epoch has arrived. Spec §6: "receipt of a validly signed
// higher number from the configuration manager triggers a controlled
// re-initialization."
type Source interface {
	Current() (Table, GlobalConfigNumber)
}

// GlobalConfigNumber is the system-wide membership epoch. It must be
// strictly increasing; see spec §9 Open Question (c) and DESIGN.md for why
// this repository uses a monotonic counter rather than wall-clock seconds.
type GlobalConfigNumber uint64

// StaticSource is a Source backed by a Table fixed at process start — the
// implementation this repository ships, since the live configuration-agent
// integration is out of scope (spec §1).
type StaticSource struct {
	table   Table
	gcn     GlobalConfigNumber
}

// NewStaticSource constructs a StaticSource for a fixed membership table
// and starting global configuration number.
func NewStaticSource(table Table, gcn GlobalConfigNumber) *StaticSource {
	return &StaticSource{table: table, gcn: gcn}
}

// Current implements Source.
func (s *StaticSource) Current() (Table, GlobalConfigNumber) {
	return s.table, s.gcn
}
