package po

import (
	"sort"

	"github.com/spire-resilient-systems/spire-sub003/internal/membership"
	"github.com/spire-resilient-systems/spire-sub003/internal/wire"
)

// Eligible computes spec §4.2's eligibility rule: given a 2f+k+1 column of
// PO_ARUs (a ProofMatrix) and the (f+k+1)-th highest ack-for-originator
// value across that column, an originator's PO slots up to that value
// become eligible for execution in the current ORD slot.
//
// Returns, for each originator present in replicas, the highest seq number
// now eligible (0 if none).
func Eligible(matrix wire.ProofMatrix, replicas []membership.ReplicaID, quorum membership.Table) map[membership.ReplicaID]uint64 {
	out := make(map[membership.ReplicaID]uint64, len(replicas))
	for _, originator := range replicas {
		out[originator] = fplusKplus1thHighest(matrix, originator, quorum)
	}
	return out
}

// fplusKplus1thHighest returns the (f+k+1)-th highest ack_for_server[originator]
// value across matrix's columns — spec §4.2: "the (f+k+1)-th highest
// ack-for-r across the column".
func fplusKplus1thHighest(matrix wire.ProofMatrix, originator membership.ReplicaID, quorum membership.Table) uint64 {
	idx := int(originator) - 1
	vals := make([]uint64, 0, len(matrix.Columns))
	for _, col := range matrix.Columns {
		if idx < 0 || idx >= len(col.AckForServer) {
			continue
		}
		vals = append(vals, col.AckForServer[idx].SeqNum)
	}
	if len(vals) == 0 {
		return 0
	}
	sort.Slice(vals, func(i, j int) bool { return vals[i] > vals[j] })

	rank := quorum.FPlusKPlusOne()
	if rank > len(vals) {
		rank = len(vals)
	}
	if rank == 0 {
		return 0
	}
	return vals[rank-1]
}

// ExecutionOrder sorts keys into spec §4.2's within-ordinal execution
// order: by originator id, then by seq.
func ExecutionOrder(keys []Key) []Key {
	out := append([]Key(nil), keys...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Originator != out[j].Originator {
			return out[i].Originator < out[j].Originator
		}
		return out[i].Seq.Less(out[j].Seq)
	})
	return out
}
