package replica

import (
	"time"

	"github.com/spire-resilient-systems/spire-sub003/internal/catchup"
	"github.com/spire-resilient-systems/spire-sub003/internal/membership"
	"github.com/spire-resilient-systems/spire-sub003/internal/ord"
	"github.com/spire-resilient-systems/spire-sub003/internal/po"
	"github.com/spire-resilient-systems/spire-sub003/internal/transport"
	"github.com/spire-resilient-systems/spire-sub003/internal/wire"
)

// onCatchupRequest answers a lagging peer: a certificate stream within
// CatchupHistory, or a Jump otherwise, rate-limited per source.
func (r *Replica) onCatchupRequest(from membership.ReplicaID, req wire.CatchupRequest) {
	if !r.limiter.Allow(from, time.Now()) {
		return
	}
	localARU := r.ord.Aru()
	switch r.helper.Classify(req, localARU) {
	case catchup.ResponseStream:
		r.streamOrdCertificates(from, req.ARU, localARU)
		r.streamPOCertificates(from, req.PoAru)
	case catchup.ResponseJump:
		r.sendJump(from, localARU)
	}
}

func (r *Replica) streamOrdCertificates(to membership.ReplicaID, from, through wire.OrdSeq) {
	for seq := from + 1; seq <= through; seq++ {
		cert, ok := r.ordCertificateFor(seq)
		if !ok {
			continue
		}
		r.sendTo(to, wire.KindORDCertificate, cert, transport.Reconciliation)
	}
}

func (r *Replica) streamPOCertificates(to membership.ReplicaID, reported []wire.PoSeqPair) {
	for _, originator := range r.quorum.Replicas() {
		start := uint64(1)
		if int(originator) <= len(reported) {
			start = reported[originator-1].SeqNum + 1
		}
		through := r.po.Aru(originator)
		for seq := start; seq <= through; seq++ {
			key := po.Key{Originator: originator, Seq: wire.PoSeqPair{Incarnation: uint64(r.incarnationNum), SeqNum: seq}}
			cert, ok := r.poCertificateFor(key)
			if !ok {
				continue
			}
			r.sendTo(to, wire.KindPOCertificate, cert, transport.Reconciliation)
		}
	}
}

func (r *Replica) ordCertificateFor(seq wire.OrdSeq) (wire.ORDCertificate, bool) {
	slot, ok := r.ord.Slot(seq)
	if !ok || slot.PrePrepare == nil || slot.CommitCert == nil {
		return wire.ORDCertificate{}, false
	}
	commits := make([]wire.Commit, 0, len(slot.Commits))
	for _, c := range slot.Commits {
		commits = append(commits, c)
	}
	return wire.ORDCertificate{
		Seq:            seq,
		View:           slot.View,
		ProposalDigest: slot.PrePrepare.ProposalDigest,
		Commits:        commits,
	}, true
}

func (r *Replica) poCertificateFor(key po.Key) (wire.POCertificate, bool) {
	slot, ok := r.po.Slot(key)
	if !ok || slot.Cert == nil {
		return wire.POCertificate{}, false
	}
	acks := make([]wire.AckPart, 0, len(slot.Acks))
	for _, a := range slot.Acks {
		acks = append(acks, a)
	}
	return wire.POCertificate{Request: slot.Request, Acks: acks}, true
}

func (r *Replica) sendJump(to membership.ReplicaID, localARU wire.OrdSeq) {
	var proposalDigest [32]byte
	var ordCert wire.ORDCertificate
	if slot, ok := r.ord.Slot(localARU); ok && slot.PrePrepare != nil {
		proposalDigest = slot.PrePrepare.ProposalDigest
		if cert, ok := r.ordCertificateFor(localARU); ok {
			ordCert = cert
		}
	}
	var resetCert *wire.ResetCertificate
	if r.resetTbl != nil {
		if cert, ok := r.resetTbl.Certificate(); ok {
			resetCert = &cert
		}
	}
	jump := catchup.BuildJump(localARU, proposalDigest, ordCert, resetCert, r.incarn.InstalledVector())
	r.sendTo(to, wire.KindJump, jump, transport.Reconciliation)
}

// onJump applies a helper's Jump response: jump-mismatch evidence if it
// disagrees with this replica's own local digest at the same seq, or
// otherwise (future work) a fast-forward past CatchupHistory.
func (r *Replica) onJump(from membership.ReplicaID, jump wire.Jump) {
	var localDigest [32]byte
	if slot, ok := r.ord.Slot(jump.SeqNum); ok && slot.PrePrepare != nil {
		localDigest = slot.PrePrepare.ProposalDigest
	}
	if err := r.catchup.OnJump(from, jump, localDigest); err != nil {
		r.logger.Error("replica: jump-mismatch evidence reached doomed threshold", "err", err)
	}
}

// onORDCertificate adopts one streamed ORD certificate during Catchup.
func (r *Replica) onORDCertificate(from membership.ReplicaID, cert wire.ORDCertificate) {
	pp := wire.PrePrepare{Seq: cert.Seq, View: cert.View, ProposalDigest: cert.ProposalDigest}
	if _, err := r.ord.AcceptPrePrepare(pp); err != nil {
		r.logger.Warn("replica: catchup Pre_Prepare rejected", "seq", cert.Seq, "err", err)
		return
	}
	if err := r.ord.Execute(cert.Seq, ord.KindCommit); err != nil {
		r.logger.Warn("replica: catchup execute rejected", "seq", cert.Seq, "err", err)
	}
}

// onPOCertificate adopts one streamed PO certificate during Catchup.
func (r *Replica) onPOCertificate(from membership.ReplicaID, cert wire.POCertificate) {
	digest, err := wire.Sha256Of(cert.Request)
	if err != nil {
		r.logger.Error("replica: digesting catchup PO_Request", "err", err)
		return
	}
	if _, err := r.po.StoreRequest(cert.Request, digest); err != nil {
		r.logger.Warn("replica: catchup PO_Request rejected", "err", err)
		return
	}
	for _, ack := range cert.Acks {
		share, err := r.thresh.Share(ack.Digest)
		if err != nil {
			continue
		}
		if _, err := r.po.RecordAck(from, ack, share); err != nil {
			continue
		}
	}
}
