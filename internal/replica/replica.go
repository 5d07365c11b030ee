// Package replica assembles every subprotocol package into one running
// replica: the aggregate state spec §9's design note describes as "PO,
// ORD, SUSP, RB, VIEW, CATCH, PR, SIG, and NM wired together behind a
// single dispatch loop." Replica implements internal/dispatch.Handler (so
// a dispatch.Loop can drive it single-threaded) and
// internal/transport/control.StateProvider (so the control-plane router
// can report a point-in-time snapshot).
//
// Grounded on holys-jocko's Broker: a struct embedding one field per
// cooperating subsystem, built once at startup and then only ever touched
// from the single goroutine processing its request channel. This package
// keeps that shape, substituting the PRIME subprotocol tables for jocko's
// Raft/log/metadata fields.
package replica

import (
	"context"
	"log/slog"
	"time"

	"github.com/spire-resilient-systems/spire-sub003/internal/catchup"
	"github.com/spire-resilient-systems/spire-sub003/internal/config"
	"github.com/spire-resilient-systems/spire-sub003/internal/crypto"
	"github.com/spire-resilient-systems/spire-sub003/internal/dispatch"
	"github.com/spire-resilient-systems/spire-sub003/internal/membership"
	"github.com/spire-resilient-systems/spire-sub003/internal/ord"
	"github.com/spire-resilient-systems/spire-sub003/internal/po"
	"github.com/spire-resilient-systems/spire-sub003/internal/rb"
	"github.com/spire-resilient-systems/spire-sub003/internal/recovery"
	"github.com/spire-resilient-systems/spire-sub003/internal/suspect"
	"github.com/spire-resilient-systems/spire-sub003/internal/transport"
	"github.com/spire-resilient-systems/spire-sub003/internal/transport/control"
	"github.com/spire-resilient-systems/spire-sub003/internal/validate"
	"github.com/spire-resilient-systems/spire-sub003/internal/viewchange"
	"github.com/spire-resilient-systems/spire-sub003/internal/wire"
)

// KeyStore is the superset of validate.KeyStore this package also uses
// directly (for outbound signing), implemented by whatever this process's
// key-provisioning setup returns — see internal/config.KeysConfig.
type KeyStore interface {
	validate.KeyStore
}

// Deps bundles every external collaborator a Replica needs at construction
// time: transports, keys, and tunables. Kept as one struct, matching
// internal/validate.Deps's own bundling shape, rather than a long
// NewReplica parameter list.
type Deps struct {
	Self   membership.ReplicaID
	Quorum membership.Table

	Logger *slog.Logger

	Keys      KeyStore
	Overlay   transport.Overlay
	ClientIPC transport.ClientIPC

	Signer          *crypto.Signer
	ThresholdSigner *crypto.ThresholdSigner
	MaxBatch        int
	MinLatency      time.Duration

	SuspectConfig suspect.Config
	Timers        config.TimersConfig
	Attack        config.AttackConfig

	// Installed is the installed_incarnations[N] vector this process last persisted
	// (nil on a fresh process).
	Installed []uint64
}

// Replica is the per-process aggregate state. Every field below is only
// ever touched from the goroutine running the attached dispatch.Loop —
// Schedule/Cancel themselves are safe from other goroutines, but
// HandleMessage/HandleTimer are not reentrant and assume Loop's single-
// threaded contract.
type Replica struct {
	self   membership.ReplicaID
	quorum membership.Table
	logger *slog.Logger

	view   uint64
	status recovery.Status

	// incarnationNum and gcn are stamped into every outbound Header; both
	// are bumped by internal/recovery's ceremonies (a fresh session, a
	// completed System Reset) rather than tracked independently here.
	incarnationNum uint32
	gcn            membership.GlobalConfigNumber

	po       *po.Table
	ord      *ord.Table
	rb       *rb.Table
	suspect  *suspect.Table
	catchup  *catchup.Asker
	helper   *catchup.Helper
	limiter  *catchup.RateLimiter
	incarn   *recovery.IncarnationTable
	resetTbl *recovery.ResetTable
	resetLdr *recovery.ResetLeaderTable

	// vc is non-nil only while a view change targeting vcTarget is in
	// flight; it is dropped once the new view installs.
	vc       *viewchange.Table
	vcTarget uint64

	keys      KeyStore
	overlay   transport.Overlay
	clientIPC transport.ClientIPC

	signer  *crypto.Signer
	thresh  *crypto.ThresholdSigner
	batcher *crypto.BatchingSigner
	out     *outbox

	loop   *dispatch.Loop
	timers config.TimersConfig
	attack config.AttackConfig

	// nextClientSeq is this replica's own outbound PO sequence counter,
	// advanced once per PO_Request this replica originates from batched
	// client Updates (unrelated to any one client's own seq_num).
	nextClientSeq uint64

	// clientSeq[client] is spec §3's intro_client_seq[client]: the highest
	// Update seq_num this replica has accepted from client. A re-delivered
	// Update with seq_num <= clientSeq[client] is a dedup no-op (spec
	// §8.4) rather than a fresh PO_Request.
	clientSeq map[membership.ClientID]uint64

	// clientCache[client] is the most recent Client_Response this replica
	// sent client, re-emitted on a duplicate Update instead of silently
	// dropped (spec scenario S6).
	clientCache map[membership.ClientID]wire.ClientResponse

	// matrixColumns is the most recently seen PO_ARU per replica, the raw
	// material a ProofMatrix/Pre_Prepare is built from.
	matrixColumns map[membership.ReplicaID]wire.POARU

	// pendingClients maps an originated PO slot back to the client
	// requests it carries, so ClientResponse can be sent once the slot
	// executes.
	pendingClients map[po.Key][]clientUpdate

	// sentCommit/executed dedupe the Commit-vote and execution actions a
	// repeated Prepare/Commit delivery would otherwise repeat; ord.Table
	// itself is idempotent, but it does not report "this call was the one
	// that first reached quorum."
	sentCommit map[wire.OrdSeq]bool
	executed   map[wire.OrdSeq]bool

	// foundingDigest is proposal_digest (spec §3): the digest of the
	// Reset_Certificate's Reset_Proposal that founded the current global
	// incarnation (spec §4.8 step 3), carried unchanged on every
	// Pre_Prepare in that incarnation and checked by every follower (spec
	// §4.3). Zero for the genesis incarnation, before this replica has
	// observed its first System Reset.
	foundingDigest [32]byte
}

// clientUpdate is one client Update batched into a PO_Request this replica
// originated, retained so Update's (client, seq_num) pair can be replied
// to by ClientResponse once the owning PO slot executes.
type clientUpdate struct {
	Client membership.ClientID
	SeqNum uint64
}

// New constructs a Replica from deps, wiring its own BatchingSigner.onFlush
// to the outbox rather than sending directly — see outbox.go for why.
func New(deps Deps) *Replica {
	limiter := catchup.NewRateLimiter(catchup.DefaultRateLimitConfig())
	r := &Replica{
		self:    deps.Self,
		quorum:  deps.Quorum,
		logger:  deps.Logger,
		status:  recovery.StatusStartup,
		po:      po.NewTable(deps.Quorum),
		ord:     ord.NewTable(deps.Quorum),
		rb:      rb.NewTable(deps.Self, deps.Quorum),
		suspect: suspect.NewTable(deps.Quorum, deps.SuspectConfig, 1),
		catchup: catchup.NewAsker(deps.Self, deps.Quorum),
		helper:  catchup.NewHelper(deps.Self, limiter),
		limiter: limiter,
		incarn:  recovery.NewIncarnationTable(deps.Self, deps.Quorum, deps.Installed),
		keys:    deps.Keys,
		overlay: deps.Overlay,
		clientIPC: deps.ClientIPC,
		signer:  deps.Signer,
		thresh:  deps.ThresholdSigner,
		view:    1,
		clientSeq:      make(map[membership.ClientID]uint64),
		clientCache:    make(map[membership.ClientID]wire.ClientResponse),
		matrixColumns:  make(map[membership.ReplicaID]wire.POARU),
		pendingClients: make(map[po.Key][]clientUpdate),
		sentCommit:     make(map[wire.OrdSeq]bool),
		executed:       make(map[wire.OrdSeq]bool),
		timers:         deps.Timers,
		attack:         deps.Attack,
	}
	r.out = newOutbox(deps.Overlay, deps.ClientIPC, deps.Logger)
	r.batcher = crypto.NewBatchingSigner(deps.Signer, deps.MaxBatch, deps.MinLatency, r.out.onFlush)
	return r
}

// AttachLoop wires the dispatch.Loop driving this Replica, so timer
// handlers can Schedule follow-up timers. Call once, before Loop.Run.
func (r *Replica) AttachLoop(loop *dispatch.Loop) {
	r.loop = loop
}

// ValidateDeps builds the internal/validate.Deps this replica checks every
// inbound message against, reflecting its own current keys/quorum/
// installed-incarnations view.
func (r *Replica) ValidateDeps(maxPacketSize int) validate.Deps {
	return validate.Deps{
		MaxPacketSize: maxPacketSize,
		Keys:          r.keys,
		Incarnations:  r.incarn,
		Quorum:        r.quorum,
	}
}

// Snapshot implements transport/control.StateProvider.
func (r *Replica) Snapshot() control.StateSnapshot {
	return control.StateSnapshot{
		ReplicaID:   int(r.self),
		View:        r.view,
		Incarnation: uint64(r.incarnationNum),
		ARU:         uint64(r.ord.Aru()),
		ConfigNum:   uint64(r.gcn),
	}
}

// HandleMessage implements dispatch.Handler, routing a validated inbound
// message to the subsystem that owns its Kind.
func (r *Replica) HandleMessage(ctx context.Context, in dispatch.Inbound) {
	switch p := in.Message.Payload.(type) {
	case wire.PORequest:
		r.onPORequest(in.From, p)
	case wire.POAck:
		r.onPOAck(in.From, p)
	case wire.POARU:
		r.onPOARU(in.From, p)
	case wire.ProofMatrix:
		r.onProofMatrix(in.From, p)
	case wire.Update:
		r.onUpdate(ctx, p)

	case wire.PrePrepare:
		r.onPrePrepare(in.From, p)
	case wire.Prepare:
		r.onPrepare(in.From, p)
	case wire.Commit:
		r.onCommit(in.From, p)

	case wire.TATMeasure:
		r.onTATMeasure(p)
	case wire.RTTPing:
		r.onRTTPing(in.From, p)
	case wire.RTTPong:
		r.onRTTPong(in.From, p)
	case wire.RTTMeasure:
		r.onRTTMeasure(p)
	case wire.TATUB:
		r.onTATUB(p)
	case wire.NewLeader:
		r.onNewLeader(in.From, p)
	case wire.NewLeaderProof:
		r.onNewLeaderProof(p)

	case wire.RBInit:
		r.onRBInit(in.From, p)
	case wire.RBEcho:
		r.onRBEcho(in.From, p)
	case wire.RBReady:
		r.onRBReady(in.From, p)
	case wire.VCList:
		r.onVCList(in.From, p)
	case wire.VCPartialSig:
		r.onVCPartialSig(in.From, p)
	case wire.VCProof:
		r.onVCProof(in.From, p)
	case wire.Replay:
		r.onReplay(in.From, p)
	case wire.ReplayPrepare:
		r.onReplayPrepare(in.From, p)
	case wire.ReplayCommit:
		r.onReplayCommit(in.From, p)

	case wire.CatchupRequest:
		r.onCatchupRequest(in.From, p)
	case wire.Jump:
		r.onJump(in.From, p)
	case wire.ORDCertificate:
		r.onORDCertificate(in.From, p)
	case wire.POCertificate:
		r.onPOCertificate(in.From, p)

	case wire.NewIncarnation:
		r.onNewIncarnation(in.From, p)
	case wire.IncarnationAck:
		r.onIncarnationAck(in.From, p)
	case wire.IncarnationCert:
		r.onIncarnationCert(p)
	case wire.PendingState:
		r.onPendingState(in.From, p)
	case wire.PendingShare:
		r.onPendingShare(in.From, p)

	case wire.ResetVote:
		r.onResetVote(in.From, p)
	case wire.ResetShare:
		r.onResetShare(in.From, p)
	case wire.ResetProposal:
		r.onResetProposal(in.From, p)
	case wire.ResetPrepare:
		r.onResetPrepare(in.From, p)
	case wire.ResetCommit:
		r.onResetCommit(in.From, p)
	case wire.ResetNewLeader:
		r.onResetNewLeader(in.From, p)
	case wire.ResetNewLeaderProof:
		r.onResetNewLeaderProof(p)
	case wire.ResetCertificate:
		r.onResetCertificate(p)

	default:
		r.logger.Warn("replica: no handler for message kind", "kind", in.Message.Header.Type.String())
	}
}
