package catchup

import (
	"testing"
	"time"

	"github.com/spire-resilient-systems/spire-sub003/internal/apperrors"
	"github.com/spire-resilient-systems/spire-sub003/internal/membership"
	"github.com/spire-resilient-systems/spire-sub003/internal/wire"
)

func testQuorum() membership.Table {
	return membership.Table{N: 7, F: 1, K: 1, Self: 1} // FPlusKPlusOne = 3
}

func TestNextHelperRotatesExcludingSelf(t *testing.T) {
	a := NewAsker(1, testQuorum())
	seen := make(map[membership.ReplicaID]bool)
	for i := 0; i < 6; i++ {
		h := a.NextHelper()
		if h == 1 {
			t.Fatal("helper rotation must never target self")
		}
		seen[h] = true
	}
	if len(seen) != 6 {
		t.Fatalf("expected all 6 peers visited across one rotation, got %d", len(seen))
	}
}

func TestOnJumpAccumulatesMismatchUntilDoomed(t *testing.T) {
	a := NewAsker(1, testQuorum())
	localDigest := [32]byte{1}
	mismatched := wire.Jump{ProposalDigest: [32]byte{2}}

	for _, helper := range []membership.ReplicaID{2, 3} {
		if err := a.OnJump(helper, mismatched, localDigest); err != nil {
			t.Fatalf("expected no error below f+k+1=3 distinct mismatches (helper %d), got %v", helper, err)
		}
	}
	err := a.OnJump(4, mismatched, localDigest)
	if !apperrors.Is(err, apperrors.KindGlobalDoomed) {
		t.Fatalf("expected doomed error at f+k+1=3 distinct mismatches, got %v", err)
	}
}

func TestOnJumpIgnoresMatchingDigest(t *testing.T) {
	a := NewAsker(1, testQuorum())
	digest := [32]byte{7}
	if err := a.OnJump(2, wire.Jump{ProposalDigest: digest}, digest); err != nil {
		t.Fatalf("expected no error for a matching Jump, got %v", err)
	}
	if len(a.jumpMismatch) != 0 {
		t.Fatal("expected no mismatch evidence recorded for a matching Jump")
	}
}

func TestClassifyUsesCatchupHistoryWindow(t *testing.T) {
	h := NewHelper(1, NewRateLimiter(DefaultRateLimitConfig()))
	req := wire.CatchupRequest{ARU: 100}
	if got := h.Classify(req, 100+CatchupHistory); got != ResponseStream {
		t.Fatalf("Classify at exactly the window edge = %v, want ResponseStream", got)
	}
	if got := h.Classify(req, 100+CatchupHistory+1); got != ResponseJump {
		t.Fatalf("Classify just past the window = %v, want ResponseJump", got)
	}
}

func TestRateLimiterGatesRepeatedRequests(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MinInterval: time.Second})
	now := time.Now()
	if !rl.Allow(2, now) {
		t.Fatal("expected first request to be allowed")
	}
	if rl.Allow(2, now.Add(100*time.Millisecond)) {
		t.Fatal("expected rapid repeat request to be rate-limited")
	}
	if !rl.Allow(2, now.Add(2*time.Second)) {
		t.Fatal("expected request after the interval to be allowed")
	}
	if !rl.Allow(3, now.Add(100*time.Millisecond)) {
		t.Fatal("expected a different source to have its own independent gate")
	}
}
