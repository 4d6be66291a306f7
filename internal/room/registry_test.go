package room

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type fakePeer struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (p *fakePeer) Send(_ context.Context, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payloads = append(p.payloads, payload)
	return nil
}

func (p *fakePeer) received() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.payloads)
}

func TestJoin_FirstPeerIsInitiator(t *testing.T) {
	r := NewRegistry()

	a := r.Join("r1", &fakePeer{})
	if !a.IsInitiator {
		t.Error("first peer should be initiator")
	}
	if len(a.PeerIDs) != 0 {
		t.Errorf("first peer sees %d peers, want 0", len(a.PeerIDs))
	}

	b := r.Join("r1", &fakePeer{})
	if b.IsInitiator {
		t.Error("second peer must not be initiator")
	}
	if len(b.PeerIDs) != 1 || b.PeerIDs[0] != a.ClientID {
		t.Errorf("second peer sees peers %v, want [%s]", b.PeerIDs, a.ClientID)
	}
	if a.ClientID == b.ClientID {
		t.Error("client IDs must be unique within a room")
	}
}

func TestRelay_ReachesOthersNeverSender(t *testing.T) {
	r := NewRegistry()
	peerA, peerB := &fakePeer{}, &fakePeer{}
	a := r.Join("r1", peerA)
	r.Join("r1", peerB)

	if err := r.Relay(context.Background(), "r1", a.ClientID, []byte(`{"type":"offer"}`)); err != nil {
		t.Fatalf("Relay: %v", err)
	}

	if peerB.received() != 1 {
		t.Errorf("peer B received %d messages, want 1", peerB.received())
	}
	if peerA.received() != 0 {
		t.Errorf("sender received %d messages, want 0 (no echo)", peerA.received())
	}
}

func TestRelay_NeverCrossesRooms(t *testing.T) {
	r := NewRegistry()
	peerA, peerOther := &fakePeer{}, &fakePeer{}
	a := r.Join("r1", peerA)
	r.Join("r2", peerOther)

	if err := r.Relay(context.Background(), "r1", a.ClientID, []byte("x")); err != nil {
		t.Fatalf("Relay: %v", err)
	}
	if peerOther.received() != 0 {
		t.Errorf("peer in another room received %d messages, want 0", peerOther.received())
	}
}

func TestRelay_UnknownRoomAndClient(t *testing.T) {
	r := NewRegistry()
	if err := r.Relay(context.Background(), "nope", "x", nil); !errors.Is(err, ErrUnknownRoom) {
		t.Errorf("err = %v, want ErrUnknownRoom", err)
	}

	a := r.Join("r1", &fakePeer{})
	_ = a
	if err := r.Relay(context.Background(), "r1", "stranger", nil); !errors.Is(err, ErrUnknownClient) {
		t.Errorf("err = %v, want ErrUnknownClient", err)
	}
}

func TestLeave_LastPeerRemovesRoom(t *testing.T) {
	r := NewRegistry()
	a := r.Join("r1", &fakePeer{})
	b := r.Join("r1", &fakePeer{})

	if r.Leave("r1", a.ClientID) {
		t.Error("room should survive while a member remains")
	}
	if r.Members("r1") != 1 {
		t.Errorf("members = %d, want 1", r.Members("r1"))
	}

	if !r.Leave("r1", b.ClientID) {
		t.Error("last leave should remove the room")
	}
	if r.Rooms() != 0 {
		t.Errorf("rooms = %d after last leave, want 0", r.Rooms())
	}

	// Leaving an already-removed room is a no-op, not an error.
	if r.Leave("r1", b.ClientID) {
		t.Error("repeated leave must be a no-op")
	}
	r.Leave("r1", a.ClientID)
}

func TestJoin_ConcurrentJoinsYieldOneInitiator(t *testing.T) {
	r := NewRegistry()
	const n = 16

	results := make([]JoinResult, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Join("busy", &fakePeer{})
		}(i)
	}
	wg.Wait()

	initiators := 0
	for _, res := range results {
		if res.IsInitiator {
			initiators++
		}
	}
	if initiators != 1 {
		t.Errorf("initiators = %d, want exactly 1", initiators)
	}
	if r.Members("busy") != n {
		t.Errorf("members = %d, want %d", r.Members("busy"), n)
	}
}
