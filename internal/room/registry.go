// Package room provides bookkeeping for multi-peer call rooms and relays
// WebRTC signaling between the peers of a room. The registry never inspects
// signaling payloads; it only routes them.
package room

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrUnknownRoom is returned when a relay references a room that does not
// exist (never created, or already emptied out).
var ErrUnknownRoom = errors.New("room: unknown room")

// ErrUnknownClient is returned when a relay's sender is not a member of the
// room it targets.
var ErrUnknownClient = errors.New("room: unknown client")

// Peer is the connection handle for one room member.
type Peer interface {
	// Send delivers an opaque signaling payload to the peer.
	Send(ctx context.Context, payload []byte) error
}

// JoinResult describes the registry's view of a room at the moment a client
// joined it.
type JoinResult struct {
	// ClientID is the fresh identifier assigned to the joining client.
	ClientID string

	// IsInitiator is true iff the client was the first peer in the room.
	IsInitiator bool

	// PeerIDs lists the other clients present at join time.
	PeerIDs []string
}

// Registry owns the room → client → connection map. All operations on the
// same registry are linearizable: two clients joining the same room
// "simultaneously" observe a consistent order, and exactly one of them is
// the initiator.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]map[string]Peer
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]map[string]Peer)}
}

// Join registers p in roomID under a freshly assigned client ID, creating the
// room lazily on first join.
func (r *Registry) Join(roomID string, p Peer) JoinResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]Peer)
		r.rooms[roomID] = members
	}

	clientID := uuid.NewString()
	peerIDs := make([]string, 0, len(members))
	for id := range members {
		peerIDs = append(peerIDs, id)
	}
	members[clientID] = p

	return JoinResult{
		ClientID:    clientID,
		IsInitiator: len(peerIDs) == 0,
		PeerIDs:     peerIDs,
	}
}

// Relay delivers payload to every member of roomID except the sender — never
// back to the sender, never across rooms. Membership is snapshotted under the
// registry lock; delivery happens outside it so a slow peer cannot stall
// joins and leaves. Individual send failures are ignored: the failing peer's
// own connection loop handles its teardown.
func (r *Registry) Relay(ctx context.Context, roomID, senderID string, payload []byte) error {
	r.mu.Lock()
	members, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownRoom, roomID)
	}
	if _, ok := members[senderID]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q in room %q", ErrUnknownClient, senderID, roomID)
	}
	targets := make([]Peer, 0, len(members)-1)
	for id, p := range members {
		if id != senderID {
			targets = append(targets, p)
		}
	}
	r.mu.Unlock()

	for _, p := range targets {
		_ = p.Send(ctx, payload)
	}
	return nil
}

// Leave removes clientID from roomID, deleting the room once its last member
// is gone. Idempotent: leaving twice, or leaving a room that no longer
// exists, is a no-op. Reports whether this leave removed the room.
func (r *Registry) Leave(roomID, clientID string) (roomRemoved bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	delete(members, clientID)
	if len(members) == 0 {
		delete(r.rooms, roomID)
		return true
	}
	return false
}

// Rooms returns the number of rooms currently active.
func (r *Registry) Rooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// Members returns the number of clients currently in roomID; zero when the
// room does not exist.
func (r *Registry) Members(roomID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[roomID])
}
