package channel

import (
	"net"
	"sync"

	"github.com/google/uuid"
)

// EndpointRegistry binds the short clientID a client picks for its UDP
// audio datagrams to its authenticated userID and to the UDP address the
// relay has last observed packets arrive from. Unlike the control plane's
// uint64 Session.ID, clientID travels on every audio packet, so it stays a
// small uint32.
//
// Source addresses are refreshed on every received packet instead of being
// pinned after the first one: carrier-grade NAT and Wi-Fi roaming rebind a
// client's outbound port far more often than a pinned-address model
// tolerates, and AEAD authentication on the payload (not source-IP
// matching) is what actually proves the packet came from the key holder.
type EndpointRegistry struct {
	mu sync.RWMutex

	clientToUser map[uint32]uuid.UUID
	userToClient map[uuid.UUID]uint32
	endpoints    map[uint32]*net.UDPAddr
}

func NewEndpointRegistry() *EndpointRegistry {
	return &EndpointRegistry{
		clientToUser: make(map[uint32]uuid.UUID),
		userToClient: make(map[uuid.UUID]uint32),
		endpoints:    make(map[uint32]*net.UDPAddr),
	}
}

// RegisterClientID binds clientID, chosen by the client itself on
// register_udp, to userID. If clientID is already bound to a different
// user, that binding is dropped; if userID already holds a different
// clientID, the old one is dropped too. The last known remote address is
// preserved only when clientID is unchanged for this user — any other
// case starts the binding with no known address until a packet arrives.
func (r *EndpointRegistry) RegisterClientID(clientID uint32, userID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prevUser, ok := r.clientToUser[clientID]; ok && prevUser != userID {
		delete(r.userToClient, prevUser)
		delete(r.endpoints, clientID)
	}
	if prevClient, ok := r.userToClient[userID]; ok && prevClient != clientID {
		delete(r.clientToUser, prevClient)
		delete(r.endpoints, prevClient)
	}

	r.clientToUser[clientID] = userID
	r.userToClient[userID] = clientID
}

// ResolveUser returns the user bound to clientID.
func (r *EndpointRegistry) ResolveUser(clientID uint32) (uuid.UUID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.clientToUser[clientID]
	return id, ok
}

// ResolveClientID returns the clientID bound to userID.
func (r *EndpointRegistry) ResolveClientID(userID uuid.UUID) (uint32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.userToClient[userID]
	return id, ok
}

// RefreshEndpoint records the UDP address a clientID's packets are
// currently arriving from.
func (r *EndpointRegistry) RefreshEndpoint(clientID uint32, addr *net.UDPAddr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clientToUser[clientID]; !ok {
		return
	}
	r.endpoints[clientID] = addr
}

// Endpoint returns the last known UDP address for clientID.
func (r *EndpointRegistry) Endpoint(clientID uint32) (*net.UDPAddr, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addr, ok := r.endpoints[clientID]
	return addr, ok
}

// Unregister drops every mapping for clientID.
func (r *EndpointRegistry) Unregister(clientID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if userID, ok := r.clientToUser[clientID]; ok {
		delete(r.userToClient, userID)
	}
	delete(r.clientToUser, clientID)
	delete(r.endpoints, clientID)
}

// UnregisterUser drops every mapping for userID, used on disconnect.
func (r *EndpointRegistry) UnregisterUser(userID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.userToClient[userID]; ok {
		delete(r.clientToUser, id)
		delete(r.endpoints, id)
	}
	delete(r.userToClient, userID)
}
