package signaling

import "sort"

type binding struct {
	identity Identity
	conn     Conn
}

// Registry maps identities to their live connection and back. It is owned by
// the coordinator loop and is not safe for concurrent use.
type Registry struct {
	byIdentity map[string]Conn
	byConn     map[string]binding
}

func NewRegistry() *Registry {
	return &Registry{
		byIdentity: make(map[string]Conn),
		byConn:     make(map[string]binding),
	}
}

// Register binds conn to id, overwriting any earlier connection of id. When conn
// was bound to a different identity before, that identity is returned as
// dropped if it no longer has any connection.
func (r *Registry) Register(id Identity, conn Conn) (dropped Identity, ok bool) {
	connID := conn.ID()
	if prev, exists := r.byConn[connID]; exists && prev.identity.ID != id.ID {
		if cur, bound := r.byIdentity[prev.identity.ID]; bound && cur.ID() == connID {
			delete(r.byIdentity, prev.identity.ID)
			dropped, ok = prev.identity, true
		}
	}
	r.byIdentity[id.ID] = conn
	r.byConn[connID] = binding{identity: id, conn: conn}
	return dropped, ok
}

// Unregister forgets connID. The identity mapping is only removed when it
// still points at connID; stillOnline reports that a newer connection of the
// same identity remains registered.
func (r *Registry) Unregister(connID string) (id Identity, removed, stillOnline bool) {
	b, exists := r.byConn[connID]
	if !exists {
		return Identity{}, false, false
	}
	delete(r.byConn, connID)

	cur, bound := r.byIdentity[b.identity.ID]
	if bound && cur.ID() == connID {
		delete(r.byIdentity, b.identity.ID)
		return b.identity, true, false
	}
	return b.identity, true, bound
}

func (r *Registry) Lookup(identityID string) (Conn, bool) {
	c, ok := r.byIdentity[identityID]
	return c, ok
}

func (r *Registry) IdentityOf(connID string) (Identity, bool) {
	b, ok := r.byConn[connID]
	return b.identity, ok
}

// Conn resolves any registered connection, including one superseded by a
// newer registration of the same identity.
func (r *Registry) Conn(connID string) (Conn, bool) {
	b, ok := r.byConn[connID]
	return b.conn, ok
}

// Len is the number of online identities.
func (r *Registry) Len() int { return len(r.byIdentity) }

// Identities returns online identity ids in sorted order.
func (r *Registry) Identities() []string {
	ids := make([]string, 0, len(r.byIdentity))
	for id := range r.byIdentity {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// each visits the current connection of every online identity.
func (r *Registry) each(fn func(id string, c Conn)) {
	for id, c := range r.byIdentity {
		fn(id, c)
	}
}
