package realtime

import "sync"

// registry holds the per-process socket and presence state described
// in spec.md §4.12: caseSockets grouped by caseId, and a collapsed
// per-user presence set per case (SPEC_FULL.md §4.13.1).
type registry struct {
	mu        sync.Mutex
	sockets   map[string]map[string]*Socket // caseID -> socketID -> Socket
	presence  map[string]map[string]int     // caseID -> userID -> open socket count
}

func newRegistry() *registry {
	return &registry{
		sockets:  make(map[string]map[string]*Socket),
		presence: make(map[string]map[string]int),
	}
}

// add registers a socket and reports whether this is the user's first
// open socket for the case (a presence transition to online).
func (r *registry) add(s *Socket) (firstForUser bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sockets[s.CaseID] == nil {
		r.sockets[s.CaseID] = make(map[string]*Socket)
	}
	r.sockets[s.CaseID][s.ID] = s

	if r.presence[s.CaseID] == nil {
		r.presence[s.CaseID] = make(map[string]int)
	}
	r.presence[s.CaseID][s.Auth.UserID]++

	return r.presence[s.CaseID][s.Auth.UserID] == 1
}

// remove deregisters a socket and reports whether the case's socket
// group is now empty (bus channel should be unsubscribed) and whether
// this was the user's last open socket for the case (presence
// transition to offline).
func (r *registry) remove(s *Socket) (groupEmpty, lastForUser bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if group, ok := r.sockets[s.CaseID]; ok {
		delete(group, s.ID)
		if len(group) == 0 {
			delete(r.sockets, s.CaseID)
			groupEmpty = true
		}
	}

	if users, ok := r.presence[s.CaseID]; ok {
		users[s.Auth.UserID]--
		if users[s.Auth.UserID] <= 0 {
			delete(users, s.Auth.UserID)
			lastForUser = true
		}
		if len(users) == 0 {
			delete(r.presence, s.CaseID)
		}
	}

	return groupEmpty, lastForUser
}

// all returns every socket currently registered for a case.
func (r *registry) all(caseID string) []*Socket {
	r.mu.Lock()
	defer r.mu.Unlock()

	group := r.sockets[caseID]
	out := make([]*Socket, 0, len(group))
	for _, s := range group {
		out = append(out, s)
	}

	return out
}

// exceptUser returns every socket for a case whose auth.userId does
// not match userID (used by the UNREAD_DELTA fan-out rule).
func (r *registry) exceptUser(caseID, userID string) []*Socket {
	r.mu.Lock()
	defer r.mu.Unlock()

	group := r.sockets[caseID]
	out := make([]*Socket, 0, len(group))
	for _, s := range group {
		if s.Auth.UserID != userID {
			out = append(out, s)
		}
	}

	return out
}

// byUser returns every socket for a case whose auth.userId matches
// userID (used by the MESSAGE_ACK delivery rule).
func (r *registry) byUser(caseID, userID string) []*Socket {
	r.mu.Lock()
	defer r.mu.Unlock()

	group := r.sockets[caseID]
	out := make([]*Socket, 0)
	for _, s := range group {
		if s.Auth.UserID == userID {
			out = append(out, s)
		}
	}

	return out
}
