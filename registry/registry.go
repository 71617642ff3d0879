// Package registry keeps the in-memory room state: which participant hosts a room, which room each participant
// is currently in, and when a room was last active.
//
// Every operation takes the registry lock for its whole duration and never calls out while holding it, so no
// other goroutine can observe a partial update.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/tcriess/lightspeed-versus/types"
)

type Registry struct {
	hosts    map[string]types.HostRecord // roomId -> host
	members  map[string]string           // userId -> roomId
	activity map[string]time.Time        // roomId -> last activity

	now func() time.Time

	mu sync.RWMutex
}

func New() *Registry {
	return NewWithClock(time.Now)
}

// NewWithClock returns a registry that reads the current time from now.
func NewWithClock(now func() time.Time) *Registry {
	return &Registry{
		hosts:    make(map[string]types.HostRecord),
		members:  make(map[string]string),
		activity: make(map[string]time.Time),
		now:      now,
	}
}

// SetHostIfAbsent makes p the host of roomId unless the room already has one. It returns the host in place after
// the call, which is the pre-existing one if there was one.
func (r *Registry) SetHostIfAbsent(roomId string, p types.Participant) types.HostRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touch(roomId)
	if host, ok := r.hosts[roomId]; ok {
		return host
	}
	host := types.NewHostRecord(p)
	r.hosts[roomId] = host
	return host
}

// SetHost makes p the host of roomId, replacing any previous host.
func (r *Registry) SetHost(roomId string, p types.Participant) types.HostRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touch(roomId)
	host := types.NewHostRecord(p)
	r.hosts[roomId] = host
	return host
}

func (r *Registry) GetHost(roomId string) (types.HostRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	host, ok := r.hosts[roomId]
	return host, ok
}

func (r *Registry) ClearHost(roomId string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.hosts, roomId)
	r.forgetIfEmpty(roomId)
}

// SetMembership records userId as a member of roomId. A previous membership of userId is replaced.
func (r *Registry) SetMembership(userId, roomId string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	previous, had := r.members[userId]
	r.members[userId] = roomId
	r.touch(roomId)
	if had && previous != roomId {
		r.forgetIfEmpty(previous)
	}
}

func (r *Registry) GetMembership(userId string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roomId, ok := r.members[userId]
	return roomId, ok
}

func (r *Registry) ClearMembership(userId string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	roomId, ok := r.members[userId]
	if !ok {
		return
	}
	delete(r.members, userId)
	r.forgetIfEmpty(roomId)
}

// Touch marks roomId as active now. Unknown rooms are ignored.
func (r *Registry) Touch(roomId string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.activity[roomId]; ok {
		r.touch(roomId)
	}
}

// Members returns the ids of the participants currently in roomId, sorted.
func (r *Registry) Members(roomId string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roomMembers(roomId)
}

// Expire removes every room that has been idle for longer than ttl, together with its host entry and all
// memberships pointing to it. It returns the ids of the removed rooms.
func (r *Registry) Expire(ttl time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	deadline := r.now().Add(-ttl)
	expired := make([]string, 0)
	for roomId, last := range r.activity {
		if last.Before(deadline) {
			expired = append(expired, roomId)
		}
	}
	for _, roomId := range expired {
		delete(r.hosts, roomId)
		for userId, memberOf := range r.members {
			if memberOf == roomId {
				delete(r.members, userId)
			}
		}
		delete(r.activity, roomId)
	}
	sort.Strings(expired)
	return expired
}

// Snapshot returns a copy of the state of all known rooms, sorted by room id.
func (r *Registry) Snapshot() []types.RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rooms := make([]types.RoomInfo, 0, len(r.activity))
	for roomId, last := range r.activity {
		info := types.RoomInfo{
			Id:           roomId,
			Members:      r.roomMembers(roomId),
			LastActivity: last,
		}
		if host, ok := r.hosts[roomId]; ok {
			h := host
			info.Host = &h
		}
		rooms = append(rooms, info)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Id < rooms[j].Id })
	return rooms
}

// Stats returns the number of tracked rooms, hosted rooms and members.
func (r *Registry) Stats() (rooms, hosted, members int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.activity), len(r.hosts), len(r.members)
}

func (r *Registry) touch(roomId string) {
	r.activity[roomId] = r.now()
}

// forgetIfEmpty stops tracking roomId once it has neither a host nor members.
func (r *Registry) forgetIfEmpty(roomId string) {
	if _, ok := r.hosts[roomId]; ok {
		return
	}
	for _, memberOf := range r.members {
		if memberOf == roomId {
			return
		}
	}
	delete(r.activity, roomId)
}

func (r *Registry) roomMembers(roomId string) []string {
	ids := make([]string, 0, 2)
	for userId, memberOf := range r.members {
		if memberOf == roomId {
			ids = append(ids, userId)
		}
	}
	sort.Strings(ids)
	return ids
}
