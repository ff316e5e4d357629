package gophxchannels

import (
	"sync"
)

// Meta is a flat record of arbitrary fields describing one presence entry
// (e.g. one connected device) for a given identity.
type Meta map[string]interface{}

// PresenceJoinCallback fires once per meta when an identity joins.
type PresenceJoinCallback func(id string, meta Meta)

// PresenceLeaveCallback fires once per meta when an identity leaves.
type PresenceLeaveCallback func(id string, meta Meta)

// PresenceChangeCallback fires once after any state change is applied.
type PresenceChangeCallback func()

// Presence holds the replicated membership state for one topic, derived from
// the server's presence_state full syncs and presence_diff increments. It is
// mutated only through SyncState/SyncDiff.
type Presence struct {
	mu    sync.RWMutex
	state map[string][]Meta

	onJoin   []PresenceJoinCallback
	onLeave  []PresenceLeaveCallback
	onChange []PresenceChangeCallback
}

// NewPresence creates an empty presence instance
func NewPresence() *Presence {
	return &Presence{
		state: make(map[string][]Meta),
	}
}

// OnJoin registers a callback fired once per meta on each join.
func (p *Presence) OnJoin(callback PresenceJoinCallback) {
	p.mu.Lock()
	p.onJoin = append(p.onJoin, callback)
	p.mu.Unlock()
}

// OnLeave registers a callback fired once per meta on each leave.
func (p *Presence) OnLeave(callback PresenceLeaveCallback) {
	p.mu.Lock()
	p.onLeave = append(p.onLeave, callback)
	p.mu.Unlock()
}

// OnChange registers a callback fired once after each applied sync.
func (p *Presence) OnChange(callback PresenceChangeCallback) {
	p.mu.Lock()
	p.onChange = append(p.onChange, callback)
	p.mu.Unlock()
}

// SyncState applies a presence_state payload: a full overwrite per id.
// Fields placed alongside "metas" in an id's entry are merged into each meta
// record, so every stored meta is self-describing. The caller fires the
// change notification.
func (p *Presence) SyncState(payload map[string]interface{}) {
	p.mu.Lock()
	for id, entry := range payload {
		metas := mergeEntryMetas(entry)
		if metas == nil {
			continue
		}
		p.state[id] = metas
	}
	p.mu.Unlock()
}

// SyncDiff applies a presence_diff payload. Leaves are processed first:
// each left id is removed from state and the leave callbacks fire once per
// meta. Joins then overwrite state per id, so an id present in both halves
// of one diff ends up joined. The change callbacks fire exactly once at the
// end, even when both halves are empty.
func (p *Presence) SyncDiff(payload map[string]interface{}) {
	leaves, _ := payload["leaves"].(map[string]interface{})
	joins, _ := payload["joins"].(map[string]interface{})

	type event struct {
		id   string
		meta Meta
	}
	var left, joined []event

	p.mu.Lock()
	for id, entry := range leaves {
		metas := mergeEntryMetas(entry)
		if metas == nil {
			continue
		}
		delete(p.state, id)
		for _, meta := range metas {
			left = append(left, event{id, meta})
		}
	}
	for id, entry := range joins {
		metas := mergeEntryMetas(entry)
		if metas == nil {
			continue
		}
		p.state[id] = metas
		for _, meta := range metas {
			joined = append(joined, event{id, meta})
		}
	}
	onLeave := append([]PresenceLeaveCallback(nil), p.onLeave...)
	onJoin := append([]PresenceJoinCallback(nil), p.onJoin...)
	p.mu.Unlock()

	for _, ev := range left {
		for _, cb := range onLeave {
			cb(ev.id, ev.meta)
		}
	}
	for _, ev := range joined {
		for _, cb := range onJoin {
			cb(ev.id, ev.meta)
		}
	}
	p.notifyChange()
}

// notifyChange fires the registered change callbacks once.
func (p *Presence) notifyChange() {
	p.mu.RLock()
	callbacks := append([]PresenceChangeCallback(nil), p.onChange...)
	p.mu.RUnlock()
	for _, cb := range callbacks {
		cb()
	}
}

// clearCallbacks drops all registered callbacks, keeping the state. Used
// when the owning channel closes.
func (p *Presence) clearCallbacks() {
	p.mu.Lock()
	p.onJoin = nil
	p.onLeave = nil
	p.onChange = nil
	p.mu.Unlock()
}

// mergeEntryMetas extracts the "metas" list from one id's wire entry and
// merges every sibling key into each meta record. Returns nil when the entry
// has no usable metas list.
func mergeEntryMetas(entry interface{}) []Meta {
	entryMap, ok := entry.(map[string]interface{})
	if !ok {
		return nil
	}
	rawMetas, ok := entryMap["metas"].([]interface{})
	if !ok {
		return nil
	}

	metas := make([]Meta, 0, len(rawMetas))
	for _, raw := range rawMetas {
		metaMap, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		merged := make(Meta, len(metaMap)+len(entryMap)-1)
		for k, v := range metaMap {
			merged[k] = v
		}
		for k, v := range entryMap {
			if k == "metas" {
				continue
			}
			if _, exists := merged[k]; !exists {
				merged[k] = v
			}
		}
		metas = append(metas, merged)
	}
	return metas
}

// Metas returns all metas for an id, in server order.
func (p *Presence) Metas(id string) []Meta {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Meta(nil), p.state[id]...)
}

// FirstMeta returns the first (primary) meta for an id.
func (p *Presence) FirstMeta(id string) (Meta, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	metas := p.state[id]
	if len(metas) == 0 {
		return nil, false
	}
	return metas[0], true
}

// FirstMetas returns the first meta per id for the whole state.
func (p *Presence) FirstMetas() map[string]Meta {
	p.mu.RLock()
	defer p.mu.RUnlock()
	result := make(map[string]Meta, len(p.state))
	for id, metas := range p.state {
		if len(metas) > 0 {
			result[id] = metas[0]
		}
	}
	return result
}

// FirstMetaValue returns one field out of the first meta for an id.
func (p *Presence) FirstMetaValue(id, key string) (interface{}, bool) {
	meta, ok := p.FirstMeta(id)
	if !ok {
		return nil, false
	}
	value, ok := meta[key]
	return value, ok
}

// FirstMetaValues collects one field out of the first meta of every id that
// carries it.
func (p *Presence) FirstMetaValues(key string) []interface{} {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var values []interface{}
	for _, metas := range p.state {
		if len(metas) == 0 {
			continue
		}
		if value, ok := metas[0][key]; ok {
			values = append(values, value)
		}
	}
	return values
}

// Size returns the number of tracked identities.
func (p *Presence) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.state)
}
