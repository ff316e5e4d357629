package gophxchannels

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresenceSyncStateMergesSiblingFields(t *testing.T) {
	p := NewPresence()

	p.SyncState(map[string]interface{}{
		"u1": map[string]interface{}{
			"metas": []interface{}{
				map[string]interface{}{"ref": "a"},
			},
			"name": "Alice",
		},
	})

	metas := p.Metas("u1")
	require.Len(t, metas, 1)
	assert.Equal(t, Meta{"ref": "a", "name": "Alice"}, metas[0])
}

func TestPresenceSyncStateOverwritesPerID(t *testing.T) {
	p := NewPresence()

	p.SyncState(map[string]interface{}{
		"u1": map[string]interface{}{
			"metas": []interface{}{
				map[string]interface{}{"ref": "a"},
				map[string]interface{}{"ref": "b"},
			},
		},
	})
	require.Len(t, p.Metas("u1"), 2)

	p.SyncState(map[string]interface{}{
		"u1": map[string]interface{}{
			"metas": []interface{}{
				map[string]interface{}{"ref": "c"},
			},
		},
	})

	metas := p.Metas("u1")
	require.Len(t, metas, 1)
	assert.Equal(t, "c", metas[0]["ref"])
}

func TestPresenceDiffLeave(t *testing.T) {
	p := NewPresence()
	p.SyncState(map[string]interface{}{
		"u1": map[string]interface{}{
			"metas": []interface{}{map[string]interface{}{"ref": "a"}},
			"name":  "Alice",
		},
	})

	var leaves []Meta
	var leaveIDs []string
	changeCount := 0
	p.OnLeave(func(id string, meta Meta) {
		leaveIDs = append(leaveIDs, id)
		leaves = append(leaves, meta)
	})
	p.OnChange(func() { changeCount++ })

	p.SyncDiff(map[string]interface{}{
		"joins": map[string]interface{}{},
		"leaves": map[string]interface{}{
			"u1": map[string]interface{}{
				"metas": []interface{}{map[string]interface{}{"ref": "a"}},
				"name":  "Alice",
			},
		},
	})

	assert.Equal(t, 0, p.Size())
	require.Len(t, leaves, 1)
	assert.Equal(t, []string{"u1"}, leaveIDs)
	assert.Equal(t, Meta{"ref": "a", "name": "Alice"}, leaves[0])
	assert.Equal(t, 1, changeCount, "change notification fires exactly once")
}

func TestPresenceDiffJoin(t *testing.T) {
	p := NewPresence()

	var joins []Meta
	p.OnJoin(func(id string, meta Meta) {
		assert.Equal(t, "u2", id)
		joins = append(joins, meta)
	})

	p.SyncDiff(map[string]interface{}{
		"joins": map[string]interface{}{
			"u2": map[string]interface{}{
				"metas": []interface{}{
					map[string]interface{}{"ref": "x", "device": "phone"},
					map[string]interface{}{"ref": "y", "device": "laptop"},
				},
			},
		},
		"leaves": map[string]interface{}{},
	})

	assert.Len(t, joins, 2, "join notification fires once per meta")
	assert.Len(t, p.Metas("u2"), 2)
}

func TestPresenceDiffJoinWinsOverLeave(t *testing.T) {
	p := NewPresence()
	p.SyncState(map[string]interface{}{
		"u1": map[string]interface{}{
			"metas": []interface{}{map[string]interface{}{"ref": "old"}},
		},
	})

	// Leaves are processed first, so an id in both halves ends up joined.
	p.SyncDiff(map[string]interface{}{
		"leaves": map[string]interface{}{
			"u1": map[string]interface{}{
				"metas": []interface{}{map[string]interface{}{"ref": "old"}},
			},
		},
		"joins": map[string]interface{}{
			"u1": map[string]interface{}{
				"metas": []interface{}{map[string]interface{}{"ref": "new"}},
			},
		},
	})

	metas := p.Metas("u1")
	require.Len(t, metas, 1)
	assert.Equal(t, "new", metas[0]["ref"])
}

func TestPresenceDiffEmptyStillNotifiesOnce(t *testing.T) {
	p := NewPresence()

	changeCount := 0
	p.OnChange(func() { changeCount++ })

	p.SyncDiff(map[string]interface{}{
		"joins":  map[string]interface{}{},
		"leaves": map[string]interface{}{},
	})

	assert.Equal(t, 1, changeCount)
}

func TestPresenceDiffLeaveBeforeJoinBeforeChange(t *testing.T) {
	p := NewPresence()
	p.SyncState(map[string]interface{}{
		"u1": map[string]interface{}{
			"metas": []interface{}{map[string]interface{}{"ref": "a"}},
		},
	})

	var order []string
	p.OnLeave(func(string, Meta) { order = append(order, "leave") })
	p.OnJoin(func(string, Meta) { order = append(order, "join") })
	p.OnChange(func() { order = append(order, "change") })

	p.SyncDiff(map[string]interface{}{
		"leaves": map[string]interface{}{
			"u1": map[string]interface{}{
				"metas": []interface{}{map[string]interface{}{"ref": "a"}},
			},
		},
		"joins": map[string]interface{}{
			"u2": map[string]interface{}{
				"metas": []interface{}{map[string]interface{}{"ref": "b"}},
			},
		},
	})

	assert.Equal(t, []string{"leave", "join", "change"}, order)
}

func TestPresenceAccessors(t *testing.T) {
	p := NewPresence()
	p.SyncState(map[string]interface{}{
		"u1": map[string]interface{}{
			"metas": []interface{}{
				map[string]interface{}{"ref": "a", "device": "phone"},
				map[string]interface{}{"ref": "b", "device": "laptop"},
			},
			"name": "Alice",
		},
		"u2": map[string]interface{}{
			"metas": []interface{}{
				map[string]interface{}{"ref": "c"},
			},
			"name": "Bob",
		},
	})

	assert.Equal(t, 2, p.Size())

	first, ok := p.FirstMeta("u1")
	require.True(t, ok)
	assert.Equal(t, "a", first["ref"])

	_, ok = p.FirstMeta("nobody")
	assert.False(t, ok)

	firsts := p.FirstMetas()
	assert.Len(t, firsts, 2)
	assert.Equal(t, "c", firsts["u2"]["ref"])

	name, ok := p.FirstMetaValue("u2", "name")
	require.True(t, ok)
	assert.Equal(t, "Bob", name)

	_, ok = p.FirstMetaValue("u2", "missing")
	assert.False(t, ok)

	names := p.FirstMetaValues("name")
	assert.ElementsMatch(t, []interface{}{"Alice", "Bob"}, names)
}

func TestPresenceMalformedEntriesIgnored(t *testing.T) {
	p := NewPresence()

	p.SyncState(map[string]interface{}{
		"bad1": "not an object",
		"bad2": map[string]interface{}{"no_metas": true},
		"good": map[string]interface{}{
			"metas": []interface{}{map[string]interface{}{"ref": "a"}},
		},
	})

	assert.Equal(t, 1, p.Size())
	assert.Len(t, p.Metas("good"), 1)
}
