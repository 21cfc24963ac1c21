package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientRegistry(t *testing.T) {
	r := NewClientRegistry()
	base := time.Now()

	assert.Equal(t, 1, r.Add(&Client{ID: "c1", SessionID: "s1", ConnectedAt: base, LastActivity: base}))
	assert.Equal(t, 2, r.Add(&Client{ID: "c2", SessionID: "s1", ConnectedAt: base.Add(time.Second), LastActivity: base.Add(-time.Hour)}))
	assert.Equal(t, 1, r.Add(&Client{ID: "c3", SessionID: "s2", ConnectedAt: base.Add(2 * time.Second), LastActivity: base}))

	assert.Equal(t, 3, r.Count())
	assert.Equal(t, 2, r.SessionCount("s1"))
	assert.Equal(t, 1, r.SessionCount("s2"))
	assert.Equal(t, 0, r.SessionCount("missing"))

	infos := r.GetConnectedClients()
	require.Len(t, infos, 3)
	assert.Equal(t, []string{"c1", "c2", "c3"}, []string{infos[0].ID, infos[1].ID, infos[2].ID})
	assert.False(t, infos[0].Idle)
	assert.True(t, infos[1].Idle)

	r.Touch("c2")
	assert.False(t, r.GetConnectedClients()[1].Idle)

	r.Remove("c1")
	r.Remove("c1")
	r.Remove("unknown")
	assert.Equal(t, 1, r.SessionCount("s1"))
	r.Remove("c2")
	assert.Equal(t, 0, r.SessionCount("s1"))
	assert.Equal(t, 1, r.Count())
	assert.Len(t, r.GetAll(), 1)
}
