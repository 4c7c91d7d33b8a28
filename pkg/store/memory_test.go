package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contract-mesh/pkg/model"
)

func TestMemoryStoreCopiesPayloads(t *testing.T) {
	st := NewMemoryStore()
	p := model.NewPayload("c-1", model.StateActive, t0)
	require.NoError(t, st.Put("c-1", p))

	p["stateName"] = "failed"
	got, ok, err := st.Get("c-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.StateActive, got.StateName())

	got["stateName"] = "failed"
	again, _, _ := st.Get("c-1")
	assert.Equal(t, model.StateActive, again.StateName())
}

func TestMemoryStoreAuditLimit(t *testing.T) {
	st := NewMemoryStore()
	for _, a := range []string{"one", "two", "three"} {
		require.NoError(t, st.AppendAudit(model.AuditEntry{Action: a}))
	}

	last, err := st.ListAudit(2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "two", last[0].Action)
	assert.Equal(t, "three", last[1].Action)
	assert.False(t, last[0].Timestamp.IsZero())

	all, _ := st.ListAudit(0)
	assert.Len(t, all, 3)
}
