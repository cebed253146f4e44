package predictor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishArtifact_ValidArtifactIsStored(t *testing.T) {
	ctx := context.Background()
	store, _ := newFileStore(t)

	raw, err := json.Marshal(constantArtifact(DepartmentScope("3"), "v2", 9, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)

	ref, err := PublishArtifact(ctx, store, raw)
	require.NoError(t, err)
	assert.Equal(t, DepartmentScope("3"), ref.Scope)

	refs, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, ref.Name, refs[0].Name)
}

func TestPublishArtifact_RejectsBrokenArtifacts(t *testing.T) {
	ctx := context.Background()
	store, _ := newFileStore(t)

	cases := map[string]string{
		"not json":     `{`,
		"bad scope":    `{"scope":"ward_1","kind":"constant","params":{"minutes":3}}`,
		"unknown kind": `{"scope":"global","kind":"prophet","params":{}}`,
		"bad params":   `{"scope":"global","kind":"constant","params":{"minutes":"soon"}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := PublishArtifact(ctx, store, []byte(raw))
			assert.ErrorIs(t, err, ErrModelLoad)
		})
	}

	refs, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, refs)
}
