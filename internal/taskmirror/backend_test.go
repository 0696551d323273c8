package taskmirror

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONFileStateBackendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	backend := NewJSONFileStateBackend(path)

	loaded, err := backend.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded, "missing snapshot file means no snapshot")

	state := &State{
		Tasks:      []Task{{ID: "t1", Title: "persist me", Status: StatusPending}},
		SelectedID: "t1",
		Seq:        7,
		Generation: 2,
	}
	require.NoError(t, backend.Save(state))

	loaded, err = backend.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, state.Tasks, loaded.Tasks)
	assert.Equal(t, "t1", loaded.SelectedID)
	assert.Equal(t, uint64(7), loaded.Seq)
}

func TestInMemoryStateBackendIsolatesSnapshots(t *testing.T) {
	backend := NewInMemoryStateBackend()
	state := &State{Tasks: []Task{{ID: "t1", Title: "orig", Status: StatusPending}}}
	require.NoError(t, backend.Save(state))

	state.Tasks[0].Title = "mutated after save"
	loaded, err := backend.Load()
	require.NoError(t, err)
	assert.Equal(t, "orig", loaded.Tasks[0].Title)

	loaded.Tasks[0].Title = "mutated after load"
	again, err := backend.Load()
	require.NoError(t, err)
	assert.Equal(t, "orig", again.Tasks[0].Title)
}

func TestBuildStateBackendFromDSN(t *testing.T) {
	backend, err := BuildStateBackendFromDSN("")
	require.NoError(t, err)
	assert.Nil(t, backend, "empty DSN disables persistence")

	backend, err = BuildStateBackendFromDSN("/tmp/state.json")
	require.NoError(t, err)
	assert.IsType(t, &JSONFileStateBackend{}, backend)

	backend, err = BuildStateBackendFromDSN("file:///tmp/state.json")
	require.NoError(t, err)
	require.IsType(t, &JSONFileStateBackend{}, backend)
	assert.Equal(t, "/tmp/state.json", backend.(*JSONFileStateBackend).Path)

	backend, err = BuildStateBackendFromDSN("memory:")
	require.NoError(t, err)
	assert.IsType(t, &InMemoryStateBackend{}, backend)

	_, err = BuildStateBackendFromDSN("sqlite:state.db")
	assert.ErrorIs(t, err, ErrNotImplemented)

	_, err = BuildStateBackendFromDSN("redis://localhost")
	assert.Error(t, err)
}

func TestRegisteredFactoryTakesPrecedence(t *testing.T) {
	sentinel := NewInMemoryStateBackend()
	RegisterStateBackendFactory("custom", func(dsn string) (StateBackend, error) {
		assert.Equal(t, "custom://anything", dsn)
		return sentinel, nil
	})

	backend, err := BuildStateBackendFromDSN("custom://anything")
	require.NoError(t, err)
	assert.Same(t, sentinel, backend)

	failing := errors.New("boom")
	RegisterStateBackendFactory("failing", func(string) (StateBackend, error) {
		return nil, failing
	})
	_, err = BuildStateBackendFromDSN("failing://x")
	assert.ErrorIs(t, err, failing)
}
