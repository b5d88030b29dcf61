package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/load-harness/pkg/types"
)

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	assert.NotNil(t, r)

	assert.Equal(t, []types.ExecutionMode{
		types.ModeConstantVUs,
		types.ModePerVUIterations,
		types.ModeRampingVUs,
	}, r.List())
}

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry()

	for _, mode := range []types.ExecutionMode{types.ModeConstantVUs, types.ModeRampingVUs, types.ModePerVUIterations} {
		t.Run(string(mode), func(t *testing.T) {
			m, err := r.Get(mode)
			require.NoError(t, err)
			assert.Equal(t, mode, m.Name())
		})
	}
}

func TestRegistry_Get_FreshInstance(t *testing.T) {
	r := NewRegistry()
	a, err := r.Get(types.ModeRampingVUs)
	require.NoError(t, err)
	b, err := r.Get(types.ModeRampingVUs)
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}

func TestRegistry_Get_UnknownMode(t *testing.T) {
	r := NewRegistry()

	mode, err := r.Get("shared-iterations")
	assert.ErrorIs(t, err, ErrUnknownMode)
	assert.Nil(t, mode)
}

func TestRegistry_GetOrDefault(t *testing.T) {
	r := NewRegistry()

	// 空名称回落到 ramping-vus
	mode, err := r.GetOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, types.ModeRampingVUs, mode.Name())

	mode, err = r.GetOrDefault(types.ModeConstantVUs)
	require.NoError(t, err)
	assert.Equal(t, types.ModeConstantVUs, mode.Name())
}

func TestRegistry_Register_Custom(t *testing.T) {
	r := NewRegistry()

	customMode := types.ExecutionMode("custom-mode")
	r.Register(customMode, func() Mode {
		return NewConstantVUsMode()
	})

	mode, err := r.Get(customMode)
	require.NoError(t, err)
	assert.NotNil(t, mode)
}

func TestGetModeOrDefault(t *testing.T) {
	mode, err := GetModeOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, types.ModeRampingVUs, mode.Name())

	mode, err = GetMode(types.ModePerVUIterations)
	require.NoError(t, err)
	assert.Equal(t, types.ModePerVUIterations, mode.Name())
}
