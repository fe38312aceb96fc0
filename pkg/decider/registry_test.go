package decider

import (
	"testing"

	"github.com/nodepower/powerplane/pkg/errs"
	"github.com/nodepower/powerplane/pkg/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLeaf_UnregisteredDynamicModeFallsBackToPassthrough(t *testing.T) {
	ld, err := NewLeaf(policy.PerfBalanceDynamic)
	require.NoError(t, err)
	assert.IsType(t, &PassthroughLeaf{}, ld)
}

func TestNewLeaf_UnregisteredStaticModeErrors(t *testing.T) {
	_, err := NewLeaf(policy.TDPBalanceStatic)
	require.Error(t, err)
	assert.Equal(t, errs.CodeInvalid, errs.CodeOf(err))
}

func TestNewLeaf_UnregisteredShutdownErrors(t *testing.T) {
	_, err := NewLeaf(policy.Shutdown)
	require.Error(t, err)
	assert.Equal(t, errs.CodeInvalid, errs.CodeOf(err))
}

func TestNewTree_UnregisteredDynamicModeFallsBackToUniform(t *testing.T) {
	td, err := NewTree(policy.FreqUniformDynamic)
	require.NoError(t, err)
	assert.IsType(t, &Uniform{}, td)
}

func TestNewTree_UnregisteredStaticModeErrors(t *testing.T) {
	_, err := NewTree(policy.FreqHybridStatic)
	require.Error(t, err)
	assert.Equal(t, errs.CodeInvalid, errs.CodeOf(err))
}

func TestRegisterLeaf_OverridesFallback(t *testing.T) {
	called := false
	RegisterLeaf(policy.PerfBalanceDynamic, func() LeafDecider {
		called = true
		return &PassthroughLeaf{}
	})
	defer delete(leafRegistry, policy.PerfBalanceDynamic)

	_, err := NewLeaf(policy.PerfBalanceDynamic)
	require.NoError(t, err)
	assert.True(t, called)
}
