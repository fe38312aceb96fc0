package cabi

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nodepower/powerplane/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSetWriteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.json")

	h, code := Create("", path)
	require.Zero(t, code)
	require.NotZero(t, h)
	defer Destroy(h)

	require.Zero(t, SetMode(h, "tdp_balance_static"))
	require.Zero(t, SetTDPPercent(h, 75))
	require.Zero(t, Write(h))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"tdp_balance_static"`)
	assert.Contains(t, string(raw), `"tdp_percent":75`)
}

func TestCreateReadInvalidJSONReturnsFileParse(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0644))

	h, code := Create(path, "")
	require.Zero(t, code)
	defer Destroy(h)

	assert.Equal(t, errs.CodeFileParse, Read(h))
}

func TestUnknownHandleReturnsPolicyNull(t *testing.T) {
	assert.Equal(t, errs.CodePolicyNull, SetBudgetWatts(Handle(99999), 10))
	assert.Equal(t, errs.CodePolicyNull, Read(Handle(99999)))
	assert.Equal(t, errs.CodePolicyNull, Destroy(Handle(99999)))
}

func TestSetModeUnsupportedNameReturnsFileParse(t *testing.T) {
	h, code := Create("", filepath.Join(t.TempDir(), "out.json"))
	require.Zero(t, code)
	defer Destroy(h)

	assert.Equal(t, errs.CodeFileParse, SetMode(h, "not_a_real_mode"))
}

func TestDestroyTwiceIsPolicyNullOnSecondCall(t *testing.T) {
	h, code := Create("", filepath.Join(t.TempDir(), "out.json"))
	require.Zero(t, code)
	require.Zero(t, Destroy(h))
	assert.Equal(t, errs.CodePolicyNull, Destroy(h))
}
