package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_CapturesLocation(t *testing.T) {
	err := New(CodeInvalid, "bad budget")
	require.NotNil(t, err)
	assert.Equal(t, CodeInvalid, err.Code)
	assert.Equal(t, "bad budget", err.Message)
	assert.Contains(t, err.File, "errs_test.go")
	assert.Greater(t, err.Line, 0)
}

func TestCode_String(t *testing.T) {
	cases := []struct {
		code Code
		want string
	}{
		{CodeRuntime, "RUNTIME"},
		{CodeLogic, "LOGIC"},
		{CodeInvalid, "INVALID"},
		{CodePolicyNull, "POLICY_NULL"},
		{CodeFileParse, "FILE_PARSE"},
		{CodeLevelRange, "LEVEL_RANGE"},
		{Code(999), "UNKNOWN"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.code.String())
	}
}

func TestWrap_NilIsNil(t *testing.T) {
	assert.Nil(t, Wrap(CodeRuntime, nil))
}

func TestWrap_PreservesMessage(t *testing.T) {
	base := errors.New("open /dev/cpu/0/msr: permission denied")
	err := Wrap(CodeRuntime, base)
	require.NotNil(t, err)
	assert.Equal(t, CodeRuntime, err.Code)
	assert.Equal(t, base.Error(), err.Message)
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeInvalid, CodeOf(New(CodeInvalid, "x")))
	assert.Equal(t, CodeRuntime, CodeOf(errors.New("untyped")))
}

func TestError_FormatsWithTag(t *testing.T) {
	err := Newf(CodeLevelRange, "level %d out of range", 4)
	assert.Contains(t, err.Error(), "powerplane")
	assert.Contains(t, err.Error(), "LEVEL_RANGE")
	assert.Contains(t, err.Error(), "level 4 out of range")
}
