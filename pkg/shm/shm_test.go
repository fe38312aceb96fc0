//go:build linux

package shm

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidName(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"/powerplane-policy", true},
		{"powerplane-policy", false},
		{"/a/b", false},
		{"", false},
		{"/", true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ValidName(tc.name), tc.name)
	}
}

func tempShmName(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("/powerplane-test-%d-%d", rand.Int63(), rand.Int63())
}

func TestCreateOpenCloseRoundTrip(t *testing.T) {
	name := tempShmName(t)
	creator, err := Create(name, 64)
	if err != nil {
		t.Skipf("shm not available in this sandbox: %v", err)
	}
	defer func() { _ = creator.Close() }()

	copy(creator.Bytes(), []byte("hello shared world"))

	opener, err := Open(name, 64)
	require.NoError(t, err)
	defer func() { _ = opener.Close() }()

	require.NoError(t, opener.Lock())
	got := string(opener.Bytes()[:len("hello shared world")])
	require.NoError(t, opener.Unlock())
	assert.Equal(t, "hello shared world", got)
}

func TestCreate_RejectsInvalidName(t *testing.T) {
	_, err := Create("no-leading-slash", 8)
	assert.Error(t, err)
}

func TestCreate_RejectsDoubleCreate(t *testing.T) {
	name := tempShmName(t)
	first, err := Create(name, 8)
	if err != nil {
		t.Skipf("shm not available in this sandbox: %v", err)
	}
	defer func() { _ = first.Close() }()

	_, err = Create(name, 8)
	assert.Error(t, err, "O_EXCL must reject a second create of the same name")
}
