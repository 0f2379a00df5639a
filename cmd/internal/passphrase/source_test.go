package passphrase

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func testSource(env map[string]string, terminal bool, secret string) *Source {
	s := NewSource("DL_PASS", "pass: ")
	s.lookupEnv = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	s.isTerminal = func() bool { return terminal }
	s.readSecret = func() ([]byte, error) { return []byte(secret), nil }
	s.out = &bytes.Buffer{}
	return s
}

func TestSourcePrefersEnvironment(t *testing.T) {
	s := testSource(map[string]string{"DL_PASS": "hunter2"}, true, "ignored")
	got, err := s.Get()
	require.NoError(t, err)
	require.Equal(t, "hunter2", got)
}

func TestSourceRejectsEmptyEnvironment(t *testing.T) {
	_, err := testSource(map[string]string{"DL_PASS": "  "}, true, "x").Get()
	require.ErrorContains(t, err, "set but empty")
}

func TestSourcePromptsOnTerminal(t *testing.T) {
	s := testSource(nil, true, "prompted")
	got, err := s.Get()
	require.NoError(t, err)
	require.Equal(t, "prompted", got)

	_, err = testSource(nil, true, " ").Get()
	require.Error(t, err)
}

func TestSourceWithoutTerminal(t *testing.T) {
	_, err := testSource(nil, false, "").Get()
	require.ErrorContains(t, err, "DL_PASS")
}
