package flash

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseFileNumber(t *testing.T) {
	testCases := []struct {
		name string
		args []string
		n    int
		ok   bool
	}{
		{"valid", []string{"3"}, 3, true},
		{"missing", nil, 0, false},
		{"zero", []string{"0"}, 0, false},
		{"text", []string{"three"}, 0, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			n, err := ParseFileNumber(tc.args)
			if !tc.ok {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.n, n)
		})
	}
}

func TestUnframe(t *testing.T) {
	data, err := Unframe([]byte("[Flash] START_DATA\nASU!\x01\n[Flash] STOP_DATA\n"))
	require.NoError(t, err)
	require.Equal(t, []byte("ASU!\x01\n"), data)

	_, err = Unframe([]byte("[Flash] ERROR\n"))
	require.Error(t, err)
	_, err = Unframe([]byte("[Flash] START_DATA\nASU!"))
	require.Error(t, err)
}
