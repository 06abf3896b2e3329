package delivery

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusCanAdvanceTo(t *testing.T) {
	cases := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusReady, StatusShipping, true},
		{StatusShipping, StatusDelivered, true},
		{StatusReady, StatusDelivered, false},
		{StatusShipping, StatusReady, false},
		{StatusDelivered, StatusShipping, false},
		{StatusDelivered, StatusReady, false},
		{StatusReady, StatusReady, false},
	}

	for _, tc := range cases {
		require.Equal(t, tc.allowed, tc.from.CanAdvanceTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestParseStatus(t *testing.T) {
	for _, valid := range []string{"READY", "SHIPPING", "DELIVERED"} {
		status, ok := ParseStatus(valid)
		require.True(t, ok)
		require.Equal(t, Status(valid), status)
	}

	_, ok := ParseStatus("ready")
	require.False(t, ok)

	_, ok = ParseStatus("CANCELLED")
	require.False(t, ok)
}
