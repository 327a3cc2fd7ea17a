package meshtastic

import (
	"testing"

	pb "github.com/kabili207/meshtastic-go/core/proto"
	"github.com/stretchr/testify/require"
)

func TestNodeIDString(t *testing.T) {
	require.Equal(t, "!0000002a", NodeID(42).String())
	require.Equal(t, "!ffffffff", NodeID(BROADCAST_ID).String())
	require.True(t, NodeID(BROADCAST_ID).IsBroadcast())
	require.False(t, NodeID(42).IsBroadcast())
}

func TestParseNodeID(t *testing.T) {
	tests := []struct {
		in      string
		want    NodeID
		wantErr bool
	}{
		{"!0000002a", 42, false},
		{"!A1B2C3D4", 0xa1b2c3d4, false},
		{"42", 42, false},
		{" 4294967295 ", BROADCAST_ID, false},
		{"", 0, true},
		{"!", 0, true},
		{"!123456789", 0, true},
		{"nope", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseNodeID(tt.in)
		if tt.wantErr {
			require.ErrorIs(t, err, ErrInvalidNodeID, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		require.Equal(t, tt.want, got, tt.in)
	}
}

func TestNameTables(t *testing.T) {
	require.Equal(t, "TEXT_MESSAGE_APP", PortNumName(int32(pb.PortNum_TEXT_MESSAGE_APP)))
	require.Equal(t, "TELEMETRY_APP", PortNumName(int32(pb.PortNum_TELEMETRY_APP)))
	require.Equal(t, "Unknown", PortNumName(-5))

	require.Equal(t, pb.HardwareModel_TBEAM.String(), HardwareModelName(int32(pb.HardwareModel_TBEAM)))
	require.Equal(t, "Unknown", HardwareModelName(-1))
}
