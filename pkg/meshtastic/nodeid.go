package meshtastic

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// BROADCAST_ID is the destination used for packets addressed to every node.
const BROADCAST_ID = 0xFFFFFFFF

var ErrInvalidNodeID = errors.New("invalid node id")

// NodeID is the 32-bit number a Meshtastic radio identifies itself with.
type NodeID uint32

// String formats the id the way the Meshtastic apps display it, e.g. !a1b2c3d4.
func (n NodeID) String() string {
	return fmt.Sprintf("!%08x", uint32(n))
}

func (n NodeID) IsBroadcast() bool {
	return uint32(n) == BROADCAST_ID
}

// ParseNodeID accepts either the !xxxxxxxx hex form or a plain decimal number.
func ParseNodeID(s string) (NodeID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidNodeID
	}
	if strings.HasPrefix(s, "!") {
		v, err := strconv.ParseUint(s[1:], 16, 32)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidNodeID, s)
		}
		return NodeID(v), nil
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidNodeID, s)
	}
	return NodeID(v), nil
}

func (n NodeID) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

func (n *NodeID) UnmarshalText(text []byte) error {
	v, err := ParseNodeID(string(text))
	if err != nil {
		return err
	}
	*n = v
	return nil
}
