package meshtastic

import (
	"maps"

	pb "github.com/kabili207/meshtastic-go/core/proto"
)

const unknownName = "Unknown"

// Lookup tables for log output. Built once from the generated enum maps and
// never written afterwards.
var (
	hardwareModelNames = maps.Clone(pb.HardwareModel_name)
	portNumNames       = maps.Clone(pb.PortNum_name)
)

// HardwareModelName returns the protocol name of a hardware model id, or
// "Unknown" for ids this build does not know about.
func HardwareModelName(id int32) string {
	if name, ok := hardwareModelNames[id]; ok {
		return name
	}
	return unknownName
}

// PortNumName returns the protocol name of an application port number.
func PortNumName(port int32) string {
	if name, ok := portNumNames[port]; ok {
		return name
	}
	return unknownName
}
