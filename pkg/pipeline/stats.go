package pipeline

import "sync/atomic"

type counters struct {
	received      atomic.Uint64
	malformed     atomic.Uint64
	duplicates    atomic.Uint64
	undecryptable atomic.Uint64
	decrypted     atomic.Uint64
	dispatched    atomic.Uint64
	failures      atomic.Uint64
	printed       atomic.Uint64
	suppressed    atomic.Uint64
	printFailures atomic.Uint64
}

// Stats is a point-in-time copy of the pipeline counters.
type Stats struct {
	Received        uint64 `json:"received"`
	Malformed       uint64 `json:"malformed"`
	Duplicates      uint64 `json:"duplicates"`
	Undecryptable   uint64 `json:"undecryptable"`
	Decrypted       uint64 `json:"decrypted"`
	Dispatched      uint64 `json:"dispatched"`
	HandlerFailures uint64 `json:"handler_failures"`
	Printed         uint64 `json:"printed"`
	Suppressed      uint64 `json:"suppressed"`
	PrintFailures   uint64 `json:"print_failures"`
	SeenPackets     int    `json:"seen_packets"`
}

func (c *counters) snapshot() Stats {
	return Stats{
		Received:        c.received.Load(),
		Malformed:       c.malformed.Load(),
		Duplicates:      c.duplicates.Load(),
		Undecryptable:   c.undecryptable.Load(),
		Decrypted:       c.decrypted.Load(),
		Dispatched:      c.dispatched.Load(),
		HandlerFailures: c.failures.Load(),
		Printed:         c.printed.Load(),
		Suppressed:      c.suppressed.Load(),
		PrintFailures:   c.printFailures.Load(),
	}
}
