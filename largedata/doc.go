// Package largedata splits messages that do not fit one JAUS packet into
// bounded fragments and reassembles fragment sequences that may arrive out of
// order or with gaps.
//
// # Fragmentation
//
// CreateFragments slices the payload into pieces of at most
// limits.MaxDataSize bytes. The first piece is flagged DataFirst, the last
// DataLast and every other DataNormal; sequence numbers count up from the
// caller's base:
//
//	frags, err := largedata.CreateFragments(msg, seq)
//	for _, f := range frags {
//	    channel.Send(f)
//	}
//
// # Reassembly
//
// A DataSet tracks one message keyed by source, command code, presence vector
// and an optional identifier. It keeps fragments sorted by sequence number,
// records which sequence numbers are still missing, and is complete once the
// first and last fragments have arrived with nothing missing between them.
//
// Collector holds many DataSets at once, routes each fragment to its set,
// returns the merged message when a set completes, and discards sets that
// have seen no fragment for the inactivity timeout (one second by default).
//
//	c := largedata.NewCollector()
//	merged, err := c.Add(fragment)
//	if merged != nil {
//	    deliver(merged)
//	}
package largedata
