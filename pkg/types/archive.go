package types

import "time"

// ArchiveEntry is the snapshot of a user's devices for one calendar day. It is
// keyed by a YYYYMMDD date key in the store.
type ArchiveEntry struct {
	Devices map[string]Device `json:"devices"`
	// Timestamp is the time of the last write to this entry.
	Timestamp time.Time `json:"timestamp"`
	// DisplayDate is the day formatted for people, e.g. 31.01.2024.
	DisplayDate string `json:"displayDate"`
}
