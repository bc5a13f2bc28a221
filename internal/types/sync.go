package types

import (
	"fmt"
	"time"
)

// SyncCursor is an opaque provider token marking how far a sync has progressed.
// An empty cursor means the next fetch is a full resync.
type SyncCursor []byte

// IsEmpty reports whether the cursor requests a full resync
func (c SyncCursor) IsEmpty() bool {
	return len(c) == 0
}

// EntryKind distinguishes files from directories
type EntryKind int

const (
	KindUnknown EntryKind = iota
	KindFile
	KindDirectory
)

func (k EntryKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	default:
		return "unknown"
	}
}

// Operation is what a ChangeEntry asks the mirror to do
type Operation int

const (
	OpCreate Operation = iota
	OpUpdate
	OpDelete
)

func (o Operation) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// ChangeEntry is one remote change, addressed by a slash-separated path
// relative to the mirror root.
type ChangeEntry struct {
	Path      string    `json:"path"`
	Kind      EntryKind `json:"kind"`
	Operation Operation `json:"operation"`
	IsTrashed bool      `json:"isTrashed,omitempty"`
	// CaseFolded means Path was lower-cased by a case-insensitive remote,
	// so removals match local names regardless of case.
	CaseFolded bool `json:"caseFolded,omitempty"`

	// RemoteID is the provider handle used to fetch content.
	RemoteID     string    `json:"remoteId,omitempty"`
	Size         int64     `json:"size,omitempty"`
	ModifiedTime time.Time `json:"modifiedTime,omitempty"`
	Hash         string    `json:"hash,omitempty"`
}

// IsRemoval reports whether applying the entry removes the local path
func (e ChangeEntry) IsRemoval() bool {
	return e.Operation == OpDelete || e.IsTrashed
}

// ChangeBatch is everything a provider returned for one tick
type ChangeBatch struct {
	// ResetRequested means the local mirror must be cleared before applying Entries.
	ResetRequested bool
	Entries        []ChangeEntry
	NextCursor     SyncCursor
}

// IsEmpty reports whether applying the batch would leave the mirror untouched
func (b *ChangeBatch) IsEmpty() bool {
	return b == nil || (!b.ResetRequested && len(b.Entries) == 0)
}
