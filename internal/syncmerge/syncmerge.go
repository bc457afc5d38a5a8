// Package syncmerge resolves conflicts between a local record and a copy
// pushed by another device. Resolution is last-write-wins on UpdatedAt; when
// both sides carry the same timestamp the local copy is kept.
package syncmerge

import "time"

// Versioned is any record carrying a modification time.
type Versioned interface {
	GetUpdatedAt() time.Time
}

// Winner names the side a resolution picked.
type Winner int

const (
	Local Winner = iota
	Remote
)

func (w Winner) String() string {
	if w == Remote {
		return "remote"
	}
	return "local"
}

// Resolution is the outcome of merging two versions of a record.
type Resolution[T Versioned] struct {
	Value  T
	Winner Winner
}

// RemoteWon reports whether the remote copy replaced the local one.
func (r Resolution[T]) RemoteWon() bool { return r.Winner == Remote }

// Resolve picks the newer of local and remote. Ties keep local.
func Resolve[T Versioned](local, remote T) Resolution[T] {
	if remote.GetUpdatedAt().After(local.GetUpdatedAt()) {
		return Resolution[T]{Value: remote, Winner: Remote}
	}
	return Resolution[T]{Value: local, Winner: Local}
}

// ResolveAll merges two sets keyed by id. Records present on one side only
// are taken as-is. The result is keyed by id.
func ResolveAll[T Versioned](local, remote map[string]T) map[string]Resolution[T] {
	out := make(map[string]Resolution[T], len(local)+len(remote))
	for id, l := range local {
		out[id] = Resolution[T]{Value: l, Winner: Local}
	}
	for id, r := range remote {
		if l, ok := local[id]; ok {
			out[id] = Resolve(l, r)
			continue
		}
		out[id] = Resolution[T]{Value: r, Winner: Remote}
	}
	return out
}
