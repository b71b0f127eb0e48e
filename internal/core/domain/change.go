package domain

import "time"

type ChangeKind string

const (
	ChangeCreated   ChangeKind = "created"
	ChangeUpdated   ChangeKind = "updated"
	ChangeDeleted   ChangeKind = "deleted"
	ChangeLiked     ChangeKind = "liked"
	ChangeCommented ChangeKind = "commented"
	ChangeShared    ChangeKind = "shared"
	ChangeRepaired  ChangeKind = "repaired"
)

// PostChange announces that a stored post changed. Readers refetch; the change carries
// no post state.
type PostChange struct {
	PostID     string
	Kind       ChangeKind
	OccurredAt time.Time
}
