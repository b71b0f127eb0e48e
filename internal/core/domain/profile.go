package domain

// UserProfile is the public profile of an author referenced by a post.
type UserProfile struct {
	ID             string
	DisplayName    string
	PhotoURL       string
	FollowersCount int
	FollowingCount int
}

func (u *UserProfile) Clone() *UserProfile {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// AdjustFollowers shifts the follower count by delta, floored at 0.
func (u *UserProfile) AdjustFollowers(delta int) {
	u.FollowersCount = max(u.FollowersCount+delta, 0)
}

// FollowResult is the authoritative outcome of a follow toggle.
type FollowResult struct {
	IsFollowing bool
}
