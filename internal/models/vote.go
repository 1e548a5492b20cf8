package models

// VoteRequest casts a single vote on a post.
type VoteRequest struct {
	VoteType int32 `json:"vote_type" binding:"required,oneof=-1 1"`
}

type VoteResponse struct {
	PostID    int32  `json:"post_id"`
	Votes     int64  `json:"votes"`
	Published bool   `json:"published"`
	Error     string `json:"error,omitempty"`
}

// PendingVotes is the tally held for a post id nobody registered locally.
type PendingVotes struct {
	PostID int32 `json:"post_id"`
	Votes  int64 `json:"votes"`
}

// TallyEvent is streamed to clients watching a post.
type TallyEvent struct {
	PostID int32 `json:"post_id"`
	Votes  int64 `json:"votes"`
	Delta  int32 `json:"delta"`
}
