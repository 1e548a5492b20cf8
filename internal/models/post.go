package models

import "time"

// Post is the API view of a forum post.
type Post struct {
	ID        int32     `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Votes     int64     `json:"votes"`
	CreatedAt time.Time `json:"created_at"`
}

type CreatePostRequest struct {
	Title   string `json:"title" binding:"required"`
	Content string `json:"content" binding:"required"`
	// ID registers the post under an id agreed with other peers. Zero means
	// the next local id.
	ID int32 `json:"id" binding:"omitempty,min=1"`
}
