package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/emilythestrangee/wapoll-forum/backend/internal/forum"
	"github.com/emilythestrangee/wapoll-forum/backend/internal/ledger"
	"github.com/emilythestrangee/wapoll-forum/backend/internal/models"
	"github.com/emilythestrangee/wapoll-forum/backend/internal/transport"
)

type PostHandler struct {
	registry *forum.Registry
	log      *zap.Logger
}

func NewPostHandler(registry *forum.Registry, log *zap.Logger) *PostHandler {
	return &PostHandler{registry: registry, log: log}
}

func toPost(s forum.Subject) models.Post {
	return models.Post{
		ID:        s.ID,
		Title:     s.Title,
		Content:   s.Content,
		Votes:     s.Tally,
		CreatedAt: s.CreatedAt,
	}
}

func postID(c *gin.Context) (int32, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid post ID"})
		return 0, false
	}
	return int32(id), true
}

// GetPosts returns every post, newest first
func (h *PostHandler) GetPosts(c *gin.Context) {
	subjects := h.registry.Subjects()

	// Empty array, not null
	posts := make([]models.Post, 0, len(subjects))
	for _, s := range subjects {
		posts = append(posts, toPost(s))
	}
	c.JSON(http.StatusOK, posts)
}

// GetPost returns a single post by ID
func (h *PostHandler) GetPost(c *gin.Context) {
	id, ok := postID(c)
	if !ok {
		return
	}

	s, err := h.registry.Subject(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Post not found"})
		return
	}
	c.JSON(http.StatusOK, toPost(s))
}

// CreatePost creates a post locally. Posts are not announced to peers.
func (h *PostHandler) CreatePost(c *gin.Context) {
	var input models.CreatePostRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Title and content are required"})
		return
	}

	var (
		s   forum.Subject
		err error
	)
	if input.ID != 0 {
		s, err = h.registry.RegisterSubject(input.ID, input.Title, input.Content)
	} else {
		s, err = h.registry.CreateSubject(input.Title, input.Content)
	}
	switch {
	case errors.Is(err, forum.ErrInvalidSubject):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Title and content are required"})
		return
	case errors.Is(err, forum.ErrSubjectExists):
		c.JSON(http.StatusConflict, gin.H{"error": "Post already exists"})
		return
	case err != nil:
		h.log.Error("create post", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create post"})
		return
	}

	c.JSON(http.StatusCreated, toPost(s))
}

// VotePost casts an upvote or downvote and broadcasts it to peers
func (h *PostHandler) VotePost(c *gin.Context) {
	id, ok := postID(c)
	if !ok {
		return
	}

	var input models.VoteRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Vote type must be -1 or 1"})
		return
	}

	tally, err := h.registry.CastVote(c.Request.Context(), id, ledger.Direction(input.VoteType))
	var pubErr *transport.PublishError
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, models.VoteResponse{PostID: id, Votes: tally, Published: true})
	case errors.Is(err, forum.ErrSubjectNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Post not found"})
	case errors.Is(err, transport.ErrNotReady):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Not connected to peers yet"})
	case errors.As(err, &pubErr):
		// Counted locally; peers did not get it.
		c.JSON(http.StatusBadGateway, models.VoteResponse{
			PostID: id,
			Votes:  tally,
			Error:  "Vote counted locally but could not be broadcast",
		})
	default:
		h.log.Error("cast vote", zap.Int32("post_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to vote"})
	}
}

// GetPending returns votes received for a post id that is not registered here
func (h *PostHandler) GetPending(c *gin.Context) {
	id, ok := postID(c)
	if !ok {
		return
	}

	votes, ok := h.registry.Pending(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No pending votes"})
		return
	}
	c.JSON(http.StatusOK, models.PendingVotes{PostID: id, Votes: votes})
}

// StreamTally pushes the post's tally as server-sent events until the client
// goes away. The first event carries the current tally.
func (h *PostHandler) StreamTally(c *gin.Context) {
	id, ok := postID(c)
	if !ok {
		return
	}
	s, err := h.registry.Subject(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Post not found"})
		return
	}

	// Only the newest tally matters, so a slow client skips intermediate ones.
	events := make(chan models.TallyEvent, 1)
	events <- models.TallyEvent{PostID: id, Votes: s.Tally}
	cancel := h.registry.OnTallyChanged(id, func(change ledger.TallyChange) {
		ev := models.TallyEvent{PostID: id, Votes: change.Tally, Delta: int32(change.Delta)}
		select {
		case events <- ev:
		default:
			select {
			case <-events:
			default:
			}
			select {
			case events <- ev:
			default:
			}
		}
	})
	defer cancel()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev := <-events:
			c.SSEvent("tally", ev)
			return true
		}
	})
}
