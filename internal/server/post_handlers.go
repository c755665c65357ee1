package server

import (
	"campusfeed/internal/models"
	"campusfeed/internal/service"

	"github.com/gofiber/fiber/v2"
)

type createPostRequest struct {
	Content  string   `json:"content"`
	Audience string   `json:"audience" validate:"omitempty,oneof=public private"`
	PostType string   `json:"post_type" validate:"omitempty,oneof=post announcement"`
	Images   []string `json:"images" validate:"max=5"`
}

type updatePostRequest struct {
	Content string `json:"content"`
}

type pinPostRequest struct {
	Pinned bool `json:"pinned"`
}

type reactRequest struct {
	Kind string `json:"kind" validate:"required"`
}

// feedFilter reads the feed query parameters shared by GET /api/feed and
// the live feed subscription.
func feedFilter(c *fiber.Ctx) service.FeedFilter {
	page := parsePagination(c, 20)
	return service.FeedFilter{
		Audience: models.Audience(c.Query("audience")),
		AuthorID: uint(max(c.QueryInt("author_id", 0), 0)),
		PostType: models.PostType(c.Query("post_type")),
		Limit:    page.Limit,
		Offset:   page.Offset,
	}
}

// GetFeed handles GET /api/feed
func (s *Server) GetFeed(c *fiber.Ctx) error {
	posts, err := s.feedService.ListFeed(c.UserContext(), currentUserID(c), feedFilter(c))
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(posts)
}

// GetPost handles GET /api/posts/:id
func (s *Server) GetPost(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	post, err := s.feedService.GetPost(c.UserContext(), currentUserID(c), id)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(post)
}

// CreatePost handles POST /api/posts
func (s *Server) CreatePost(c *fiber.Ctx) error {
	var req createPostRequest
	if err := s.bindAndValidate(c, &req); err != nil {
		return nil
	}

	post, err := s.feedService.CreatePost(c.UserContext(), service.CreatePostInput{
		AuthorID: currentUserID(c),
		Content:  req.Content,
		Audience: models.Audience(req.Audience),
		Images:   req.Images,
		PostType: models.PostType(req.PostType),
	})
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(post)
}

// UpdatePost handles PUT /api/posts/:id
func (s *Server) UpdatePost(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	var req updatePostRequest
	if err := s.bindAndValidate(c, &req); err != nil {
		return nil
	}

	post, err := s.feedService.EditPost(c.UserContext(), service.EditPostInput{
		PostID:  id,
		UserID:  currentUserID(c),
		Content: req.Content,
	})
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(post)
}

// DeletePost handles DELETE /api/posts/:id
func (s *Server) DeletePost(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	report, err := s.feedService.DeletePost(c.UserContext(), service.DeletePostInput{
		PostID: id,
		UserID: currentUserID(c),
	})
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{
		"message": "Post deleted successfully",
		"removed": report,
	})
}

// PinPost handles PUT /api/posts/:id/pin
func (s *Server) PinPost(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	var req pinPostRequest
	if err := s.bindAndValidate(c, &req); err != nil {
		return nil
	}
	post, err := s.feedService.PinPost(c.UserContext(), service.PinPostInput{
		PostID: id,
		UserID: currentUserID(c),
		Pinned: req.Pinned,
	})
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(post)
}

// ReactToPost handles POST /api/posts/:id/reactions. Sending the kind the
// caller already holds removes the reaction.
func (s *Server) ReactToPost(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	kind, err := s.reactionKind(c)
	if err != nil {
		return nil
	}
	result, err := s.feedService.ToggleReaction(c.UserContext(), id, currentUserID(c), kind)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(result)
}

// GetPostReactions handles GET /api/posts/:id/reactions
func (s *Server) GetPostReactions(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	return s.reactionSummary(c, models.PostSubject(id))
}

func (s *Server) reactionKind(c *fiber.Ctx) (models.ReactionKind, error) {
	var req reactRequest
	if err := s.bindAndValidate(c, &req); err != nil {
		return "", err
	}
	kind, err := models.ParseReactionKind(req.Kind)
	if err != nil {
		_ = models.RespondWithAppError(c, err)
		return "", errResponseWritten
	}
	return kind, nil
}

func (s *Server) reactionSummary(c *fiber.Ctx, subject models.Subject) error {
	ctx := c.UserContext()
	if err := s.reactions.CheckVisible(ctx, currentUserID(c), subject); err != nil {
		return models.RespondWithAppError(c, err)
	}
	summary, err := s.reactions.Summary(ctx, subject)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(summary)
}
