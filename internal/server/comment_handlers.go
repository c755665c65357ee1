package server

import (
	"campusfeed/internal/models"
	"campusfeed/internal/service"

	"github.com/gofiber/fiber/v2"
)

type createCommentRequest struct {
	Text     string `json:"text" validate:"required"`
	ParentID *uint  `json:"parent_id"`
}

type updateCommentRequest struct {
	Text string `json:"text" validate:"required"`
}

// GetComments handles GET /api/posts/:id/comments
func (s *Server) GetComments(c *fiber.Ctx) error {
	postID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	comments, err := s.commentService.ListComments(c.UserContext(), currentUserID(c), postID)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(comments)
}

// GetThread handles GET /api/posts/:id/thread
func (s *Server) GetThread(c *fiber.Ctx) error {
	postID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	thread, err := s.commentService.Thread(c.UserContext(), currentUserID(c), postID)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(thread)
}

// CreateComment handles POST /api/posts/:id/comments
func (s *Server) CreateComment(c *fiber.Ctx) error {
	postID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	var req createCommentRequest
	if err := s.bindAndValidate(c, &req); err != nil {
		return nil
	}

	comment, err := s.commentService.PostComment(c.UserContext(), service.PostCommentInput{
		PostID:   postID,
		UserID:   currentUserID(c),
		Text:     req.Text,
		ParentID: req.ParentID,
	})
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(comment)
}

// UpdateComment handles PUT /api/comments/:commentId
func (s *Server) UpdateComment(c *fiber.Ctx) error {
	commentID, err := parseID(c, "commentId")
	if err != nil {
		return nil
	}
	var req updateCommentRequest
	if err := s.bindAndValidate(c, &req); err != nil {
		return nil
	}

	comment, err := s.commentService.EditComment(c.UserContext(), service.EditCommentInput{
		CommentID: commentID,
		UserID:    currentUserID(c),
		Text:      req.Text,
	})
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(comment)
}

// DeleteComment handles DELETE /api/comments/:commentId. Replies go with it.
func (s *Server) DeleteComment(c *fiber.Ctx) error {
	commentID, err := parseID(c, "commentId")
	if err != nil {
		return nil
	}
	deletion, err := s.commentService.DeleteComment(c.UserContext(), service.DeleteCommentInput{
		CommentID: commentID,
		UserID:    currentUserID(c),
	})
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{
		"message": "Comment deleted successfully",
		"post_id": deletion.PostID,
		"removed": deletion.Removed,
	})
}

// ReactToComment handles POST /api/comments/:commentId/reactions
func (s *Server) ReactToComment(c *fiber.Ctx) error {
	commentID, err := parseID(c, "commentId")
	if err != nil {
		return nil
	}
	kind, err := s.reactionKind(c)
	if err != nil {
		return nil
	}
	result, err := s.reactions.SetReaction(c.UserContext(), models.CommentSubject(commentID), currentUserID(c), kind)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(result)
}

// GetCommentReactions handles GET /api/comments/:commentId/reactions
func (s *Server) GetCommentReactions(c *fiber.Ctx) error {
	commentID, err := parseID(c, "commentId")
	if err != nil {
		return nil
	}
	return s.reactionSummary(c, models.CommentSubject(commentID))
}
