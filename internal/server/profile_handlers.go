package server

import (
	"campusfeed/internal/models"

	"github.com/gofiber/fiber/v2"
)

type profileInfoRequest struct {
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
}

type bioRequest struct {
	Bio string `json:"bio" validate:"max=500"`
}

type photoRequest struct {
	URL string `json:"url" validate:"required"`
}

// UpdateProfileInfo handles PUT /api/profile/info
func (s *Server) UpdateProfileInfo(c *fiber.Ctx) error {
	var req profileInfoRequest
	if err := s.bindAndValidate(c, &req); err != nil {
		return nil
	}
	user, err := s.profileService.UpdateInfo(c.UserContext(), currentUserID(c), req.FirstName, req.LastName)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(user)
}

// UpdateBio handles PUT /api/profile/bio
func (s *Server) UpdateBio(c *fiber.Ctx) error {
	var req bioRequest
	if err := s.bindAndValidate(c, &req); err != nil {
		return nil
	}
	user, err := s.profileService.SetBio(c.UserContext(), currentUserID(c), req.Bio)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(user)
}

// UpdateProfilePhoto handles PUT /api/profile/photo
func (s *Server) UpdateProfilePhoto(c *fiber.Ctx) error {
	var req photoRequest
	if err := s.bindAndValidate(c, &req); err != nil {
		return nil
	}
	user, err := s.profileService.SetProfilePhoto(c.UserContext(), currentUserID(c), req.URL)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(user)
}

// UpdateCoverPhoto handles PUT /api/profile/cover
func (s *Server) UpdateCoverPhoto(c *fiber.Ctx) error {
	var req photoRequest
	if err := s.bindAndValidate(c, &req); err != nil {
		return nil
	}
	user, err := s.profileService.SetCoverPhoto(c.UserContext(), currentUserID(c), req.URL)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(user)
}

// GetUser handles GET /api/users/:id. It answers from the user directory,
// so recently changed profiles may lag until the cache entry is replaced.
func (s *Server) GetUser(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	user, err := s.directory.Lookup(c.UserContext(), id)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(user.Summary())
}

// GetFeatureFlags handles GET /api/feature-flags
func (s *Server) GetFeatureFlags(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"flags": s.featureFlags.Snapshot(currentUserID(c)),
	})
}

// RunReconcile handles POST /api/admin/reconcile
func (s *Server) RunReconcile(c *fiber.Ctx) error {
	report, err := s.reconciler.Sweep(c.UserContext())
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{
		"orphan_comments":  report.OrphanComments,
		"orphan_reactions": report.OrphanReactions,
		"recounted_posts":  report.RecountedPosts,
		"clean":            report.Clean(),
	})
}
