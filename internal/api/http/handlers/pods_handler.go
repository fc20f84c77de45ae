package handlers

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/pod-racer/internal/api/dto"
	"github.com/spec-kit/pod-racer/internal/auth"
	"github.com/spec-kit/pod-racer/internal/domain"
	"github.com/spec-kit/pod-racer/internal/service"
	"github.com/spec-kit/pod-racer/internal/session"
	apperrors "github.com/spec-kit/pod-racer/pkg/util/errorutil"
)

// PodsHandler exposes the user, session and credit endpoints.
type PodsHandler struct {
	pods *service.PodService
}

// NewPodsHandler constructs handler.
func NewPodsHandler(pods *service.PodService) *PodsHandler {
	return &PodsHandler{pods: pods}
}

// CreateUser handles POST /create_user.
func (h *PodsHandler) CreateUser(c *fiber.Ctx) error {
	principal, _ := auth.PrincipalFromContext(c)
	if principal == nil || principal.SubjectType != domain.SubjectTypeSharedKey {
		return apperrors.NewForbidden("shared key required")
	}
	var req dto.CreateUserRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	user, token, err := h.pods.CreateUser(c.UserContext(), req.UserID)
	if err != nil {
		return err
	}
	resp := dto.CreateUserResponse{UserID: user.ID, Credits: user.CreditsRemaining}
	if token != nil {
		resp.Token = token.Value
		resp.TokenExpiresAt = &token.ExpiresAt
	}
	return c.Status(http.StatusCreated).JSON(resp)
}

// StartPod handles POST /start_pod and /start_race.
func (h *PodsHandler) StartPod(c *fiber.Ctx) error {
	var req dto.SessionRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if err := authorize(c, req.UserID); err != nil {
		return err
	}

	view, err := h.pods.StartPod(c.UserContext(), req.UserID)
	if err != nil {
		return err
	}
	s := view.Session
	resp := dto.StartResponse{
		Status:        service.StartStatus(s),
		SessionID:     s.ID,
		PodID:         s.PodID,
		PodType:       s.PodType,
		Winner:        s.PodType,
		PodsRaced:     s.PodsRaced,
		Credits:       view.CreditsRemaining,
		Position:      view.Position,
		EstimatedWait: dto.Seconds(view.EstimatedWait),
	}
	if resp.PodsRaced == nil {
		resp.PodsRaced = []string{}
	}
	return c.JSON(resp)
}

// Status handles GET /status?user_id=.
func (h *PodsHandler) Status(c *fiber.Ctx) error {
	view, err := h.pods.Status(c.UserContext(), c.Query("user_id"))
	if err != nil {
		return err
	}
	return c.JSON(statusResponse(view))
}

// QueueStatus handles GET /queue_status?user_id=.
func (h *PodsHandler) QueueStatus(c *fiber.Ctx) error {
	view, err := h.pods.QueueStatus(c.Query("user_id"))
	if err != nil {
		return err
	}
	resp := dto.QueueStatusResponse{Status: service.StatusQueued}
	if view.Position != nil {
		resp.Position = *view.Position
	}
	if wait := dto.Seconds(view.EstimatedWait); wait != nil {
		resp.EstimatedWait = *wait
	}
	return c.JSON(resp)
}

// Close handles POST /close.
func (h *PodsHandler) Close(c *fiber.Ctx) error {
	var req dto.SessionRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if err := authorize(c, req.UserID); err != nil {
		return err
	}

	closed, counts, err := h.pods.Close(c.UserContext(), req.UserID)
	if err != nil {
		return err
	}
	resp := dto.CloseResponse{Status: service.StatusClosed, Pool: dto.PoolCounts(counts)}
	if closed != nil {
		resp.CloseReason = string(closed.CloseReason)
	}
	return c.JSON(resp)
}

// AssignCredits handles POST /assign_credits and /set_credits.
func (h *PodsHandler) AssignCredits(c *fiber.Ctx) error {
	var req dto.CreditsRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if err := authorize(c, req.UserID); err != nil {
		return err
	}
	if req.Credits == nil {
		return apperrors.NewValidationError("credits required", nil)
	}

	credits, err := h.pods.AssignCredits(c.UserContext(), req.UserID, *req.Credits)
	if err != nil {
		return err
	}
	return c.JSON(dto.CreditsResponse{Status: "ok", UserID: req.UserID, Credits: credits})
}

// GetCredits handles GET /get_credits/:user_id.
func (h *PodsHandler) GetCredits(c *fiber.Ctx) error {
	userID := c.Params("user_id")
	credits, err := h.pods.GetCredits(userID)
	if err != nil {
		return err
	}
	return c.JSON(dto.CreditsResponse{UserID: userID, Credits: credits})
}

// Pods handles GET /pods.
func (h *PodsHandler) Pods(c *fiber.Ctx) error {
	pods, counts := h.pods.Pods()
	return c.JSON(dto.PodsResponse{Pods: pods, Counts: dto.PoolCounts(counts)})
}

func statusResponse(view session.View) dto.StatusResponse {
	s := view.Session
	resp := dto.StatusResponse{
		Status:           service.SessionStatus(s),
		SessionID:        s.ID,
		PodID:            s.PodID,
		PodType:          s.PodType,
		Winner:           s.PodType,
		PodsRaced:        s.PodsRaced,
		CreditsRemaining: view.CreditsRemaining,
		Position:         view.Position,
		EstimatedWait:    dto.Seconds(view.EstimatedWait),
		CloseReason:      string(s.CloseReason),
	}
	return resp
}

func parseBody(c *fiber.Ctx, out any) error {
	if len(c.Body()) == 0 {
		return apperrors.NewValidationError("request body required", nil)
	}
	if err := c.BodyParser(out); err != nil {
		return apperrors.NewValidationError("invalid payload", map[string]any{"error": err.Error()})
	}
	return nil
}

func authorize(c *fiber.Ctx, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return apperrors.NewValidationError("user_id required", nil)
	}
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || !principal.CanActFor(userID) {
		return apperrors.NewForbidden("not allowed to act for this user")
	}
	return nil
}
