package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/owesh74/Guftagu/internal/model"
	"github.com/owesh74/Guftagu/internal/repository"
	"github.com/owesh74/Guftagu/internal/service"
)

type GroupHandler struct {
	groups    *repository.GroupRepository
	admission *service.AdmissionService
	log       zerolog.Logger
}

func NewGroupHandler(groups *repository.GroupRepository, admission *service.AdmissionService, log zerolog.Logger) *GroupHandler {
	return &GroupHandler{groups: groups, admission: admission, log: log}
}

type createGroupRequest struct {
	GroupName     string `json:"groupName"`
	CharacterName string `json:"characterName"`
	Pin           string `json:"pin"`
}

type characterInfo struct {
	Name string `json:"name"`
}

type snapshotResponse struct {
	GroupName  string          `json:"groupName"`
	Characters []characterInfo `json:"characters"`
	Messages   []model.Message `json:"messages"`
}

type joinRequest struct {
	Name  string `json:"name"`
	Pin   string `json:"pin"`
	IsNew bool   `json:"isNew"`
}

// Create handles POST /api/groups. The initial character is optional, but
// name and pin must come together.
func (h *GroupHandler) Create(c *fiber.Ctx) error {
	var req createGroupRequest
	if err := c.BodyParser(&req); err != nil {
		return apiError(c, 400, "invalid_input", "invalid request body")
	}
	if req.GroupName == "" {
		return apiError(c, 400, "invalid_input", "groupName is required")
	}
	if (req.CharacterName == "") != (req.Pin == "") {
		return apiError(c, 400, "invalid_input", "characterName and pin must be provided together")
	}

	var initial *model.Character
	if req.CharacterName != "" {
		initial = &model.Character{Name: req.CharacterName, Secret: req.Pin}
	}

	if err := h.groups.CreateGroup(c.Context(), req.GroupName, initial); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return apiError(c, 409, "name_taken", "Group name already taken")
		}
		h.log.Error().Err(err).Str("group", req.GroupName).Msg("create group failed")
		return apiError(c, 500, "internal", "failed to create group")
	}

	h.log.Info().Str("group", req.GroupName).Bool("with_character", initial != nil).Msg("group created")
	return c.Status(201).JSON(fiber.Map{"groupName": req.GroupName})
}

// Snapshot handles GET /api/groups/:name — the point-in-time read clients
// reconcile against the live stream.
func (h *GroupHandler) Snapshot(c *fiber.Ctx) error {
	name := c.Params("name")

	snap, err := h.groups.GetSnapshot(c.Context(), name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apiError(c, 404, "group_not_found", "Group not found")
		}
		h.log.Error().Err(err).Str("group", name).Msg("snapshot failed")
		return apiError(c, 500, "internal", "failed to load group")
	}

	return c.JSON(snapshotResponse{
		GroupName: snap.Name,
		Characters: lo.Map(snap.Characters, func(ch model.Character, _ int) characterInfo {
			return characterInfo{Name: ch.Name}
		}),
		Messages: snap.Messages,
	})
}

// Join handles POST /api/groups/:name/join — the admission exchange.
func (h *GroupHandler) Join(c *fiber.Ctx) error {
	group := c.Params("name")

	var req joinRequest
	if err := c.BodyParser(&req); err != nil {
		return apiError(c, 400, "invalid_input", "invalid request body")
	}

	err := h.admission.Admit(c.Context(), group, req.Name, req.Pin, req.IsNew)
	switch {
	case err == nil:
		return c.JSON(fiber.Map{"ok": true})
	case errors.Is(err, service.ErrInvalidInput):
		return apiError(c, 400, "invalid_input", "Please fill all fields")
	case errors.Is(err, service.ErrGroupNotFound):
		return apiError(c, 404, "group_not_found", "Group not found")
	case errors.Is(err, service.ErrCharacterNotFound):
		return apiError(c, 404, "character_not_found", "Character not found")
	case errors.Is(err, service.ErrNameTaken):
		return apiError(c, 409, "name_taken", "Character name already taken")
	case errors.Is(err, service.ErrWrongSecret):
		return apiError(c, 401, "wrong_secret", "Wrong PIN")
	default:
		h.log.Error().Err(err).Str("group", group).Msg("admission failed")
		return apiError(c, 500, "internal", "authentication failed")
	}
}

func apiError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": message, "code": code})
}
