package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/echosecure-chat/internal/group"
	"github.com/iliyamo/echosecure-chat/internal/logging"
	"github.com/iliyamo/echosecure-chat/internal/middleware"
)

// GroupHandler exposes the group directory.
type GroupHandler struct {
	Groups *group.Service
	Log    logging.Logger
}

func NewGroupHandler(g *group.Service, log logging.Logger) *GroupHandler {
	return &GroupHandler{Groups: g, Log: log}
}

type createGroupReq struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Members     []string `json:"members"`
}
type updateGroupReq struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ProfilePic  string `json:"profilePic"`
}
type membersReq struct {
	MemberIDs []string `json:"memberIds"`
}

func (h *GroupHandler) Create(c echo.Context) error {
	var req createGroupReq
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	g, err := h.Groups.Create(ctx, req.Name, req.Description, req.Members, middleware.UserID(c))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, g)
}

func (h *GroupHandler) List(c echo.Context) error {
	ctx, cancel := withTimeout(c)
	defer cancel()
	gs, err := h.Groups.ListForUser(ctx, middleware.UserID(c))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, gs)
}

func (h *GroupHandler) Get(c echo.Context) error {
	ctx, cancel := withTimeout(c)
	defer cancel()
	g, err := h.Groups.Get(ctx, c.Param("id"), middleware.UserID(c))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, g)
}

func (h *GroupHandler) Update(c echo.Context) error {
	var req updateGroupReq
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	g, err := h.Groups.UpdateDetails(ctx, c.Param("id"), group.Details{
		Name: req.Name, Description: req.Description, ProfilePic: req.ProfilePic,
	}, middleware.UserID(c))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, g)
}

func (h *GroupHandler) Delete(c echo.Context) error {
	ctx, cancel := withTimeout(c)
	defer cancel()
	if err := h.Groups.Delete(ctx, c.Param("id"), middleware.UserID(c)); err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Group deleted"})
}

func (h *GroupHandler) AddMembers(c echo.Context) error {
	var req membersReq
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	g, err := h.Groups.AddMembers(ctx, c.Param("id"), req.MemberIDs, middleware.UserID(c))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, g)
}

func (h *GroupHandler) RemoveMembers(c echo.Context) error {
	var req membersReq
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	ctx, cancel := withTimeout(c)
	defer cancel()
	g, err := h.Groups.RemoveMembers(ctx, c.Param("id"), req.MemberIDs, middleware.UserID(c))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, g)
}

func (h *GroupHandler) Leave(c echo.Context) error {
	ctx, cancel := withTimeout(c)
	defer cancel()
	if err := h.Groups.Leave(ctx, c.Param("id"), middleware.UserID(c)); err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Left group"})
}

func (h *GroupHandler) MakeAdmin(c echo.Context) error {
	ctx, cancel := withTimeout(c)
	defer cancel()
	g, err := h.Groups.MakeAdmin(ctx, c.Param("id"), c.Param("userId"), middleware.UserID(c))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, g)
}

func (h *GroupHandler) RemoveAdmin(c echo.Context) error {
	ctx, cancel := withTimeout(c)
	defer cancel()
	g, err := h.Groups.RemoveAdmin(ctx, c.Param("id"), c.Param("userId"), middleware.UserID(c))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, g)
}
