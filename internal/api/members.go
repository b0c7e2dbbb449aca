package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/serroba/online-diagrams/internal/acl"
	"github.com/serroba/online-diagrams/internal/apperr"
)

type addMemberRequest struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

type changeRoleRequest struct {
	Role string `json:"role"`
}

// handleListMembers handles GET /collab/diagrams/:id/members.
func (s *Server) handleListMembers(c *gin.Context) {
	id, err := identity(c)
	if err != nil {
		s.fail(c, err)

		return
	}

	members, err := s.access.ListMembers(c.Request.Context(), id.UserID, c.Param("id"))
	if err != nil {
		s.fail(c, err)

		return
	}

	if members == nil {
		members = []acl.Membership{}
	}

	c.JSON(http.StatusOK, gin.H{"members": members})
}

// handleAddMember handles POST /collab/diagrams/:id/members.
func (s *Server) handleAddMember(c *gin.Context) {
	id, err := identity(c)
	if err != nil {
		s.fail(c, err)

		return
	}

	var req addMemberRequest
	if err := bind(c, &req); err != nil {
		s.fail(c, err)

		return
	}

	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		s.fail(c, fmt.Errorf("%w: userId is required", apperr.ErrValidation))

		return
	}

	role, err := acl.ParseRole(req.Role)
	if err != nil {
		s.fail(c, err)

		return
	}

	membership, err := s.access.AddMember(c.Request.Context(), id.UserID, c.Param("id"), userID, role)
	if err != nil {
		s.fail(c, err)

		return
	}

	c.JSON(http.StatusCreated, membership)
}

// handleChangeRole handles PATCH /collab/diagrams/:id/members/:userId/role.
func (s *Server) handleChangeRole(c *gin.Context) {
	id, err := identity(c)
	if err != nil {
		s.fail(c, err)

		return
	}

	var req changeRoleRequest
	if err := bind(c, &req); err != nil {
		s.fail(c, err)

		return
	}

	role, err := acl.ParseRole(req.Role)
	if err != nil {
		s.fail(c, err)

		return
	}

	membership, err := s.access.ChangeRole(c.Request.Context(), id.UserID, c.Param("id"), c.Param("userId"), role)
	if err != nil {
		s.fail(c, err)

		return
	}

	c.JSON(http.StatusOK, membership)
}

// handleRemoveMember handles DELETE /collab/diagrams/:id/members/:userId.
func (s *Server) handleRemoveMember(c *gin.Context) {
	id, err := identity(c)
	if err != nil {
		s.fail(c, err)

		return
	}

	if err := s.access.RemoveMember(c.Request.Context(), id.UserID, c.Param("id"), c.Param("userId")); err != nil {
		s.fail(c, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}
