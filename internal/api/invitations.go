package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/serroba/online-diagrams/internal/invite"
)

type acceptInvitationRequest struct {
	Token string `json:"token"`
}

// handleCreateInvitation handles POST /diagrams/:id/invitations.
func (s *Server) handleCreateInvitation(c *gin.Context) {
	id, err := identity(c)
	if err != nil {
		s.fail(c, err)

		return
	}

	var req invite.CreateRequest
	if err := bind(c, &req); err != nil {
		s.fail(c, err)

		return
	}

	inv, err := s.invites.Create(c.Request.Context(), id.UserID, c.Param("id"), req)
	if err != nil {
		s.fail(c, err)

		return
	}

	c.JSON(http.StatusCreated, inv)
}

// handleListInvitations handles GET /diagrams/:id/invitations.
func (s *Server) handleListInvitations(c *gin.Context) {
	id, err := identity(c)
	if err != nil {
		s.fail(c, err)

		return
	}

	invitations, err := s.invites.List(c.Request.Context(), id.UserID, c.Param("id"))
	if err != nil {
		s.fail(c, err)

		return
	}

	if invitations == nil {
		invitations = []invite.Invitation{}
	}

	c.JSON(http.StatusOK, gin.H{"invitations": invitations})
}

// handleAcceptInvitation handles POST /invitations/accept.
func (s *Server) handleAcceptInvitation(c *gin.Context) {
	id, err := identity(c)
	if err != nil {
		s.fail(c, err)

		return
	}

	var req acceptInvitationRequest
	if err := bind(c, &req); err != nil {
		s.fail(c, err)

		return
	}

	membership, err := s.invites.Accept(c.Request.Context(), id.UserID, id.Email, req.Token)
	if err != nil {
		s.fail(c, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "membership": membership})
}

// handleRevokeInvitation handles POST /invitations/:inviteId/revoke.
func (s *Server) handleRevokeInvitation(c *gin.Context) {
	id, err := identity(c)
	if err != nil {
		s.fail(c, err)

		return
	}

	already, err := s.invites.Revoke(c.Request.Context(), id.UserID, c.Param("inviteId"))
	if err != nil {
		s.fail(c, err)

		return
	}

	if already {
		c.JSON(http.StatusOK, gin.H{"ok": true, "already": true})

		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}
