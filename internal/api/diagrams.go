package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/serroba/online-diagrams/internal/apperr"
	"github.com/serroba/online-diagrams/internal/storage"
)

// ChangesResponse is the body of GET /collab/diagrams/:id/changes.
type ChangesResponse struct {
	DocumentID string           `json:"documentId"`
	SinceSeq   int64            `json:"sinceSeq"`
	Changes    []storage.Change `json:"changes"`
}

// handleChangesSince handles GET /collab/diagrams/:id/changes?sinceSeq=N.
func (s *Server) handleChangesSince(c *gin.Context) {
	id, err := identity(c)
	if err != nil {
		s.fail(c, err)

		return
	}

	docID := c.Param("id")

	var since int64

	if raw := c.Query("sinceSeq"); raw != "" {
		since, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.fail(c, fmt.Errorf("%w: sinceSeq must be an integer", apperr.ErrValidation))

			return
		}
	}

	changes, err := s.engine.ChangesSince(c.Request.Context(), id.UserID, docID, since)
	if err != nil {
		s.fail(c, err)

		return
	}

	if changes == nil {
		changes = []storage.Change{}
	}

	c.JSON(http.StatusOK, ChangesResponse{DocumentID: docID, SinceSeq: since, Changes: changes})
}

// handleLatestSnapshot handles GET /collab/diagrams/:id/snapshot.
func (s *Server) handleLatestSnapshot(c *gin.Context) {
	id, err := identity(c)
	if err != nil {
		s.fail(c, err)

		return
	}

	snapshot, err := s.engine.LatestSnapshot(c.Request.Context(), id.UserID, c.Param("id"))
	if err != nil {
		s.fail(c, err)

		return
	}

	c.JSON(http.StatusOK, snapshot)
}
