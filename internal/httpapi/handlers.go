package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/calvinalkan/rocky/internal/store"
)

type handlers struct {
	svc Service
	log *slog.Logger
}

type logRequest struct {
	Line *string `json:"line"`
}

type backupEntry struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	ModTime time.Time `json:"mod_time"`
}

func (h *handlers) load(c *gin.Context) {
	doc, err := h.svc.Load()
	if err != nil {
		h.fail(c, http.StatusInternalServerError, err)

		return
	}

	c.JSON(http.StatusOK, doc)
}

func (h *handlers) save(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(c, http.StatusRequestEntityTooLarge, err)

			return
		}

		h.fail(c, http.StatusBadRequest, err)

		return
	}

	doc, err := store.ParseDocument(body)
	if err != nil {
		h.fail(c, http.StatusBadRequest, err)

		return
	}

	err = h.svc.Save(doc)
	if err != nil {
		h.fail(c, http.StatusInternalServerError, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *handlers) appendLog(c *gin.Context) {
	var req logRequest

	dec := json.NewDecoder(http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes))

	err := dec.Decode(&req)
	if err != nil {
		h.fail(c, http.StatusBadRequest, err)

		return
	}

	if req.Line == nil {
		h.fail(c, http.StatusBadRequest, errors.New(`missing "line"`))

		return
	}

	err = h.svc.AppendLog(*req.Line)
	if err != nil {
		h.fail(c, http.StatusInternalServerError, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *handlers) backups(c *gin.Context) {
	list := h.svc.Backups()

	out := make([]backupEntry, 0, len(list))
	for _, b := range list {
		out = append(out, backupEntry{Name: b.Name, Path: b.Path, ModTime: b.ModTime})
	}

	c.JSON(http.StatusOK, out)
}

func (h *handlers) fail(c *gin.Context, status int, err error) {
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "path", c.Request.URL.Path, "error", err)
	}

	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
