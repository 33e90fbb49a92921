package server

import (
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/todomyday/recall/internal/retrieval/ingest"
	"github.com/todomyday/recall/internal/retrieval/rerr"
)

// UploadsHandler accepts note files for asynchronous ingestion and reports
// job progress.
type UploadsHandler struct {
	Manager *ingest.Manager
	Parser  ingest.Parser
	Logger  *log.Logger
}

func (h *UploadsHandler) Register(g *echo.Group) {
	g.POST("/uploads", h.upload)
	g.GET("/uploads/:job_id", h.status)
}

type uploadResponse struct {
	JobID    string        `json:"job_id"`
	Status   ingest.Status `json:"status"`
	Filename string        `json:"filename"`
	FileType string        `json:"file_type"`
}

func (h *UploadsHandler) upload(c echo.Context) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return rerr.Validation("missing multipart field \"file\"")
	}
	if err := h.Parser.Validate(fh.Filename, fh.Size); err != nil {
		return err
	}
	src, err := fh.Open()
	if err != nil {
		return rerr.Wrap(rerr.KindValidation, err, "reading upload")
	}
	defer src.Close()
	content, err := io.ReadAll(src)
	if err != nil {
		return rerr.Wrap(rerr.KindValidation, err, "reading upload")
	}

	sections, err := h.Parser.Parse(fh.Filename, content)
	if err != nil {
		return err
	}

	fileType := strings.TrimPrefix(filepath.Ext(fh.Filename), ".")
	job := h.Manager.CreateJob(owner, fh.Filename, fileType, len(sections))
	if _, err := h.Manager.StartProcessing(job.ID, sections); err != nil {
		return err
	}
	h.Logger.Printf("job %s accepted: %s (%d sections)", job.ID, fh.Filename, len(sections))

	return c.JSON(http.StatusAccepted, uploadResponse{
		JobID:    job.ID,
		Status:   job.Status,
		Filename: job.Filename,
		FileType: job.FileType,
	})
}

func (h *UploadsHandler) status(c echo.Context) error {
	job, err := h.Manager.GetStatus(c.Param("job_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, job)
}
