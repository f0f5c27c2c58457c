package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/autoshop-labs/invoice-pipeline/constants"
	"github.com/autoshop-labs/invoice-pipeline/internal/async"
	"github.com/autoshop-labs/invoice-pipeline/internal/common"
	"github.com/autoshop-labs/invoice-pipeline/internal/entity"
	"github.com/autoshop-labs/invoice-pipeline/internal/export"
	"github.com/autoshop-labs/invoice-pipeline/internal/phone"
	"github.com/autoshop-labs/invoice-pipeline/internal/posting"
	"github.com/autoshop-labs/invoice-pipeline/internal/repository"
)

// Server wires the HTTP surface: intake, record reads, posting, manual
// review, export, and temporary phone numbers.
type Server struct {
	cfg          common.ServerConfig
	repo         repository.InvoiceRepository
	queue        async.Queue
	orchestrator *posting.Orchestrator
	exporter     *export.Service
	phones       *phone.Service
	logger       *slog.Logger
}

func New(
	cfg common.ServerConfig,
	repo repository.InvoiceRepository,
	queue async.Queue,
	orchestrator *posting.Orchestrator,
	exporter *export.Service,
	phones *phone.Service,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:          cfg,
		repo:         repo,
		queue:        queue,
		orchestrator: orchestrator,
		exporter:     exporter,
		phones:       phones,
		logger:       logger,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	{
		api.POST("/invoices/upload", s.uploadInvoice)
		api.GET("/invoices", s.listInvoices)
		api.GET("/invoices/export", s.exportInvoices)
		api.GET("/invoices/:id", s.getInvoice)
		api.POST("/invoices/:id/post", s.postInvoice)
		api.POST("/invoices/:id/review", s.reviewInvoice)

		api.POST("/phone-numbers", s.acquirePhoneNumber)
		api.GET("/phone-numbers", s.listPhoneNumbers)
		api.DELETE("/phone-numbers/:number", s.releasePhoneNumber)
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}

// uploadInvoice accepts a multipart document, stores it under the upload
// dir with a fresh name, creates the record in processing state and
// enqueues it for extraction.
func (s *Server) uploadInvoice(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file field is required"})
		return
	}
	if header.Size > s.cfg.MaxUploadBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("file exceeds %d byte limit", s.cfg.MaxUploadBytes)})
		return
	}

	fileType := constants.MapExtToFileType(filepath.Ext(header.Filename))
	if fileType == "" {
		// Fall back to the declared content type for extension-less names.
		fileType = constants.AllowedMIMETypes[header.Header.Get("Content-Type")]
	}
	if fileType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported file type, expected pdf, jpg or png"})
		return
	}

	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		s.logger.Error("upload dir create failed", "dir", s.cfg.UploadDir, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage unavailable"})
		return
	}

	id := uuid.New()
	dest := filepath.Join(s.cfg.UploadDir, fmt.Sprintf("%s.%s", id, fileType))
	if err := c.SaveUploadedFile(header, dest); err != nil {
		s.logger.Error("upload save failed", "dest", dest, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store file"})
		return
	}

	inv, err := s.repo.Create(c.Request.Context(), &entity.Invoice{
		ID:       id,
		Filename: header.Filename,
		FileType: fileType,
		Source:   constants.SourceUpload,
		Status:   constants.StatusProcessing,
	})
	if err != nil {
		s.logger.Error("invoice create failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create record"})
		return
	}

	job := async.Job{InvoiceID: inv.ID, FilePath: dest, SubmittedAt: time.Now()}
	if err := s.queue.Enqueue(c.Request.Context(), job); err != nil {
		s.logger.Error("enqueue failed", "invoice_id", inv.ID, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "processing queue is full"})
		return
	}

	s.logger.Info("invoice accepted", "invoice_id", inv.ID, "filename", inv.Filename, "file_type", inv.FileType)
	c.JSON(http.StatusCreated, inv)
}

func (s *Server) listInvoices(c *gin.Context) {
	invoices, err := s.repo.List(c.Request.Context())
	if err != nil {
		s.logger.Error("invoice list failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list invoices"})
		return
	}
	c.JSON(http.StatusOK, invoices)
}

func (s *Server) getInvoice(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invoice id"})
		return
	}
	inv, err := s.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "invoice not found"})
			return
		}
		s.logger.Error("invoice get failed", "invoice_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load invoice"})
		return
	}
	c.JSON(http.StatusOK, inv)
}

// postInvoice runs the posting orchestrator and returns the record in its
// resulting state. Partial destination failures surface as 502 with the
// record already marked failed.
func (s *Server) postInvoice(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invoice id"})
		return
	}

	postErr := s.orchestrator.Post(c.Request.Context(), id)
	switch {
	case postErr == nil:
	case errors.Is(postErr, common.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "invoice not found"})
		return
	case errors.Is(postErr, common.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": "invoice is not in completed state"})
		return
	case !errors.Is(postErr, common.ErrPosting):
		s.logger.Error("posting failed", "invoice_id", id, "error", postErr)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "posting failed"})
		return
	}

	inv, err := s.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		s.logger.Error("post-reload failed", "invoice_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load invoice"})
		return
	}
	if postErr != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": postErr.Error(), "invoice": inv})
		return
	}
	c.JSON(http.StatusOK, inv)
}

type reviewRequest struct {
	Status constants.InvoiceStatus `json:"status" binding:"required"`
}

// reviewInvoice is the manual review surface. It moves a record along any
// legal status edge, covering both flagging (completed/failed ->
// pending_verification) and resolution (pending_verification ->
// completed/failed).
func (s *Server) reviewInvoice(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invoice id"})
		return
	}

	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status is required"})
		return
	}
	if !constants.IsValidStatus(req.Status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown status %q", req.Status)})
		return
	}

	inv, err := s.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "invoice not found"})
			return
		}
		s.logger.Error("invoice get failed", "invoice_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load invoice"})
		return
	}

	if !constants.CanTransition(inv.Status, req.Status) {
		c.JSON(http.StatusConflict, gin.H{
			"error": fmt.Sprintf("cannot move invoice from %s to %s", inv.Status, req.Status),
		})
		return
	}

	updated, err := s.repo.Update(c.Request.Context(), id, repository.InvoiceUpdate{Status: &req.Status})
	if err != nil {
		s.logger.Error("review update failed", "invoice_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update invoice"})
		return
	}

	s.logger.Info("invoice reviewed", "invoice_id", id, "from", inv.Status, "to", req.Status)
	c.JSON(http.StatusOK, updated)
}

func (s *Server) exportInvoices(c *gin.Context) {
	data, err := s.exporter.ExportInvoicesXLSX(c.Request.Context())
	if err != nil {
		s.logger.Error("export failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not export invoices"})
		return
	}

	filename := fmt.Sprintf("invoices-%s.xlsx", time.Now().Format("2006-01-02"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

func (s *Server) acquirePhoneNumber(c *gin.Context) {
	n, err := s.phones.Acquire()
	if err != nil {
		s.logger.Error("phone acquire failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not acquire number"})
		return
	}
	c.JSON(http.StatusCreated, n)
}

func (s *Server) listPhoneNumbers(c *gin.Context) {
	c.JSON(http.StatusOK, s.phones.ListActive())
}

func (s *Server) releasePhoneNumber(c *gin.Context) {
	err := s.phones.Release(c.Param("number"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"released": true})
	case errors.Is(err, common.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "number not leased"})
	case errors.Is(err, common.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid phone number"})
	default:
		s.logger.Error("phone release failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not release number"})
	}
}
