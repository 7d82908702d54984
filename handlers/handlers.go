package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"

	"contribapp/middleware"
	"contribapp/models"
	"contribapp/verification"
)

const (
	mediaField = "media"

	// multipartOverhead covers the form fields sent next to the files.
	multipartOverhead = 1 << 20
)

// ContributionService is what the handlers need from the service layer.
type ContributionService interface {
	Submit(ctx context.Context, req *models.SubmissionRequest) (*models.SubmissionResult, error)
	RetryLedger(ctx context.Context, userID, postID int64, bearerToken string) (*models.SubmissionResult, error)
	GetPost(ctx context.Context, postID int64) (*models.Post, error)
	Verification(ctx context.Context, postID int64) (*models.VerificationReport, error)
	DeletePost(ctx context.Context, userID, postID int64) error
}

// UploadLimits bounds the multipart upload of a new post.
type UploadLimits struct {
	MaxFiles     int
	MaxFileBytes int64
}

// Handlers contains all HTTP handlers
type Handlers struct {
	svc    ContributionService
	limits UploadLimits
}

// NewHandlers creates a new handlers instance
func NewHandlers(svc ContributionService, limits UploadLimits) *Handlers {
	if limits.MaxFiles <= 0 {
		limits.MaxFiles = 5
	}
	if limits.MaxFileBytes <= 0 {
		limits.MaxFileBytes = 10 << 20
	}
	return &Handlers{
		svc:    svc,
		limits: limits,
	}
}

// CreatePostForm is the non-file part of the create form.
type CreatePostForm struct {
	Title         string `form:"title" binding:"required,min=5,max=100"`
	Category      string `form:"category" binding:"required,oneof='Social Welfare' 'Animal Welfare' Environmental Innovation Other"`
	Description   string `form:"description" binding:"required,min=10,max=2000"`
	Location      string `form:"location" binding:"required"`
	WalletAddress string `form:"walletAddress" binding:"required"`
	ActivityLog   string `form:"activityLog"`
}

// CreatePost handles POST /api/posts/create
func (h *Handlers) CreatePost(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	maxBody := int64(h.limits.MaxFiles)*h.limits.MaxFileBytes + multipartOverhead
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBody)

	var form CreatePostForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid form", "details": err.Error()})
		return
	}

	files, err := h.readUploads(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req := &models.SubmissionRequest{
		UserID:        userID,
		BearerToken:   middleware.Token(c),
		Title:         strings.TrimSpace(form.Title),
		Category:      form.Category,
		Description:   strings.TrimSpace(form.Description),
		Location:      form.Location,
		WalletAddress: strings.TrimSpace(form.WalletAddress),
		ActivityLog:   form.ActivityLog,
		Files:         files,
	}

	result, err := h.svc.Submit(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, "create post", err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// GetPost handles GET /api/posts/:id
func (h *Handlers) GetPost(c *gin.Context) {
	postID, ok := postIDParam(c)
	if !ok {
		return
	}
	post, err := h.svc.GetPost(c.Request.Context(), postID)
	if err != nil {
		h.writeError(c, "get post", err)
		return
	}
	c.JSON(http.StatusOK, post)
}

// GetVerification handles GET /api/posts/:id/verification and renders the report as GeoJSON.
func (h *Handlers) GetVerification(c *gin.Context) {
	postID, ok := postIDParam(c)
	if !ok {
		return
	}
	report, err := h.svc.Verification(c.Request.Context(), postID)
	if err != nil {
		h.writeError(c, "get verification", err)
		return
	}
	if report == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "post has no verified activity log"})
		return
	}
	raw, err := verification.FeatureCollection(report).MarshalJSON()
	if err != nil {
		log.Errorf("Failed to render verification of post %d: %v", postID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.Data(http.StatusOK, "application/geo+json", raw)
}

// DeletePost handles DELETE /api/posts/delete/:id
func (h *Handlers) DeletePost(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	postID, ok := postIDParam(c)
	if !ok {
		return
	}
	if err := h.svc.DeletePost(c.Request.Context(), userID, postID); err != nil {
		h.writeError(c, "delete post", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "post deleted"})
}

// RetryLedger handles POST /api/posts/:id/ledger/retry
func (h *Handlers) RetryLedger(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	postID, ok := postIDParam(c)
	if !ok {
		return
	}
	result, err := h.svc.RetryLedger(c.Request.Context(), userID, postID, middleware.Token(c))
	if err != nil {
		h.writeError(c, "retry ledger", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Health handles GET /health
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, models.HealthResponse{
		Status:    "healthy",
		Service:   "contribution-service",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handlers) readUploads(c *gin.Context) ([]models.Upload, error) {
	form, err := c.MultipartForm()
	if err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read upload: %v", err)
	}
	headers := form.File[mediaField]
	if len(headers) > h.limits.MaxFiles {
		return nil, fmt.Errorf("too many files: at most %d allowed", h.limits.MaxFiles)
	}

	uploads := make([]models.Upload, 0, len(headers))
	for _, fh := range headers {
		upload, err := h.readUpload(fh)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, upload)
	}
	return uploads, nil
}

func (h *Handlers) readUpload(fh *multipart.FileHeader) (models.Upload, error) {
	if fh.Size > h.limits.MaxFileBytes {
		return models.Upload{}, fmt.Errorf("file %s exceeds %d bytes", fh.Filename, h.limits.MaxFileBytes)
	}
	mimeType := fh.Header.Get("Content-Type")
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = mimeType[:i]
	}
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if !strings.HasPrefix(mimeType, "image/") && mimeType != models.MimeTypeMP4 {
		return models.Upload{}, fmt.Errorf("file %s: only images and MP4 videos are allowed", fh.Filename)
	}

	f, err := fh.Open()
	if err != nil {
		return models.Upload{}, fmt.Errorf("failed to open %s: %v", fh.Filename, err)
	}
	defer f.Close()
	buf, err := io.ReadAll(io.LimitReader(f, h.limits.MaxFileBytes+1))
	if err != nil {
		return models.Upload{}, fmt.Errorf("failed to read %s: %v", fh.Filename, err)
	}
	if int64(len(buf)) > h.limits.MaxFileBytes {
		return models.Upload{}, fmt.Errorf("file %s exceeds %d bytes", fh.Filename, h.limits.MaxFileBytes)
	}
	return models.Upload{Buffer: buf, OriginalName: fh.Filename, MimeType: mimeType}, nil
}

func (h *Handlers) writeError(c *gin.Context, op string, err error) {
	var malformed *models.MalformedInputError
	var ledgerErr *models.LedgerError
	switch {
	case errors.As(err, &malformed):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "field": malformed.Field})
	case errors.Is(err, models.ErrMalformedInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &ledgerErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "post stored but not submitted to the ledger", "post_id": ledgerErr.PostID})
	case errors.Is(err, models.ErrPostNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
	case errors.Is(err, models.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized"})
	case errors.Is(err, models.ErrLedgerAlreadySubmitted), errors.Is(err, models.ErrLedgerInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrLedgerUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": "ledger submission failed"})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "request timed out"})
	default:
		log.Errorf("Failed to %s: %v", op, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func postIDParam(c *gin.Context) (int64, bool) {
	postID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || postID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid post id"})
		return 0, false
	}
	return postID, true
}
