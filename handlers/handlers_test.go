package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contribapp/middleware"
	"contribapp/models"
)

type fakeService struct {
	submitted *models.SubmissionRequest
	submitErr error
	retryErr  error
	deleteErr error
	post      *models.Post
	report    *models.VerificationReport
}

func (f *fakeService) Submit(ctx context.Context, req *models.SubmissionRequest) (*models.SubmissionResult, error) {
	f.submitted = req
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &models.SubmissionResult{
		Post:        &models.Post{ID: 7, UserID: req.UserID, Title: req.Title},
		ActivityLog: models.NewConsolidatedActivityLog(nil, nil, nil),
		Ledger:      json.RawMessage(`{"ok":true}`),
	}, nil
}

func (f *fakeService) RetryLedger(ctx context.Context, userID, postID int64, bearerToken string) (*models.SubmissionResult, error) {
	if f.retryErr != nil {
		return nil, f.retryErr
	}
	return &models.SubmissionResult{Post: &models.Post{ID: postID, UserID: userID}}, nil
}

func (f *fakeService) GetPost(ctx context.Context, postID int64) (*models.Post, error) {
	if f.post == nil {
		return nil, models.ErrPostNotFound
	}
	return f.post, nil
}

func (f *fakeService) Verification(ctx context.Context, postID int64) (*models.VerificationReport, error) {
	if f.post == nil {
		return nil, models.ErrPostNotFound
	}
	return f.report, nil
}

func (f *fakeService) DeletePost(ctx context.Context, userID, postID int64) error {
	return f.deleteErr
}

func newTestRouter(svc ContributionService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandlers(svc, UploadLimits{MaxFiles: 2, MaxFileBytes: 64})
	router := gin.New()
	authed := router.Group("/api/posts", func(c *gin.Context) {
		c.Set(middleware.UserIDKey, int64(42))
		c.Set(middleware.TokenKey, "tok")
		c.Next()
	})
	authed.POST("/create", h.CreatePost)
	authed.GET("/:id", h.GetPost)
	authed.GET("/:id/verification", h.GetVerification)
	authed.POST("/:id/ledger/retry", h.RetryLedger)
	authed.DELETE("/delete/:id", h.DeletePost)
	router.GET("/health", h.Health)
	return router
}

type upload struct {
	name     string
	mimeType string
	body     []byte
}

func createRequest(t *testing.T, fields map[string]string, files []upload) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for _, f := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="media"; filename="%s"`, f.name))
		header.Set("Content-Type", f.mimeType)
		part, err := w.CreatePart(header)
		require.NoError(t, err)
		_, err = part.Write(f.body)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/posts/create", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func validFields() map[string]string {
	return map[string]string{
		"title":         "Beach cleanup",
		"category":      "Environmental",
		"description":   "Collected plastic along the shore",
		"location":      "40.0,-73.0",
		"walletAddress": "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
		"activityLog":   `{"faceRecognitionData":[],"locationData":[]}`,
	}
}

func TestCreatePost(t *testing.T) {
	svc := &fakeService{}
	router := newTestRouter(svc)

	req := createRequest(t, validFields(), []upload{
		{"a.jpg", "image/jpeg", []byte("jpeg")},
		{"b.mp4", "video/mp4", []byte("mp4")},
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotNil(t, svc.submitted)
	assert.Equal(t, int64(42), svc.submitted.UserID)
	assert.Equal(t, "tok", svc.submitted.BearerToken)
	assert.Equal(t, "40.0,-73.0", svc.submitted.Location)
	require.Len(t, svc.submitted.Files, 2)
	assert.Equal(t, "a.jpg", svc.submitted.Files[0].OriginalName)
	assert.Equal(t, "image/jpeg", svc.submitted.Files[0].MimeType)
	assert.Equal(t, []byte("mp4"), svc.submitted.Files[1].Buffer)

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "post")
	assert.Contains(t, body, "activityLog")
	assert.JSONEq(t, `{"ok":true}`, string(body["ledger"]))
}

func TestCreatePostRejectsBadInput(t *testing.T) {
	testCases := []struct {
		name   string
		modify func(map[string]string)
		files  []upload
	}{
		{"short title", func(f map[string]string) { f["title"] = "Hi" }, nil},
		{"unknown category", func(f map[string]string) { f["category"] = "Sports" }, nil},
		{"short description", func(f map[string]string) { f["description"] = "short" }, nil},
		{"missing location", func(f map[string]string) { delete(f, "location") }, nil},
		{"missing wallet", func(f map[string]string) { delete(f, "walletAddress") }, nil},
		{"unsupported file type", nil, []upload{{"a.pdf", "application/pdf", []byte("pdf")}}},
		{"file too large", nil, []upload{{"a.jpg", "image/jpeg", bytes.Repeat([]byte("x"), 65)}}},
		{"too many files", nil, []upload{
			{"a.jpg", "image/jpeg", []byte("a")},
			{"b.jpg", "image/jpeg", []byte("b")},
			{"c.jpg", "image/jpeg", []byte("c")},
		}},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			svc := &fakeService{}
			router := newTestRouter(svc)
			fields := validFields()
			if testCase.modify != nil {
				testCase.modify(fields)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, createRequest(t, fields, testCase.files))

			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Nil(t, svc.submitted, "service must not be called")
		})
	}
}

func TestCreatePostErrorMapping(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"malformed location", models.NewMalformedInput("location", errors.New("bad")), http.StatusBadRequest},
		{"malformed activity log", models.NewMalformedInput("activityLog", models.ErrMalformedActivityLog), http.StatusBadRequest},
		{"ledger failure", &models.LedgerError{PostID: 9, Err: models.ErrLedgerUnavailable}, http.StatusBadGateway},
		{"unexpected", errors.New("db down"), http.StatusInternalServerError},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			router := newTestRouter(&fakeService{submitErr: testCase.err})
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, createRequest(t, validFields(), nil))
			assert.Equal(t, testCase.wantCode, rec.Code, rec.Body.String())
		})
	}

	router := newTestRouter(&fakeService{submitErr: &models.LedgerError{PostID: 9, Err: models.ErrLedgerUnavailable}})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, createRequest(t, validFields(), nil))
	var body struct {
		PostID int64 `json:"post_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(9), body.PostID)
}

func TestGetPost(t *testing.T) {
	router := newTestRouter(&fakeService{post: &models.Post{ID: 3, Title: "Beach cleanup"}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/posts/3", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Beach cleanup")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/posts/abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	router = newTestRouter(&fakeService{})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/posts/3", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetVerification(t *testing.T) {
	report := &models.VerificationReport{
		UserProvidedLocation: models.Coordinates{Latitude: 40, Longitude: -73},
		DistanceThresholdKm:  0.1,
		LocationVerifications: []models.LocationVerification{{
			UserProvided:  models.Coordinates{Latitude: 40, Longitude: -73},
			ActivityPoint: models.Coordinates{Latitude: 40, Longitude: -73},
			IsLegitimate:  true,
		}},
	}
	router := newTestRouter(&fakeService{post: &models.Post{ID: 3}, report: report})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/posts/3/verification", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))

	var fc struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fc))
	assert.Equal(t, "FeatureCollection", fc.Type)
	assert.Len(t, fc.Features, 2)

	router = newTestRouter(&fakeService{post: &models.Post{ID: 3}})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/posts/3/verification", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeletePostAndRetryLedger(t *testing.T) {
	testCases := []struct {
		name     string
		svc      *fakeService
		method   string
		path     string
		wantCode int
	}{
		{"delete ok", &fakeService{}, http.MethodDelete, "/api/posts/delete/3", http.StatusOK},
		{"delete forbidden", &fakeService{deleteErr: models.ErrForbidden}, http.MethodDelete, "/api/posts/delete/3", http.StatusForbidden},
		{"delete missing", &fakeService{deleteErr: models.ErrPostNotFound}, http.MethodDelete, "/api/posts/delete/3", http.StatusNotFound},
		{"retry ok", &fakeService{}, http.MethodPost, "/api/posts/3/ledger/retry", http.StatusOK},
		{"retry already submitted", &fakeService{retryErr: models.ErrLedgerAlreadySubmitted}, http.MethodPost, "/api/posts/3/ledger/retry", http.StatusConflict},
		{"retry in progress", &fakeService{retryErr: models.ErrLedgerInProgress}, http.MethodPost, "/api/posts/3/ledger/retry", http.StatusConflict},
		{"retry ledger down", &fakeService{retryErr: &models.LedgerError{PostID: 3, Err: models.ErrLedgerUnavailable}}, http.MethodPost, "/api/posts/3/ledger/retry", http.StatusBadGateway},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			router := newTestRouter(testCase.svc)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(testCase.method, testCase.path, nil))
			assert.Equal(t, testCase.wantCode, rec.Code, rec.Body.String())
		})
	}
}

func TestHealth(t *testing.T) {
	router := newTestRouter(&fakeService{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var health models.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
}
