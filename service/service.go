package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/apex/log"
	ethcommon "github.com/ethereum/go-ethereum/common"

	"contribapp/ingestion"
	"contribapp/ledger"
	"contribapp/metrics"
	"contribapp/models"
	"contribapp/verification"
)

const DefaultSubmissionTimeout = 2 * time.Minute

type PostStore interface {
	CreatePost(ctx context.Context, p *models.Post) (int64, error)
	UpdatePostActivityLog(ctx context.Context, postID int64, activityLog string) error
	UpdateLedgerStatus(ctx context.Context, postID int64, status models.LedgerStatus, response string) error
	ClaimLedgerSubmission(ctx context.Context, postID int64) (bool, error)
	ClaimLedgerRetry(ctx context.Context, postID int64, staleAfter time.Duration) (bool, error)
	GetPost(ctx context.Context, id int64) (*models.Post, error)
	DeletePost(ctx context.Context, id int64) error
}

type Ingestor interface {
	Ingest(ctx context.Context, files []models.Upload, userID, postID int64, activityLog *models.ActivityLog) *ingestion.Result
}

type LedgerSubmitter interface {
	Submit(ctx context.Context, payload models.ContributionPayload, bearerToken string) (json.RawMessage, error)
}

type EventPublisher interface {
	Publish(routingKey string, message interface{}) error
}

type FileRemover interface {
	Remove(storedPath string) error
}

type Options struct {
	Reward                 float64
	SubmissionTimeout      time.Duration
	CreatedRoutingKey      string
	LedgerFailedRoutingKey string

	// PendingRetryAfter is how long a pending or submitting post must sit untouched
	// before RetryLedger may take it over. Defaults to twice SubmissionTimeout.
	PendingRetryAfter time.Duration
}

// Service drives a contribution through verification, media ingestion and the ledger.
type Service struct {
	posts    PostStore
	verifier *verification.Verifier
	ingestor Ingestor
	ledger   LedgerSubmitter
	files    FileRemover
	events   EventPublisher
	opts     Options
}

// New creates the service. events may be nil, in which case no events are published.
func New(posts PostStore, verifier *verification.Verifier, ingestor Ingestor, ledgerClient LedgerSubmitter, files FileRemover, events EventPublisher, opts Options) *Service {
	if opts.SubmissionTimeout <= 0 {
		opts.SubmissionTimeout = DefaultSubmissionTimeout
	}
	if opts.PendingRetryAfter <= 0 {
		opts.PendingRetryAfter = 2 * opts.SubmissionTimeout
	}
	if opts.CreatedRoutingKey == "" {
		opts.CreatedRoutingKey = "contribution.created"
	}
	if opts.LedgerFailedRoutingKey == "" {
		opts.LedgerFailedRoutingKey = "contribution.ledger_failed"
	}
	return &Service{
		posts:    posts,
		verifier: verifier,
		ingestor: ingestor,
		ledger:   ledgerClient,
		files:    files,
		events:   events,
		opts:     opts,
	}
}

// Submit handles a new contribution. Malformed input is rejected before anything is
// written. Once the post exists it is never rolled back: any later failure leaves it
// with ledger status failed and returns a *models.LedgerError carrying its id.
func (s *Service) Submit(ctx context.Context, req *models.SubmissionRequest) (result *models.SubmissionResult, err error) {
	startedAt := time.Now()
	defer func() {
		outcome := submissionOutcome(err)
		metrics.SubmissionsTotal.WithLabelValues(outcome).Inc()
		metrics.SubmissionDurationSeconds.WithLabelValues(outcome).Observe(time.Since(startedAt).Seconds())
	}()

	if !ethcommon.IsHexAddress(req.WalletAddress) {
		return nil, models.NewMalformedInput("walletAddress", fmt.Errorf("%q is not a hex address", req.WalletAddress))
	}
	location, err := verification.ParseClaimedLocation(req.Location)
	if err != nil {
		return nil, err
	}

	var activityLog *models.ActivityLog
	storedLog := ""
	if req.ActivityLog != "" {
		if activityLog, err = s.verifier.Verify(req.ActivityLog, location); err != nil {
			return nil, err
		}
		b, err := json.Marshal(activityLog)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize activity log: %w", err)
		}
		storedLog = string(b)
	}

	post := &models.Post{
		UserID:        req.UserID,
		Title:         req.Title,
		Category:      req.Category,
		Description:   req.Description,
		Location:      req.Location,
		WalletAddress: req.WalletAddress,
		ActivityLog:   storedLog,
		LedgerStatus:  models.LedgerPending,
	}
	if post.ID, err = s.posts.CreatePost(ctx, post); err != nil {
		return nil, err
	}
	logger := log.WithFields(log.Fields{"post_id": post.ID, "user_id": req.UserID, "files": len(req.Files)})
	logger.Info("Post created, ingesting media")

	ingestCtx, cancel := context.WithTimeout(ctx, s.opts.SubmissionTimeout)
	ingested := s.ingestor.Ingest(ingestCtx, req.Files, req.UserID, post.ID, activityLog)
	cancel()

	consolidated, err := json.Marshal(ingested.ActivityLog)
	if err != nil {
		return nil, s.ledgerFailed(ctx, post, fmt.Errorf("failed to serialize consolidated activity log: %w", err))
	}
	post.ActivityLog = string(consolidated)
	if err := s.posts.UpdatePostActivityLog(ctx, post.ID, post.ActivityLog); err != nil {
		return nil, s.ledgerFailed(ctx, post, fmt.Errorf("failed to store consolidated activity log: %w", err))
	}

	claimed, err := s.posts.ClaimLedgerSubmission(ctx, post.ID)
	if err != nil {
		return nil, &models.LedgerError{PostID: post.ID, Err: err}
	}
	if !claimed {
		return nil, &models.LedgerError{PostID: post.ID, Err: models.ErrLedgerInProgress}
	}
	ack, err := s.submitToLedger(ctx, post, ingested.ActivityLog, req.BearerToken)
	if err != nil {
		return nil, err
	}

	s.publish(s.opts.CreatedRoutingKey, createdEvent(post, ingested.ActivityLog))
	logger.WithField("failed_files", len(ingested.FailedFiles())).Info("Contribution submitted")
	return &models.SubmissionResult{
		Post:        s.reload(ctx, post),
		ActivityLog: ingested.ActivityLog,
		Ledger:      ack,
		FailedFiles: ingested.FailedFiles(),
	}, nil
}

// RetryLedger re-submits a post whose ledger submission failed, or that was left
// pending or submitting for longer than PendingRetryAfter. The post is claimed
// atomically first, so concurrent retries and the original submission never both
// reach the ledger. The payload is rebuilt from the stored record.
func (s *Service) RetryLedger(ctx context.Context, userID, postID int64, bearerToken string) (*models.SubmissionResult, error) {
	post, err := s.ownedPost(ctx, userID, postID)
	if err != nil {
		return nil, err
	}
	if post.LedgerStatus == models.LedgerSubmitted {
		return nil, models.ErrLedgerAlreadySubmitted
	}

	claimed, err := s.posts.ClaimLedgerRetry(ctx, postID, s.opts.PendingRetryAfter)
	if err != nil {
		return nil, err
	}
	if !claimed {
		if current, err := s.posts.GetPost(ctx, postID); err == nil && current.LedgerStatus == models.LedgerSubmitted {
			return nil, models.ErrLedgerAlreadySubmitted
		}
		return nil, models.ErrLedgerInProgress
	}
	if post, err = s.posts.GetPost(ctx, postID); err != nil {
		return nil, err
	}

	activityLog, err := storedActivityLog(post)
	if err != nil {
		return nil, s.ledgerFailed(ctx, post, err)
	}
	ack, err := s.submitToLedger(ctx, post, activityLog, bearerToken)
	if err != nil {
		return nil, err
	}
	s.publish(s.opts.CreatedRoutingKey, createdEvent(post, activityLog))
	return &models.SubmissionResult{Post: post, ActivityLog: activityLog, Ledger: ack}, nil
}

func (s *Service) GetPost(ctx context.Context, postID int64) (*models.Post, error) {
	return s.posts.GetPost(ctx, postID)
}

// Verification returns the verification report stored with a post, or nil when the
// post was submitted without an activity log.
func (s *Service) Verification(ctx context.Context, postID int64) (*models.VerificationReport, error) {
	post, err := s.posts.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	activityLog, err := storedActivityLog(post)
	if err != nil {
		return nil, err
	}
	if activityLog.ActivityLog == nil {
		return nil, nil
	}
	return activityLog.ActivityLog.VerificationData, nil
}

// DeletePost removes the post's files, then its rows. Only the owner may delete.
func (s *Service) DeletePost(ctx context.Context, userID, postID int64) error {
	post, err := s.ownedPost(ctx, userID, postID)
	if err != nil {
		return err
	}
	for _, m := range post.Media {
		if err := s.files.Remove(m.URL); err != nil {
			log.WithField("post_id", postID).WithError(err).Warnf("Failed to remove %s", m.URL)
		}
	}
	return s.posts.DeletePost(ctx, postID)
}

// submitToLedger sends the contribution of a post the caller has claimed.
func (s *Service) submitToLedger(ctx context.Context, post *models.Post, activityLog *models.ConsolidatedActivityLog, bearerToken string) (json.RawMessage, error) {
	payload, err := ledger.BuildPayload(post, activityLog, s.opts.Reward)
	if err != nil {
		return nil, s.ledgerFailed(ctx, post, err)
	}

	ack, err := s.ledger.Submit(ctx, payload, bearerToken)
	if err != nil {
		return nil, s.ledgerFailed(ctx, post, err)
	}

	if err := s.posts.UpdateLedgerStatus(ctx, post.ID, models.LedgerSubmitted, string(ack)); err != nil {
		log.WithField("post_id", post.ID).WithError(err).Error("Failed to mark ledger success")
	}
	post.LedgerStatus = models.LedgerSubmitted
	post.LedgerResponse = string(ack)
	return ack, nil
}

// ledgerFailed marks a persisted post as failed, asks for reconciliation and returns
// the *models.LedgerError reported to the caller.
func (s *Service) ledgerFailed(ctx context.Context, post *models.Post, cause error) error {
	if err := s.posts.UpdateLedgerStatus(ctx, post.ID, models.LedgerFailed, cause.Error()); err != nil {
		log.WithField("post_id", post.ID).WithError(err).Error("Failed to mark ledger failure")
	}
	post.LedgerStatus = models.LedgerFailed
	s.publish(s.opts.LedgerFailedRoutingKey, LedgerFailedEvent{
		PostID:        post.ID,
		UserID:        post.UserID,
		WalletAddress: post.WalletAddress,
		Error:         cause.Error(),
	})
	return &models.LedgerError{PostID: post.ID, Err: cause}
}

func (s *Service) ownedPost(ctx context.Context, userID, postID int64) (*models.Post, error) {
	post, err := s.posts.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post.UserID != userID {
		return nil, models.ErrForbidden
	}
	return post, nil
}

// reload fetches the stored post with its media, falling back to the local copy.
func (s *Service) reload(ctx context.Context, post *models.Post) *models.Post {
	stored, err := s.posts.GetPost(ctx, post.ID)
	if err != nil {
		log.WithField("post_id", post.ID).WithError(err).Warn("Failed to reload post")
		return post
	}
	return stored
}

func (s *Service) publish(routingKey string, event interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(routingKey, event); err != nil {
		log.WithError(err).Warnf("Failed to publish %s", routingKey)
	}
}

func storedActivityLog(post *models.Post) (*models.ConsolidatedActivityLog, error) {
	if post.ActivityLog == "" || post.ActivityLog == "null" {
		return models.NewConsolidatedActivityLog(nil, nil, nil), nil
	}
	var activityLog models.ConsolidatedActivityLog
	if err := json.Unmarshal([]byte(post.ActivityLog), &activityLog); err != nil {
		return nil, fmt.Errorf("stored activity log of post %d is corrupt: %w", post.ID, err)
	}
	return &activityLog, nil
}

func createdEvent(post *models.Post, activityLog *models.ConsolidatedActivityLog) ContributionCreatedEvent {
	event := ContributionCreatedEvent{
		PostID:        post.ID,
		UserID:        post.UserID,
		WalletAddress: post.WalletAddress,
		Files:         make([]string, 0, len(activityLog.ExifData)),
		Captions:      activityLog.Captions,
	}
	for _, entry := range activityLog.ExifData {
		event.Files = append(event.Files, entry.StoredPath)
	}
	if pct, ok := activityLog.LegitimacyPercentage(); ok {
		event.LegitimacyPercentage = &pct
	}
	return event
}

func submissionOutcome(err error) string {
	var ledgerErr *models.LedgerError
	switch {
	case err == nil:
		return "created"
	case errors.Is(err, models.ErrMalformedInput):
		return "malformed"
	case errors.As(err, &ledgerErr):
		return "ledger_failed"
	default:
		return "error"
	}
}
