package ingestion

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/apex/log"

	"contribapp/media"
	"contribapp/metrics"
	"contribapp/models"
)

const DefaultWorkers = 5

type MediaProcessor interface {
	Process(ctx context.Context, upload models.Upload, userID, postID int64) (*media.ProcessedFile, error)
}

type Captioner interface {
	Caption(ctx context.Context, image []byte) (string, error)
}

// FileOutcome is what happened to one upload. Descriptor is nil when processing failed.
type FileOutcome struct {
	Index        int
	OriginalName string
	Descriptor   *models.FileDescriptor
	Err          error
	CaptionErr   error
}

// Result of one ingestion: the consolidated log plus per-file outcomes in upload order.
type Result struct {
	ActivityLog *models.ConsolidatedActivityLog
	Files       []FileOutcome
}

// FailedFiles returns the original names of the uploads that could not be processed.
func (r *Result) FailedFiles() []string {
	var failed []string
	for _, f := range r.Files {
		if f.Err != nil {
			failed = append(failed, f.OriginalName)
		}
	}
	return failed
}

// Orchestrator processes and captions every file of a submission concurrently.
type Orchestrator struct {
	processor MediaProcessor
	captioner Captioner
	workers   int
}

// NewOrchestrator returns an orchestrator running at most workers files at once.
// A nil captioner disables captioning.
func NewOrchestrator(processor MediaProcessor, captioner Captioner, workers int) *Orchestrator {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Orchestrator{
		processor: processor,
		captioner: captioner,
		workers:   workers,
	}
}

// Ingest waits for every file to settle before merging the successful ones into the
// activity log. It never fails as a whole: per-file errors are reported in Result.Files.
// activityLog may be nil when the submission carried none.
func (o *Orchestrator) Ingest(ctx context.Context, files []models.Upload, userID, postID int64, activityLog *models.ActivityLog) *Result {
	outcomes := make([]FileOutcome, len(files))
	sem := make(chan struct{}, o.workers)

	var wg sync.WaitGroup
	for i, upload := range files {
		wg.Add(1)
		go func(i int, upload models.Upload) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				outcomes[i] = FileOutcome{Index: i, OriginalName: upload.OriginalName, Err: ctx.Err()}
				return
			}
			outcomes[i] = o.ingestFile(ctx, i, upload, userID, postID)
		}(i, upload)
	}
	wg.Wait()

	exifData := make([]models.ExifEntry, 0, len(files))
	captions := make([]string, 0, len(files))
	for _, outcome := range outcomes {
		logger := log.WithFields(log.Fields{"post_id": postID, "file": outcome.OriginalName, "index": outcome.Index})
		if outcome.Err != nil {
			metrics.MediaFilesProcessedTotal.WithLabelValues("failed").Inc()
			logger.WithError(outcome.Err).Warn("Skipping file that failed processing")
			continue
		}
		metrics.MediaFilesProcessedTotal.WithLabelValues("ok").Inc()
		exifData = append(exifData, models.NewExifEntry(*outcome.Descriptor))
		if outcome.CaptionErr != nil {
			logger.WithError(outcome.CaptionErr).Warn("No caption for file")
		}
		if outcome.Descriptor.Caption != nil {
			captions = append(captions, *outcome.Descriptor.Caption)
		}
	}

	return &Result{
		ActivityLog: models.NewConsolidatedActivityLog(activityLog, exifData, captions),
		Files:       outcomes,
	}
}

func (o *Orchestrator) ingestFile(ctx context.Context, i int, upload models.Upload, userID, postID int64) FileOutcome {
	outcome := FileOutcome{Index: i, OriginalName: upload.OriginalName}

	var processed *media.ProcessedFile
	outcome.Err = recovered(func() error {
		var err error
		processed, err = o.processor.Process(ctx, upload, userID, postID)
		return err
	})
	if outcome.Err != nil {
		return outcome
	}
	if processed == nil {
		outcome.Err = fmt.Errorf("no result for %s", upload.OriginalName)
		return outcome
	}
	descriptor := processed.Descriptor
	outcome.Descriptor = &descriptor

	if o.captioner == nil || !upload.IsImage() {
		return outcome
	}
	outcome.CaptionErr = recovered(func() error {
		caption, err := o.captioner.Caption(ctx, processed.Normalized)
		if err != nil {
			return err
		}
		descriptor.Caption = &caption
		return nil
	})
	return outcome
}

// recovered runs fn and turns a panic into an error.
func recovered(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Recovered from panic: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
