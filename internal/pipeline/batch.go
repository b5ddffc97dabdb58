package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rumor-ml/commons.systems/tally/internal/logger"
	"github.com/rumor-ml/commons.systems/tally/internal/scanner"
	"github.com/rumor-ml/commons.systems/tally/internal/streaming"
)

// Broadcaster receives progress events for an import session.
// *streaming.StreamHub satisfies it.
type Broadcaster interface {
	Broadcast(sessionID string, event streaming.SSEEvent)
}

type discard struct{}

func (discard) Broadcast(string, streaming.SSEEvent) {}

// File status values reported in file and progress events.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// BatchSummary totals an ImportFiles run.
type BatchSummary struct {
	SessionID   string        `json:"sessionId"`
	Files       []*FileImport `json:"files"`
	Imported    int           `json:"imported"`
	Skipped     int           `json:"skipped"`
	Failed      int           `json:"failed"`
	Categorized int           `json:"categorized"`
	FileErrors  int           `json:"fileErrors"`
	CompletedAt time.Time     `json:"completedAt"`
}

// RequestsFromScan turns scanner results into import requests. Files are
// imported into the account named by their directory unless accountID is
// set.
func RequestsFromScan(results []scanner.ScanResult, accountID string, dryRun bool) []ImportRequest {
	reqs := make([]ImportRequest, 0, len(results))
	for _, r := range results {
		req := ImportRequest{Path: r.Path, AccountID: accountID, DryRun: dryRun}
		if r.Metadata != nil {
			req.AccountName = r.Metadata.Account()
			req.Format = r.Metadata.Format()
		}
		reqs = append(reqs, req)
	}
	return reqs
}

// ImportFiles imports each request in order, broadcasting file and
// progress events under sessionID. A failing file is reported and skipped;
// only cancellation stops the batch. The summary always lists every file
// attempted.
func (s *Service) ImportFiles(ctx context.Context, sessionID string, reqs []ImportRequest) (*BatchSummary, error) {
	log := logger.FromContext(ctx).With().Str("session", sessionID).Logger()
	summary := &BatchSummary{SessionID: sessionID, Files: make([]*FileImport, 0, len(reqs))}
	total := len(reqs)

	for i, req := range reqs {
		if err := ctx.Err(); err != nil {
			s.hub.Broadcast(sessionID, streaming.NewErrorEvent(streaming.ErrorEvent{Message: err.Error()}))
			return summary, err
		}

		fileName := filepath.Base(req.Path)
		fileID := fmt.Sprintf("%s-%d", sessionID, i)
		s.hub.Broadcast(sessionID, streaming.NewFileEvent(streaming.FileEvent{
			ID:        fileID,
			SessionID: sessionID,
			FileName:  fileName,
			Status:    StatusProcessing,
		}))

		fi, err := s.ImportFile(ctx, req)
		if fi == nil {
			fi = &FileImport{Path: req.Path}
		}
		summary.Files = append(summary.Files, fi)

		status := StatusCompleted
		event := streaming.FileEvent{ID: fileID, SessionID: sessionID, FileName: fileName, Source: fi.Source}
		if err != nil {
			log.Error().Err(err).Str("file", fileName).Msg("failed to import file")
			fi.Error = err.Error()
			summary.FileErrors++
			status = StatusError
			event.Error = err.Error()
		} else if fi.Result != nil {
			summary.Imported += fi.Result.Imported
			summary.Skipped += fi.Result.Skipped
			summary.Failed += fi.Result.Failed
			summary.Categorized += fi.Result.Categorized
			event.Imported, event.Skipped, event.Failed = fi.Result.Imported, fi.Result.Skipped, fi.Result.Failed
		} else if fi.Plan != nil {
			event.Imported, event.Skipped, event.Failed = fi.Plan.WouldImport, fi.Plan.WouldSkip, fi.Plan.Invalid
		}
		event.Status = status

		s.hub.Broadcast(sessionID, streaming.NewProgressEvent(streaming.ProgressEvent{
			FileID:     fileID,
			FileName:   fileName,
			Processed:  i + 1,
			Total:      total,
			Percentage: float64(i+1) / float64(total) * 100,
			Status:     status,
		}))
		s.hub.Broadcast(sessionID, streaming.NewFileEvent(event))
	}

	summary.CompletedAt = s.now().UTC()
	s.hub.Broadcast(sessionID, streaming.NewCompleteEvent(summary))
	log.Info().
		Int("files", total).
		Int("imported", summary.Imported).
		Int("skipped", summary.Skipped).
		Int("fileErrors", summary.FileErrors).
		Msg("import session finished")
	return summary, nil
}
