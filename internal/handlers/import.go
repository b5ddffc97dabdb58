package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/rumor-ml/commons.systems/tally/internal/firestore"
	"github.com/rumor-ml/commons.systems/tally/internal/logger"
	"github.com/rumor-ml/commons.systems/tally/internal/pipeline"
	"github.com/rumor-ml/commons.systems/tally/internal/streaming"
)

type importResponse struct {
	SessionID string `json:"sessionId"`
}

// StartImport handles POST /api/import. The upload is imported in the
// background; progress is streamed from /api/import/{id}/events.
//
// Form fields: file/files, accountId, accountName, format, mapping (JSON),
// dryRun.
func (a *API) StartImport(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	dir, files, err := a.receive(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	reqs, err := importRequests(r, files)
	if err != nil {
		os.RemoveAll(dir)
		writeError(w, r, err)
		return
	}

	session := &firestore.ImportSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    firestore.SessionProcessing,
		FileCount: len(files),
		CreatedAt: a.now().UTC(),
	}
	if err := a.sessions.CreateImportSession(r.Context(), session); err != nil {
		os.RemoveAll(dir)
		writeError(w, r, err)
		return
	}

	log := logger.FromContext(r.Context()).With().Str("session", session.ID).Logger()
	ctx, cancel := context.WithCancel(logger.WithContext(context.WithoutCancel(r.Context()), log))
	a.track(session.ID, cancel)
	a.wg.Add(1)
	go a.runImport(ctx, session, dir, reqs)

	log.Info().Int("files", len(files)).Msg("import session started")
	writeJSON(w, r, http.StatusAccepted, importResponse{SessionID: session.ID})
}

func importRequests(r *http.Request, files []upload) ([]pipeline.ImportRequest, error) {
	format, err := optionalFormat(r.FormValue("format"))
	if err != nil {
		return nil, err
	}
	mapping, err := mappingField(r)
	if err != nil {
		return nil, err
	}
	dryRun, err := boolField(r, "dryRun")
	if err != nil {
		return nil, err
	}

	reqs := make([]pipeline.ImportRequest, 0, len(files))
	for _, f := range files {
		reqs = append(reqs, pipeline.ImportRequest{
			Path:        f.Path,
			Format:      format,
			AccountID:   r.FormValue("accountId"),
			AccountName: r.FormValue("accountName"),
			Mapping:     mapping,
			DryRun:      dryRun,
		})
	}
	return reqs, nil
}

func (a *API) runImport(ctx context.Context, session *firestore.ImportSession, dir string, reqs []pipeline.ImportRequest) {
	defer a.wg.Done()
	defer os.RemoveAll(dir)
	defer a.untrack(session.ID)

	log := logger.FromContext(ctx)
	summary, err := a.svc.ImportFiles(ctx, session.ID, reqs)

	completed := a.now().UTC()
	session.CompletedAt = &completed
	if summary != nil {
		session.Imported = summary.Imported
		session.Skipped = summary.Skipped
		session.Failed = summary.Failed
		session.FileErrors = summary.FileErrors
	}
	switch {
	case errors.Is(err, context.Canceled):
		session.Status = firestore.SessionCancelled
	case err != nil:
		session.Status = firestore.SessionError
		session.Error = err.Error()
	default:
		session.Status = firestore.SessionCompleted
	}

	if err := a.sessions.UpdateImportSession(context.WithoutCancel(ctx), session); err != nil {
		log.Error().Err(err).Msg("failed to record import session")
	}
}

func (a *API) track(id string, cancel context.CancelFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.running[id] = cancel
}

func (a *API) untrack(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if cancel, ok := a.running[id]; ok {
		cancel()
		delete(a.running, id)
	}
}

// ownSession loads the session and checks that the caller owns it.
func (a *API) ownSession(w http.ResponseWriter, r *http.Request) (*firestore.ImportSession, bool) {
	userID, ok := requireUser(w, r)
	if !ok {
		return nil, false
	}
	session, err := a.sessions.GetImportSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	if session.UserID != userID {
		writeJSON(w, r, http.StatusForbidden, errorBody{Error: "forbidden"})
		return nil, false
	}
	return session, true
}

// GetImport handles GET /api/import/{id}
func (a *API) GetImport(w http.ResponseWriter, r *http.Request) {
	session, ok := a.ownSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, r, http.StatusOK, session)
}

// CancelImport handles POST /api/import/{id}/cancel
func (a *API) CancelImport(w http.ResponseWriter, r *http.Request) {
	session, ok := a.ownSession(w, r)
	if !ok {
		return
	}

	a.mu.Lock()
	cancel, running := a.running[session.ID]
	a.mu.Unlock()
	if !running {
		writeJSON(w, r, http.StatusConflict, errorBody{Error: fmt.Sprintf("import session is %s", session.Status)})
		return
	}
	cancel()
	writeJSON(w, r, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func sessionEvent(s *firestore.ImportSession) streaming.SSEEvent {
	return streaming.NewSessionEvent(streaming.SessionEvent{
		ID:          s.ID,
		Status:      string(s.Status),
		Files:       s.FileCount,
		CompletedAt: s.CompletedAt,
		Error:       s.Error,
	})
}

func writeEvent(w http.ResponseWriter, event streaming.SSEEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return err
	}
	w.(http.Flusher).Flush()
	return nil
}

// ImportEvents handles GET /api/import/{id}/events as a Server-Sent Event
// stream. It ends after a complete or error event, or when the client
// disconnects.
func (a *API) ImportEvents(w http.ResponseWriter, r *http.Request) {
	session, ok := a.ownSession(w, r)
	if !ok {
		return
	}
	if _, ok := w.(http.Flusher); !ok {
		writeJSON(w, r, http.StatusInternalServerError, errorBody{Error: "streaming unsupported"})
		return
	}

	ctx := r.Context()
	client := a.hub.Register(ctx, session.ID)
	defer a.hub.Unregister(session.ID, client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Re-read after registering so a session that finished in between is
	// not missed.
	if current, err := a.sessions.GetImportSession(ctx, session.ID); err == nil {
		session = current
	}
	if err := writeEvent(w, sessionEvent(session)); err != nil {
		return
	}
	if session.Finished() {
		writeEvent(w, streaming.NewCompleteEvent(session))
		return
	}

	ticker := time.NewTicker(a.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writeEvent(w, streaming.NewHeartbeatEvent()); err != nil {
				return
			}
		case event, ok := <-client.Events:
			if !ok {
				return
			}
			if err := writeEvent(w, event); err != nil {
				return
			}
			if event.Type == streaming.EventTypeComplete || event.Type == streaming.EventTypeError {
				return
			}
		}
	}
}
