package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rumor-ml/commons.systems/tally/internal/domain"
)

// SessionStatus is the lifecycle state of an import session.
type SessionStatus string

const (
	SessionPending    SessionStatus = "pending"
	SessionProcessing SessionStatus = "processing"
	SessionCompleted  SessionStatus = "completed"
	SessionError      SessionStatus = "error"
	SessionCancelled  SessionStatus = "cancelled"
)

var validStatuses = map[SessionStatus]bool{
	SessionPending:    true,
	SessionProcessing: true,
	SessionCompleted:  true,
	SessionError:      true,
	SessionCancelled:  true,
}

// listLimit caps ListImportSessions.
const listLimit = 50

// ImportSession records one HTTP import run.
type ImportSession struct {
	ID          string        `firestore:"id" json:"id"`
	UserID      string        `firestore:"userId" json:"userId"`
	Status      SessionStatus `firestore:"status" json:"status"`
	FileCount   int           `firestore:"fileCount" json:"fileCount"`
	Imported    int           `firestore:"imported" json:"imported"`
	Skipped     int           `firestore:"skipped" json:"skipped"`
	Failed      int           `firestore:"failed" json:"failed"`
	FileErrors  int           `firestore:"fileErrors" json:"fileErrors"`
	CompletedAt *time.Time    `firestore:"completedAt,omitempty" json:"completedAt,omitempty"`
	Error       string        `firestore:"error,omitempty" json:"error,omitempty"`
	CreatedAt   time.Time     `firestore:"createdAt" json:"createdAt"`
}

// Validate checks the session's invariants.
func (s *ImportSession) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: session ID is required", domain.ErrValidation)
	}
	if s.UserID == "" {
		return fmt.Errorf("%w: user ID is required", domain.ErrValidation)
	}
	if !validStatuses[s.Status] {
		return fmt.Errorf("%w: invalid status: %s", domain.ErrValidation, s.Status)
	}
	if s.FileCount < 0 {
		return fmt.Errorf("%w: file count cannot be negative", domain.ErrValidation)
	}
	return nil
}

// Finished reports whether the session reached a terminal state.
func (s *ImportSession) Finished() bool {
	return s.Status == SessionCompleted || s.Status == SessionError || s.Status == SessionCancelled
}

// CreateImportSession stores a new session.
func (c *Client) CreateImportSession(ctx context.Context, session *ImportSession) error {
	return c.putSession(ctx, session)
}

// UpdateImportSession overwrites an existing session.
func (c *Client) UpdateImportSession(ctx context.Context, session *ImportSession) error {
	return c.putSession(ctx, session)
}

func (c *Client) putSession(ctx context.Context, session *ImportSession) error {
	if err := session.Validate(); err != nil {
		return err
	}
	_, err := c.Firestore.Collection(SessionsCollection).Doc(session.ID).Set(ctx, session)
	if err != nil {
		return fmt.Errorf("%w: failed to write session %s: %v", domain.ErrStorageUnavailable, session.ID, err)
	}
	return nil
}

// GetImportSession loads a session by id.
func (c *Client) GetImportSession(ctx context.Context, sessionID string) (*ImportSession, error) {
	doc, err := c.Firestore.Collection(SessionsCollection).Doc(sessionID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("%w: import session %s", domain.ErrNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read session %s: %v", domain.ErrStorageUnavailable, sessionID, err)
	}

	var session ImportSession
	if err := doc.DataTo(&session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &session, nil
}

// ListImportSessions returns the user's most recent sessions, newest first.
func (c *Client) ListImportSessions(ctx context.Context, userID string) ([]*ImportSession, error) {
	iter := c.Firestore.Collection(SessionsCollection).
		Where("userId", "==", userID).
		OrderBy("createdAt", firestore.Desc).
		Limit(listLimit).
		Documents(ctx)
	defer iter.Stop()

	var sessions []*ImportSession
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate import sessions for user %s: %w", userID, err)
		}

		var sess ImportSession
		if err := doc.DataTo(&sess); err != nil {
			return nil, fmt.Errorf("failed to decode session: %w", err)
		}
		sessions = append(sessions, &sess)
	}
	return sessions, nil
}
