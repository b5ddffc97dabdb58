// Package firestore mirrors the local ledger into Cloud Firestore and keeps
// import session records for the HTTP API.
package firestore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

// Collection names.
const (
	AccountsCollection     = "tally-accounts"
	TransactionsCollection = "tally-transactions"
	SessionsCollection     = "tally-import-sessions"
)

// Client wraps the Firestore and Firebase Auth clients of one project.
type Client struct {
	Firestore *firestore.Client
	Auth      *auth.Client
	projectID string
}

// NewClient connects to projectID. Application Default Credentials are used
// unless credentialsFile names a service account key.
func NewClient(ctx context.Context, projectID, credentialsFile string) (*Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("firestore project id is required")
	}
	conf := &firebase.Config{ProjectID: projectID}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	fs, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	authClient, err := app.Auth(ctx)
	if err != nil {
		fs.Close()
		return nil, fmt.Errorf("failed to create Auth client: %w", err)
	}

	return &Client{Firestore: fs, Auth: authClient, projectID: projectID}, nil
}

// ProjectID returns the project the client is bound to.
func (c *Client) ProjectID() string {
	return c.projectID
}

// Close closes the Firestore client.
func (c *Client) Close() error {
	return c.Firestore.Close()
}

// docID namespaces a ledger id by user so several users can share a project.
func docID(userID, id string) string {
	return fmt.Sprintf("%s-%s", userID, id)
}
