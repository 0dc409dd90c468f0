// Package firestore implements docstore.Store on Google Cloud Firestore.
//
// Document paths map directly to Firestore document references, so paths must
// have an even number of slash-separated segments (collection/doc/...).
// Atomic increments use firestore.Increment, merge writes use
// firestore.MergeAll, and server timestamps use the native sentinel, which is
// assigned at commit time.
package firestore

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/agentfolio/agentfolio/pkg/docstore"
)

// Config contains configuration for the Firestore store.
type Config struct {
	ProjectID       string
	CredentialsFile string
}

// Option configures a FirestoreStore.
type Option func(*Config)

// WithProjectID sets the GCP project ID.
func WithProjectID(projectID string) Option {
	return func(c *Config) {
		c.ProjectID = projectID
	}
}

// WithCredentialsFile sets the path to service account credentials.
// Otherwise Application Default Credentials are used.
func WithCredentialsFile(path string) Option {
	return func(c *Config) {
		c.CredentialsFile = path
	}
}

// FirestoreStore implements docstore.Store using a Firestore client.
type FirestoreStore struct {
	client    *firestore.Client
	projectID string
}

// New creates a new FirestoreStore.
func New(ctx context.Context, opts ...Option) (*FirestoreStore, error) {
	config := &Config{}
	for _, opt := range opts {
		opt(config)
	}

	if config.ProjectID == "" {
		return nil, fmt.Errorf("project ID is required")
	}

	var clientOpts []option.ClientOption
	if config.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(config.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, config.ProjectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}

	return &FirestoreStore{
		client:    client,
		projectID: config.ProjectID,
	}, nil
}

// NewFromClient creates a store from an existing client.
// This is useful for testing against the Firestore emulator.
func NewFromClient(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

// Get retrieves the document at path.
func (f *FirestoreStore) Get(ctx context.Context, path string) (docstore.Document, error) {
	ref, err := f.docRef(path)
	if err != nil {
		return nil, err
	}

	snap, err := ref.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, docstore.ErrNotFound
		}
		return nil, fmt.Errorf("get document %s: %w", path, err)
	}

	return docstore.Document(snap.Data()), nil
}

// Set writes fields to the document at path.
func (f *FirestoreStore) Set(ctx context.Context, path string, fields docstore.Document, merge bool) error {
	ref, err := f.docRef(path)
	if err != nil {
		return err
	}

	data := make(map[string]any, len(fields))
	for k, v := range fields {
		if v == docstore.ServerTimestamp {
			data[k] = firestore.ServerTimestamp
			continue
		}
		data[k] = v
	}

	var setOpts []firestore.SetOption
	if merge {
		setOpts = append(setOpts, firestore.MergeAll)
	}

	if _, err := ref.Set(ctx, data, setOpts...); err != nil {
		return fmt.Errorf("set document %s: %w", path, err)
	}
	return nil
}

// Increment atomically adds delta to a numeric field. The increment is
// applied server-side and creates the field (and document) when absent.
func (f *FirestoreStore) Increment(ctx context.Context, path, field string, delta int64) error {
	ref, err := f.docRef(path)
	if err != nil {
		return err
	}

	_, err = ref.Set(ctx, map[string]any{
		field: firestore.Increment(delta),
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("increment %s.%s: %w", path, field, err)
	}
	return nil
}

// Close closes the connection to Firestore.
func (f *FirestoreStore) Close() error {
	return f.client.Close()
}

// docRef resolves a slash-separated path to a document reference.
func (f *FirestoreStore) docRef(path string) (*firestore.DocumentRef, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}
	return f.client.Doc(path), nil
}

// ValidatePath checks that a path addresses a Firestore document: non-empty
// segments and an even segment count.
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("document path is empty")
	}
	segments := strings.Split(path, "/")
	if len(segments)%2 != 0 {
		return fmt.Errorf("document path %q must have an even number of segments", path)
	}
	for _, seg := range segments {
		if seg == "" {
			return fmt.Errorf("document path %q contains an empty segment", path)
		}
	}
	return nil
}
