// Package profile is thin CRUD glue over the document store for the
// microsite's presentational content: the owner's profile, blog posts, and
// the chat widget's FAQ configuration.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agentfolio/agentfolio/internal/chat"
	"github.com/agentfolio/agentfolio/pkg/docstore"
)

// Link is one outbound link on the profile page.
type Link struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Certificate is one certification shown on the profile page.
type Certificate struct {
	Title  string `json:"title"`
	Issuer string `json:"issuer"`
	Year   int    `json:"year"`
}

// Profile is the owner's public page content.
type Profile struct {
	UserID       string        `json:"userId"`
	Name         string        `json:"name"`
	Headline     string        `json:"headline"`
	Bio          string        `json:"bio"`
	Links        []Link        `json:"links,omitempty"`
	Certificates []Certificate `json:"certificates,omitempty"`
	ChatEnabled  bool          `json:"chatEnabled"`
	ChatPersona  string        `json:"chatPersona,omitempty"`
}

// Post is one blog post on the profile page.
type Post struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Published time.Time `json:"published"`
}

// Service reads and writes profile content documents.
type Service struct {
	store docstore.Store
}

// NewService creates a profile service against the given store.
func NewService(store docstore.Store) *Service {
	return &Service{store: store}
}

func profilePath(userID string) string {
	return fmt.Sprintf("users/%s/site/profile", userID)
}

func postPath(userID, postID string) string {
	return fmt.Sprintf("users/%s/posts/%s", userID, postID)
}

func faqPath(userID string) string {
	return fmt.Sprintf("users/%s/site/faq", userID)
}

// Get loads a profile. Returns docstore.ErrNotFound when none exists.
func (s *Service) Get(ctx context.Context, userID string) (*Profile, error) {
	doc, err := s.store.Get(ctx, profilePath(userID))
	if err != nil {
		return nil, err
	}

	var p Profile
	if err := decodeInto(doc, &p); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", userID, err)
	}
	p.UserID = userID
	return &p, nil
}

// Save merge-writes a profile so dashboard edits to one field never clobber
// another editor's fields.
func (s *Service) Save(ctx context.Context, p *Profile) error {
	if p.UserID == "" {
		return fmt.Errorf("profile user ID is required")
	}

	fields, err := encodeFields(p)
	if err != nil {
		return fmt.Errorf("encode profile %s: %w", p.UserID, err)
	}
	fields["updatedAt"] = docstore.ServerTimestamp
	return s.store.Set(ctx, profilePath(p.UserID), fields, true)
}

// GetPost loads one blog post.
func (s *Service) GetPost(ctx context.Context, userID, postID string) (*Post, error) {
	doc, err := s.store.Get(ctx, postPath(userID, postID))
	if err != nil {
		return nil, err
	}

	var p Post
	if err := decodeInto(doc, &p); err != nil {
		return nil, fmt.Errorf("decode post %s/%s: %w", userID, postID, err)
	}
	p.ID = postID
	return &p, nil
}

// SavePost merge-writes one blog post.
func (s *Service) SavePost(ctx context.Context, userID string, post *Post) error {
	if post.ID == "" {
		return fmt.Errorf("post ID is required")
	}

	fields, err := encodeFields(post)
	if err != nil {
		return fmt.Errorf("encode post %s/%s: %w", userID, post.ID, err)
	}
	fields["updatedAt"] = docstore.ServerTimestamp
	return s.store.Set(ctx, postPath(userID, post.ID), fields, true)
}

// FAQ loads the profile's chat FAQ entries. A missing document is an empty
// FAQ, not an error.
func (s *Service) FAQ(ctx context.Context, userID string) ([]chat.FAQEntry, error) {
	doc, err := s.store.Get(ctx, faqPath(userID))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	raw, err := json.Marshal(doc["entries"])
	if err != nil {
		return nil, fmt.Errorf("decode faq %s: %w", userID, err)
	}
	var entries []chat.FAQEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode faq %s: %w", userID, err)
	}
	return entries, nil
}

// SaveFAQ replaces the profile's chat FAQ entries.
func (s *Service) SaveFAQ(ctx context.Context, userID string, entries []chat.FAQEntry) error {
	encoded := make([]any, 0, len(entries))
	for _, e := range entries {
		fields, err := encodeFields(e)
		if err != nil {
			return fmt.Errorf("encode faq %s: %w", userID, err)
		}
		encoded = append(encoded, map[string]any(fields))
	}
	return s.store.Set(ctx, faqPath(userID), docstore.Document{
		"entries":   encoded,
		"updatedAt": docstore.ServerTimestamp,
	}, false)
}

// encodeFields converts a struct to document fields via its JSON tags.
func encodeFields(v any) (docstore.Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields docstore.Document
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// decodeInto converts document fields back to a struct via its JSON tags.
func decodeInto(doc docstore.Document, v any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
