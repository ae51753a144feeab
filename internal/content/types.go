package content

import (
	"context"
	"time"

	"securecms.org/internal/auth"
	"securecms.org/internal/uow"
)

// Status is the publication state of a content item.
type Status string

const (
	StatusDraft     Status = "Draft"
	StatusPublished Status = "Published"
)

// Audited table names.
const (
	TableContents    = "contents"
	TableTags        = "tags"
	TableContentTags = "content_tags"
)

// Errors shared with the auth service family.
var (
	ErrNotFound     = auth.ErrNotFound
	ErrInvalidInput = auth.ErrInvalidInput
	ErrConflict     = auth.ErrConflict
)

// Content is an article owned by its author.
type Content struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Slug        string     `json:"slug"`
	Body        string     `json:"body"`
	Summary     string     `json:"summary,omitempty"`
	Status      Status     `json:"status"`
	AuthorID    int64      `json:"authorId"`
	AuthorName  string     `json:"authorName,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
	ViewCount   int        `json:"viewCount"`
	Tags        []Tag      `json:"tags,omitempty"`
}

// Tag labels content. Slugs are unique.
type Tag struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// ContentTag links a content item to a tag.
type ContentTag struct {
	ContentID int64 `json:"contentId"`
	TagID     int64 `json:"tagId"`
}

// Store persists content. Get and list operations return items with their
// tags and author name populated.
type Store interface {
	uow.Runner

	CreateContent(ctx context.Context, c *Content) error
	GetContent(ctx context.Context, id int64) (Content, error)
	// UpdateContent writes title, slug, body, summary, status, published_at
	// and updated_at.
	UpdateContent(ctx context.Context, c Content) error
	DeleteContent(ctx context.Context, id int64) error
	SlugTaken(ctx context.Context, slug string, excludeID int64) (bool, error)
	// ListVisible returns published items plus drafts authored by viewerID,
	// newest first. viewerID 0 means anonymous.
	ListVisible(ctx context.Context, viewerID int64) ([]Content, error)
	ListByAuthor(ctx context.Context, authorID int64) ([]Content, error)

	GetTagBySlug(ctx context.Context, slug string) (Tag, error)
	CreateTag(ctx context.Context, t *Tag) error
	AddContentTag(ctx context.Context, ct ContentTag) error
	RemoveContentTag(ctx context.Context, ct ContentTag) error
}

// Authorizer is the policy decision point.
type Authorizer interface {
	Authorize(ctx context.Context, req auth.Request) error
}

// CreateInput carries a new content item.
type CreateInput struct {
	Title   string
	Body    string
	Summary string
	Tags    []string
}

// UpdateInput changes only the non-nil fields. A non-nil Tags replaces the
// tag set.
type UpdateInput struct {
	Title   *string
	Body    *string
	Summary *string
	Tags    []string
}
