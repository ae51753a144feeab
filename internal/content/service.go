// Package content manages articles and their tags. Owners may edit, delete
// and publish their own items; everyone else needs the matching permission.
package content

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"securecms.org/internal/audit"
	"securecms.org/internal/auth"
)

// Service implements content operations on top of a Store.
type Service struct {
	store   Store
	policy  Authorizer
	auditor auth.Auditor
	now     func() time.Time
}

func NewService(store Store, policy Authorizer, auditor auth.Auditor) (*Service, error) {
	switch {
	case store == nil:
		return nil, errors.New("content store is required")
	case policy == nil:
		return nil, errors.New("policy is required")
	case auditor == nil:
		return nil, errors.New("auditor is required")
	}
	return &Service{store: store, policy: policy, auditor: auditor, now: time.Now}, nil
}

// Create stores a draft authored by subjectID. Requires Content:Create.
func (s *Service) Create(ctx context.Context, subjectID int64, in CreateInput) (Content, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return Content{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.Body) == "" {
		return Content{}, fmt.Errorf("%w: body is required", ErrInvalidInput)
	}
	base := Slugify(in.Title)
	if base == "" {
		return Content{}, fmt.Errorf("%w: title must contain letters or digits", ErrInvalidInput)
	}

	var c Content
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.policy.Authorize(ctx, auth.Request{SubjectID: subjectID, Resource: auth.ResourceContent, Action: auth.ActionCreate}); err != nil {
			return err
		}
		slug, err := s.uniqueSlug(ctx, base, 0)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		c = Content{
			Title:     in.Title,
			Slug:      slug,
			Body:      in.Body,
			Summary:   strings.TrimSpace(in.Summary),
			Status:    StatusDraft,
			AuthorID:  subjectID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.store.CreateContent(ctx, &c); err != nil {
			return err
		}
		if err := s.record(ctx, TableContents, audit.OpInsert, nil, c); err != nil {
			return err
		}
		c.Tags, err = s.attachTags(ctx, c.ID, in.Tags)
		return err
	})
	if err != nil {
		return Content{}, err
	}
	return c, nil
}

// Update changes an item. Allowed for the owner or with Content:Update.
func (s *Service) Update(ctx context.Context, subjectID, id int64, in UpdateInput) (Content, error) {
	var after Content
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		before, err := s.authorizeOwned(ctx, subjectID, id, auth.ActionUpdate)
		if err != nil {
			return err
		}
		after = before
		if in.Title != nil {
			if title := strings.TrimSpace(*in.Title); title != "" && title != before.Title {
				base := Slugify(title)
				if base == "" {
					return fmt.Errorf("%w: title must contain letters or digits", ErrInvalidInput)
				}
				if after.Slug, err = s.uniqueSlug(ctx, base, id); err != nil {
					return err
				}
				after.Title = title
			}
		}
		if in.Body != nil && strings.TrimSpace(*in.Body) != "" {
			after.Body = *in.Body
		}
		if in.Summary != nil {
			after.Summary = strings.TrimSpace(*in.Summary)
		}
		after.UpdatedAt = s.now().UTC()
		if err := s.store.UpdateContent(ctx, after); err != nil {
			return err
		}
		if in.Tags != nil {
			if err := s.detachTags(ctx, before); err != nil {
				return err
			}
			if after.Tags, err = s.attachTags(ctx, id, in.Tags); err != nil {
				return err
			}
		}
		return s.record(ctx, TableContents, audit.OpUpdate, before, after)
	})
	if err != nil {
		return Content{}, err
	}
	return after, nil
}

// Delete removes an item. Allowed for the owner or with Content:Delete.
func (s *Service) Delete(ctx context.Context, subjectID, id int64) error {
	return s.store.WithinTx(ctx, func(ctx context.Context) error {
		before, err := s.authorizeOwned(ctx, subjectID, id, auth.ActionDelete)
		if err != nil {
			return err
		}
		if err := s.detachTags(ctx, before); err != nil {
			return err
		}
		if err := s.store.DeleteContent(ctx, id); err != nil {
			return err
		}
		return s.record(ctx, TableContents, audit.OpDelete, before, nil)
	})
}

// Publish marks an item published. The unit of work is opened before the
// permission check; any failure discards every change.
func (s *Service) Publish(ctx context.Context, subjectID, id int64) (Content, error) {
	return s.transition(ctx, subjectID, id, StatusPublished)
}

// Unpublish returns an item to draft under the same rules as Publish.
func (s *Service) Unpublish(ctx context.Context, subjectID, id int64) (Content, error) {
	return s.transition(ctx, subjectID, id, StatusDraft)
}

func (s *Service) transition(ctx context.Context, subjectID, id int64, status Status) (Content, error) {
	var after Content
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		before, err := s.authorizeOwned(ctx, subjectID, id, auth.ActionPublish)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		after = before
		after.Status = status
		after.UpdatedAt = now
		if status == StatusPublished {
			after.PublishedAt = &now
		}
		if err := s.store.UpdateContent(ctx, after); err != nil {
			return err
		}
		return s.record(ctx, TableContents, audit.OpUpdate, before, after)
	})
	if err != nil {
		return Content{}, err
	}
	return after, nil
}

// Get returns one item.
func (s *Service) Get(ctx context.Context, id int64) (Content, error) {
	if id <= 0 {
		return Content{}, fmt.Errorf("%w: content id is required", ErrInvalidInput)
	}
	return s.store.GetContent(ctx, id)
}

// List returns published items plus the viewer's own drafts, newest first.
// viewerID 0 lists published items only.
func (s *Service) List(ctx context.Context, viewerID int64) ([]Content, error) {
	return s.store.ListVisible(ctx, viewerID)
}

// ListByAuthor returns every item authored by authorID.
func (s *Service) ListByAuthor(ctx context.Context, authorID int64) ([]Content, error) {
	if authorID <= 0 {
		return nil, fmt.Errorf("%w: author id is required", ErrInvalidInput)
	}
	return s.store.ListByAuthor(ctx, authorID)
}

func (s *Service) authorizeOwned(ctx context.Context, subjectID, id int64, action string) (Content, error) {
	c, err := s.store.GetContent(ctx, id)
	if err != nil {
		return Content{}, err
	}
	err = s.policy.Authorize(ctx, auth.Request{
		SubjectID: subjectID,
		Resource:  auth.ResourceContent,
		Action:    action,
		Ownership: &auth.Ownership{OwnerID: c.AuthorID},
	})
	if err != nil {
		return Content{}, err
	}
	return c, nil
}

func (s *Service) uniqueSlug(ctx context.Context, base string, excludeID int64) (string, error) {
	slug := base
	for n := 1; ; n++ {
		taken, err := s.store.SlugTaken(ctx, slug, excludeID)
		if err != nil {
			return "", err
		}
		if !taken {
			return slug, nil
		}
		slug = fmt.Sprintf("%s-%d", base, n)
	}
}

func (s *Service) attachTags(ctx context.Context, contentID int64, names []string) ([]Tag, error) {
	var tags []Tag
	seen := map[string]struct{}{}
	for _, name := range names {
		name = strings.TrimSpace(name)
		slug := Slugify(name)
		if slug == "" {
			continue
		}
		if _, ok := seen[slug]; ok {
			continue
		}
		seen[slug] = struct{}{}

		tag, err := s.store.GetTagBySlug(ctx, slug)
		if errors.Is(err, ErrNotFound) {
			tag = Tag{Name: name, Slug: slug}
			if err := s.store.CreateTag(ctx, &tag); err != nil {
				return nil, err
			}
			if err := s.record(ctx, TableTags, audit.OpInsert, nil, tag); err != nil {
				return nil, err
			}
		} else if err != nil {
			return nil, err
		}
		link := ContentTag{ContentID: contentID, TagID: tag.ID}
		if err := s.store.AddContentTag(ctx, link); err != nil {
			return nil, err
		}
		if err := s.record(ctx, TableContentTags, audit.OpInsert, nil, link); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

func (s *Service) detachTags(ctx context.Context, c Content) error {
	for _, tag := range c.Tags {
		link := ContentTag{ContentID: c.ID, TagID: tag.ID}
		if err := s.store.RemoveContentTag(ctx, link); err != nil {
			return err
		}
		if err := s.record(ctx, TableContentTags, audit.OpDelete, link, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) record(ctx context.Context, table string, op audit.Operation, before, after any) error {
	_, err := s.auditor.Record(ctx, audit.Entry{Table: table, Operation: op, Old: before, New: after})
	return err
}
