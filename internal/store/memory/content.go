package memory

import (
	"context"
	"fmt"
	"sort"

	"securecms.org/internal/auth"
	"securecms.org/internal/content"
)

func (s *Store) CreateContent(ctx context.Context, c *content.Content) error {
	return s.update(ctx, func(st *state) error {
		if _, ok := st.users[c.AuthorID]; !ok {
			return fmt.Errorf("%w: author %d", auth.ErrNotFound, c.AuthorID)
		}
		for _, existing := range st.contents {
			if existing.Slug == c.Slug {
				return fmt.Errorf("%w: slug %q", auth.ErrConflict, c.Slug)
			}
		}
		c.ID = st.next("contents")
		stored := *c
		stored.Tags = nil
		stored.AuthorName = ""
		st.contents[c.ID] = stored
		return nil
	})
}

func (s *Store) GetContent(ctx context.Context, id int64) (content.Content, error) {
	st := s.view(ctx)
	c, ok := st.contents[id]
	if !ok {
		return content.Content{}, fmt.Errorf("%w: content %d", auth.ErrNotFound, id)
	}
	return hydrate(st, c), nil
}

func (s *Store) UpdateContent(ctx context.Context, c content.Content) error {
	return s.update(ctx, func(st *state) error {
		stored, ok := st.contents[c.ID]
		if !ok {
			return fmt.Errorf("%w: content %d", auth.ErrNotFound, c.ID)
		}
		for id, existing := range st.contents {
			if id != c.ID && existing.Slug == c.Slug {
				return fmt.Errorf("%w: slug %q", auth.ErrConflict, c.Slug)
			}
		}
		stored.Title = c.Title
		stored.Slug = c.Slug
		stored.Body = c.Body
		stored.Summary = c.Summary
		stored.Status = c.Status
		stored.PublishedAt = c.PublishedAt
		stored.UpdatedAt = c.UpdatedAt
		st.contents[c.ID] = stored
		return nil
	})
}

func (s *Store) DeleteContent(ctx context.Context, id int64) error {
	return s.update(ctx, func(st *state) error {
		if _, ok := st.contents[id]; !ok {
			return fmt.Errorf("%w: content %d", auth.ErrNotFound, id)
		}
		delete(st.contents, id)
		for key := range st.contentTags {
			if key.a == id {
				delete(st.contentTags, key)
			}
		}
		return nil
	})
}

func (s *Store) SlugTaken(ctx context.Context, slug string, excludeID int64) (bool, error) {
	for id, c := range s.view(ctx).contents {
		if id != excludeID && c.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ListVisible(ctx context.Context, viewerID int64) ([]content.Content, error) {
	return s.list(ctx, func(c content.Content) bool {
		return c.Status == content.StatusPublished || (viewerID > 0 && c.AuthorID == viewerID)
	}), nil
}

func (s *Store) ListByAuthor(ctx context.Context, authorID int64) ([]content.Content, error) {
	return s.list(ctx, func(c content.Content) bool { return c.AuthorID == authorID }), nil
}

func (s *Store) list(ctx context.Context, keep func(content.Content) bool) []content.Content {
	st := s.view(ctx)
	out := []content.Content{}
	for _, c := range st.contents {
		if keep(c) {
			out = append(out, hydrate(st, c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (s *Store) GetTagBySlug(ctx context.Context, slug string) (content.Tag, error) {
	for _, t := range s.view(ctx).tags {
		if t.Slug == slug {
			return t, nil
		}
	}
	return content.Tag{}, fmt.Errorf("%w: tag %q", auth.ErrNotFound, slug)
}

func (s *Store) CreateTag(ctx context.Context, t *content.Tag) error {
	return s.update(ctx, func(st *state) error {
		for _, existing := range st.tags {
			if existing.Slug == t.Slug {
				return fmt.Errorf("%w: tag %q", auth.ErrConflict, t.Slug)
			}
		}
		t.ID = st.next("tags")
		st.tags[t.ID] = *t
		return nil
	})
}

func (s *Store) AddContentTag(ctx context.Context, ct content.ContentTag) error {
	return s.update(ctx, func(st *state) error {
		if _, ok := st.contents[ct.ContentID]; !ok {
			return fmt.Errorf("%w: content %d", auth.ErrNotFound, ct.ContentID)
		}
		if _, ok := st.tags[ct.TagID]; !ok {
			return fmt.Errorf("%w: tag %d", auth.ErrNotFound, ct.TagID)
		}
		key := pair{ct.ContentID, ct.TagID}
		if _, ok := st.contentTags[key]; ok {
			return fmt.Errorf("%w: content %d already tagged %d", auth.ErrConflict, ct.ContentID, ct.TagID)
		}
		st.contentTags[key] = struct{}{}
		return nil
	})
}

func (s *Store) RemoveContentTag(ctx context.Context, ct content.ContentTag) error {
	return s.update(ctx, func(st *state) error {
		key := pair{ct.ContentID, ct.TagID}
		if _, ok := st.contentTags[key]; !ok {
			return fmt.Errorf("%w: content %d is not tagged %d", auth.ErrNotFound, ct.ContentID, ct.TagID)
		}
		delete(st.contentTags, key)
		return nil
	})
}

func hydrate(st *state, c content.Content) content.Content {
	if u, ok := st.users[c.AuthorID]; ok {
		c.AuthorName = u.Username
	}
	c.Tags = nil
	for key := range st.contentTags {
		if key.a != c.ID {
			continue
		}
		if t, ok := st.tags[key.b]; ok {
			c.Tags = append(c.Tags, t)
		}
	}
	sort.Slice(c.Tags, func(i, j int) bool { return c.Tags[i].Slug < c.Tags[j].Slug })
	return c
}
