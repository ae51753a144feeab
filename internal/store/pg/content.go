package pg

import (
	"context"
	"database/sql"
	"fmt"

	"securecms.org/internal/content"
)

const contentSelect = `
	select c.id, c.title, c.slug, c.body, c.summary, c.status, c.author_id, u.username,
	       c.created_at, c.updated_at, c.published_at, c.view_count
	from contents c
	join users u on u.id = c.author_id
`

func scanContent(row interface{ Scan(...any) error }) (content.Content, error) {
	var (
		c         content.Content
		status    string
		published sql.NullTime
	)
	err := row.Scan(&c.ID, &c.Title, &c.Slug, &c.Body, &c.Summary, &status, &c.AuthorID, &c.AuthorName,
		&c.CreatedAt, &c.UpdatedAt, &published, &c.ViewCount)
	if err != nil {
		return content.Content{}, err
	}
	c.Status = content.Status(status)
	c.PublishedAt = timePtr(published)
	return c, nil
}

func (s *Store) CreateContent(ctx context.Context, c *content.Content) error {
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	c.CreatedAt = nowIfZero(c.CreatedAt)
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	err = q.QueryRowContext(ctx, `
		insert into contents (title, slug, body, summary, status, author_id, created_at, updated_at, published_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		returning id
	`, c.Title, c.Slug, c.Body, c.Summary, string(c.Status), c.AuthorID, c.CreatedAt, c.UpdatedAt, nullTime(c.PublishedAt)).Scan(&c.ID)
	return mapErr(err, fmt.Sprintf("content %q", c.Slug))
}

func (s *Store) GetContent(ctx context.Context, id int64) (content.Content, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return content.Content{}, err
	}
	c, err := scanContent(q.QueryRowContext(ctx, contentSelect+` where c.id = $1`, id))
	if err != nil {
		return content.Content{}, mapErr(err, fmt.Sprintf("content %d", id))
	}
	if c.Tags, err = s.tagsFor(ctx, q, id); err != nil {
		return content.Content{}, err
	}
	return c, nil
}

func (s *Store) UpdateContent(ctx context.Context, c content.Content) error {
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `
		update contents
		set title = $2, slug = $3, body = $4, summary = $5, status = $6, published_at = $7, updated_at = $8
		where id = $1
	`, c.ID, c.Title, c.Slug, c.Body, c.Summary, string(c.Status), nullTime(c.PublishedAt), c.UpdatedAt)
	if err != nil {
		return mapErr(err, fmt.Sprintf("content %q", c.Slug))
	}
	return expectOne(res, fmt.Sprintf("content %d", c.ID))
}

func (s *Store) DeleteContent(ctx context.Context, id int64) error {
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `delete from contents where id = $1`, id)
	if err != nil {
		return err
	}
	return expectOne(res, fmt.Sprintf("content %d", id))
}

func (s *Store) SlugTaken(ctx context.Context, slug string, excludeID int64) (bool, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return false, err
	}
	var taken bool
	err = q.QueryRowContext(ctx, `
		select exists(select 1 from contents where slug = $1 and id <> $2)
	`, slug, excludeID).Scan(&taken)
	return taken, err
}

func (s *Store) ListVisible(ctx context.Context, viewerID int64) ([]content.Content, error) {
	return s.listContents(ctx, ` where c.status = 'Published' or ($1 > 0 and c.author_id = $1)`, viewerID)
}

func (s *Store) ListByAuthor(ctx context.Context, authorID int64) ([]content.Content, error) {
	return s.listContents(ctx, ` where c.author_id = $1`, authorID)
}

// listContents reads every row before loading tags; a transaction connection
// cannot run a second query while rows are open.
func (s *Store) listContents(ctx context.Context, where string, arg int64) ([]content.Content, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, contentSelect+where+` order by c.created_at desc, c.id desc`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []content.Content{}
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i := range out {
		if out[i].Tags, err = s.tagsFor(ctx, q, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) tagsFor(ctx context.Context, q querier, contentID int64) ([]content.Tag, error) {
	rows, err := q.QueryContext(ctx, `
		select t.id, t.name, t.slug
		from content_tags ct
		join tags t on t.id = ct.tag_id
		where ct.content_id = $1
		order by t.slug
	`, contentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tags []content.Tag
	for rows.Next() {
		var t content.Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.Slug); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

func (s *Store) GetTagBySlug(ctx context.Context, slug string) (content.Tag, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return content.Tag{}, err
	}
	var t content.Tag
	err = q.QueryRowContext(ctx, `select id, name, slug from tags where slug = $1`, slug).Scan(&t.ID, &t.Name, &t.Slug)
	if err != nil {
		return content.Tag{}, mapErr(err, fmt.Sprintf("tag %q", slug))
	}
	return t, nil
}

func (s *Store) CreateTag(ctx context.Context, t *content.Tag) error {
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	err = q.QueryRowContext(ctx, `insert into tags (name, slug) values ($1, $2) returning id`, t.Name, t.Slug).Scan(&t.ID)
	return mapErr(err, fmt.Sprintf("tag %q", t.Slug))
}

func (s *Store) AddContentTag(ctx context.Context, ct content.ContentTag) error {
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `insert into content_tags (content_id, tag_id) values ($1, $2)`, ct.ContentID, ct.TagID)
	return mapErr(err, fmt.Sprintf("content %d tag %d", ct.ContentID, ct.TagID))
}

func (s *Store) RemoveContentTag(ctx context.Context, ct content.ContentTag) error {
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `delete from content_tags where content_id = $1 and tag_id = $2`, ct.ContentID, ct.TagID)
	if err != nil {
		return err
	}
	return expectOne(res, fmt.Sprintf("content %d tag %d", ct.ContentID, ct.TagID))
}
