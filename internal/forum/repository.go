package forum

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/learnsync/internal/offline"
	"github.com/roach88/learnsync/internal/payload"
	"github.com/roach88/learnsync/internal/store"
	"github.com/roach88/learnsync/internal/syncerr"
)

// Repository stages and reads offline forum actions.
type Repository struct {
	sites  offline.Sites
	clock  offline.Clock
	logger *slog.Logger
}

// NewRepository creates a repository. Register Tables() with the store
// registry before first use.
func NewRepository(sites offline.Sites, clock offline.Clock, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{sites: sites, clock: clock, logger: logger}
}

// StageDiscussion stores a new discussion. TimeCreated defaults to now, the
// group to AllGroups and the options to an empty object. The user comes from
// sc.
func (r *Repository) StageDiscussion(ctx context.Context, d NewDiscussion, sc offline.Scope) (NewDiscussion, error) {
	res, err := offline.Resolve(ctx, r.sites, sc)
	if err != nil {
		return NewDiscussion{}, fmt.Errorf("stage discussion: %w", err)
	}

	d.UserID = res.UserID
	if d.TimeCreated == 0 {
		d.TimeCreated = r.clock.Now()
	}
	if d.GroupID == 0 {
		d.GroupID = AllGroups
	}
	d.Subject = payload.NormalizeText(d.Subject)
	d.Message = payload.NormalizeText(d.Message)
	d.Options = payload.NormalizeObject(d.Options)
	if _, err := d.Fingerprint(); err != nil {
		return NewDiscussion{}, fmt.Errorf("stage discussion: %w", err)
	}

	options, err := payload.Encode(d.Options)
	if err != nil {
		return NewDiscussion{}, fmt.Errorf("stage discussion: %w", err)
	}

	err = res.DB.Upsert(ctx, DiscussionsTable, store.Record{
		"forumid":     d.ForumID,
		"name":        d.Name,
		"courseid":    d.CourseID,
		"subject":     d.Subject,
		"message":     d.Message,
		"options":     options,
		"groupid":     d.GroupID,
		"userid":      d.UserID,
		"timecreated": d.TimeCreated,
	})
	if err != nil {
		return NewDiscussion{}, fmt.Errorf("stage discussion: %w", err)
	}
	return d, nil
}

// Discussion returns one staged discussion, or NotFound.
func (r *Repository) Discussion(ctx context.Context, forumID, timeCreated int64, sc offline.Scope) (NewDiscussion, error) {
	res, err := offline.Resolve(ctx, r.sites, sc)
	if err != nil {
		return NewDiscussion{}, fmt.Errorf("get discussion: %w", err)
	}
	rows, err := res.DB.Find(ctx, DiscussionsTable, store.Where{
		"forumid":     forumID,
		"userid":      res.UserID,
		"timecreated": timeCreated,
	})
	if err != nil {
		return NewDiscussion{}, fmt.Errorf("get discussion: %w", err)
	}
	if len(rows) == 0 {
		return NewDiscussion{}, syncerr.NotFound(DiscussionsTable, fmt.Sprintf("no staged discussion in forum %d at %d", forumID, timeCreated))
	}
	d, err := discussionFromRecord(rows[0])
	if err != nil {
		return NewDiscussion{}, syncerr.CorruptRecord(DiscussionsTable, "decode options", err)
	}
	return d, nil
}

// Discussions returns the user's staged discussions in a forum. Rows that no
// longer decode are skipped and reported.
func (r *Repository) Discussions(ctx context.Context, forumID int64, sc offline.Scope) ([]NewDiscussion, []offline.Corruption, error) {
	res, err := offline.Resolve(ctx, r.sites, sc)
	if err != nil {
		return nil, nil, fmt.Errorf("list discussions: %w", err)
	}
	return r.findDiscussions(ctx, res.DB, store.Where{"forumid": forumID, "userid": res.UserID})
}

// AllDiscussions returns every staged discussion on a site, for any user.
func (r *Repository) AllDiscussions(ctx context.Context, siteID string) ([]NewDiscussion, []offline.Corruption, error) {
	res, err := offline.Resolve(ctx, r.sites, offline.Scope{SiteID: siteID})
	if err != nil {
		return nil, nil, fmt.Errorf("list all discussions: %w", err)
	}
	return r.findDiscussions(ctx, res.DB, nil)
}

// HasDiscussions reports whether the user has staged discussions in a forum.
func (r *Repository) HasDiscussions(ctx context.Context, forumID int64, sc offline.Scope) (bool, error) {
	res, err := offline.Resolve(ctx, r.sites, sc)
	if err != nil {
		return false, fmt.Errorf("has discussions: %w", err)
	}
	n, err := res.DB.Count(ctx, DiscussionsTable, store.Where{"forumid": forumID, "userid": res.UserID})
	if err != nil {
		return false, fmt.Errorf("has discussions: %w", err)
	}
	return n > 0, nil
}

// RemoveDiscussion deletes one staged discussion. Removing a missing row is
// not an error.
func (r *Repository) RemoveDiscussion(ctx context.Context, forumID, timeCreated int64, sc offline.Scope) error {
	res, err := offline.Resolve(ctx, r.sites, sc)
	if err != nil {
		return fmt.Errorf("remove discussion: %w", err)
	}
	_, err = res.DB.Delete(ctx, DiscussionsTable, store.Where{
		"forumid":     forumID,
		"userid":      res.UserID,
		"timecreated": timeCreated,
	})
	if err != nil {
		return fmt.Errorf("remove discussion: %w", err)
	}
	return nil
}

// StageReply stores a reply. Staging again with the same post, user and
// time overwrites the earlier reply.
func (r *Repository) StageReply(ctx context.Context, reply Reply, sc offline.Scope) (Reply, error) {
	res, err := offline.Resolve(ctx, r.sites, sc)
	if err != nil {
		return Reply{}, fmt.Errorf("stage reply: %w", err)
	}

	reply.UserID = res.UserID
	if reply.TimeCreated == 0 {
		reply.TimeCreated = r.clock.Now()
	}
	reply.Subject = payload.NormalizeText(reply.Subject)
	reply.Message = payload.NormalizeText(reply.Message)
	reply.Options = payload.NormalizeObject(reply.Options)
	if _, err := reply.Fingerprint(); err != nil {
		return Reply{}, fmt.Errorf("stage reply: %w", err)
	}

	options, err := payload.Encode(reply.Options)
	if err != nil {
		return Reply{}, fmt.Errorf("stage reply: %w", err)
	}

	err = res.DB.Upsert(ctx, RepliesTable, store.Record{
		"postid":       reply.PostID,
		"discussionid": reply.DiscussionID,
		"forumid":      reply.ForumID,
		"name":         reply.Name,
		"courseid":     reply.CourseID,
		"subject":      reply.Subject,
		"message":      reply.Message,
		"options":      options,
		"userid":       reply.UserID,
		"timecreated":  reply.TimeCreated,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("stage reply: %w", err)
	}
	return reply, nil
}

// Replies returns the user's staged replies in a forum.
func (r *Repository) Replies(ctx context.Context, forumID int64, sc offline.Scope) ([]Reply, []offline.Corruption, error) {
	res, err := offline.Resolve(ctx, r.sites, sc)
	if err != nil {
		return nil, nil, fmt.Errorf("list replies: %w", err)
	}
	return r.findReplies(ctx, res.DB, store.Where{"forumid": forumID, "userid": res.UserID})
}

// DiscussionReplies returns the user's staged replies in one discussion.
func (r *Repository) DiscussionReplies(ctx context.Context, discussionID int64, sc offline.Scope) ([]Reply, []offline.Corruption, error) {
	res, err := offline.Resolve(ctx, r.sites, sc)
	if err != nil {
		return nil, nil, fmt.Errorf("list discussion replies: %w", err)
	}
	return r.findReplies(ctx, res.DB, store.Where{"discussionid": discussionID, "userid": res.UserID})
}

// AllReplies returns every staged reply on a site, for any user.
func (r *Repository) AllReplies(ctx context.Context, siteID string) ([]Reply, []offline.Corruption, error) {
	res, err := offline.Resolve(ctx, r.sites, offline.Scope{SiteID: siteID})
	if err != nil {
		return nil, nil, fmt.Errorf("list all replies: %w", err)
	}
	return r.findReplies(ctx, res.DB, nil)
}

// HasReplies reports whether the user has staged replies in a forum.
func (r *Repository) HasReplies(ctx context.Context, forumID int64, sc offline.Scope) (bool, error) {
	return r.hasReplies(ctx, "forumid", forumID, sc)
}

// HasDiscussionReplies reports whether the user has staged replies in a
// discussion.
func (r *Repository) HasDiscussionReplies(ctx context.Context, discussionID int64, sc offline.Scope) (bool, error) {
	return r.hasReplies(ctx, "discussionid", discussionID, sc)
}

func (r *Repository) hasReplies(ctx context.Context, col string, id int64, sc offline.Scope) (bool, error) {
	res, err := offline.Resolve(ctx, r.sites, sc)
	if err != nil {
		return false, fmt.Errorf("has replies: %w", err)
	}
	n, err := res.DB.Count(ctx, RepliesTable, store.Where{col: id, "userid": res.UserID})
	if err != nil {
		return false, fmt.Errorf("has replies: %w", err)
	}
	return n > 0, nil
}

// RemoveReply deletes one staged reply by its full key. Removing a missing
// row is not an error. key.UserID zero means the scope's user.
func (r *Repository) RemoveReply(ctx context.Context, key ReplyKey, sc offline.Scope) error {
	res, err := offline.Resolve(ctx, r.sites, sc)
	if err != nil {
		return fmt.Errorf("remove reply: %w", err)
	}
	if key.UserID == 0 {
		key.UserID = res.UserID
	}
	_, err = res.DB.Delete(ctx, RepliesTable, store.Where{
		"postid":      key.PostID,
		"userid":      key.UserID,
		"timecreated": key.TimeCreated,
	})
	if err != nil {
		return fmt.Errorf("remove reply: %w", err)
	}
	return nil
}

// RebindReplies points replies staged against a not-yet-created discussion
// at the ids the server assigned to it. Returns the number of replies moved.
func (r *Repository) RebindReplies(ctx context.Context, ref, discussionID, postID int64, sc offline.Scope) (int64, error) {
	res, err := offline.Resolve(ctx, r.sites, sc)
	if err != nil {
		return 0, fmt.Errorf("rebind replies: %w", err)
	}
	n, err := res.DB.Update(ctx, RepliesTable,
		store.Record{"postid": postID, "discussionid": discussionID},
		store.Where{"postid": ref, "userid": res.UserID},
	)
	if err != nil {
		return 0, fmt.Errorf("rebind replies: %w", err)
	}
	return n, nil
}

// ForumsWithPending lists forum ids on a site where the site's user has
// staged discussions or replies, ascending.
func (r *Repository) ForumsWithPending(ctx context.Context, siteID string) ([]int64, error) {
	res, err := offline.Resolve(ctx, r.sites, offline.Scope{SiteID: siteID})
	if err != nil {
		return nil, fmt.Errorf("list forums with pending: %w", err)
	}

	seen := make(map[int64]bool)
	var ids []int64
	for _, table := range []string{DiscussionsTable, RepliesTable} {
		rows, err := res.DB.Distinct(ctx, table, []string{"forumid"}, store.Where{"userid": res.UserID})
		if err != nil {
			return nil, fmt.Errorf("list forums with pending: %w", err)
		}
		for _, row := range rows {
			id := row.Int("forumid")
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (r *Repository) findDiscussions(ctx context.Context, db *store.Store, where store.Where) ([]NewDiscussion, []offline.Corruption, error) {
	rows, err := db.Find(ctx, DiscussionsTable, where)
	if err != nil {
		return nil, nil, fmt.Errorf("list discussions: %w", err)
	}
	var corrupt offline.Corruptions
	out := make([]NewDiscussion, 0, len(rows))
	for _, row := range rows {
		d, err := discussionFromRecord(row)
		if err != nil {
			corrupt.Add(ctx, r.logger, DiscussionsTable, offline.KeyString(row, "forumid", "userid", "timecreated"), err)
			continue
		}
		out = append(out, d)
	}
	return out, corrupt.Items(), nil
}

func (r *Repository) findReplies(ctx context.Context, db *store.Store, where store.Where) ([]Reply, []offline.Corruption, error) {
	rows, err := db.Find(ctx, RepliesTable, where)
	if err != nil {
		return nil, nil, fmt.Errorf("list replies: %w", err)
	}
	var corrupt offline.Corruptions
	out := make([]Reply, 0, len(rows))
	for _, row := range rows {
		reply, err := replyFromRecord(row)
		if err != nil {
			corrupt.Add(ctx, r.logger, RepliesTable, offline.KeyString(row, "postid", "userid", "timecreated"), err)
			continue
		}
		out = append(out, reply)
	}
	return out, corrupt.Items(), nil
}

func discussionFromRecord(rec store.Record) (NewDiscussion, error) {
	options, err := decodeOptions(rec)
	if err != nil {
		return NewDiscussion{}, err
	}
	return NewDiscussion{
		ForumID:     rec.Int("forumid"),
		Name:        rec.Text("name"),
		CourseID:    rec.Int("courseid"),
		Subject:     rec.Text("subject"),
		Message:     rec.Text("message"),
		Options:     options,
		GroupID:     rec.Int("groupid"),
		UserID:      rec.Int("userid"),
		TimeCreated: rec.Int("timecreated"),
	}, nil
}

func replyFromRecord(rec store.Record) (Reply, error) {
	options, err := decodeOptions(rec)
	if err != nil {
		return Reply{}, err
	}
	return Reply{
		PostID:       rec.Int("postid"),
		DiscussionID: rec.Int("discussionid"),
		ForumID:      rec.Int("forumid"),
		Name:         rec.Text("name"),
		CourseID:     rec.Int("courseid"),
		Subject:      rec.Text("subject"),
		Message:      rec.Text("message"),
		Options:      options,
		UserID:       rec.Int("userid"),
		TimeCreated:  rec.Int("timecreated"),
	}, nil
}

// decodeOptions parses the options column. NULL reads as an empty object.
func decodeOptions(rec store.Record) (payload.Object, error) {
	if rec.IsNull("options") {
		return payload.Object{}, nil
	}
	return payload.DecodeObject(rec.Text("options"))
}
