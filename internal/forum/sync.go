package forum

import (
	"context"
	"fmt"

	"github.com/roach88/learnsync/internal/engine"
	"github.com/roach88/learnsync/internal/offline"
)

// Created holds the ids the server assigned to a new discussion.
type Created struct {
	DiscussionID int64 `json:"discussionid"`
	PostID       int64 `json:"postid"`
}

// Remote is the part of the remote service forum syncing needs.
type Remote interface {
	AddDiscussion(ctx context.Context, siteID string, d NewDiscussion, idempotencyKey string) (Created, error)
	ReplyPost(ctx context.Context, siteID string, r Reply, idempotencyKey string) (int64, error)
}

// Action kinds reported in sync results.
const (
	KindDiscussion = "discussion"
	KindReply      = "reply"
)

// Syncer drains staged forum actions. It implements engine.ActivitySyncer.
type Syncer struct {
	repo   *Repository
	remote Remote
}

// NewSyncer creates a forum syncer.
func NewSyncer(repo *Repository, remote Remote) *Syncer {
	return &Syncer{repo: repo, remote: remote}
}

// Component implements engine.ActivitySyncer.
func (s *Syncer) Component() string { return Component }

// ActivitiesWithPending implements engine.ActivitySyncer.
func (s *Syncer) ActivitiesWithPending(ctx context.Context, siteID string) ([]int64, error) {
	return s.repo.ForumsWithPending(ctx, siteID)
}

// Sync submits the forum's staged discussions and replies, merged in
// creation order. A reply to a discussion created offline goes out after
// that discussion, with the server ids substituted in; if the discussion
// was not accepted the reply is deferred to a later pass.
func (s *Syncer) Sync(ctx context.Context, b *engine.Batch) error {
	key := b.Key()
	sc := offline.Scope{SiteID: key.SiteID}

	discussions, badDiscussions, err := s.repo.Discussions(ctx, key.ActivityID, sc)
	if err != nil {
		return err
	}
	replies, badReplies, err := s.repo.Replies(ctx, key.ActivityID, sc)
	if err != nil {
		return err
	}
	for _, c := range badDiscussions {
		b.Warn(KindDiscussion, c.Key, c)
	}
	for _, c := range badReplies {
		b.Warn(KindReply, c.Key, c)
	}

	// Server ids of discussions accepted during this pass, by placeholder.
	created := make(map[int64]Created)

	actions := make([]engine.Action, 0, len(discussions)+len(replies))
	for _, d := range discussions {
		actions = append(actions, engine.Action{
			Kind: KindDiscussion,
			Key:  d.Key().String(),
			Seq:  d.TimeCreated,
			Submit: func(ctx context.Context) error {
				ids, err := s.submitDiscussion(ctx, key.SiteID, d)
				if err != nil {
					return err
				}
				created[d.Ref()] = ids
				return nil
			},
		})
	}
	for _, r := range replies {
		actions = append(actions, engine.Action{
			Kind: KindReply,
			Key:  r.Key().String(),
			Seq:  r.TimeCreated,
			Submit: func(ctx context.Context) error {
				if r.DependsOnStaged() {
					ids, ok := created[r.PostID]
					if !ok {
						return engine.Deferred(fmt.Sprintf("discussion %d is still staged", r.PostID))
					}
					r.PostID, r.DiscussionID = ids.PostID, ids.DiscussionID
				}
				return s.submitReply(ctx, key.SiteID, r)
			},
		})
	}

	return b.Run(ctx, actions)
}

func (s *Syncer) submitDiscussion(ctx context.Context, siteID string, d NewDiscussion) (Created, error) {
	fp, err := d.Fingerprint()
	if err != nil {
		return Created{}, err
	}
	ids, err := s.remote.AddDiscussion(ctx, siteID, d, fp)
	if err != nil {
		return Created{}, err
	}

	sc := offline.Scope{SiteID: siteID, UserID: d.UserID}
	// Rebind before removing: a crash in between re-sends the discussion
	// under the same idempotency key instead of stranding its replies.
	if _, err := s.repo.RebindReplies(ctx, d.Ref(), ids.DiscussionID, ids.PostID, sc); err != nil {
		return Created{}, err
	}
	if err := s.repo.RemoveDiscussion(ctx, d.ForumID, d.TimeCreated, sc); err != nil {
		return Created{}, err
	}
	return ids, nil
}

func (s *Syncer) submitReply(ctx context.Context, siteID string, r Reply) error {
	fp, err := r.Fingerprint()
	if err != nil {
		return err
	}
	if _, err := s.remote.ReplyPost(ctx, siteID, r, fp); err != nil {
		return err
	}
	return s.repo.RemoveReply(ctx, r.Key(), offline.Scope{SiteID: siteID, UserID: r.UserID})
}
