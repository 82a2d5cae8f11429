package assign

import (
	"context"
	"fmt"

	"github.com/roach88/learnsync/internal/engine"
	"github.com/roach88/learnsync/internal/offline"
	"github.com/roach88/learnsync/internal/payload"
)

// Remote is the part of the remote service feedback syncing needs.
type Remote interface {
	SaveFeedback(ctx context.Context, siteID string, f Feedback, idempotencyKey string) error
}

// KindFeedback is the action kind reported in sync results.
const KindFeedback = "feedback"

// Syncer sends the site user's feedback drafts. It implements
// engine.ActivitySyncer.
type Syncer struct {
	repo   *Repository
	remote Remote
}

// NewSyncer creates a feedback syncer.
func NewSyncer(repo *Repository, remote Remote) *Syncer {
	return &Syncer{repo: repo, remote: remote}
}

// Component implements engine.ActivitySyncer.
func (s *Syncer) Component() string { return Component }

// ActivitiesWithPending implements engine.ActivitySyncer.
func (s *Syncer) ActivitiesWithPending(ctx context.Context, siteID string) ([]int64, error) {
	return s.repo.AssignmentsWithDrafts(ctx, siteID)
}

// Sync sends one Feedback per student, combining that student's plugin
// drafts. Students go out in the order their latest draft was saved.
func (s *Syncer) Sync(ctx context.Context, b *engine.Batch) error {
	key := b.Key()
	sc := offline.Scope{SiteID: key.SiteID}

	drafts, bad, err := s.repo.Drafts(ctx, key.ActivityID, sc)
	if err != nil {
		return err
	}
	for _, c := range bad {
		b.Warn(KindFeedback, c.Key, c)
	}

	var students []int64
	byStudent := make(map[int64][]Draft)
	for _, d := range drafts {
		if _, ok := byStudent[d.UserID]; !ok {
			students = append(students, d.UserID)
		}
		byStudent[d.UserID] = append(byStudent[d.UserID], d)
	}

	actions := make([]engine.Action, 0, len(students))
	for _, student := range students {
		f := combine(key.ActivityID, student, byStudent[student])
		plugins := byStudent[student]
		actions = append(actions, engine.Action{
			Kind: KindFeedback,
			Key:  fmt.Sprintf("assignid=%d,userid=%d", f.AssignID, f.UserID),
			Seq:  f.TimeModified,
			Submit: func(ctx context.Context) error {
				fp, err := f.Fingerprint()
				if err != nil {
					return err
				}
				if err := s.remote.SaveFeedback(ctx, key.SiteID, f, fp); err != nil {
					return err
				}
				for _, d := range plugins {
					if err := s.repo.RemoveDraft(ctx, d.AssignID, d.UserID, d.Plugin, sc); err != nil {
						return err
					}
				}
				return nil
			},
		})
	}
	return b.Run(ctx, actions)
}

func combine(assignID, studentID int64, drafts []Draft) Feedback {
	f := Feedback{AssignID: assignID, UserID: studentID, PluginData: make(payload.Object, len(drafts))}
	for _, d := range drafts {
		f.PluginData[PluginField(d.Plugin)] = d.Data
		f.TimeModified = max(f.TimeModified, d.TimeModified)
	}
	return f
}
