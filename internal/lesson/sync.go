package lesson

import (
	"context"
	"fmt"

	"github.com/roach88/learnsync/internal/engine"
	"github.com/roach88/learnsync/internal/syncerr"
)

// Remote is the part of the remote service lesson syncing needs.
type Remote interface {
	// CurrentRetake returns the retake number the server considers current.
	CurrentRetake(ctx context.Context, siteID string, lessonID int64) (int64, error)
	ProcessPage(ctx context.Context, siteID string, a PageAttempt, idempotencyKey string) error
	FinishRetake(ctx context.Context, siteID string, r Retake, idempotencyKey string) error
}

// Action kinds reported in sync results.
const (
	KindPageAttempt = "page_attempt"
	KindRetake      = "retake"
)

// Syncer drains staged lesson progress. It implements engine.ActivitySyncer.
type Syncer struct {
	repo   *Repository
	remote Remote
}

// NewSyncer creates a lesson syncer.
func NewSyncer(repo *Repository, remote Remote) *Syncer {
	return &Syncer{repo: repo, remote: remote}
}

// Component implements engine.ActivitySyncer.
func (s *Syncer) Component() string { return Component }

// ActivitiesWithPending implements engine.ActivitySyncer.
func (s *Syncer) ActivitiesWithPending(ctx context.Context, siteID string) ([]int64, error) {
	refs, err := s.repo.LessonsWithData(ctx, siteID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(refs))
	for _, ref := range refs {
		ids = append(ids, ref.ID)
	}
	return ids, nil
}

// Sync submits a lesson's staged page attempts in the order they were
// answered, then the finished retake.
//
// Attempts and retake records staged for a retake other than the server's
// current one are dropped and reported as discarded. An unfinished retake
// record is cleared once all of its attempts are sent; a finished one waits
// until they are.
func (s *Syncer) Sync(ctx context.Context, b *engine.Batch) error {
	key := b.Key()
	siteID, lessonID := key.SiteID, key.ActivityID

	current, err := s.remote.CurrentRetake(ctx, siteID, lessonID)
	if err != nil {
		if syncerr.IsStorage(err) {
			return err
		}
		b.Warn(KindRetake, fmt.Sprintf("lessonid=%d", lessonID), err)
		return nil
	}

	attempts, bad, err := s.repo.LessonAttempts(ctx, lessonID, siteID)
	if err != nil {
		return err
	}
	for _, c := range bad {
		b.Warn(KindPageAttempt, c.Key, c)
	}

	actions := make([]engine.Action, 0, len(attempts))
	for _, a := range attempts {
		if a.Retake != current {
			if err := s.repo.DeleteAttempt(ctx, a.Key(), siteID); err != nil {
				return err
			}
			b.Discard(KindPageAttempt, a.Key().String(), staleReason(a.Retake, current))
			continue
		}
		actions = append(actions, engine.Action{
			Kind: KindPageAttempt,
			Key:  a.Key().String(),
			Seq:  a.TimeModified,
			Submit: func(ctx context.Context) error {
				return s.submitAttempt(ctx, siteID, a)
			},
		})
	}
	if err := b.Run(ctx, actions); err != nil {
		return err
	}

	return s.syncRetake(ctx, b, current)
}

func (s *Syncer) syncRetake(ctx context.Context, b *engine.Batch, current int64) error {
	key := b.Key()
	siteID, lessonID := key.SiteID, key.ActivityID

	rt, err := s.repo.Retake(ctx, lessonID, siteID)
	if syncerr.Is(err, syncerr.CodeNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	rtKey := fmt.Sprintf("lessonid=%d,retake=%d", rt.LessonID, rt.Retake)

	if rt.Retake != current {
		if err := s.repo.DeleteRetake(ctx, lessonID, siteID); err != nil {
			return err
		}
		b.Discard(KindRetake, rtKey, staleReason(rt.Retake, current))
		return nil
	}

	pending, err := s.repo.HasRetakeAttempts(ctx, lessonID, current, siteID)
	if err != nil {
		return err
	}
	switch {
	case pending && rt.Finished:
		b.Defer(KindRetake, rtKey, "page attempts of this retake are still staged")
		return nil
	case pending:
		return nil
	case !rt.Finished:
		return s.repo.DeleteRetake(ctx, lessonID, siteID)
	}

	return b.Run(ctx, []engine.Action{{
		Kind: KindRetake,
		Key:  rtKey,
		Seq:  rt.TimeModified,
		Submit: func(ctx context.Context) error {
			fp, err := rt.Fingerprint()
			if err != nil {
				return err
			}
			if err := s.remote.FinishRetake(ctx, siteID, rt, fp); err != nil {
				return err
			}
			return s.repo.DeleteRetake(ctx, lessonID, siteID)
		},
	}})
}

func (s *Syncer) submitAttempt(ctx context.Context, siteID string, a PageAttempt) error {
	fp, err := a.Fingerprint()
	if err != nil {
		return err
	}
	if err := s.remote.ProcessPage(ctx, siteID, a, fp); err != nil {
		return err
	}
	return s.repo.DeleteAttempt(ctx, a.Key(), siteID)
}

func staleReason(staged, current int64) string {
	return fmt.Sprintf("staged for retake %d, current retake is %d", staged, current)
}
