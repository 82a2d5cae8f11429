package harness

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/learnsync/internal/assign"
	"github.com/roach88/learnsync/internal/forum"
	"github.com/roach88/learnsync/internal/lesson"
	"github.com/roach88/learnsync/internal/payload"
	"github.com/roach88/learnsync/internal/syncerr"
)

// Call names recorded in traces.
const (
	CallAddDiscussion = "forum.add_discussion"
	CallReply         = "forum.reply"
	CallCurrentRetake = "lesson.current_retake"
	CallProcessPage   = "lesson.process_page"
	CallFinishRetake  = "lesson.finish_retake"
	CallSaveFeedback  = "assign.save_feedback"
)

// firstServerID is the first id the scripted remote hands out.
const firstServerID = 100

var errOffline = errors.New("network is unreachable")

// scriptedRemote plays the remote service for every component, answering
// from a RemoteSpec and recording each call in the result trace.
type scriptedRemote struct {
	mu     sync.Mutex
	spec   RemoteSpec
	result *Result
	nextID int64
}

var (
	_ forum.Remote  = (*scriptedRemote)(nil)
	_ lesson.Remote = (*scriptedRemote)(nil)
	_ assign.Remote = (*scriptedRemote)(nil)
)

func newScriptedRemote(spec RemoteSpec, result *Result) *scriptedRemote {
	return &scriptedRemote{spec: spec, result: result, nextID: firstServerID}
}

func (r *scriptedRemote) setSpec(spec RemoteSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spec = spec
}

// call records name and returns the scripted failure, if any.
func (r *scriptedRemote) call(name string, args payload.Object) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.spec.Offline:
		r.result.AddCallTrace(name, args, OutcomeUnavailable)
		return syncerr.RemoteUnavailable(name, errOffline)
	case r.spec.Reject[name] != "":
		reason := r.spec.Reject[name]
		r.result.AddCallTrace(name, args, OutcomeRejected+":"+reason)
		return syncerr.RemoteRejected(reason, fmt.Sprintf("%s: rejected", name))
	}
	r.result.AddCallTrace(name, args, OutcomeOK)
	return nil
}

func (r *scriptedRemote) newID() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	return id
}

func (r *scriptedRemote) AddDiscussion(_ context.Context, _ string, d forum.NewDiscussion, _ string) (forum.Created, error) {
	err := r.call(CallAddDiscussion, payload.Object{
		"forumid": payload.Int(d.ForumID),
		"subject": payload.String(d.Subject),
		"groupid": payload.Int(d.GroupID),
	})
	if err != nil {
		return forum.Created{}, err
	}
	return forum.Created{DiscussionID: r.newID(), PostID: r.newID()}, nil
}

func (r *scriptedRemote) ReplyPost(_ context.Context, _ string, p forum.Reply, _ string) (int64, error) {
	err := r.call(CallReply, payload.Object{
		"postid":       payload.Int(p.PostID),
		"discussionid": payload.Int(p.DiscussionID),
		"subject":      payload.String(p.Subject),
	})
	if err != nil {
		return 0, err
	}
	return r.newID(), nil
}

func (r *scriptedRemote) CurrentRetake(_ context.Context, _ string, lessonID int64) (int64, error) {
	if err := r.call(CallCurrentRetake, payload.Object{"lessonid": payload.Int(lessonID)}); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.spec.CurrentRetakes[lessonID], nil
}

func (r *scriptedRemote) ProcessPage(_ context.Context, _ string, a lesson.PageAttempt, _ string) error {
	return r.call(CallProcessPage, payload.Object{
		"lessonid": payload.Int(a.LessonID),
		"retake":   payload.Int(a.Retake),
		"pageid":   payload.Int(a.PageID),
	})
}

func (r *scriptedRemote) FinishRetake(_ context.Context, _ string, rt lesson.Retake, _ string) error {
	return r.call(CallFinishRetake, payload.Object{
		"lessonid":  payload.Int(rt.LessonID),
		"retake":    payload.Int(rt.Retake),
		"outoftime": payload.Bool(rt.OutOfTime),
	})
}

func (r *scriptedRemote) SaveFeedback(_ context.Context, _ string, f assign.Feedback, _ string) error {
	return r.call(CallSaveFeedback, payload.Object{
		"assignid":   payload.Int(f.AssignID),
		"userid":     payload.Int(f.UserID),
		"plugindata": f.PluginData,
	})
}
