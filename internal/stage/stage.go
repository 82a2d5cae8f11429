// Package stage decodes YAML descriptions of offline actions and stores them
// through the component repositories. The CLI and the scenario harness both
// stage actions this way.
package stage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/learnsync/internal/assign"
	"github.com/roach88/learnsync/internal/forum"
	"github.com/roach88/learnsync/internal/lesson"
	"github.com/roach88/learnsync/internal/offline"
	"github.com/roach88/learnsync/internal/payload"
)

// Action kinds.
const (
	KindDiscussion = "discussion"
	KindReply      = "reply"
	KindPage       = "page"
	KindFinish     = "finish"
	KindFeedback   = "feedback"
)

// Kinds lists every action kind in a stable order.
var Kinds = []string{KindDiscussion, KindReply, KindPage, KindFinish, KindFeedback}

// Repos are the repositories actions are stored through.
type Repos struct {
	Forums  *forum.Repository
	Lessons *lesson.Repository
	Assigns *assign.Repository
}

// Action is one decoded action, ready to be staged.
type Action interface {
	// Stage stores the action and returns the staged record.
	Stage(ctx context.Context, r Repos, sc offline.Scope) (any, error)
}

// Decode parses a single YAML document describing an action of kind.
// Unknown fields are rejected.
func Decode(kind string, input []byte) (Action, error) {
	var a Action
	switch kind {
	case KindDiscussion:
		a = &Discussion{}
	case KindReply:
		a = &Reply{}
	case KindPage:
		a = &Page{}
	case KindFinish:
		a = &Finish{}
	case KindFeedback:
		a = &Feedback{}
	default:
		return nil, fmt.Errorf("unknown action kind %q (want one of %v)", kind, Kinds)
	}

	dec := yaml.NewDecoder(bytes.NewReader(input))
	dec.KnownFields(true)
	if err := dec.Decode(a); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty input")
		}
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return a, nil
}

// Valid reports whether kind names an action.
func Valid(kind string) bool {
	return slices.Contains(Kinds, kind)
}

// Discussion is a new forum discussion.
type Discussion struct {
	Forum   int64          `yaml:"forum"`
	Course  int64          `yaml:"course"`
	Name    string         `yaml:"name"`
	Subject string         `yaml:"subject"`
	Message string         `yaml:"message"`
	Group   int64          `yaml:"group"`
	Options map[string]any `yaml:"options"`
	// TimeCreated pins the creation time; zero means now.
	TimeCreated int64 `yaml:"timecreated"`
}

func (d *Discussion) Stage(ctx context.Context, r Repos, sc offline.Scope) (any, error) {
	if d.Forum <= 0 {
		return nil, errors.New("forum is required")
	}
	options, err := payload.ObjectFromAny(d.Options)
	if err != nil {
		return nil, fmt.Errorf("options: %w", err)
	}
	return r.Forums.StageDiscussion(ctx, forum.NewDiscussion{
		ForumID:     d.Forum,
		Name:        d.Name,
		CourseID:    d.Course,
		Subject:     d.Subject,
		Message:     d.Message,
		Options:     options,
		GroupID:     d.Group,
		TimeCreated: d.TimeCreated,
	}, sc)
}

// Reply is a reply to a forum post.
type Reply struct {
	// Post and Discussion address a reply to a discussion the server knows.
	Post       int64 `yaml:"post"`
	Discussion int64 `yaml:"discussion"`
	// StagedDiscussion addresses the first post of a discussion that is
	// still staged, by its timecreated.
	StagedDiscussion int64          `yaml:"staged_discussion"`
	Forum            int64          `yaml:"forum"`
	Course           int64          `yaml:"course"`
	Name             string         `yaml:"name"`
	Subject          string         `yaml:"subject"`
	Message          string         `yaml:"message"`
	Options          map[string]any `yaml:"options"`
	// TimeCreated pins the creation time; zero means now.
	TimeCreated int64 `yaml:"timecreated"`
}

func (p *Reply) Stage(ctx context.Context, r Repos, sc offline.Scope) (any, error) {
	if p.Forum <= 0 {
		return nil, errors.New("forum is required")
	}
	postID, discussionID := p.Post, p.Discussion
	switch {
	case p.StagedDiscussion > 0 && p.Post != 0:
		return nil, errors.New("post and staged_discussion are mutually exclusive")
	case p.StagedDiscussion > 0:
		postID = forum.StagedRef(p.StagedDiscussion)
		discussionID = postID
	case p.Post <= 0:
		return nil, errors.New("post or staged_discussion is required")
	}
	options, err := payload.ObjectFromAny(p.Options)
	if err != nil {
		return nil, fmt.Errorf("options: %w", err)
	}
	return r.Forums.StageReply(ctx, forum.Reply{
		PostID:       postID,
		DiscussionID: discussionID,
		ForumID:      p.Forum,
		Name:         p.Name,
		CourseID:     p.Course,
		Subject:      p.Subject,
		Message:      p.Message,
		Options:      options,
		TimeCreated:  p.TimeCreated,
	}, sc)
}

// Page is the answer to one lesson page.
type Page struct {
	Lesson int64 `yaml:"lesson"`
	Course int64 `yaml:"course"`
	Retake int64 `yaml:"retake"`
	Page   struct {
		ID int64 `yaml:"id"`
		// Type is "question" (default) or "structure".
		Type string `yaml:"type"`
	} `yaml:"page"`
	Data       map[string]any `yaml:"data"`
	NewPage    int64          `yaml:"newpage"`
	AnswerID   int64          `yaml:"answer"`
	Correct    bool           `yaml:"correct"`
	UserAnswer any            `yaml:"useranswer"`
}

// Answer converts p to the repository's answer type.
func (p *Page) Answer() (lesson.Answer, error) {
	if p.Lesson <= 0 || p.Page.ID <= 0 {
		return lesson.Answer{}, errors.New("lesson and page.id are required")
	}

	ans := lesson.Answer{
		CourseID:  p.Course,
		Retake:    p.Retake,
		Page:      lesson.Page{ID: p.Page.ID},
		NewPageID: p.NewPage,
		AnswerID:  p.AnswerID,
		Correct:   p.Correct,
	}
	switch p.Page.Type {
	case "", lesson.PageQuestion.String():
		ans.Page.Type = lesson.PageQuestion
	case lesson.PageStructure.String():
		ans.Page.Type = lesson.PageStructure
	default:
		return lesson.Answer{}, fmt.Errorf("unknown page type %q", p.Page.Type)
	}
	if p.Data != nil {
		data, err := payload.ObjectFromAny(p.Data)
		if err != nil {
			return lesson.Answer{}, fmt.Errorf("data: %w", err)
		}
		ans.Data = data
	}
	if p.UserAnswer != nil {
		ua, err := payload.FromAny(p.UserAnswer)
		if err != nil {
			return lesson.Answer{}, fmt.Errorf("useranswer: %w", err)
		}
		ans.UserAnswer = ua
	}
	return ans, nil
}

// Stage stores the answer. Lesson data is per site, so sc.UserID is unused.
func (p *Page) Stage(ctx context.Context, r Repos, sc offline.Scope) (any, error) {
	ans, err := p.Answer()
	if err != nil {
		return nil, err
	}
	return r.Lessons.ProcessPage(ctx, p.Lesson, ans, sc.SiteID)
}

// Finish ends a lesson retake.
type Finish struct {
	Lesson int64 `yaml:"lesson"`
	Course int64 `yaml:"course"`
	Retake int64 `yaml:"retake"`
	// Finished defaults to true; false records progress without closing
	// the retake.
	Finished  *bool `yaml:"finished"`
	OutOfTime bool  `yaml:"outoftime"`
}

func (f *Finish) Stage(ctx context.Context, r Repos, sc offline.Scope) (any, error) {
	if f.Lesson <= 0 {
		return nil, errors.New("lesson is required")
	}
	finished := f.Finished == nil || *f.Finished
	return r.Lessons.FinishRetake(ctx, f.Lesson, f.Course, f.Retake, finished, f.OutOfTime, sc.SiteID)
}

// Feedback is a feedback draft for one student and plugin.
type Feedback struct {
	Assign  int64  `yaml:"assign"`
	Student int64  `yaml:"student"`
	Plugin  string `yaml:"plugin"`
	// Comments is shorthand for the comments plugin's editor payload.
	Comments string         `yaml:"comments"`
	Data     map[string]any `yaml:"data"`
}

func (f *Feedback) Stage(ctx context.Context, r Repos, sc offline.Scope) (any, error) {
	if f.Assign <= 0 || f.Student <= 0 {
		return nil, errors.New("assign and student are required")
	}
	plugin := f.Plugin
	if plugin == "" {
		plugin = assign.PluginComments
	}

	var data payload.Object
	switch {
	case f.Comments != "" && f.Data != nil:
		return nil, errors.New("comments and data are mutually exclusive")
	case f.Comments != "":
		if plugin != assign.PluginComments {
			return nil, fmt.Errorf("comments given for plugin %q", plugin)
		}
		data = assign.CommentsDraft(f.Comments)
	default:
		obj, err := payload.ObjectFromAny(f.Data)
		if err != nil {
			return nil, fmt.Errorf("data: %w", err)
		}
		data = obj
	}
	return r.Assigns.SaveDraft(ctx, f.Assign, f.Student, plugin, data, sc)
}
