// Package assign keeps feedback drafts a grader writes offline for
// assignment submissions, and sends them as grading feedback once the site
// is reachable.
package assign

import (
	"fmt"

	"github.com/roach88/learnsync/internal/payload"
	"github.com/roach88/learnsync/internal/store"
)

// Component is the activity type name used in sync keys.
const Component = "mod_assign"

// DraftsTable holds one draft per assignment, student, plugin and grader.
const DraftsTable = "assign_feedback_drafts"

// Feedback plugins with built-in helpers.
const (
	PluginComments = "comments"

	// CommentsField is the form field the comments plugin submits.
	CommentsField = "assignfeedbackcomments_editor"

	// FormatHTML is the editor text format of comments.
	FormatHTML int64 = 1
)

// Tables returns the table definitions this package stores its rows in.
func Tables() []store.Table {
	return []store.Table{{
		Name: DraftsTable,
		Columns: []store.Column{
			{Name: "assignid", Type: store.Integer, NotNull: true},
			{Name: "userid", Type: store.Integer, NotNull: true},
			{Name: "plugin", Type: store.Text, NotNull: true},
			{Name: "graderid", Type: store.Integer, NotNull: true},
			{Name: "data", Type: store.Text},
			{Name: "timemodified", Type: store.Integer},
		},
		PrimaryKey: []string{"assignid", "userid", "plugin", "graderid"},
	}}
}

// Draft is the unsent feedback of one plugin for one student.
type Draft struct {
	AssignID int64 `json:"assignid"`
	// UserID is the student the feedback is for.
	UserID       int64          `json:"userid"`
	Plugin       string         `json:"plugin"`
	GraderID     int64          `json:"graderid"`
	Data         payload.Object `json:"data"`
	TimeModified int64          `json:"timemodified"`
}

// Key returns the composite key of the stored row.
func (d Draft) Key() DraftKey {
	return DraftKey{AssignID: d.AssignID, UserID: d.UserID, Plugin: d.Plugin, GraderID: d.GraderID}
}

// DraftKey is the composite key of a stored draft.
type DraftKey struct {
	AssignID int64  `json:"assignid"`
	UserID   int64  `json:"userid"`
	Plugin   string `json:"plugin"`
	GraderID int64  `json:"graderid"`
}

func (k DraftKey) String() string {
	return fmt.Sprintf("assignid=%d,userid=%d,plugin=%s,graderid=%d", k.AssignID, k.UserID, k.Plugin, k.GraderID)
}

// CommentsDraft builds the comments plugin payload for text.
func CommentsDraft(text string) payload.Object {
	return payload.Object{
		"text":   payload.String(text),
		"format": payload.Int(FormatHTML),
	}
}

// CommentsText returns the comment text held in a comments draft.
func CommentsText(d Draft) string {
	return d.Data.Text("text")
}

// PluginField names the form field a plugin's draft is submitted under.
func PluginField(plugin string) string {
	if plugin == PluginComments {
		return CommentsField
	}
	return "assignfeedback_" + plugin
}

// Feedback is everything one grader sends for one student in a pass: the
// drafts of every plugin, keyed by PluginField.
type Feedback struct {
	AssignID     int64          `json:"assignid"`
	UserID       int64          `json:"userid"`
	PluginData   payload.Object `json:"plugindata"`
	TimeModified int64          `json:"timemodified"`
}

// Fingerprint identifies the submission for idempotent retries.
func (f Feedback) Fingerprint() (string, error) {
	return payload.Fingerprint(payload.DomainFeedback, payload.Object{
		"assignid":     payload.Int(f.AssignID),
		"userid":       payload.Int(f.UserID),
		"plugindata":   f.PluginData,
		"timemodified": payload.Int(f.TimeModified),
	})
}
