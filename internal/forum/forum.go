// Package forum stages discussion-board actions made offline (new
// discussions and replies) and syncs them when the site is reachable.
package forum

import (
	"fmt"

	"github.com/roach88/learnsync/internal/payload"
	"github.com/roach88/learnsync/internal/store"
)

// Component is the activity type name used in sync keys.
const Component = "mod_forum"

// Table names.
const (
	DiscussionsTable = "forum_discussions"
	RepliesTable     = "forum_replies"
)

// AllGroups is the group id of a discussion posted to every group.
const AllGroups int64 = -1

// Tables returns the table definitions this package stores its rows in.
func Tables() []store.Table {
	return []store.Table{
		{
			Name: DiscussionsTable,
			Columns: []store.Column{
				{Name: "forumid", Type: store.Integer, NotNull: true},
				{Name: "name", Type: store.Text},
				{Name: "courseid", Type: store.Integer},
				{Name: "subject", Type: store.Text},
				{Name: "message", Type: store.Text},
				{Name: "options", Type: store.Text},
				{Name: "groupid", Type: store.Integer},
				{Name: "userid", Type: store.Integer, NotNull: true},
				{Name: "timecreated", Type: store.Integer, NotNull: true},
			},
			PrimaryKey: []string{"forumid", "userid", "timecreated"},
		},
		{
			Name: RepliesTable,
			Columns: []store.Column{
				{Name: "postid", Type: store.Integer, NotNull: true},
				{Name: "discussionid", Type: store.Integer},
				{Name: "forumid", Type: store.Integer, NotNull: true},
				{Name: "name", Type: store.Text},
				{Name: "courseid", Type: store.Integer},
				{Name: "subject", Type: store.Text},
				{Name: "message", Type: store.Text},
				{Name: "options", Type: store.Text},
				{Name: "userid", Type: store.Integer, NotNull: true},
				{Name: "timecreated", Type: store.Integer, NotNull: true},
			},
			PrimaryKey: []string{"postid", "userid", "timecreated"},
		},
	}
}

// NewDiscussion is a discussion created offline.
type NewDiscussion struct {
	ForumID     int64          `json:"forumid"`
	Name        string         `json:"name"`
	CourseID    int64          `json:"courseid"`
	Subject     string         `json:"subject"`
	Message     string         `json:"message"`
	Options     payload.Object `json:"options"`
	GroupID     int64          `json:"groupid"`
	UserID      int64          `json:"userid"`
	TimeCreated int64          `json:"timecreated"`
}

// Key returns the composite key of the staged row.
func (d NewDiscussion) Key() DiscussionKey {
	return DiscussionKey{ForumID: d.ForumID, UserID: d.UserID, TimeCreated: d.TimeCreated}
}

// Ref is the placeholder id replies use for this discussion until the server
// assigns a real one.
func (d NewDiscussion) Ref() int64 {
	return StagedRef(d.TimeCreated)
}

// Fingerprint identifies the submission for idempotent retries.
func (d NewDiscussion) Fingerprint() (string, error) {
	return payload.Fingerprint(payload.DomainDiscussion, payload.Object{
		"forumid":     payload.Int(d.ForumID),
		"subject":     payload.String(d.Subject),
		"message":     payload.String(d.Message),
		"options":     d.Options,
		"groupid":     payload.Int(d.GroupID),
		"userid":      payload.Int(d.UserID),
		"timecreated": payload.Int(d.TimeCreated),
	})
}

// DiscussionKey is the composite key of a staged discussion.
type DiscussionKey struct {
	ForumID     int64 `json:"forumid"`
	UserID      int64 `json:"userid"`
	TimeCreated int64 `json:"timecreated"`
}

func (k DiscussionKey) String() string {
	return fmt.Sprintf("forumid=%d,userid=%d,timecreated=%d", k.ForumID, k.UserID, k.TimeCreated)
}

// Reply is a reply posted offline. A reply to a discussion that is itself
// still staged carries that discussion's Ref as both PostID and DiscussionID.
type Reply struct {
	PostID       int64          `json:"postid"`
	DiscussionID int64          `json:"discussionid"`
	ForumID      int64          `json:"forumid"`
	Name         string         `json:"name"`
	CourseID     int64          `json:"courseid"`
	Subject      string         `json:"subject"`
	Message      string         `json:"message"`
	Options      payload.Object `json:"options"`
	UserID       int64          `json:"userid"`
	TimeCreated  int64          `json:"timecreated"`
}

// Key returns the composite key of the staged row.
func (r Reply) Key() ReplyKey {
	return ReplyKey{PostID: r.PostID, UserID: r.UserID, TimeCreated: r.TimeCreated}
}

// DependsOnStaged reports whether the reply targets a discussion not yet
// accepted by the server.
func (r Reply) DependsOnStaged() bool {
	return r.PostID < 0
}

// Fingerprint identifies the submission for idempotent retries.
func (r Reply) Fingerprint() (string, error) {
	return payload.Fingerprint(payload.DomainReply, payload.Object{
		"postid":      payload.Int(r.PostID),
		"subject":     payload.String(r.Subject),
		"message":     payload.String(r.Message),
		"options":     r.Options,
		"userid":      payload.Int(r.UserID),
		"timecreated": payload.Int(r.TimeCreated),
	})
}

// ReplyKey is the composite key of a staged reply.
type ReplyKey struct {
	PostID      int64 `json:"postid"`
	UserID      int64 `json:"userid"`
	TimeCreated int64 `json:"timecreated"`
}

func (k ReplyKey) String() string {
	return fmt.Sprintf("postid=%d,userid=%d,timecreated=%d", k.PostID, k.UserID, k.TimeCreated)
}

// StagedRef is the placeholder id of a staged discussion created at
// timeCreated. Server ids are positive, so placeholders never collide.
func StagedRef(timeCreated int64) int64 {
	return -timeCreated
}
