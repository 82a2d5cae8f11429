// Package lesson stages lesson progress made offline (answered pages and
// finished retakes) and syncs it when the site is reachable.
//
// A lesson can be retaken. Staged data always belongs to one retake number,
// and a retake record left over from an earlier retake is never merged into
// a newer one: see Repository.RetakeWithFallback.
package lesson

import (
	"fmt"

	"github.com/roach88/learnsync/internal/payload"
	"github.com/roach88/learnsync/internal/store"
)

// Component is the activity type name used in sync keys.
const Component = "mod_lesson"

// Table names.
const (
	RetakesTable  = "lesson_retakes"
	AttemptsTable = "lesson_page_attempts"
)

// PageType tells question pages from structure pages (branch tables, end of
// branch markers).
type PageType int64

const (
	PageQuestion  PageType = 0
	PageStructure PageType = 1
)

func (t PageType) String() string {
	switch t {
	case PageQuestion:
		return "question"
	case PageStructure:
		return "structure"
	default:
		return fmt.Sprintf("PageType(%d)", int64(t))
	}
}

// Tables returns the table definitions this package stores its rows in.
// Site databases belong to a single account, so neither table carries a user.
func Tables() []store.Table {
	return []store.Table{
		{
			Name: RetakesTable,
			Columns: []store.Column{
				{Name: "lessonid", Type: store.Integer, NotNull: true},
				{Name: "retake", Type: store.Integer, NotNull: true},
				{Name: "courseid", Type: store.Integer},
				{Name: "finished", Type: store.Integer},
				{Name: "outoftime", Type: store.Integer},
				{Name: "timemodified", Type: store.Integer},
				{Name: "lastquestionpage", Type: store.Integer},
			},
			PrimaryKey: []string{"lessonid"},
		},
		{
			Name: AttemptsTable,
			Columns: []store.Column{
				{Name: "lessonid", Type: store.Integer, NotNull: true},
				{Name: "retake", Type: store.Integer, NotNull: true},
				{Name: "pageid", Type: store.Integer, NotNull: true},
				{Name: "timemodified", Type: store.Integer, NotNull: true},
				{Name: "courseid", Type: store.Integer},
				{Name: "data", Type: store.Text},
				{Name: "type", Type: store.Integer},
				{Name: "newpageid", Type: store.Integer},
				{Name: "correct", Type: store.Integer},
				{Name: "answerid", Type: store.Integer},
				{Name: "useranswer", Type: store.Text},
			},
			PrimaryKey: []string{"lessonid", "retake", "pageid", "timemodified"},
		},
	}
}

// Retake is the locally known state of one lesson retake. Only one record
// per lesson is kept.
type Retake struct {
	LessonID     int64 `json:"lessonid"`
	Retake       int64 `json:"retake"`
	CourseID     int64 `json:"courseid"`
	Finished     bool  `json:"finished"`
	OutOfTime    bool  `json:"outoftime"`
	TimeModified int64 `json:"timemodified"`
	// LastQuestionPage is the last question page answered; 0 when none.
	LastQuestionPage int64 `json:"lastquestionpage"`
}

// Fingerprint identifies the finish submission for idempotent retries.
func (r Retake) Fingerprint() (string, error) {
	return payload.Fingerprint(payload.DomainRetake, payload.Object{
		"lessonid":     payload.Int(r.LessonID),
		"retake":       payload.Int(r.Retake),
		"outoftime":    payload.Bool(r.OutOfTime),
		"timemodified": payload.Int(r.TimeModified),
	})
}

// Page identifies the page being answered.
type Page struct {
	ID   int64    `json:"id"`
	Type PageType `json:"type"`
}

// PageAttempt is one answered page.
type PageAttempt struct {
	LessonID     int64 `json:"lessonid"`
	Retake       int64 `json:"retake"`
	PageID       int64 `json:"pageid"`
	TimeModified int64 `json:"timemodified"`
	CourseID     int64 `json:"courseid"`
	// Data holds the submitted form fields; nil when the page had none.
	Data       payload.Object `json:"data"`
	Type       PageType       `json:"type"`
	NewPageID  int64          `json:"newpageid"`
	Correct    bool           `json:"correct"`
	AnswerID   int64          `json:"answerid"`
	UserAnswer payload.Value  `json:"useranswer"`
}

// Key returns the composite key of the staged row.
func (a PageAttempt) Key() AttemptKey {
	return AttemptKey{LessonID: a.LessonID, Retake: a.Retake, PageID: a.PageID, TimeModified: a.TimeModified}
}

// Fingerprint identifies the submission for idempotent retries.
func (a PageAttempt) Fingerprint() (string, error) {
	data := payload.Value(payload.Null{})
	if a.Data != nil {
		data = a.Data
	}
	return payload.Fingerprint(payload.DomainPageAttempt, payload.Object{
		"lessonid":     payload.Int(a.LessonID),
		"retake":       payload.Int(a.Retake),
		"pageid":       payload.Int(a.PageID),
		"timemodified": payload.Int(a.TimeModified),
		"data":         data,
	})
}

// AttemptKey is the composite key of a staged page attempt.
type AttemptKey struct {
	LessonID     int64 `json:"lessonid"`
	Retake       int64 `json:"retake"`
	PageID       int64 `json:"pageid"`
	TimeModified int64 `json:"timemodified"`
}

func (k AttemptKey) String() string {
	return fmt.Sprintf("lessonid=%d,retake=%d,pageid=%d,timemodified=%d", k.LessonID, k.Retake, k.PageID, k.TimeModified)
}

// Ref names a lesson with staged data and the course it belongs to.
type Ref struct {
	ID       int64 `json:"id"`
	CourseID int64 `json:"courseid"`
}

// Answer is what ProcessPage records for one page.
type Answer struct {
	CourseID   int64
	Retake     int64
	Page       Page
	Data       payload.Object
	NewPageID  int64
	AnswerID   int64
	Correct    bool
	UserAnswer payload.Value
}
