package lesson

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/learnsync/internal/offline"
	"github.com/roach88/learnsync/internal/payload"
	"github.com/roach88/learnsync/internal/store"
	"github.com/roach88/learnsync/internal/syncerr"
)

var attemptKeyCols = []string{"lessonid", "retake", "pageid", "timemodified"}

// Repository stages and reads offline lesson progress. Every operation takes
// the site id ("" for the current site).
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

func (r *Repository) db(ctx context.Context, siteID string) (*store.Store, error) {
	res, err := offline.Resolve(ctx, r.sites, offline.Scope{SiteID: siteID})
	if err != nil {
		return nil, err
	}
	return res.DB, nil
}

// ProcessPage stages the answer to one page. Answering a question page also
// records it as the retake's last question page.
func (r *Repository) ProcessPage(ctx context.Context, lessonID int64, ans Answer, siteID string) (PageAttempt, error) {
	db, err := r.db(ctx, siteID)
	if err != nil {
		return PageAttempt{}, fmt.Errorf("process page: %w", err)
	}

	a := PageAttempt{
		LessonID:     lessonID,
		Retake:       ans.Retake,
		PageID:       ans.Page.ID,
		TimeModified: r.clock.Now(),
		CourseID:     ans.CourseID,
		Type:         ans.Page.Type,
		NewPageID:    ans.NewPageID,
		Correct:      ans.Correct,
		AnswerID:     ans.AnswerID,
	}
	if ans.Data != nil {
		a.Data = payload.NormalizeObject(ans.Data)
	}
	if ans.UserAnswer != nil {
		a.UserAnswer = payload.Normalize(ans.UserAnswer)
	}

	rec, err := attemptRecord(a)
	if err != nil {
		return PageAttempt{}, fmt.Errorf("process page: %w", err)
	}
	if err := db.Upsert(ctx, AttemptsTable, rec); err != nil {
		return PageAttempt{}, fmt.Errorf("process page: %w", err)
	}

	if a.Type == PageQuestion {
		if _, err := r.SetLastQuestionPage(ctx, lessonID, a.CourseID, a.Retake, a.PageID, siteID); err != nil {
			return PageAttempt{}, fmt.Errorf("process page: %w", err)
		}
	}
	return a, nil
}

// FinishRetake marks a retake finished. A stored record for another retake is
// replaced, not updated.
func (r *Repository) FinishRetake(ctx context.Context, lessonID, courseID, retake int64, finished, outOfTime bool, siteID string) (Retake, error) {
	db, err := r.db(ctx, siteID)
	if err != nil {
		return Retake{}, fmt.Errorf("finish retake: %w", err)
	}
	rt, err := retakeWithFallback(ctx, db, lessonID, courseID, retake)
	if err != nil {
		return Retake{}, fmt.Errorf("finish retake: %w", err)
	}
	rt.Finished = finished
	rt.OutOfTime = outOfTime
	rt.TimeModified = r.clock.Now()
	if err := db.Upsert(ctx, RetakesTable, retakeRecord(rt)); err != nil {
		return Retake{}, fmt.Errorf("finish retake: %w", err)
	}
	return rt, nil
}

// SetLastQuestionPage records the last question page answered in a retake.
func (r *Repository) SetLastQuestionPage(ctx context.Context, lessonID, courseID, retake, pageID int64, siteID string) (Retake, error) {
	db, err := r.db(ctx, siteID)
	if err != nil {
		return Retake{}, fmt.Errorf("set last question page: %w", err)
	}
	rt, err := retakeWithFallback(ctx, db, lessonID, courseID, retake)
	if err != nil {
		return Retake{}, fmt.Errorf("set last question page: %w", err)
	}
	rt.LastQuestionPage = pageID
	rt.TimeModified = r.clock.Now()
	if err := db.Upsert(ctx, RetakesTable, retakeRecord(rt)); err != nil {
		return Retake{}, fmt.Errorf("set last question page: %w", err)
	}
	return rt, nil
}

// RetakeWithFallback returns the stored retake record when it belongs to
// retake. Otherwise, including when nothing is stored, it returns a fresh
// record with no finished flag and no last page. It never writes.
func (r *Repository) RetakeWithFallback(ctx context.Context, lessonID, courseID, retake int64, siteID string) (Retake, error) {
	db, err := r.db(ctx, siteID)
	if err != nil {
		return Retake{}, fmt.Errorf("get retake: %w", err)
	}
	rt, err := retakeWithFallback(ctx, db, lessonID, courseID, retake)
	if err != nil {
		return Retake{}, fmt.Errorf("get retake: %w", err)
	}
	return rt, nil
}

func retakeWithFallback(ctx context.Context, db *store.Store, lessonID, courseID, retake int64) (Retake, error) {
	rows, err := db.Find(ctx, RetakesTable, store.Where{"lessonid": lessonID})
	if err != nil {
		return Retake{}, err
	}
	if len(rows) > 0 {
		if stored := retakeFromRecord(rows[0]); stored.Retake == retake {
			return stored, nil
		}
	}
	return Retake{LessonID: lessonID, Retake: retake, CourseID: courseID}, nil
}

// Retake returns the stored retake record of a lesson, or NotFound.
func (r *Repository) Retake(ctx context.Context, lessonID int64, siteID string) (Retake, error) {
	db, err := r.db(ctx, siteID)
	if err != nil {
		return Retake{}, fmt.Errorf("get retake: %w", err)
	}
	rows, err := db.Find(ctx, RetakesTable, store.Where{"lessonid": lessonID})
	if err != nil {
		return Retake{}, fmt.Errorf("get retake: %w", err)
	}
	if len(rows) == 0 {
		return Retake{}, syncerr.NotFound(RetakesTable, fmt.Sprintf("no retake stored for lesson %d", lessonID))
	}
	return retakeFromRecord(rows[0]), nil
}

// AllRetakes returns every stored retake record on a site.
func (r *Repository) AllRetakes(ctx context.Context, siteID string) ([]Retake, error) {
	db, err := r.db(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("list retakes: %w", err)
	}
	rows, err := db.Find(ctx, RetakesTable, nil)
	if err != nil {
		return nil, fmt.Errorf("list retakes: %w", err)
	}
	out := make([]Retake, 0, len(rows))
	for _, row := range rows {
		out = append(out, retakeFromRecord(row))
	}
	return out, nil
}

// DeleteRetake removes the retake record of a lesson.
func (r *Repository) DeleteRetake(ctx context.Context, lessonID int64, siteID string) error {
	db, err := r.db(ctx, siteID)
	if err != nil {
		return fmt.Errorf("delete retake: %w", err)
	}
	if _, err := db.Delete(ctx, RetakesTable, store.Where{"lessonid": lessonID}); err != nil {
		return fmt.Errorf("delete retake: %w", err)
	}
	return nil
}

// DeleteAttempt removes one staged page attempt.
func (r *Repository) DeleteAttempt(ctx context.Context, key AttemptKey, siteID string) error {
	db, err := r.db(ctx, siteID)
	if err != nil {
		return fmt.Errorf("delete attempt: %w", err)
	}
	_, err = db.Delete(ctx, AttemptsTable, store.Where{
		"lessonid":     key.LessonID,
		"retake":       key.Retake,
		"pageid":       key.PageID,
		"timemodified": key.TimeModified,
	})
	if err != nil {
		return fmt.Errorf("delete attempt: %w", err)
	}
	return nil
}

// DeleteRetakeAttemptsForPage removes every attempt at one page in a retake
// and returns how many were removed.
func (r *Repository) DeleteRetakeAttemptsForPage(ctx context.Context, lessonID, retake, pageID int64, siteID string) (int64, error) {
	db, err := r.db(ctx, siteID)
	if err != nil {
		return 0, fmt.Errorf("delete page attempts: %w", err)
	}
	n, err := db.Delete(ctx, AttemptsTable, store.Where{"lessonid": lessonID, "retake": retake, "pageid": pageID})
	if err != nil {
		return 0, fmt.Errorf("delete page attempts: %w", err)
	}
	return n, nil
}

// LessonAttempts returns the staged attempts of a lesson across retakes.
func (r *Repository) LessonAttempts(ctx context.Context, lessonID int64, siteID string) ([]PageAttempt, []offline.Corruption, error) {
	return r.findAttempts(ctx, siteID, store.Where{"lessonid": lessonID})
}

// RetakeAttempts returns the staged attempts of one retake.
func (r *Repository) RetakeAttempts(ctx context.Context, lessonID, retake int64, siteID string) ([]PageAttempt, []offline.Corruption, error) {
	return r.findAttempts(ctx, siteID, store.Where{"lessonid": lessonID, "retake": retake})
}

// RetakeAttemptsForPage returns the staged attempts at one page of a retake.
func (r *Repository) RetakeAttemptsForPage(ctx context.Context, lessonID, retake, pageID int64, siteID string) ([]PageAttempt, []offline.Corruption, error) {
	return r.findAttempts(ctx, siteID, store.Where{"lessonid": lessonID, "retake": retake, "pageid": pageID})
}

// RetakeAttemptsForType returns the staged attempts at pages of one type.
func (r *Repository) RetakeAttemptsForType(ctx context.Context, lessonID, retake int64, typ PageType, siteID string) ([]PageAttempt, []offline.Corruption, error) {
	return r.findAttempts(ctx, siteID, store.Where{"lessonid": lessonID, "retake": retake, "type": int64(typ)})
}

// AllAttempts returns every staged page attempt on a site.
func (r *Repository) AllAttempts(ctx context.Context, siteID string) ([]PageAttempt, []offline.Corruption, error) {
	return r.findAttempts(ctx, siteID, nil)
}

// QuestionsAttempts returns the question attempts of a retake, limited to
// one page when pageID is non-zero and to correct answers when correctOnly.
func (r *Repository) QuestionsAttempts(ctx context.Context, lessonID, retake int64, correctOnly bool, pageID int64, siteID string) ([]PageAttempt, []offline.Corruption, error) {
	var (
		list    []PageAttempt
		corrupt []offline.Corruption
		err     error
	)
	if pageID != 0 {
		list, corrupt, err = r.RetakeAttemptsForPage(ctx, lessonID, retake, pageID, siteID)
	} else {
		list, corrupt, err = r.RetakeAttemptsForType(ctx, lessonID, retake, PageQuestion, siteID)
	}
	if err != nil {
		return nil, nil, err
	}
	if correctOnly {
		list = slices.DeleteFunc(list, func(a PageAttempt) bool { return !a.Correct })
	}
	return list, corrupt, nil
}

// LastQuestionPageAttempt returns the latest attempt at the retake's last
// question page, or nil when there is none.
func (r *Repository) LastQuestionPageAttempt(ctx context.Context, lessonID, retake int64, siteID string) (*PageAttempt, error) {
	db, err := r.db(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("last question page attempt: %w", err)
	}
	rt, err := retakeWithFallback(ctx, db, lessonID, 0, retake)
	if err != nil {
		return nil, fmt.Errorf("last question page attempt: %w", err)
	}
	if rt.LastQuestionPage == 0 {
		return nil, nil
	}

	attempts, _, err := r.RetakeAttemptsForPage(ctx, lessonID, retake, rt.LastQuestionPage, siteID)
	if err != nil {
		return nil, err
	}
	if len(attempts) == 0 {
		return nil, nil
	}
	last := slices.MaxFunc(attempts, func(a, b PageAttempt) int {
		return cmp.Compare(a.TimeModified, b.TimeModified)
	})
	return &last, nil
}

// HasFinishedRetake reports whether the lesson has a finished retake waiting
// to sync.
func (r *Repository) HasFinishedRetake(ctx context.Context, lessonID int64, siteID string) (bool, error) {
	rt, err := r.Retake(ctx, lessonID, siteID)
	if syncerr.Is(err, syncerr.CodeNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rt.Finished, nil
}

// HasOfflineData reports whether the lesson has a retake record or any
// staged attempt.
func (r *Repository) HasOfflineData(ctx context.Context, lessonID int64, siteID string) (bool, error) {
	db, err := r.db(ctx, siteID)
	if err != nil {
		return false, fmt.Errorf("has offline data: %w", err)
	}
	for _, table := range []string{RetakesTable, AttemptsTable} {
		n, err := db.Count(ctx, table, store.Where{"lessonid": lessonID})
		if err != nil {
			return false, fmt.Errorf("has offline data: %w", err)
		}
		if n > 0 {
			return true, nil
		}
	}
	return false, nil
}

// HasRetakeAttempts reports whether a retake has staged attempts.
func (r *Repository) HasRetakeAttempts(ctx context.Context, lessonID, retake int64, siteID string) (bool, error) {
	db, err := r.db(ctx, siteID)
	if err != nil {
		return false, fmt.Errorf("has retake attempts: %w", err)
	}
	n, err := db.Count(ctx, AttemptsTable, store.Where{"lessonid": lessonID, "retake": retake})
	if err != nil {
		return false, fmt.Errorf("has retake attempts: %w", err)
	}
	return n > 0, nil
}

// LessonsWithData lists the lessons on a site with a retake record or staged
// attempts, ordered by id.
func (r *Repository) LessonsWithData(ctx context.Context, siteID string) ([]Ref, error) {
	db, err := r.db(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("list lessons with data: %w", err)
	}

	seen := make(map[int64]bool)
	var refs []Ref
	for _, table := range []string{AttemptsTable, RetakesTable} {
		rows, err := db.Distinct(ctx, table, []string{"lessonid", "courseid"}, nil)
		if err != nil {
			return nil, fmt.Errorf("list lessons with data: %w", err)
		}
		for _, row := range rows {
			id := row.Int("lessonid")
			if seen[id] {
				continue
			}
			seen[id] = true
			refs = append(refs, Ref{ID: id, CourseID: row.Int("courseid")})
		}
	}
	slices.SortFunc(refs, func(a, b Ref) int { return cmp.Compare(a.ID, b.ID) })
	return refs, nil
}

func (r *Repository) findAttempts(ctx context.Context, siteID string, where store.Where) ([]PageAttempt, []offline.Corruption, error) {
	db, err := r.db(ctx, siteID)
	if err != nil {
		return nil, nil, fmt.Errorf("list attempts: %w", err)
	}
	rows, err := db.Find(ctx, AttemptsTable, where)
	if err != nil {
		return nil, nil, fmt.Errorf("list attempts: %w", err)
	}
	var corrupt offline.Corruptions
	out := make([]PageAttempt, 0, len(rows))
	for _, row := range rows {
		a, err := attemptFromRecord(row)
		if err != nil {
			corrupt.Add(ctx, r.logger, AttemptsTable, offline.KeyString(row, attemptKeyCols...), err)
			continue
		}
		out = append(out, a)
	}
	return out, corrupt.Items(), nil
}

func retakeRecord(rt Retake) store.Record {
	rec := store.Record{
		"lessonid":     rt.LessonID,
		"retake":       rt.Retake,
		"courseid":     rt.CourseID,
		"finished":     rt.Finished,
		"outoftime":    rt.OutOfTime,
		"timemodified": rt.TimeModified,
	}
	if rt.LastQuestionPage != 0 {
		rec["lastquestionpage"] = rt.LastQuestionPage
	}
	return rec
}

func retakeFromRecord(rec store.Record) Retake {
	return Retake{
		LessonID:         rec.Int("lessonid"),
		Retake:           rec.Int("retake"),
		CourseID:         rec.Int("courseid"),
		Finished:         rec.Bool("finished"),
		OutOfTime:        rec.Bool("outoftime"),
		TimeModified:     rec.Int("timemodified"),
		LastQuestionPage: rec.Int("lastquestionpage"),
	}
}

func attemptRecord(a PageAttempt) (store.Record, error) {
	rec := store.Record{
		"lessonid":     a.LessonID,
		"retake":       a.Retake,
		"pageid":       a.PageID,
		"timemodified": a.TimeModified,
		"courseid":     a.CourseID,
		"type":         int64(a.Type),
		"newpageid":    a.NewPageID,
		"correct":      a.Correct,
		"answerid":     a.AnswerID,
	}
	if a.Data != nil {
		text, err := payload.Encode(a.Data)
		if err != nil {
			return nil, err
		}
		rec["data"] = text
	}
	if a.UserAnswer != nil {
		text, err := payload.Encode(a.UserAnswer)
		if err != nil {
			return nil, err
		}
		rec["useranswer"] = text
	}
	return rec, nil
}

func attemptFromRecord(rec store.Record) (PageAttempt, error) {
	a := PageAttempt{
		LessonID:     rec.Int("lessonid"),
		Retake:       rec.Int("retake"),
		PageID:       rec.Int("pageid"),
		TimeModified: rec.Int("timemodified"),
		CourseID:     rec.Int("courseid"),
		Type:         PageType(rec.Int("type")),
		NewPageID:    rec.Int("newpageid"),
		Correct:      rec.Bool("correct"),
		AnswerID:     rec.Int("answerid"),
	}
	if !rec.IsNull("data") {
		data, err := payload.DecodeObject(rec.Text("data"))
		if err != nil {
			return PageAttempt{}, fmt.Errorf("data: %w", err)
		}
		a.Data = data
	}
	if !rec.IsNull("useranswer") {
		v, err := payload.Decode(rec.Text("useranswer"))
		if err != nil {
			return PageAttempt{}, fmt.Errorf("useranswer: %w", err)
		}
		a.UserAnswer = v
	}
	return a, nil
}
