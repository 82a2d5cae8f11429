package assign

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

// Repository stores feedback drafts. The grader is the scope's user.
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

// SaveDraft stores the draft of one plugin's feedback for a student,
// replacing any earlier draft.
func (r *Repository) SaveDraft(ctx context.Context, assignID, studentID int64, plugin string, data payload.Object, sc offline.Scope) (Draft, error) {
	if plugin == "" {
		return Draft{}, fmt.Errorf("save draft: plugin is required")
	}
	res, err := offline.Resolve(ctx, r.sites, sc)
	if err != nil {
		return Draft{}, fmt.Errorf("save draft: %w", err)
	}

	d := Draft{
		AssignID:     assignID,
		UserID:       studentID,
		Plugin:       plugin,
		GraderID:     res.UserID,
		Data:         payload.NormalizeObject(data),
		TimeModified: r.clock.Now(),
	}
	text, err := payload.Encode(d.Data)
	if err != nil {
		return Draft{}, fmt.Errorf("save draft: %w", err)
	}

	err = res.DB.Upsert(ctx, DraftsTable, store.Record{
		"assignid":     d.AssignID,
		"userid":       d.UserID,
		"plugin":       d.Plugin,
		"graderid":     d.GraderID,
		"data":         text,
		"timemodified": d.TimeModified,
	})
	if err != nil {
		return Draft{}, fmt.Errorf("save draft: %w", err)
	}
	return d, nil
}

// Draft returns one stored draft, or NotFound.
func (r *Repository) Draft(ctx context.Context, assignID, studentID int64, plugin string, sc offline.Scope) (Draft, error) {
	res, err := offline.Resolve(ctx, r.sites, sc)
	if err != nil {
		return Draft{}, fmt.Errorf("get draft: %w", err)
	}
	rows, err := res.DB.Find(ctx, DraftsTable, store.Where{
		"assignid": assignID,
		"userid":   studentID,
		"plugin":   plugin,
		"graderid": res.UserID,
	})
	if err != nil {
		return Draft{}, fmt.Errorf("get draft: %w", err)
	}
	if len(rows) == 0 {
		return Draft{}, syncerr.NotFound(DraftsTable, fmt.Sprintf("no %s draft for user %d in assignment %d", plugin, studentID, assignID))
	}
	d, err := draftFromRecord(rows[0])
	if err != nil {
		return Draft{}, syncerr.CorruptRecord(DraftsTable, "decode data", err)
	}
	return d, nil
}

// Drafts returns the grader's drafts in an assignment.
func (r *Repository) Drafts(ctx context.Context, assignID int64, sc offline.Scope) ([]Draft, []offline.Corruption, error) {
	res, err := offline.Resolve(ctx, r.sites, sc)
	if err != nil {
		return nil, nil, fmt.Errorf("list drafts: %w", err)
	}
	return r.findDrafts(ctx, res.DB, store.Where{"assignid": assignID, "graderid": res.UserID})
}

// StudentDrafts returns the grader's drafts for one student.
func (r *Repository) StudentDrafts(ctx context.Context, assignID, studentID int64, sc offline.Scope) ([]Draft, []offline.Corruption, error) {
	res, err := offline.Resolve(ctx, r.sites, sc)
	if err != nil {
		return nil, nil, fmt.Errorf("list student drafts: %w", err)
	}
	return r.findDrafts(ctx, res.DB, store.Where{"assignid": assignID, "userid": studentID, "graderid": res.UserID})
}

// HasDrafts reports whether the grader has drafts in an assignment.
func (r *Repository) HasDrafts(ctx context.Context, assignID int64, sc offline.Scope) (bool, error) {
	res, err := offline.Resolve(ctx, r.sites, sc)
	if err != nil {
		return false, fmt.Errorf("has drafts: %w", err)
	}
	n, err := res.DB.Count(ctx, DraftsTable, store.Where{"assignid": assignID, "graderid": res.UserID})
	if err != nil {
		return false, fmt.Errorf("has drafts: %w", err)
	}
	return n > 0, nil
}

// RemoveDraft deletes one draft. Removing a missing draft is not an error.
func (r *Repository) RemoveDraft(ctx context.Context, assignID, studentID int64, plugin string, sc offline.Scope) error {
	res, err := offline.Resolve(ctx, r.sites, sc)
	if err != nil {
		return fmt.Errorf("remove draft: %w", err)
	}
	_, err = res.DB.Delete(ctx, DraftsTable, store.Where{
		"assignid": assignID,
		"userid":   studentID,
		"plugin":   plugin,
		"graderid": res.UserID,
	})
	if err != nil {
		return fmt.Errorf("remove draft: %w", err)
	}
	return nil
}

// AssignmentsWithDrafts lists the assignments on a site where the site's
// user has drafts, ascending.
func (r *Repository) AssignmentsWithDrafts(ctx context.Context, siteID string) ([]int64, error) {
	res, err := offline.Resolve(ctx, r.sites, offline.Scope{SiteID: siteID})
	if err != nil {
		return nil, fmt.Errorf("list assignments with drafts: %w", err)
	}
	rows, err := res.DB.Distinct(ctx, DraftsTable, []string{"assignid"}, store.Where{"graderid": res.UserID})
	if err != nil {
		return nil, fmt.Errorf("list assignments with drafts: %w", err)
	}
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.Int("assignid"))
	}
	slices.Sort(ids)
	return ids, nil
}

func (r *Repository) findDrafts(ctx context.Context, db *store.Store, where store.Where) ([]Draft, []offline.Corruption, error) {
	rows, err := db.Find(ctx, DraftsTable, where)
	if err != nil {
		return nil, nil, fmt.Errorf("list drafts: %w", err)
	}
	var corrupt offline.Corruptions
	out := make([]Draft, 0, len(rows))
	for _, row := range rows {
		d, err := draftFromRecord(row)
		if err != nil {
			corrupt.Add(ctx, r.logger, DraftsTable, offline.KeyString(row, "assignid", "userid", "plugin", "graderid"), err)
			continue
		}
		out = append(out, d)
	}
	return out, corrupt.Items(), nil
}

func draftFromRecord(rec store.Record) (Draft, error) {
	data := payload.Object{}
	if !rec.IsNull("data") {
		var err error
		if data, err = payload.DecodeObject(rec.Text("data")); err != nil {
			return Draft{}, err
		}
	}
	return Draft{
		AssignID:     rec.Int("assignid"),
		UserID:       rec.Int("userid"),
		Plugin:       rec.Text("plugin"),
		GraderID:     rec.Int("graderid"),
		Data:         data,
		TimeModified: rec.Int("timemodified"),
	}, nil
}
