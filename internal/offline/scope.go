package offline

import (
	"context"

	"github.com/roach88/learnsync/internal/site"
	"github.com/roach88/learnsync/internal/store"
)

// Scope selects whose queue an operation works on. The zero value means the
// current site and its logged-in user.
type Scope struct {
	SiteID string
	UserID int64
}

// Sites resolves a site id ("" for the current site) to its namespace.
// *site.Provider implements it.
type Sites interface {
	Get(ctx context.Context, siteID string) (*site.Handle, error)
}

// Resolved is a Scope with its defaults filled in.
type Resolved struct {
	SiteID string
	UserID int64
	DB     *store.Store
}

// Resolve fills in the site and user defaults of sc.
func Resolve(ctx context.Context, sites Sites, sc Scope) (Resolved, error) {
	h, err := sites.Get(ctx, sc.SiteID)
	if err != nil {
		return Resolved{}, err
	}
	userID := sc.UserID
	if userID == 0 {
		userID = h.Site.UserID
	}
	return Resolved{SiteID: h.Site.ID, UserID: userID, DB: h.DB}, nil
}
