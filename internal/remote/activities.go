package remote

import (
	"context"
	"fmt"
	"net/url"

	"github.com/roach88/learnsync/internal/assign"
	"github.com/roach88/learnsync/internal/forum"
	"github.com/roach88/learnsync/internal/lesson"
	"github.com/roach88/learnsync/internal/syncerr"
)

// Web-service functions used by the syncers.
const (
	FuncAddDiscussion     = "mod_forum_add_discussion"
	FuncDiscussionPosts   = "mod_forum_get_forum_discussion_posts"
	FuncAddDiscussionPost = "mod_forum_add_discussion_post"
	FuncLessonAccessInfo  = "mod_lesson_get_lesson_access_information"
	FuncProcessPage       = "mod_lesson_process_page"
	FuncFinishAttempt     = "mod_lesson_finish_attempt"
	FuncSaveGrade         = "mod_assign_save_grade"
)

var (
	_ forum.Remote  = (*Client)(nil)
	_ lesson.Remote = (*Client)(nil)
	_ assign.Remote = (*Client)(nil)
)

// AddDiscussion creates a discussion and looks up the id of its first post,
// which replies need as their parent.
func (c *Client) AddDiscussion(ctx context.Context, siteID string, d forum.NewDiscussion, idempotencyKey string) (forum.Created, error) {
	form := url.Values{}
	form.Set("forumid", itoa(d.ForumID))
	form.Set("subject", d.Subject)
	form.Set("message", d.Message)
	form.Set("groupid", itoa(d.GroupID))
	if err := setNameValues(form, "options", d.Options); err != nil {
		return forum.Created{}, err
	}

	var added struct {
		DiscussionID int64 `json:"discussionid"`
	}
	if err := c.Call(ctx, siteID, FuncAddDiscussion, form, idempotencyKey, &added); err != nil {
		return forum.Created{}, err
	}

	postID, err := c.firstPost(ctx, siteID, added.DiscussionID)
	if err != nil {
		return forum.Created{}, err
	}
	return forum.Created{DiscussionID: added.DiscussionID, PostID: postID}, nil
}

func (c *Client) firstPost(ctx context.Context, siteID string, discussionID int64) (int64, error) {
	form := url.Values{}
	form.Set("discussionid", itoa(discussionID))
	var res struct {
		Posts []struct {
			ID     int64 `json:"id"`
			Parent int64 `json:"parent"`
		} `json:"posts"`
	}
	if err := c.Call(ctx, siteID, FuncDiscussionPosts, form, "", &res); err != nil {
		return 0, err
	}
	for _, p := range res.Posts {
		if p.Parent == 0 {
			return p.ID, nil
		}
	}
	return 0, syncerr.RemoteRejected("invalidresponse", fmt.Sprintf("discussion %d has no first post", discussionID))
}

// ReplyPost replies to a post and returns the new post id.
func (c *Client) ReplyPost(ctx context.Context, siteID string, r forum.Reply, idempotencyKey string) (int64, error) {
	form := url.Values{}
	form.Set("postid", itoa(r.PostID))
	form.Set("subject", r.Subject)
	form.Set("message", r.Message)
	if err := setNameValues(form, "options", r.Options); err != nil {
		return 0, err
	}

	var res struct {
		PostID int64 `json:"postid"`
	}
	if err := c.Call(ctx, siteID, FuncAddDiscussionPost, form, idempotencyKey, &res); err != nil {
		return 0, err
	}
	return res.PostID, nil
}

// CurrentRetake returns the number of the retake the server expects next,
// i.e. how many attempts the user has made.
func (c *Client) CurrentRetake(ctx context.Context, siteID string, lessonID int64) (int64, error) {
	form := url.Values{}
	form.Set("lessonid", itoa(lessonID))
	var res struct {
		AttemptsCount int64 `json:"attemptscount"`
	}
	if err := c.Call(ctx, siteID, FuncLessonAccessInfo, form, "", &res); err != nil {
		return 0, err
	}
	return res.AttemptsCount, nil
}

// ProcessPage submits the answer to one lesson page.
func (c *Client) ProcessPage(ctx context.Context, siteID string, a lesson.PageAttempt, idempotencyKey string) error {
	form := url.Values{}
	form.Set("lessonid", itoa(a.LessonID))
	form.Set("pageid", itoa(a.PageID))
	form.Set("review", "0")
	if err := setNameValues(form, "data", a.Data); err != nil {
		return err
	}
	return c.Call(ctx, siteID, FuncProcessPage, form, idempotencyKey, nil)
}

// FinishRetake closes a lesson retake.
func (c *Client) FinishRetake(ctx context.Context, siteID string, r lesson.Retake, idempotencyKey string) error {
	form := url.Values{}
	form.Set("lessonid", itoa(r.LessonID))
	form.Set("outoftime", boolString(r.OutOfTime))
	return c.Call(ctx, siteID, FuncFinishAttempt, form, idempotencyKey, nil)
}

// SaveFeedback saves feedback for a student without changing the grade.
func (c *Client) SaveFeedback(ctx context.Context, siteID string, f assign.Feedback, idempotencyKey string) error {
	form := url.Values{}
	form.Set("assignmentid", itoa(f.AssignID))
	form.Set("userid", itoa(f.UserID))
	form.Set("grade", "-1")
	form.Set("attemptnumber", "-1")
	form.Set("addattempt", "0")
	form.Set("workflowstate", "")
	form.Set("applytoall", "0")
	if err := setNested(form, "plugindata", f.PluginData); err != nil {
		return err
	}
	return c.Call(ctx, siteID, FuncSaveGrade, form, idempotencyKey, nil)
}

func boolString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
