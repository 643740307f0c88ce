package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"anoa.com/threadforum/internal/entity"
)

func (o *Observer) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(o.BaseURL, "/")+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+o.Token)

	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return ErrUnauthenticated
	default:
		return fmt.Errorf("GET %s: unexpected status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Prime materializes the root listing and, when threadID is set, the thread
// and the listing of the forum that owns it. Focus moves to the thread.
func (o *Observer) Prime(ctx context.Context, threadID string) error {
	o.defaults()

	var root struct {
		Data []*entity.Forum `json:"data"`
	}
	if err := o.get(ctx, "/api/forums", &root); err != nil {
		return err
	}
	o.Reconciler.LoadRoot(root.Data)
	if threadID == "" {
		return nil
	}

	for _, summary := range root.Data {
		var forum entity.Forum
		if err := o.get(ctx, "/api/forums/"+summary.ID, &forum); err != nil {
			return err
		}
		for _, t := range forum.Threads {
			if t.ID != threadID {
				continue
			}
			var thread entity.Thread
			if err := o.get(ctx, "/api/threads/"+threadID, &thread); err != nil {
				return err
			}
			o.Reconciler.LoadForum(&forum)
			o.Reconciler.LoadThread(forum.ID, &thread)
			o.Reconciler.SetFocus(Focus{ForumID: forum.ID, ThreadID: threadID})
			return nil
		}
	}
	return fmt.Errorf("thread %s not found", threadID)
}
