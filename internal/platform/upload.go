package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/avast/retry-go/v4"
)

// RotateSegment rotates a set of pages during upload.
type RotateSegment struct {
	Pages   string `json:"pages"`
	Degrees int    `json:"degrees"`
}

// Mutation configures file modifications applied during upload
// (rotation, page splits, page removal).
type Mutation struct {
	Rotate         *int              `json:"rotate,omitempty"`
	Split          string            `json:"split,omitempty"`
	RemovePages    string            `json:"remove_pages,omitempty"`
	SplitSegments  []string          `json:"split_segments,omitempty"`
	RotateSegments []RotateSegment   `json:"rotate_segments,omitempty"`
	SplitExprs     map[string]string `json:"split_exprs,omitempty"`
}

// FilePath is one file to upload. Path is a local path or a URL; a mix of
// local and remote paths in one batch is rejected. Setting UID overwrites
// an existing file as a new version.
type FilePath struct {
	Name   string
	Path   string
	UID    string
	Mutate *Mutation
}

func (f FilePath) isLocal() bool {
	u, err := url.Parse(f.Path)
	if err != nil {
		return true
	}
	return u.Scheme == "" || u.Scheme == "file"
}

// UploadFiles uploads a batch of files into a collection (or, with an
// empty collection id, into the org's unfiled documents). Local files go
// through the multipart endpoint, URLs through the JSON endpoint. When a
// mutation produces a dynamic number of documents (page splitting), the
// returned uids are resolved by polling for the split results.
func (c *Client) UploadFiles(ctx context.Context, collectionID string, files []FilePath) ([]string, error) {
	if len(files) == 0 {
		return nil, nil
	}

	local := 0
	for _, f := range files {
		if f.isLocal() {
			local++
		}
	}
	if local > 0 && local != len(files) {
		return nil, fmt.Errorf("all files must be local or URLs, not a mix (%d/%d local)", local, len(files))
	}

	if local > 0 {
		return c.uploadMultipart(ctx, collectionID, files)
	}
	return c.uploadURL(ctx, collectionID, files)
}

func buildFileObject(f FilePath, includePath bool) map[string]any {
	file := map[string]any{"name": f.Name}
	if includePath {
		file["path"] = f.Path
	}
	if f.Mutate != nil {
		file["mutate"] = f.Mutate
	}
	obj := map[string]any{"File": file}
	if f.UID != "" {
		obj["uid"] = f.UID
	}
	return obj
}

func (c *Client) uploadURL(ctx context.Context, collectionID string, files []FilePath) ([]string, error) {
	data := make([]map[string]any, 0, len(files))
	for _, f := range files {
		data = append(data, buildFileObject(f, true))
	}

	status, body, err := c.do(ctx, http.MethodPost, c.collectionURL(collectionID, true), map[string]any{"data": data})
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, &APIError{StatusCode: status, Body: string(body)}
	}
	return c.handleUploadResponse(ctx, body)
}

func (c *Client) uploadMultipart(ctx context.Context, collectionID string, files []FilePath) ([]string, error) {
	for _, f := range files {
		if f.UID != "" {
			return nil, fmt.Errorf("unsupported: specifying a uid in a multipart upload (%s)", f.UID)
		}
	}

	var respBody []byte
	err := retry.Do(
		func() error {
			body, contentType, err := buildMultipartBody(files)
			if err != nil {
				return retry.Unrecoverable(err)
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.collectionURL(collectionID, true), body)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.Header.Set("X-Access-Token", c.token)
			req.Header.Set("Content-Type", contentType)

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			raw, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode == http.StatusTooManyRequests {
				c.log.Warn("upload rate limited, backing off")
				return fmt.Errorf("rate limited")
			}
			if resp.StatusCode >= 300 {
				return retry.Unrecoverable(&APIError{StatusCode: resp.StatusCode, Body: string(raw)})
			}
			respBody = raw
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(60),
		retry.Delay(2*time.Second),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}

	return c.handleUploadResponse(ctx, respBody)
}

func buildMultipartBody(files []FilePath) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, f := range files {
		meta, err := json.Marshal(buildFileObject(f, false))
		if err != nil {
			return nil, "", err
		}
		if err := w.WriteField("data", string(meta)); err != nil {
			return nil, "", err
		}
	}
	for _, f := range files {
		part, err := w.CreateFormFile("file", f.Name)
		if err != nil {
			return nil, "", err
		}
		src, err := os.Open(f.Path)
		if err != nil {
			return nil, "", err
		}
		_, err = io.Copy(part, src)
		src.Close()
		if err != nil {
			return nil, "", fmt.Errorf("failed to read %s: %w", f.Path, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func (c *Client) handleUploadResponse(ctx context.Context, body []byte) ([]string, error) {
	var out struct {
		UIDs       []string `json:"uids"`
		UploadUIDs []string `json:"upload_uids"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode upload response: %w", err)
	}
	if out.UIDs != nil {
		return out.UIDs, nil
	}
	if out.UploadUIDs != nil {
		return c.fetchSplitResults(ctx, out.UploadUIDs, 60*time.Second)
	}
	return nil, nil
}

// fetchSplitResults resolves the document uids produced by a mutating
// upload (page splits yield an unpredictable number of children).
func (c *Client) fetchSplitResults(ctx context.Context, uploadUIDs []string, timeout time.Duration) ([]string, error) {
	query := fmt.Sprintf(
		"@`files`[uid, upload_uid: File.upload_uid, child: -eq(uid, File.upload_uid)] in(File.upload_uid, %s) and child=true",
		QuoteList(uploadUIDs))

	mustSee := make(map[string]struct{}, len(uploadUIDs))
	for _, u := range uploadUIDs {
		mustSee[u] = struct{}{}
	}

	var uids []string
	cursor := ""
	for attempt := 0; attempt < maxPollAttempts && len(mustSee) > 0; attempt++ {
		resp, err := c.QueryWith(ctx, query, QueryOptions{Mode: "poll", Cursor: cursor, Timeout: timeout})
		if err != nil {
			return nil, err
		}
		changes, err := resp.Changes()
		if err != nil {
			return nil, err
		}
		for _, ch := range changes {
			if ch.Action != "insert" {
				continue
			}
			var row struct {
				UID       string `json:"uid"`
				UploadUID string `json:"upload_uid"`
			}
			if err := json.Unmarshal(ch.Data, &row); err != nil {
				return nil, fmt.Errorf("failed to decode split result: %w", err)
			}
			delete(mustSee, row.UploadUID)
			uids = append(uids, row.UID)
		}
		cursor = resp.Cursor
	}
	if len(mustSee) > 0 {
		return nil, fmt.Errorf("%w: %d uploads still unresolved", ErrPollTimeout, len(mustSee))
	}
	return uids, nil
}

func (c *Client) collectionURL(collectionID string, async bool) string {
	if collectionID != "" {
		return c.resourceURL("fc", collectionID, async)
	}
	return c.resourceURL("files", "", async)
}

func (c *Client) resourceURL(resourceType, resourceID string, async bool) string {
	u := urljoin(c.apiURL, resourceType)
	if resourceID != "" {
		u = urljoin(u, resourceID)
	}
	if async {
		u += "?async=1"
	}
	return u
}
