package objectstore

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

// CloudinaryConfig holds the account credentials for the Cloudinary backend.
type CloudinaryConfig struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

// Cloudinary stores photos through Cloudinary's signed upload REST API.
// Keys map to public ids under Folder with the extension stripped.
type Cloudinary struct {
	cfg         CloudinaryConfig
	apiBase     string
	deliverBase string
	http        *http.Client
	now         func() time.Time
}

// NewCloudinary creates a Cloudinary-backed store.
func NewCloudinary(cfg CloudinaryConfig) *Cloudinary {
	return &Cloudinary{
		cfg:         cfg,
		apiBase:     "https://api.cloudinary.com/v1_1/" + cfg.CloudName,
		deliverBase: "https://res.cloudinary.com/" + cfg.CloudName,
		http:        &http.Client{Timeout: 30 * time.Second},
		now:         time.Now,
	}
}

type cloudinaryResource struct {
	PublicID  string `json:"public_id"`
	SecureURL string `json:"secure_url"`
	Format    string `json:"format"`
}

// Put uploads data as the public id derived from key, overwriting any previous version.
func (c *Cloudinary) Put(ctx context.Context, key string, data []byte, _ string) error {
	params := map[string]string{
		"public_id": c.publicID(key),
		"overwrite": "true",
		"timestamp": strconv.FormatInt(c.now().Unix(), 10),
	}
	params["signature"] = c.sign(params)
	params["api_key"] = c.cfg.APIKey

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range params {
		_ = w.WriteField(k, v)
	}
	part, err := w.CreateFormFile("file", path.Base(key))
	if err != nil {
		return fmt.Errorf("%w: create form file: %v", ErrUploadFailed, err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("%w: write file: %v", ErrUploadFailed, err)
	}
	w.Close()

	var res cloudinaryResource
	if err := c.do(ctx, http.MethodPost, c.apiBase+"/image/upload", w.FormDataContentType(), &buf, false, &res); err != nil {
		return fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	return nil
}

// URLFor returns the delivery URL of an existing key. Cloudinary delivery
// URLs do not expire, so expiry is not encoded.
func (c *Cloudinary) URLFor(ctx context.Context, key string, _ time.Duration) (string, error) {
	var res cloudinaryResource
	err := c.do(ctx, http.MethodGet, c.apiBase+"/resources/image/upload/"+c.publicID(key), "", nil, true, &res)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return "", err
	}
	if res.SecureURL != "" {
		return res.SecureURL, nil
	}
	return fmt.Sprintf("%s/image/upload/%s.%s", c.deliverBase, res.PublicID, res.Format), nil
}

// List walks the admin resources API for every public id under prefix.
func (c *Cloudinary) List(ctx context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	folderPrefix := ""
	if c.cfg.Folder != "" {
		folderPrefix = c.cfg.Folder + "/"
	}

	cursor := ""
	for {
		q := url.Values{}
		q.Set("type", "upload")
		q.Set("prefix", folderPrefix+prefix)
		q.Set("max_results", "500")
		if cursor != "" {
			q.Set("next_cursor", cursor)
		}
		var page struct {
			Resources  []cloudinaryResource `json:"resources"`
			NextCursor string               `json:"next_cursor"`
		}
		if err := c.do(ctx, http.MethodGet, c.apiBase+"/resources/image?"+q.Encode(), "", nil, true, &page); err != nil {
			return nil, err
		}
		for _, r := range page.Resources {
			key := strings.TrimPrefix(r.PublicID, folderPrefix)
			if r.Format != "" {
				key += "." + r.Format
			}
			keys = append(keys, key)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete destroys the image behind key.
func (c *Cloudinary) Delete(ctx context.Context, key string) (bool, error) {
	params := map[string]string{
		"public_id": c.publicID(key),
		"timestamp": strconv.FormatInt(c.now().Unix(), 10),
	}
	params["signature"] = c.sign(params)
	params["api_key"] = c.cfg.APIKey

	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	var res struct {
		Result string `json:"result"`
	}
	err := c.do(ctx, http.MethodPost, c.apiBase+"/image/destroy", "application/x-www-form-urlencoded",
		strings.NewReader(form.Encode()), false, &res)
	if err != nil {
		return false, err
	}
	return res.Result == "ok", nil
}

func (c *Cloudinary) publicID(key string) string {
	id := strings.TrimSuffix(key, path.Ext(key))
	if c.cfg.Folder != "" {
		id = c.cfg.Folder + "/" + id
	}
	return id
}

// sign computes the API signature: sorted k=v pairs joined by & plus the
// secret, SHA-1 hex encoded. api_key, file and resource_type are excluded.
func (c *Cloudinary) sign(params map[string]string) string {
	exclude := map[string]bool{"api_key": true, "file": true, "resource_type": true}

	pairs := make([]string, 0, len(params))
	for k, v := range params {
		if !exclude[k] && v != "" {
			pairs = append(pairs, k+"="+v)
		}
	}
	sort.Strings(pairs)

	h := sha1.New()
	h.Write([]byte(strings.Join(pairs, "&") + c.cfg.APISecret))
	return fmt.Sprintf("%x", h.Sum(nil))
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("cloudinary: status %d: %s", e.code, e.body)
}

func isStatus(err error, code int) bool {
	var se *statusError
	return errors.As(err, &se) && se.code == code
}

func (c *Cloudinary) do(ctx context.Context, method, endpoint, contentType string, body io.Reader, admin bool, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("cloudinary: create request failed: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if admin {
		req.SetBasicAuth(c.cfg.APIKey, c.cfg.APISecret)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cloudinary: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode, body: string(data)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("cloudinary: decode response failed: %w", err)
	}
	return nil
}
