// Package remote pulls OSTree repositories over plain HTTP.
package remote

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/odvcencio/ostsync/pkg/ostree"
	"github.com/pkg/errors"
)

// ClientOptions configures the HTTP client.
type ClientOptions struct {
	Timeout     time.Duration // HTTP client timeout (default 60s)
	MaxAttempts int           // retry attempts (default 3)
	Backoff     time.Duration // first retry delay, doubled per attempt (default 1s)
}

// Response limits per file type.
const (
	responseLimitMeta   = 64 << 20 // 64MB: config, summary, refs
	responseLimitObject = 4 << 30  // 4GB
)

// Client fetches repository files relative to a base URL.
type Client struct {
	base        string
	httpClient  *http.Client
	token       string
	user        string
	pass        string
	maxAttempts int
	backoff     time.Duration
}

// NewClient creates a client with default options.
//
// Auth resolution order:
// 1) OSTSYNC_TOKEN (Bearer)
// 2) URL userinfo (Basic)
func NewClient(remoteURL string) (*Client, error) {
	return NewClientWithOptions(remoteURL, ClientOptions{})
}

// NewClientWithOptions creates a client with configurable options.
// Zero-value or negative fields in opts receive defaults.
func NewClientWithOptions(remoteURL string, opts ClientOptions) (*Client, error) {
	remoteURL = strings.TrimSpace(remoteURL)
	if remoteURL == "" {
		return nil, errors.New("remote URL is required")
	}
	u, err := url.Parse(remoteURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse remote URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, errors.Errorf("remote URL %q must be http(s) with a host", remoteURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}

	var user, pass string
	if u.User != nil {
		user = u.User.Username()
		pass, _ = u.User.Password()
		u.User = nil
	}
	u.RawQuery, u.Fragment = "", ""

	return &Client{
		base:        strings.TrimRight(u.String(), "/"),
		httpClient:  &http.Client{Timeout: opts.Timeout},
		token:       strings.TrimSpace(os.Getenv("OSTSYNC_TOKEN")),
		user:        user,
		pass:        pass,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
	}, nil
}

// URL returns the normalized base URL.
func (c *Client) URL() string { return c.base }

// Fetch GETs a repository-relative file. A 404 yields an error wrapping
// ostree.ErrObjectNotFound; any other failure wraps
// ostree.ErrObjectUnavailable.
func (c *Client) Fetch(ctx context.Context, rel string) ([]byte, error) {
	limit := int64(responseLimitMeta)
	if strings.HasPrefix(rel, "objects/") || strings.HasPrefix(rel, "deltas/") {
		limit = responseLimitObject
	}
	return c.fetchWithLimit(ctx, rel, limit)
}

func (c *Client) fetchWithLimit(ctx context.Context, rel string, maxBytes int64) ([]byte, error) {
	rel = strings.TrimPrefix(rel, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/"+rel, nil)
	if err != nil {
		return nil, err
	}
	c.applyAuth(req)
	req.Header.Set("Accept-Encoding", acceptEncoding)

	resp, err := retryDo(ctx, c.httpClient, req, c.maxAttempts, c.backoff)
	if err != nil {
		return nil, errors.Wrapf(stderrors.Join(err, ostree.ErrObjectUnavailable), "fetch %s", rel)
	}
	defer resp.Body.Close()

	body, done, err := decodeBody(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, errors.Wrapf(stderrors.Join(err, ostree.ErrObjectUnavailable), "fetch %s", rel)
	}
	defer done()
	data, err := io.ReadAll(io.LimitReader(body, maxBytes+1))
	if err != nil {
		return nil, errors.Wrapf(stderrors.Join(err, ostree.ErrObjectUnavailable), "fetch %s", rel)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.Wrapf(ostree.ErrObjectNotFound, "fetch %s", rel)
	case resp.StatusCode != http.StatusOK:
		msg := strings.TrimSpace(string(data))
		if msg == "" || len(msg) > 200 {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, errors.Wrapf(ostree.ErrObjectUnavailable, "fetch %s: remote request failed (%d): %s", rel, resp.StatusCode, msg)
	case int64(len(data)) > maxBytes:
		return nil, errors.Wrapf(ostree.ErrObjectUnavailable, "fetch %s: response exceeds %d bytes", rel, maxBytes)
	}
	return data, nil
}

// ListRefs returns the remote branches. The summary file is authoritative
// when present; otherwise each literal name is resolved through
// refs/heads/<name>. Glob patterns cannot be resolved without a summary and
// are skipped.
func (c *Client) ListRefs(ctx context.Context, names ...string) (map[string]ostree.Checksum, error) {
	data, err := c.Fetch(ctx, "summary")
	if err == nil {
		s, err := ostree.UnmarshalSummary(data)
		if err != nil {
			return nil, errors.Wrap(err, "decode remote summary")
		}
		refs := make(map[string]ostree.Checksum, len(s.Refs))
		for _, r := range s.Refs {
			refs[r.Name] = r.Checksum
		}
		return refs, nil
	}
	if !errors.Is(err, ostree.ErrObjectNotFound) {
		return nil, err
	}

	refs := make(map[string]ostree.Checksum)
	for _, name := range names {
		if strings.ContainsAny(name, "*?[{") {
			continue
		}
		head, err := c.Fetch(ctx, ostree.RefPath(name))
		if errors.Is(err, ostree.ErrObjectNotFound) {
			continue
		} else if err != nil {
			return nil, err
		}
		sum := ostree.Checksum(strings.TrimSpace(string(head)))
		if err := ostree.ValidateChecksum(sum); err != nil {
			return nil, errors.Wrapf(err, "remote ref %q", name)
		}
		refs[name] = sum
	}
	return refs, nil
}

func (c *Client) applyAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
		return
	}
	if c.user != "" {
		req.SetBasicAuth(c.user, c.pass)
	}
}
