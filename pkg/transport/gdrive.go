package transport

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"github.com/glorpus-work/mofetch/pkg/auth"
	"github.com/glorpus-work/mofetch/pkg/errors"
	"github.com/glorpus-work/mofetch/pkg/fsutil"
	"golang.org/x/net/html"
)

// DefaultGDriveBaseURL serves direct downloads of Drive files.
const DefaultGDriveBaseURL = "https://drive.usercontent.google.com"

var gdriveHosts = map[string]bool{
	"drive.google.com":             true,
	"docs.google.com":              true,
	"drive.usercontent.google.com": true,
}

// maxConsentPage bounds how much of an HTML interstitial is parsed.
const maxConsentPage = 2 << 20

// GDriveBackend downloads files shared through Google Drive links. Large files
// are served behind a virus-scan consent page which is negotiated automatically.
type GDriveBackend struct {
	client    *http.Client
	userAgent string
	auth      auth.HostMap
	baseURL   string
	copier    progressCopier
}

// NewGDriveBackend creates the Google Drive backend.
func NewGDriveBackend(opts Options) *GDriveBackend {
	opts = opts.withDefaults()
	return &GDriveBackend{
		client:    opts.Client,
		userAgent: opts.UserAgent,
		auth:      opts.Auth,
		baseURL:   DefaultGDriveBaseURL,
		copier:    newProgressCopier(opts),
	}
}

// Kind returns KindGDrive.
func (b *GDriveBackend) Kind() Kind { return KindGDrive }

// Accepts reports whether rawURL is a Drive link carrying a file id.
func (b *GDriveBackend) Accepts(rawURL string) bool {
	_, ok := driveFileID(rawURL)
	return ok
}

// CheckAvailable resolves the share link down to the file body.
func (b *GDriveBackend) CheckAvailable(ctx context.Context, rawURL string) error {
	res, err := b.resolve(ctx, rawURL)
	if err != nil {
		return err
	}
	_ = res.resp.Body.Close()
	return nil
}

// ResolveFilename returns the served file name.
func (b *GDriveBackend) ResolveFilename(ctx context.Context, rawURL string) string {
	res, err := b.resolve(ctx, rawURL)
	if err != nil {
		return ""
	}
	_ = res.resp.Body.Close()
	return res.filename()
}

// Download streams the file behind rawURL into dst.
func (b *GDriveBackend) Download(ctx context.Context, rawURL string, dst io.Writer, fn ProgressFunc) error {
	res, err := b.resolve(ctx, rawURL)
	if err != nil {
		return err
	}
	defer func() { _ = res.resp.Body.Close() }()

	_, err = b.copier.copy(ctx, dst, res.resp.Body, contentLength(res.resp), fn)
	return err
}

// driveResult is a response positioned at the file body.
type driveResult struct {
	resp *http.Response
	// pageName is the file name shown on the consent page, if one was seen.
	pageName string
}

func (r driveResult) filename() string {
	if name := filenameFromDisposition(r.resp.Header.Get("Content-Disposition")); name != "" {
		return name
	}
	return fsutil.SanitizeFilename(r.pageName)
}

func (b *GDriveBackend) resolve(ctx context.Context, rawURL string) (driveResult, error) {
	id, ok := driveFileID(rawURL)
	if !ok {
		return driveResult{}, errors.Wrapf(errors.ErrUnhandledURL, "not a Google Drive file link: %s", redact(rawURL))
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return driveResult{}, errors.Wrap(err, "failed to create cookie jar")
	}
	client := *b.client
	client.Jar = jar

	target := b.baseURL + "/download?" + url.Values{"id": {id}, "export": {"download"}}.Encode()
	resp, err := b.get(ctx, &client, target)
	if err != nil {
		return driveResult{}, err
	}
	if !isHTML(resp) {
		return driveResult{resp: resp}, nil
	}

	page, err := parseConsentPage(resp)
	_ = resp.Body.Close()
	if err != nil {
		return driveResult{}, err
	}

	next, err := page.confirmURL(resp.Request.URL, jar, id)
	if err != nil {
		return driveResult{}, err
	}
	resp, err = b.get(ctx, &client, next)
	if err != nil {
		return driveResult{}, err
	}
	if isHTML(resp) {
		_ = resp.Body.Close()
		return driveResult{}, errors.Wrap(errors.ErrSourceUnavailable, "google drive did not release the file after confirmation (quota exceeded or access denied)")
	}
	return driveResult{resp: resp, pageName: page.name}, nil
}

func (b *GDriveBackend) get(ctx context.Context, client *http.Client, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("User-Agent", b.userAgent)
	if err := b.auth.Apply(req); err != nil {
		return nil, errors.Wrap(err, "failed to apply credentials")
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrapf(errors.ErrSourceUnavailable, "google drive: %v", err)
	}
	if err := classifyStatus(resp); err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

// driveFileID extracts the file id from /file/d/<id>/... paths or an id query parameter.
func driveFileID(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", false
	}
	if !gdriveHosts[strings.ToLower(u.Hostname())] {
		return "", false
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(segments); i++ {
		if segments[i] == "file" && segments[i+1] == "d" && segments[i+2] != "" {
			return segments[i+2], true
		}
	}
	if id := u.Query().Get("id"); id != "" {
		return id, true
	}
	return "", false
}

func isHTML(resp *http.Response) bool {
	if disp := resp.Header.Get("Content-Disposition"); strings.HasPrefix(strings.ToLower(disp), "attachment") {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	return err == nil && mediaType == "text/html"
}

// consentPage is what was learned from the interstitial HTML.
type consentPage struct {
	formAction string
	formValues url.Values
	confirmRef string
	name       string
}

func parseConsentPage(resp *http.Response) (*consentPage, error) {
	doc, err := html.Parse(io.LimitReader(resp.Body, maxConsentPage))
	if err != nil {
		return nil, errors.Wrap(errors.ErrSourceUnavailable, "failed to parse google drive page")
	}

	page := &consentPage{}
	var walk func(n *html.Node, form *html.Node)
	walk = func(n *html.Node, form *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "form":
				if page.formAction == "" && (attr(n, "id") == "download-form" || strings.Contains(attr(n, "action"), "download")) {
					page.formAction = attr(n, "action")
					page.formValues = url.Values{}
					form = n
				}
			case "input":
				if form != nil && attr(n, "type") == "hidden" && attr(n, "name") != "" {
					page.formValues.Set(attr(n, "name"), attr(n, "value"))
				}
			case "a":
				href := attr(n, "href")
				if page.confirmRef == "" && strings.Contains(href, "confirm=") {
					page.confirmRef = href
				}
			case "span":
				if page.name == "" && strings.Contains(attr(n, "class"), "uc-name-size") {
					page.name = anchorText(n)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, form)
		}
	}
	walk(doc, nil)
	return page, nil
}

// confirmURL picks the follow-up request: the download form, a confirm link,
// or the download_warning cookie, in that order.
func (p *consentPage) confirmURL(base *url.URL, jar http.CookieJar, id string) (string, error) {
	if p.formAction != "" {
		action, err := base.Parse(p.formAction)
		if err != nil {
			return "", errors.Wrap(errors.ErrSourceUnavailable, "invalid google drive form action")
		}
		q := action.Query()
		for k, v := range p.formValues {
			q[k] = v
		}
		action.RawQuery = q.Encode()
		return action.String(), nil
	}
	if p.confirmRef != "" {
		ref, err := base.Parse(p.confirmRef)
		if err != nil {
			return "", errors.Wrap(errors.ErrSourceUnavailable, "invalid google drive confirmation link")
		}
		return ref.String(), nil
	}
	for _, c := range jar.Cookies(base) {
		if strings.HasPrefix(c.Name, "download_warning") {
			next := *base
			q := next.Query()
			q.Set("id", id)
			q.Set("confirm", c.Value)
			next.RawQuery = q.Encode()
			return next.String(), nil
		}
	}
	return "", fmt.Errorf("%w: google drive returned a page without a download link", errors.ErrSourceUnavailable)
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func anchorText(n *html.Node) string {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "a" {
			var sb strings.Builder
			for t := c.FirstChild; t != nil; t = t.NextSibling {
				if t.Type == html.TextNode {
					sb.WriteString(t.Data)
				}
			}
			return strings.TrimSpace(sb.String())
		}
	}
	return ""
}
