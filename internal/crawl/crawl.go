// Package crawl gathers short company context from a prospect's website.
package crawl

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// Kind classifies a page by what it tells about the company
type Kind string

const (
	KindHome      Kind = "home"
	KindAbout     Kind = "about"
	KindValues    Kind = "values"
	KindExpertise Kind = "expertise"
	KindProjects  Kind = "projects"
	KindOther     Kind = "other"
)

// kindKeywords are matched against the lower-cased URL path
var kindKeywords = []struct {
	kind     Kind
	keywords []string
}{
	{KindAbout, []string{"about", "a-propos", "apropos", "qui-sommes", "qui-nous-sommes", "notre-histoire", "histoire", "equipe", "team", "company", "entreprise"}},
	{KindValues, []string{"valeurs", "values", "mission", "engagement", "rse", "vision", "culture"}},
	{KindExpertise, []string{"expertise", "services", "savoir-faire", "competences", "solutions", "metiers", "offre"}},
	{KindProjects, []string{"projets", "projects", "realisations", "references", "portfolio", "clients", "cas-clients", "case"}},
}

// FetchError represents an error fetching one page
type FetchError struct {
	URL     string
	Message string
	Cause   error
}

func (e *FetchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("fetch error for %s: %s: %v", e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("fetch error for %s: %s", e.URL, e.Message)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

// Options configures the crawler
type Options struct {
	MaxDepth     int           // Link depth from the home page (default: 2)
	MaxPages     int           // Pages fetched per site (default: 10)
	Delay        time.Duration // Pause between requests to the same site (0 = none)
	Timeout      time.Duration // Per-request timeout (default: 10s)
	MaxPageChars int           // Text kept per page (default: 1500)
	UserAgent    string
}

func (o *Options) setDefaults() {
	if o.MaxDepth == 0 {
		o.MaxDepth = 2
	}
	if o.MaxPages == 0 {
		o.MaxPages = 10
	}
	if o.Timeout == 0 {
		o.Timeout = 10 * time.Second
	}
	if o.MaxPageChars == 0 {
		o.MaxPageChars = 1500
	}
	if o.UserAgent == "" {
		o.UserAgent = "Mozilla/5.0 (compatible; outreach/1.0)"
	}
}

// Page is one fetched page
type Page struct {
	URL  string
	Kind Kind
	Text string
}

// Profile is what the crawler learned about a site
type Profile struct {
	URL   string
	Pages []Page
}

// Crawler fetches a bounded number of same-host pages
type Crawler struct {
	client *http.Client
	opts   Options
	logger *slog.Logger
}

// New creates a crawler
func New(opts Options, logger *slog.Logger) *Crawler {
	opts.setDefaults()
	return &Crawler{
		client: &http.Client{Timeout: opts.Timeout},
		opts:   opts,
		logger: logger,
	}
}

type queued struct {
	url   string
	depth int
}

// Crawl walks website breadth-first, visiting classified pages before others.
// Only the home page failing is an error; later page failures are logged and skipped.
func (c *Crawler) Crawl(ctx context.Context, website string) (*Profile, error) {
	start, err := normalizeURL(website)
	if err != nil {
		return nil, &FetchError{URL: website, Message: "invalid URL", Cause: err}
	}

	profile := &Profile{URL: start.String()}
	visited := map[string]bool{}
	queue := []queued{{url: start.String(), depth: 0}}

	for len(queue) > 0 && len(profile.Pages) < c.opts.MaxPages {
		next := queue[0]
		queue = queue[1:]
		if visited[next.url] {
			continue
		}
		visited[next.url] = true

		if len(visited) > 1 && c.opts.Delay > 0 {
			select {
			case <-ctx.Done():
				return profile, ctx.Err()
			case <-time.After(c.opts.Delay):
			}
		}

		doc, err := c.fetch(ctx, next.url)
		if err != nil {
			if next.depth == 0 {
				return nil, err
			}
			c.logger.Debug("page fetch failed", "url", next.url, "error", err)
			continue
		}

		// Links first: ExtractText strips nav and footer
		if next.depth < c.opts.MaxDepth {
			for _, link := range ExtractLinks(doc, start) {
				if !visited[link] {
					queue = append(queue, queued{url: link, depth: next.depth + 1})
				}
			}
			sortQueue(queue)
		}

		kind := KindHome
		if next.depth > 0 {
			kind = Classify(next.url)
		}
		if text := truncate(ExtractText(doc), c.opts.MaxPageChars); text != "" {
			profile.Pages = append(profile.Pages, Page{URL: next.url, Kind: kind, Text: text})
		}
	}

	return profile, nil
}

func (c *Crawler) fetch(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, &FetchError{URL: pageURL, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: pageURL, Message: "HTTP request failed", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{URL: pageURL, Message: fmt.Sprintf("HTTP status %d", resp.StatusCode)}
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return nil, &FetchError{URL: pageURL, Message: "not an HTML page: " + ct}
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, &FetchError{URL: pageURL, Message: "failed to parse HTML", Cause: err}
	}
	return doc, nil
}

// Classify returns the page kind suggested by the URL path
func Classify(pageURL string) Kind {
	u, err := url.Parse(pageURL)
	if err != nil {
		return KindOther
	}
	path := strings.ToLower(u.Path)
	for _, group := range kindKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(path, kw) {
				return group.kind
			}
		}
	}
	return KindOther
}

// ExtractLinks returns same-host links without fragments, in document order
func ExtractLinks(doc *goquery.Document, base *url.URL) []string {
	seen := make(map[string]bool)
	var links []string

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil || href == "" {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		if !sameHost(abs.Host, base.Host) {
			return
		}
		abs.Fragment = ""
		abs.RawQuery = ""
		link := strings.TrimSuffix(abs.String(), "/")
		if link == strings.TrimSuffix(base.String(), "/") || seen[link] {
			return
		}
		if isAsset(abs.Path) {
			return
		}
		seen[link] = true
		links = append(links, link)
	})

	return links
}

// ExtractText returns the visible text of the main content, whitespace-collapsed
func ExtractText(doc *goquery.Document) string {
	doc.Find("script, style, noscript, nav, footer, header, form, iframe, svg").Remove()

	root := doc.Find("main, article, [role=main]").First()
	if root.Length() == 0 {
		root = doc.Find("body")
	}
	return strings.Join(strings.Fields(root.Text()), " ")
}

// Excerpt renders the profile as prompt context, classified pages first
func (p *Profile) Excerpt(maxChars int) string {
	if p == nil || len(p.Pages) == 0 {
		return ""
	}

	pages := append([]Page(nil), p.Pages...)
	sort.SliceStable(pages, func(i, j int) bool {
		return kindRank(pages[i].Kind) < kindRank(pages[j].Kind)
	})

	var b strings.Builder
	for _, page := range pages {
		section := fmt.Sprintf("[%s] %s\n", page.Kind, page.Text)
		if maxChars > 0 && b.Len()+len(section) > maxChars {
			remaining := maxChars - b.Len()
			if remaining > 0 {
				b.WriteString(truncate(section, remaining))
			}
			break
		}
		b.WriteString(section)
	}
	return strings.TrimSpace(b.String())
}

func kindRank(k Kind) int {
	switch k {
	case KindAbout:
		return 0
	case KindValues:
		return 1
	case KindExpertise:
		return 2
	case KindProjects:
		return 3
	case KindHome:
		return 4
	default:
		return 5
	}
}

func sortQueue(q []queued) {
	sort.SliceStable(q, func(i, j int) bool {
		if q[i].depth != q[j].depth {
			return q[i].depth < q[j].depth
		}
		return kindRank(Classify(q[i].url)) < kindRank(Classify(q[j].url))
	})
}

func normalizeURL(website string) (*url.URL, error) {
	website = strings.TrimSpace(website)
	if website == "" {
		return nil, fmt.Errorf("empty URL")
	}
	if !strings.Contains(website, "://") {
		website = "https://" + website
	}
	u, err := url.Parse(website)
	if err != nil {
		return nil, err
	}
	if u.Host == "" {
		return nil, fmt.Errorf("missing host")
	}
	u.Fragment = ""
	return u, nil
}

func sameHost(a, b string) bool {
	return strings.TrimPrefix(strings.ToLower(a), "www.") == strings.TrimPrefix(strings.ToLower(b), "www.")
}

var assetExtensions = []string{".pdf", ".jpg", ".jpeg", ".png", ".gif", ".svg", ".webp", ".zip", ".doc", ".docx", ".mp4", ".css", ".js"}

func isAsset(path string) bool {
	path = strings.ToLower(path)
	for _, ext := range assetExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	cut := s[:n]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}
