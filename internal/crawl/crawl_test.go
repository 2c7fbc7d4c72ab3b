package crawl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newSite(t *testing.T, pages map[string]string) (*httptest.Server, *sync.Map) {
	t.Helper()
	hits := &sync.Map{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Store(r.URL.Path, true)
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(server.Close)
	return server, hits
}

func TestCrawl(t *testing.T) {
	server, hits := newSite(t, map[string]string{
		"/": `<html><body>
			<nav><a href="/qui-sommes-nous">Qui sommes-nous</a> <a href="/contact">Contact</a></nav>
			<main>Acme builds   bridges.</main>
			<a href="/nos-valeurs#top">Valeurs</a>
			<a href="https://elsewhere.test/about">External</a>
			<a href="/brochure.pdf">Brochure</a>
			<a href="mailto:hr@acme.test">Mail</a>
		</body></html>`,
		"/qui-sommes-nous": `<html><body><article>Founded in 1990 in Lyon.</article><a href="/deep">deep</a></body></html>`,
		"/nos-valeurs":     `<html><body><main>Quality and safety.</main></body></html>`,
		"/deep":            `<html><body>Too deep</body></html>`,
	})

	c := New(Options{MaxDepth: 1}, testLogger)
	profile, err := c.Crawl(context.Background(), server.URL)
	require.NoError(t, err)

	byKind := map[Kind]string{}
	for _, p := range profile.Pages {
		byKind[p.Kind] = p.Text
	}
	assert.Equal(t, "Acme builds bridges.", byKind[KindHome])
	assert.Equal(t, "Founded in 1990 in Lyon.", byKind[KindAbout])
	assert.Equal(t, "Quality and safety.", byKind[KindValues])

	_, fetchedDeep := hits.Load("/deep")
	assert.False(t, fetchedDeep, "page beyond MaxDepth fetched")
	_, fetchedPDF := hits.Load("/brochure.pdf")
	assert.False(t, fetchedPDF, "asset fetched")
}

func TestCrawlMaxPages(t *testing.T) {
	var links strings.Builder
	pages := map[string]string{}
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&links, `<a href="/p%d">p</a>`, i)
		pages[fmt.Sprintf("/p%d", i)] = fmt.Sprintf("<html><body>page %d</body></html>", i)
	}
	pages["/"] = "<html><body>home " + links.String() + "</body></html>"
	server, _ := newSite(t, pages)

	profile, err := New(Options{MaxPages: 3}, testLogger).Crawl(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Len(t, profile.Pages, 3)
}

func TestCrawlHomeFailure(t *testing.T) {
	server, _ := newSite(t, map[string]string{})

	_, err := New(Options{}, testLogger).Crawl(context.Background(), server.URL)
	require.Error(t, err)

	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Contains(t, fetchErr.Message, "404")
}

func TestCrawlInvalidURL(t *testing.T) {
	_, err := New(Options{}, testLogger).Crawl(context.Background(), "   ")
	var fetchErr *FetchError
	assert.True(t, errors.As(err, &fetchErr))
}

func TestClassify(t *testing.T) {
	tests := map[string]Kind{
		"https://acme.test/a-propos":           KindAbout,
		"https://acme.test/about-us":           KindAbout,
		"https://acme.test/nos-valeurs":        KindValues,
		"https://acme.test/services/conseil":   KindExpertise,
		"https://acme.test/nos-realisations":   KindProjects,
		"https://acme.test/contact":            KindOther,
		"https://acme.test/ABOUT":              KindAbout,
		"https://acme.test/blog?tag=portfolio": KindOther,
	}
	for u, want := range tests {
		assert.Equal(t, want, Classify(u), u)
	}
}

func TestExtractLinks(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`
		<a href="/a">a</a>
		<a href="/a/">a again</a>
		<a href="b?x=1#frag">b</a>
		<a href="https://www.acme.test/c">www alias</a>
		<a href="https://other.test/d">other</a>
		<a href="javascript:void(0)">js</a>
		<a href="/">home</a>
	`))
	require.NoError(t, err)

	base, _ := url.Parse("https://acme.test/")
	assert.Equal(t, []string{
		"https://acme.test/a",
		"https://acme.test/b",
		"https://www.acme.test/c",
	}, ExtractLinks(doc, base))
}

func TestProfileExcerpt(t *testing.T) {
	p := &Profile{Pages: []Page{
		{Kind: KindHome, Text: "home text"},
		{Kind: KindProjects, Text: "projects text"},
		{Kind: KindAbout, Text: "about text"},
	}}

	assert.Equal(t, "[about] about text\n[projects] projects text\n[home] home text", p.Excerpt(0))
	assert.Equal(t, "[about] about", p.Excerpt(13))

	var empty *Profile
	assert.Empty(t, empty.Excerpt(100))
}

func TestTruncateKeepsUTF8(t *testing.T) {
	assert.Equal(t, "caf", truncate("café", 4))
	assert.Equal(t, "café", truncate("café", 5))
	assert.Equal(t, "abc", truncate("abc", 0))
}
