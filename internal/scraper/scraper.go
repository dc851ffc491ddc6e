// Package scraper fetches a web page named in a question and reduces it to
// readable text.
package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"doc-assistant/internal/config"
)

var (
	ErrBlocked    = errors.New("blocked by site")
	ErrRedirected = errors.New("redirected to another host")
	ErrFetch      = errors.New("fetch failed")
)

const maxRedirects = 10

type Result struct {
	URL     string
	Title   string
	Content string
}

type Scraper struct {
	client *resty.Client
}

func New(cfg *config.ScraperConfig) *Scraper {
	client := resty.New().
		SetTimeout(time.Duration(cfg.TimeoutSeconds)*time.Second).
		SetHeader("User-Agent", cfg.UserAgent).
		SetRedirectPolicy(resty.RedirectPolicyFunc(sameHost))
	return &Scraper{client: client}
}

func sameHost(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("%w: stopped after %d redirects", ErrFetch, maxRedirects)
	}
	if req.URL.Host != via[0].URL.Host {
		return fmt.Errorf("%w: %s", ErrRedirected, req.URL.Host)
	}
	return nil
}

// NormalizeURL adds a scheme to bare www. links and strips punctuation
// that was only part of the surrounding sentence.
func NormalizeURL(raw string) string {
	u := strings.TrimRight(strings.TrimSpace(raw), ".,;:!?)]}'\"")
	if !strings.HasPrefix(strings.ToLower(u), "http://") && !strings.HasPrefix(strings.ToLower(u), "https://") {
		u = "https://" + u
	}
	return u
}

// Scrape fetches url and extracts its main text. Errors wrap ErrBlocked,
// ErrRedirected or ErrFetch.
func (s *Scraper) Scrape(ctx context.Context, url string) (Result, error) {
	url = NormalizeURL(url)
	log.Debug().Str("url", url).Msg("Scraping page")

	resp, err := s.client.R().SetContext(ctx).Get(url)
	if err != nil {
		if errors.Is(err, ErrRedirected) {
			return Result{}, fmt.Errorf("%w: %v", ErrRedirected, err)
		}
		return Result{}, fmt.Errorf("%w: %v", ErrFetch, err)
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusUnauthorized, code == http.StatusForbidden,
		code == http.StatusTooManyRequests, code == http.StatusUnavailableForLegalReasons:
		return Result{}, fmt.Errorf("%w: status %d", ErrBlocked, code)
	case code >= 300:
		return Result{}, fmt.Errorf("%w: status %d", ErrFetch, code)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body()))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	content := ExtractText(doc)
	if content == "" {
		return Result{}, fmt.Errorf("%w: no readable text", ErrFetch)
	}
	return Result{
		URL:     url,
		Title:   collapse(doc.Find("title").First().Text()),
		Content: content,
	}, nil
}

// ExtractText prefers the article or main element and otherwise joins all
// paragraphs of the page.
func ExtractText(doc *goquery.Document) string {
	doc.Find("script, style, noscript, nav, header, footer, aside").Remove()

	for _, sel := range []string{"article", "main"} {
		if node := doc.Find(sel).First(); node.Length() > 0 {
			if text := blockText(node); text != "" {
				return text
			}
		}
	}

	var paragraphs []string
	doc.Find("p").Each(func(_ int, p *goquery.Selection) {
		if text := collapse(p.Text()); text != "" {
			paragraphs = append(paragraphs, text)
		}
	})
	return strings.Join(paragraphs, "\n")
}

var blockTags = map[string]bool{
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"p": true, "li": true, "td": true, "th": true, "tr": true, "pre": true,
	"blockquote": true, "div": true, "section": true, "br": true,
	"ul": true, "ol": true, "dt": true, "dd": true, "figcaption": true,
}

// blockText returns the text of sel with one line per block element, so
// words of adjacent headings, paragraphs and list items stay apart.
func blockText(sel *goquery.Selection) string {
	var b strings.Builder
	var walk func(*goquery.Selection)
	walk = func(s *goquery.Selection) {
		s.Contents().Each(func(_ int, c *goquery.Selection) {
			switch name := goquery.NodeName(c); {
			case name == "#text":
				b.WriteString(strings.Map(flattenSpace, c.Text()))
			case blockTags[name]:
				b.WriteByte('\n')
				walk(c)
				b.WriteByte('\n')
			default:
				walk(c)
			}
		})
	}
	walk(sel)

	var lines []string
	for _, line := range strings.Split(b.String(), "\n") {
		if text := collapse(line); text != "" {
			lines = append(lines, text)
		}
	}
	return strings.Join(lines, "\n")
}

func flattenSpace(r rune) rune {
	if r == '\n' || r == '\r' || r == '\t' {
		return ' '
	}
	return r
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Category names the failure class of a scrape error for user facing text.
func Category(err error) string {
	switch {
	case errors.Is(err, ErrBlocked):
		return "blocked"
	case errors.Is(err, ErrRedirected):
		return "redirected"
	default:
		return "fetch error"
	}
}
