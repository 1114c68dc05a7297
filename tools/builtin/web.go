package builtin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/martinemde/observagent/tools"
)

// ErrRestrictedURL is returned for URLs that are malformed, not http(s), or
// resolve to a loopback, private, or link-local address.
var ErrRestrictedURL = errors.New("invalid or restricted URL: access to local/private networks is blocked")

var searchWebDescriptor = tools.Descriptor{
	Name:        "search_web",
	Description: "Search the web for a query. Returns a list of results with title, link, and snippet.",
	Category:    CategoryResearch,
	Params: []tools.Param{
		{Name: "query", Type: tools.TypeString, Description: "The search query.", Required: true},
		{Name: "max_results", Type: tools.TypeInteger, Description: "Maximum number of results to return.", Default: defaultMaxResults},
	},
}

var readWebpageDescriptor = tools.Descriptor{
	Name:        "read_webpage",
	Description: "Read the content of a webpage. Returns the text content.",
	Category:    CategoryResearch,
	Params: []tools.Param{
		{Name: "url", Type: tools.TypeString, Description: "The http or https URL to read.", Required: true},
	},
}

// SearchResult is one web search hit.
type SearchResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

type web struct {
	opts *options
}

// checkURL rejects URLs that could reach internal services.
func (w *web) checkURL(ctx context.Context, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return ErrRestrictedURL
	}
	if w.opts.allowPrivate {
		return nil
	}

	var addrs []net.IPAddr
	if ip := net.ParseIP(u.Hostname()); ip != nil {
		addrs = []net.IPAddr{{IP: ip}}
	} else {
		addrs, err = w.opts.lookup(ctx, u.Hostname())
		if err != nil || len(addrs) == 0 {
			return ErrRestrictedURL
		}
	}
	for _, a := range addrs {
		if a.IP.IsLoopback() || a.IP.IsPrivate() || a.IP.IsUnspecified() ||
			a.IP.IsLinkLocalUnicast() || a.IP.IsLinkLocalMulticast() {
			return ErrRestrictedURL
		}
	}
	return nil
}

func (w *web) searchWeb(ctx context.Context, args tools.Args) (any, error) {
	query := strings.TrimSpace(args.String("query"))
	if query == "" {
		return nil, errors.New("query is empty")
	}
	limit := args.Int("max_results")
	if limit <= 0 {
		limit = defaultMaxResults
	}

	form := url.Values{}
	form.Set("q", query)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.opts.searchEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := w.opts.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search request failed: http %d", resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing search results: %w", err)
	}

	results := []SearchResult{}
	for _, n := range findAll(doc, func(n *html.Node) bool {
		return n.DataAtom == atom.Div && hasClass(n, "result")
	}) {
		if len(results) >= limit {
			break
		}
		title := findFirst(n, func(n *html.Node) bool { return n.DataAtom == atom.A && hasClass(n, "result__a") })
		snippet := findFirst(n, func(n *html.Node) bool { return hasClass(n, "result__snippet") })
		if title == nil || snippet == nil {
			continue
		}
		link := resolveRedirect(attr(title, "href"))
		if w.checkURL(ctx, link) != nil {
			continue
		}
		results = append(results, SearchResult{
			Title:   collapseSpace(textOf(title)),
			Link:    link,
			Snippet: collapseSpace(textOf(snippet)),
		})
	}

	w.opts.logger.InfoContext(ctx, "web search", "query", query, "results", len(results))
	return results, nil
}

// checkRedirect applies checkURL to every redirect hop so a public page
// cannot bounce the fetch onto an internal address.
func (w *web) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return errors.New("stopped after 10 redirects")
	}
	return w.checkURL(req.Context(), req.URL.String())
}

func (w *web) readWebpage(ctx context.Context, args tools.Args) (any, error) {
	target := strings.TrimSpace(args.String("url"))
	if err := w.checkURL(ctx, target); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := w.opts.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", target, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("reading %s: http %d", target, resp.StatusCode)
	}

	text, err := pageText(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", target, err)
	}
	text = truncateRunes(text, w.opts.maxPageChars)
	w.opts.logger.InfoContext(ctx, "read webpage", "url", target, "chars", len(text))
	return text, nil
}

// pageText extracts readable text from an HTML document, one phrase per line.
func pageText(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				return
			}
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteString("\n")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	var lines []string
	for _, line := range strings.Split(sb.String(), "\n") {
		for _, phrase := range strings.Split(strings.TrimSpace(line), "  ") {
			if p := strings.TrimSpace(phrase); p != "" {
				lines = append(lines, p)
			}
		}
	}
	return strings.Join(lines, "\n"), nil
}

// resolveRedirect unwraps DuckDuckGo's /l/?uddg= redirect links.
func resolveRedirect(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" && strings.HasSuffix(u.Path, "/l/") {
		return target
	}
	return href
}

func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

func findAll(root *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && match(n) {
			out = append(out, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

func findFirst(root *html.Node, match func(*html.Node) bool) *html.Node {
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && match(c) {
			return c
		}
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
