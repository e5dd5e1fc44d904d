package research

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Page is the readable text of one fetched source.
type Page struct {
	URL   string
	Title string
	Text  string
}

// URLPolicy decides whether a source may be fetched.
type URLPolicy func(ctx context.Context, raw string) bool

func newHTTPClient(timeout time.Duration, allow URLPolicy) *http.Client {
	c := &http.Client{Timeout: timeout}
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 6 {
			return fmt.Errorf("too many redirects")
		}
		if !allow(req.Context(), req.URL.String()) {
			return fmt.Errorf("redirect blocked: %s", req.URL.String())
		}
		return nil
	}
	return c
}

func fetchPage(ctx context.Context, client *http.Client, rawURL string, maxBytes int64) (Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSpace(rawURL), nil)
	if err != nil {
		return Page{}, err
	}
	req.Header.Set("User-Agent", "SparringPrepBot/1.0 (research digest)")
	req.Header.Set("Accept", "text/html, text/plain;q=0.9, */*;q=0.1")

	resp, err := client.Do(req)
	if err != nil {
		return Page{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Page{}, fmt.Errorf("http %d", resp.StatusCode)
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return Page{}, err
	}
	if int64(len(b)) > maxBytes {
		b = b[:maxBytes]
	}

	mediaType := ""
	if mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil {
		mediaType = mt
	}
	if mediaType == "" && len(b) > 0 {
		mediaType, _, _ = mime.ParseMediaType(http.DetectContentType(b[:min(512, len(b))]))
	}

	page := Page{URL: rawURL}
	switch {
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		page.Title, page.Text = extractHTML(b)
	case strings.HasPrefix(mediaType, "text/"):
		page.Text = collapse(string(b))
	default:
		return Page{}, fmt.Errorf("unsupported content type %q", mediaType)
	}
	if page.Text == "" {
		return Page{}, fmt.Errorf("no readable text")
	}
	return page, nil
}

var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Header:   true,
	atom.Aside:    true,
	atom.Form:     true,
	atom.Svg:      true,
	atom.Template: true,
}

var blocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Li: true, atom.Section: true, atom.Article: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.Blockquote: true,
	atom.Tr: true, atom.Br: true, atom.Pre: true,
}

// extractHTML returns the document title and its visible text, one line per
// block element.
func extractHTML(b []byte) (string, string) {
	doc, err := html.Parse(bytes.NewReader(b))
	if err != nil {
		return "", ""
	}
	var title string
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skipped[n.DataAtom] {
				return
			}
			if n.DataAtom == atom.Title && title == "" && n.FirstChild != nil {
				title = collapse(n.FirstChild.Data)
				return
			}
		}
		if n.Type == html.TextNode {
			if t := collapse(n.Data); t != "" {
				if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
					sb.WriteByte(' ')
				}
				sb.WriteString(t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blocks[n.DataAtom] && sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
			sb.WriteByte('\n')
		}
	}
	walk(doc)

	var lines []string
	for _, line := range strings.Split(sb.String(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return title, strings.Join(lines, "\n")
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// PublicHTTPS allows https URLs whose host does not resolve to a private
// or loopback address.
func PublicHTTPS(ctx context.Context, raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || !strings.EqualFold(u.Scheme, "https") {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" || host == "localhost" || strings.HasSuffix(host, ".local") {
		return false
	}
	if ip := net.ParseIP(host); ip != nil {
		return !isPrivateIP(ip)
	}
	resCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	ips, err := net.DefaultResolver.LookupIP(resCtx, "ip", host)
	if err != nil || len(ips) == 0 {
		return false
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			return false
		}
	}
	return true
}

func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified() || ip.IsMulticast()
}
