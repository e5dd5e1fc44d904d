package research

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/yungbote/sparring-backend/internal/domain/ports"
	pkgerrors "github.com/yungbote/sparring-backend/internal/pkg/errors"
	"github.com/yungbote/sparring-backend/internal/testutil"
)

const articleHTML = `<!doctype html>
<html><head><title> Basic income pilots </title><style>body{}</style></head>
<body>
<nav>Home | About</nav>
<article>
<h1>Finland's experiment</h1>
<p>Finland paid  2,000 unemployed people a monthly stipend.</p>
<script>track()</script>
<p>Recipients reported <b>lower stress</b>.</p>
</article>
<footer>Copyright</footer>
</body></html>`

func allowAll(context.Context, string) bool { return true }

func TestExtractHTMLSkipsChrome(t *testing.T) {
	title, text := extractHTML([]byte(articleHTML))
	if title != "Basic income pilots" {
		t.Fatalf("title: %q", title)
	}
	want := "Finland's experiment\nFinland paid 2,000 unemployed people a monthly stipend.\nRecipients reported lower stress ."
	if text != want {
		t.Fatalf("text:\n%q\nwant:\n%q", text, want)
	}
	for _, bad := range []string{"Home", "track()", "Copyright", "body{}"} {
		if strings.Contains(text, bad) {
			t.Fatalf("chrome leaked into text: %q", bad)
		}
	}
}

func TestResearchReportsUnreachableSources(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/article":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(articleHTML))
		case "/notes.txt":
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("Costs scale with coverage."))
		case "/image":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	gen := testutil.NewFakeGenerator().Script(OpDigest, testutil.Step{
		JSON: `{"summary":"Pilots showed wellbeing gains.","points":["Finland ran a pilot."]}`,
	})
	r, err := NewResearcher(testutil.Logger(t), gen, Config{Allow: allowAll})
	if err != nil {
		t.Fatalf("NewResearcher: %v", err)
	}

	f, err := r.Research(context.Background(), ports.ResearchQuery{
		Query: "Evidence on universal basic income",
		Sources: []string{
			srv.URL + "/article",
			srv.URL + "/missing",
			srv.URL + "/notes.txt",
			srv.URL + "/article",
			srv.URL + "/image",
			"not a url",
		},
	})
	if err != nil {
		t.Fatalf("Research: %v", err)
	}
	if f.Summary != "Pilots showed wellbeing gains." || len(f.Points) != 1 {
		t.Fatalf("findings: %+v", f)
	}
	if len(f.Sources) != 2 || f.Sources[0] != srv.URL+"/article" || f.Sources[1] != srv.URL+"/notes.txt" {
		t.Fatalf("reached sources: %v", f.Sources)
	}
	if len(f.Unreachable) != 2 || f.Unreachable[0] != srv.URL+"/missing" || f.Unreachable[1] != srv.URL+"/image" {
		t.Fatalf("unreachable: %v", f.Unreachable)
	}

	reqs := gen.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected one digest call, got %d", len(reqs))
	}
	prompt := reqs[0].Prompt
	if !strings.Contains(prompt, "Evidence on universal basic income") ||
		!strings.Contains(prompt, "TITLE: Basic income pilots") ||
		!strings.Contains(prompt, "Costs scale with coverage.") {
		t.Fatalf("digest prompt missing material:\n%s", prompt)
	}
}

func TestResearchBlockedSourcesNeverFetched(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	gen := testutil.NewFakeGenerator().Script(OpDigest, testutil.Step{JSON: `{"summary":"","points":[]}`})
	r, _ := NewResearcher(testutil.Logger(t), gen, Config{})
	f, err := r.Research(context.Background(), ports.ResearchQuery{Query: "q", Sources: []string{srv.URL}})
	if err != nil {
		t.Fatalf("Research: %v", err)
	}
	if hits != 0 {
		t.Fatalf("loopback source should be blocked by default policy")
	}
	if len(f.Unreachable) != 1 {
		t.Fatalf("unreachable: %v", f.Unreachable)
	}
}

func TestResearchDigestErrors(t *testing.T) {
	gen := testutil.NewFakeGenerator().Script(OpDigest, testutil.Step{JSON: `{"summary":`})
	r, _ := NewResearcher(testutil.Logger(t), gen, Config{Allow: allowAll})
	if _, err := r.Research(context.Background(), ports.ResearchQuery{Query: "q"}); !pkgerrors.IsTransient(err) {
		t.Fatalf("malformed digest should be transient, got %v", err)
	}

	boom := pkgerrors.Fatal(OpDigest, errors.New("refused"))
	gen = testutil.NewFakeGenerator().Script(OpDigest, testutil.Step{Err: boom})
	r, _ = NewResearcher(testutil.Logger(t), gen, Config{Allow: allowAll})
	if _, err := r.Research(context.Background(), ports.ResearchQuery{Query: "q"}); !pkgerrors.IsFatal(err) {
		t.Fatalf("generator error should pass through, got %v", err)
	}
}

func TestPublicHTTPS(t *testing.T) {
	cases := map[string]bool{
		"http://example.com":       false,
		"https://localhost/x":      false,
		"https://127.0.0.1/":       false,
		"https://10.1.2.3/":        false,
		"https://printer.local/":   false,
		"https://93.184.216.34/":   true,
		"ftp://93.184.216.34/file": false,
	}
	for raw, want := range cases {
		if got := PublicHTTPS(context.Background(), raw); got != want {
			t.Fatalf("PublicHTTPS(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestResearchAcceptsTextOnlyDigest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("Costs scale with coverage."))
	}))
	defer srv.Close()

	gen := testutil.NewFakeGenerator().Script(OpDigest, testutil.Step{
		Text: ` {"summary":"Costs scale with coverage.","points":["Coverage drives cost."]} `,
	})
	r, err := NewResearcher(testutil.Logger(t), gen, Config{Allow: allowAll})
	if err != nil {
		t.Fatalf("NewResearcher: %v", err)
	}
	f, err := r.Research(context.Background(), ports.ResearchQuery{Query: "q", Sources: []string{srv.URL + "/notes.txt"}})
	if err != nil {
		t.Fatalf("text-only digest should decode, got %v", err)
	}
	if f.Summary != "Costs scale with coverage." || len(f.Points) != 1 {
		t.Fatalf("findings: %+v", f)
	}
}
