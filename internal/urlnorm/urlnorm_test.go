package urlnorm

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "http://x/1", "http://x/1"},
		{"query", "https://example.go.jp/koubo/detail.html?id=12&ref=top", "https://example.go.jp/koubo/detail.html"},
		{"fragment", "https://example.go.jp/koubo/#list", "https://example.go.jp/koubo/"},
		{"query and fragment", "https://example.go.jp/a?x=1#y", "https://example.go.jp/a"},
		{"empty query marker", "https://example.go.jp/a?", "https://example.go.jp/a"},
		{"scheme case", "HTTPS://example.go.jp/a", "https://example.go.jp/a"},
		{"surrounding space", "  https://example.go.jp/a  ", "https://example.go.jp/a"},
		{"port kept", "http://example.com:8080/a?b", "http://example.com:8080/a"},
		{"opaque", "mailto:koubo@example.go.jp?subject=x", "mailto:koubo@example.go.jp"},
		{"japanese path", "https://example.jp/公募/一覧?page=2", "https://example.jp/%E5%85%AC%E5%8B%9F/%E4%B8%80%E8%A6%A7"},
		{"empty", "", ""},
		{"malformed passes through", "http://[::1", "http://[::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.input); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"http://x/1",
		"https://example.go.jp/koubo/detail.html?id=12#top",
		"HTTP://Example.COM/Path/../a/./b?c",
		"https://example.jp/公募/一覧?page=2",
		"https://example.jp/a%2Fb/c",
		"https://example.jp/a b",
		"/relative/path?x=1",
		"mailto:koubo@example.go.jp",
		"http://[::1",
		"%zz",
		"",
		"   ",
	}

	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestResolve(t *testing.T) {
	base := "https://www.example.go.jp/koubo/index.html"

	tests := []struct {
		name string
		ref  string
		want string
	}{
		{"absolute", "https://other.example.jp/x", "https://other.example.jp/x"},
		{"root relative", "/news/1.html", "https://www.example.go.jp/news/1.html"},
		{"document relative", "detail/2.html", "https://www.example.go.jp/koubo/detail/2.html"},
		{"parent", "../top.html", "https://www.example.go.jp/top.html"},
		{"protocol relative", "//cdn.example.jp/a.pdf", "https://cdn.example.jp/a.pdf"},
		{"keeps query", "list.html?page=2", "https://www.example.go.jp/koubo/list.html?page=2"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Resolve(base, tt.ref); got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.ref, got, tt.want)
			}
		})
	}
}

func TestResolve_BadBase(t *testing.T) {
	if got := Resolve("not a url", "a/b.html"); got != "a/b.html" {
		t.Errorf("got %q, want ref unchanged", got)
	}
}

func TestHost(t *testing.T) {
	if got := Host("https://WWW.Example.go.jp:443/a"); got != "www.example.go.jp" {
		t.Errorf("got %q", got)
	}
	if got := Host("not-a-url"); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}
