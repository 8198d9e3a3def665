package gitrepo_test

import (
	"testing"

	"github.com/distgpu/runner/internal/gitrepo"
)

func TestURLToDir(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"git@github.com:user/foo.git", "github.com/user/foo.git"},
		{"https://github.com/user/foo.git", "github.com/user/foo.git"},
		{"http://github.com/user/foo.git", "github.com/user/foo.git"},
		{"ssh://git@host:2222/user/foo.git", "host/2222/user/foo.git"},
		{"git@github.com:user/foo..bar.git", "github.com/user/foo__bar.git"},
	}
	for _, tc := range cases {
		got, err := gitrepo.URLToDir(tc.url)
		if err != nil {
			t.Fatalf("URLToDir(%q): %v", tc.url, err)
		}
		if got != tc.want {
			t.Errorf("URLToDir(%q) = %q, want %q", tc.url, got, tc.want)
		}
	}
}

func TestURLToDir_UnknownPrefix(t *testing.T) {
	if _, err := gitrepo.URLToDir("ftp://example.com/repo.git"); err == nil {
		t.Fatal("expected error for unknown prefix")
	}
}
