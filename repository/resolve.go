package repository

import (
	"fmt"
	"regexp"
	"strings"
)

// convention maps one hosting service's repository URL to its raw-file URL.
type convention struct {
	name    string
	host    string
	pattern *regexp.Regexp
	raw     func(owner, repo, branch, path string) string
}

// conventions are tried in order. The host substring gates each pattern; a URL that contains the
// host but does not match the pattern falls through to the next convention.
var conventions = []convention{
	{
		name:    "github",
		host:    "github.com",
		pattern: regexp.MustCompile(`^(?:https?://(?:www\.)?|git@)github\.com[/:]([^/]+)/([^/]+)$`),
		raw: func(owner, repo, branch, path string) string {
			return fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s/%s", owner, repo, branch, path)
		},
	},
	{
		name: "gitlab",
		host: "gitlab.com",
		// owner may be a nested group path (group/subgroup).
		pattern: regexp.MustCompile(`^(?:https?://(?:www\.)?|git@)gitlab\.com[/:]((?:[^/]+/)*[^/]+)/([^/]+)$`),
		raw: func(owner, repo, branch, path string) string {
			return fmt.Sprintf("https://gitlab.com/%s/%s/-/raw/%s/%s", owner, repo, branch, path)
		},
	},
	{
		name:    "bitbucket",
		host:    "bitbucket.org",
		pattern: regexp.MustCompile(`^(?:https?://(?:[^@/]+@)?|git@)bitbucket\.org[/:]([^/]+)/([^/]+)$`),
		raw: func(owner, repo, branch, path string) string {
			return fmt.Sprintf("https://bitbucket.org/%s/%s/raw/%s/%s", owner, repo, branch, path)
		},
	},
	{
		name:    "codeberg",
		host:    "codeberg.org",
		pattern: regexp.MustCompile(`^(?:https?://|git@)codeberg\.org[/:]([^/]+)/([^/]+)$`),
		raw: func(owner, repo, branch, path string) string {
			return fmt.Sprintf("https://codeberg.org/%s/%s/raw/branch/%s/%s", owner, repo, branch, path)
		},
	},
}

var scpLike = regexp.MustCompile(`^git@([^:]+):(.+)$`)

// RawURL returns the address serving the raw bytes of path at branch in the repository at
// repoURL. A trailing slash and ".git" suffix are ignored. Unknown hosts use
// <repo>/raw/<branch>/<path>; an SSH address for an unknown host is rewritten to https first.
func RawURL(repoURL, branch, path string) string {
	repo := trimRepoURL(repoURL)
	path = strings.TrimPrefix(path, "/")
	for _, c := range conventions {
		if !strings.Contains(repo, c.host) {
			continue
		}
		m := c.pattern.FindStringSubmatch(repo)
		if m == nil {
			continue
		}
		return c.raw(m[1], m[2], branch, path)
	}
	if m := scpLike.FindStringSubmatch(repo); m != nil {
		repo = "https://" + m[1] + "/" + m[2]
	}
	return repo + "/raw/" + branch + "/" + path
}

// Host returns the name of the hosting convention RawURL would use for repoURL, or "generic".
func Host(repoURL string) string {
	repo := trimRepoURL(repoURL)
	for _, c := range conventions {
		if strings.Contains(repo, c.host) && c.pattern.MatchString(repo) {
			return c.name
		}
	}
	return "generic"
}

func trimRepoURL(repoURL string) string {
	repo := strings.TrimSpace(repoURL)
	repo = strings.TrimRight(repo, "/")
	repo = strings.TrimSuffix(repo, ".git")
	return strings.TrimRight(repo, "/")
}
