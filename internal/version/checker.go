// Package version reports the build version and checks for newer releases.
package version

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/iSoldLeo/DynamicAPI/pkg/httpclient"
)

// Version is set at build time with -ldflags "-X .../internal/version.Version=...".
var Version = "0.1.0-dev"

const (
	// ReleasesURL is the GitHub endpoint for the latest release.
	ReleasesURL  = "https://api.github.com/repos/iSoldLeo/DynamicAPI/releases/latest"
	checkTimeout = 5 * time.Second
)

type release struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

// Update describes the result of a release check.
type Update struct {
	Available bool
	Latest    string
	URL       string
}

// Checker queries a releases endpoint.
type Checker struct {
	Doer httpclient.HTTPDoer
	URL  string
}

// NewChecker returns a Checker for the public releases endpoint.
func NewChecker() *Checker {
	return &Checker{
		Doer: &http.Client{Timeout: checkTimeout},
		URL:  ReleasesURL,
	}
}

// Check reports whether a release newer than current exists.
func (c *Checker) Check(ctx context.Context, current string) (Update, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return Update{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "dynapi/"+current)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.Doer.Do(req)
	if err != nil {
		return Update{}, fmt.Errorf("failed to fetch latest release: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Update{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var rel release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return Update{}, fmt.Errorf("failed to decode response: %w", err)
	}

	latest := strings.TrimPrefix(rel.TagName, "v")
	current = strings.TrimPrefix(current, "v")
	return Update{
		Available: latest != "" && isNewerVersion(latest, current),
		Latest:    latest,
		URL:       rel.HTMLURL,
	}, nil
}

// isNewerVersion compares dotted numeric versions. Pre-release and build
// suffixes are ignored.
func isNewerVersion(latest, current string) bool {
	l := parseVersion(latest)
	c := parseVersion(current)

	for len(l) < len(c) {
		l = append(l, 0)
	}
	for len(c) < len(l) {
		c = append(c, 0)
	}

	for i := range l {
		if l[i] != c[i] {
			return l[i] > c[i]
		}
	}
	return false
}

func parseVersion(v string) []int {
	if idx := strings.IndexAny(v, "-+"); idx != -1 {
		v = v[:idx]
	}

	parts := strings.Split(v, ".")
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		if n, err := strconv.Atoi(part); err == nil {
			out = append(out, n)
		}
	}
	return out
}
