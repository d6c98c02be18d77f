package rewrite

import "strings"

// UserConfig is the subset of user settings that changes how a page is rewritten.
type UserConfig struct {
	// Block is a comma separated list of sites excluded upstream with -site: filters.
	Block      string
	BlockTitle string
	BlockURL   string

	Alts     bool
	NewTab   bool
	Favicons bool
	AnonView bool
	Minimal  bool
	GetOnly  bool

	// Preferences is the preference token appended to footer links.
	Preferences string
}

// BlockedSites returns the trimmed, non-empty entries of Block.
func (c UserConfig) BlockedSites() []string {
	var out []string
	for _, s := range strings.Split(c.Block, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Context is the read-only input of one pipeline run.
type Context struct {
	// RootURL is the proxy's public root. A trailing slash is ignored.
	RootURL string
	// PageURL resolves relative resource references. Optional.
	PageURL string
	// Query is the plaintext search query the page answers.
	Query  string
	Mobile bool
	Config UserConfig
	// ForwardParams is appended verbatim to internal search links ("&k=v...").
	ForwardParams string
}

func (c Context) root() string {
	return strings.TrimSuffix(c.RootURL, "/")
}

// endpoint builds a proxy URL for name, relative when no root is known.
func (c Context) endpoint(name string) string {
	if r := c.root(); r != "" {
		return r + "/" + name
	}
	return name
}
