package proxy

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"searchveil/internal/config"
)

var luckyBang = regexp.MustCompile(`(^|\s)!($|\s)`)

// splitLucky strips a standalone "!" from q and reports whether it was there.
func splitLucky(q string) (string, bool) {
	loc := luckyBang.FindStringIndex(q)
	if loc == nil {
		return q, false
	}
	var parts []string
	for _, seg := range []string{q[:loc[0]], q[loc[1]:]} {
		if seg != "" {
			parts = append(parts, seg)
		}
	}
	return strings.Join(parts, " "), true
}

// buildQuery renders the q value and the trailing upstream parameters for a
// search. Blocked sites become -site: filters on the query itself.
func buildQuery(query string, args url.Values, s config.Settings) string {
	var tbs, lang string
	switch {
	case strings.Contains(query, ":past") && !args.Has("tbs"):
		rng := strings.TrimSpace(query[strings.Index(query, ":past")+len(":past"):])
		if rng != "" {
			tbs = "qdr:" + strings.ToLower(rng[:1])
		}
	case args.Has("tbs"):
		tbs = args.Get("tbs")
	case s.TimePeriod != "":
		tbs = "qdr:" + s.TimePeriod
	}
	for _, part := range strings.Split(tbs, ",") {
		if i := strings.Index(part, "lr:"); i >= 0 {
			lang = part[i+len("lr:"):]
			break
		}
	}

	for _, site := range strings.Split(strings.ReplaceAll(s.Block, " ", ""), ",") {
		if site == "" {
			continue
		}
		if block := " -site:" + site; !strings.Contains(query, block) {
			query += block
		}
	}

	var b strings.Builder
	b.WriteString(url.QueryEscape(query))
	add := func(k, v string) {
		if v != "" {
			b.WriteString("&" + k + "=" + url.QueryEscape(v))
		}
	}
	add("tbs", tbs)
	add("tbm", args.Get("tbm"))
	add("start", args.Get("start"))
	add("near", s.Near)
	if args.Has("source") {
		add("source", args.Get("source"))
		add("lr", strings.Map(func(r rune) rune {
			if unicode.IsDigit(r) {
				return -1
			}
			return r
		}, lang))
	} else {
		add("lr", s.LangSearch)
	}
	add("nfpr", args.Get("nfpr"))
	add("chips", args.Get("chips"))
	add("gl", s.Country)
	add("hl", strings.TrimPrefix(s.LangInterface, "lang_"))
	if s.Safe {
		add("safe", "active")
	} else {
		add("safe", "off")
	}
	return b.String()
}
