package proxy

import (
	"net/http"
	"net/url"
	"strings"

	"searchveil/prefs"
)

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func isMobile(r *http.Request) bool {
	ua := r.UserAgent()
	return strings.Contains(ua, "Android") || strings.Contains(ua, "iPhone")
}

// safeParams renders the allow-listed settings present in args as "&k=v"
// pairs in a fixed order, for appending to internal search links.
func safeParams(args url.Values) string {
	var b strings.Builder
	for _, k := range prefs.SafeKeys {
		if !args.Has(k) {
			continue
		}
		b.WriteString("&" + k + "=" + url.QueryEscape(args.Get(k)))
	}
	if tok := args.Get(prefs.ParamName); tok != "" {
		b.WriteString("&" + prefs.ParamName + "=" + url.QueryEscape(tok))
	}
	return b.String()
}

// wantsNoJS reports the nojs flag of a request, falling back to the setting.
func wantsNoJS(args url.Values, setting bool) bool {
	if !args.Has("nojs") {
		return setting
	}
	switch strings.ToLower(args.Get("nojs")) {
	case "0", "off", "false":
		return false
	}
	return true
}
