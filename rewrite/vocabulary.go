package rewrite

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SiteAlt maps a tracked domain to a privacy-respecting alternative location.
type SiteAlt struct {
	Site string `yaml:"site"`
	Alt  string `yaml:"alt"`
}

// Vocabulary holds every string table the stages match against. Upstream
// markup drifts independently of this code, so the tables are data: the
// defaults below can be overlaid from a versioned YAML file.
type Vocabulary struct {
	Version int `yaml:"version"`

	AdMarkers []string `yaml:"ad_markers"`
	AdGlyph   string   `yaml:"ad_glyph"`

	MediaHeading    string `yaml:"media_heading"`
	MediaAffordance string `yaml:"media_affordance"`
	MediaMinImages  int    `yaml:"media_min_images"`

	ResultChildLimit int      `yaml:"result_child_limit"`
	CollapsedLabel   string   `yaml:"collapsed_label"`
	MinimalSections  []string `yaml:"minimal_sections"`
	PlatformBlurbs   []string `yaml:"platform_blurbs"`

	DoctypePatterns  []string `yaml:"doctype_patterns"`
	PostedMarkers    []string `yaml:"posted_markers"`
	DurationMarkers  []string `yaml:"duration_markers"`
	PostedClasses    []string `yaml:"posted_classes"`
	GrayStyles       []string `yaml:"gray_styles"`
	FooterKeywords   []string `yaml:"footer_keywords"`
	LegalLinkWords   []string `yaml:"legal_link_words"`
	ResultIndicators []string `yaml:"result_indicators"`

	UnsupportedPages       []string  `yaml:"unsupported_pages"`
	UnsupportedResultPages []string  `yaml:"unsupported_result_pages"`
	TrackingParams         []string  `yaml:"tracking_params"`
	TrackingPrefixes       []string  `yaml:"tracking_prefixes"`
	ForwardParams          []string  `yaml:"forward_params"`
	MapsArgs               []string  `yaml:"maps_args"`
	SiteAlts               []SiteAlt `yaml:"site_alts"`

	UpstreamOrigin  string `yaml:"upstream_origin"`
	UpstreamHome    string `yaml:"upstream_home"`
	SignInURL       string `yaml:"sign_in_url"`
	MapsURL         string `yaml:"maps_url"`
	MapsHost        string `yaml:"maps_host"`
	LogoURL         string `yaml:"logo_url"`
	MobileLogoURL   string `yaml:"mobile_logo_url"`
	ImageHostPrefix string `yaml:"image_host_prefix"`
	StaticHost      string `yaml:"static_host"`
	Placeholder     string `yaml:"placeholder"`
	ProxyLogo       string `yaml:"proxy_logo"`
	ProxyIcon       string `yaml:"proxy_icon"`
	AnonViewLabel   string `yaml:"anon_view_label"`
}

const imageHost = "/images/branding/searchlogo/1x/googlelogo"

// DefaultVocabulary returns the built-in tables for the current upstream markup.
func DefaultVocabulary() *Vocabulary {
	return &Vocabulary{
		Version: 1,
		AdMarkers: []string{
			"ad", "ads", "anuncio", "annuncio", "annonce", "Anzeige", "广告", "廣告",
			"Reklama", "Реклама", "Anunț", "광고", "annons", "Annonse", "Iklan", "広告",
			"Augl.", "Mainos", "Advertentie", "إعلان", "Գովազդ", "विज्ञापन", "Reklam",
			"آگهی", "Reklāma", "Reklaam", "Διαφήμιση", "מודעה", "Hirdetés", "Anúncio",
			"Quảng cáo", "โฆษณา", "sponsored", "patrocinado", "gesponsert",
			"Sponzorováno", "스폰서", "Gesponsord", "Sponsorisé",
		},
		AdGlyph: "ⓘ",

		MediaHeading:    "Images",
		MediaAffordance: "View all",
		MediaMinImages:  2,

		ResultChildLimit: 7,
		CollapsedLabel:   "Collapsed Results",
		MinimalSections:  []string{"Top stories", "Images"},
		PlatformBlurbs:   []string{"Twitter ›"},

		DoctypePatterns: []string{
			"html PUBLIC", "WAPFORUM", "DTD XHTML", "Mobile 1.0", "//EN",
			"http://www.wapforum.org/DTD/xhtml-mobile10.dtd",
		},
		PostedMarkers:    []string{"Posted:"},
		DurationMarkers:  []string{"Duration:"},
		PostedClasses:    []string{"LEwnzc", "zBOwAc", "eqAnXb"},
		GrayStyles:       []string{"#70757a", "color: rgb(112, 117, 122)"},
		FooterKeywords:   []string{"privacy", "terms", "from your ip address"},
		LegalLinkWords:   []string{"privacy", "terms"},
		ResultIndicators: []string{"search", "result", "www.", "http", ".com", ".org"},

		UnsupportedPages: []string{
			"support.google.com", "accounts.google.com", "policies.google.com",
			"google.com/preferences", "google.com/intl", "advanced_search", "tbm=shop",
			"ageverification.google.co.kr",
		},
		UnsupportedResultPages: []string{"google.com/preferences?hl=", "ageverification.google.co.kr"},
		TrackingParams:         []string{"ref_src", "fbclid", "gclid"},
		TrackingPrefixes:       []string{"utm"},
		ForwardParams:          []string{"tbs", "tbm", "start", "near", "source", "nfpr"},
		MapsArgs:               []string{"q", "daddr"},
		SiteAlts: []SiteAlt{
			{Site: "twitter.com", Alt: "farside.link/nitter"},
			{Site: "youtube.com", Alt: "farside.link/invidious"},
			{Site: "reddit.com", Alt: "farside.link/libreddit"},
			{Site: "instagram.com", Alt: "farside.link/proxigram"},
			{Site: "wikipedia.org", Alt: "farside.link/wikiless"},
			{Site: "medium.com", Alt: "farside.link/scribe"},
			{Site: "imgur.com", Alt: "farside.link/rimgo"},
			{Site: "quora.com", Alt: "farside.link/quetre"},
			{Site: "imdb.com", Alt: "farside.link/libremdb"},
		},

		UpstreamOrigin:  "https://www.google.com",
		UpstreamHome:    "https://google.com",
		SignInURL:       "https://accounts.google.com",
		MapsURL:         "https://maps.google.com/maps",
		MapsHost:        "maps.google.com",
		LogoURL:         imageHost + "_desk",
		MobileLogoURL:   "https://www.gstatic.com/m/images/icons/googleg.gif",
		ImageHostPrefix: imageHost,
		StaticHost:      "www.gstatic.com",
		Placeholder:     "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII=",
		ProxyLogo:       "static/img/logo.svg",
		ProxyIcon:       "static/img/favicon/apple-icon.png",
		AnonViewLabel:   "Anonymous View",
	}
}

// LoadVocabulary overlays the YAML file at path onto the defaults. Keys absent
// from the file keep their default value.
func LoadVocabulary(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocabulary %s: %w", path, err)
	}
	return ParseVocabulary(data)
}

// ParseVocabulary overlays YAML data onto the defaults.
func ParseVocabulary(data []byte) (*Vocabulary, error) {
	v := DefaultVocabulary()
	if err := yaml.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("parse vocabulary: %w", err)
	}
	if v.ResultChildLimit <= 0 {
		return nil, fmt.Errorf("parse vocabulary: result_child_limit must be positive")
	}
	return v, nil
}
