// Package prefs carries the URL-safe subset of user settings through a single
// query parameter, either encrypted with the shield codec or deflated.
package prefs

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/klauspost/compress/flate"

	"searchveil/shield"
)

const (
	ModeEncrypted   = 'e'
	ModeCompressed  = 'u'
	ParamName       = "preferences"
	maxPayloadBytes = 64 << 10
)

// SafeKeys is the allow-list of settings that may travel in URLs, in the
// order Params emits them.
var SafeKeys = []string{"theme", "safe", "new_tab", "ai_sidebar"}

// Settings is a flat map of setting name to bool, string or int.
type Settings map[string]any

// IsSafeKey reports whether key may be carried in a token.
func IsSafeKey(key string) bool {
	for _, k := range SafeKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Safe returns the allow-listed subset of s.
func (s Settings) Safe() Settings {
	out := make(Settings, len(SafeKeys))
	for _, k := range SafeKeys {
		if v, ok := s[k]; ok {
			out[k] = v
		}
	}
	return out
}

// Params renders the truthy safe settings as "&k=v" pairs, or "" when none are set.
func (s Settings) Params() string {
	var b strings.Builder
	for _, k := range SafeKeys {
		v, ok := s[k]
		if !ok || !truthy(v) {
			continue
		}
		b.WriteByte('&')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(fmt.Sprint(v)))
	}
	return b.String()
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case int:
		return x != 0
	case float64:
		return x != 0
	default:
		return true
	}
}

// Codec encodes and decodes preference tokens.
type Codec struct {
	key       []byte
	encrypted bool
}

// NewCodec returns a codec. Encryption is silently disabled without a key.
func NewCodec(key string, encrypted bool) *Codec {
	return &Codec{key: []byte(key), encrypted: encrypted && key != ""}
}

// Encrypted reports whether Encode produces 'e' tokens.
func (c *Codec) Encrypted() bool { return c.encrypted }

// Encode serialises the safe subset of s into a token.
func (c *Codec) Encode(s Settings) (string, error) {
	payload, err := json.Marshal(s.Safe())
	if err != nil {
		return "", fmt.Errorf("prefs: marshal: %w", err)
	}
	if c.encrypted {
		tok, err := shield.Shield(string(payload), c.key)
		if err != nil {
			return "", fmt.Errorf("prefs: encrypt: %w", err)
		}
		return string(ModeEncrypted) + tok, nil
	}

	var buf bytes.Buffer
	zw, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return "", fmt.Errorf("prefs: compress: %w", err)
	}
	if _, err := zw.Write(payload); err != nil {
		return "", fmt.Errorf("prefs: compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("prefs: compress: %w", err)
	}
	return string(ModeCompressed) + base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode never fails: any malformed token yields an empty Settings.
func (c *Codec) Decode(token string) Settings {
	s, err := c.decode(token)
	if err != nil {
		return Settings{}
	}
	return s
}

func (c *Codec) decode(token string) (Settings, error) {
	if len(token) < 2 {
		return nil, fmt.Errorf("prefs: short token")
	}
	var payload []byte
	switch token[0] {
	case ModeEncrypted:
		if len(c.key) == 0 {
			return nil, fmt.Errorf("prefs: no key for encrypted token")
		}
		plain, err := shield.Unshield(token[1:], c.key)
		if err != nil {
			return nil, err
		}
		payload = []byte(plain)
	case ModeCompressed:
		raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(token[1:], "="))
		if err != nil {
			return nil, err
		}
		zr := flate.NewReader(bytes.NewReader(raw))
		defer zr.Close()
		payload, err = io.ReadAll(io.LimitReader(zr, maxPayloadBytes))
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("prefs: unknown mode %q", token[0])
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	out := make(Settings, len(raw))
	for k, v := range raw {
		if !IsSafeKey(k) {
			continue
		}
		if v, ok := normalize(v); ok {
			out[k] = v
		}
	}
	return out, nil
}

// normalize keeps scalar values only, converting integral numbers to int.
func normalize(v any) (any, bool) {
	switch x := v.(type) {
	case bool, string:
		return x, true
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return int(i), true
		}
		if f, err := x.Float64(); err == nil {
			return f, true
		}
	}
	return nil, false
}

// FromParams reads settings from query parameters. A token under ParamName
// is decoded first and, when non-empty, replaces the plain parameters. Values
// of "off" become false and all-digit values become ints.
func (c *Codec) FromParams(q url.Values) Settings {
	if tok := q.Get(ParamName); tok != "" {
		if s := c.Decode(tok); len(s) > 0 {
			return s
		}
	}
	out := Settings{}
	for _, k := range SafeKeys {
		if !q.Has(k) {
			continue
		}
		out[k] = convertParam(q.Get(k))
	}
	return out
}

func convertParam(v string) any {
	if v == "off" {
		return false
	}
	if v != "" && strings.Trim(v, "0123456789") == "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return v
}
