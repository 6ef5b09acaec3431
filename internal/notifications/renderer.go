package notifications

import (
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Tokens holds placeholder values keyed by lower-cased name.
type Tokens map[string]any

// NewTokens builds a token map from caller values. Nil values are skipped so
// their placeholders stay verbatim.
func NewTokens(values map[string]*string) Tokens {
	t := make(Tokens, len(values))
	for k, v := range values {
		if v == nil {
			continue
		}
		t.Set(k, *v)
	}
	return t
}

func tokenKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Set stores a value, replacing any existing one.
func (t Tokens) Set(key string, value any) {
	t[tokenKey(key)] = value
}

// SetDefault stores a value only if the key is not present.
func (t Tokens) SetDefault(key string, value any) {
	k := tokenKey(key)
	if _, ok := t[k]; !ok {
		t[k] = value
	}
}

// Get returns the value for key, matched case-insensitively.
func (t Tokens) Get(key string) (any, bool) {
	v, ok := t[tokenKey(key)]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// SystemTokens are values injected by the engine for every render.
type SystemTokens struct {
	Now          time.Time
	ChatID       string
	Email        string
	GroupID      string
	DisplayName  string
	TemplateCode string
}

// Merge adds system tokens to t. Identity fields overwrite caller values;
// Now is only used when the caller did not supply one.
func (s SystemTokens) Merge(t Tokens) Tokens {
	t.SetDefault("Now", s.Now.UTC())
	identity := []struct {
		key, value string
	}{
		{"ChatId", s.ChatID},
		{"Email", s.Email},
		{"GroupId", s.GroupID},
		{"DisplayName", s.DisplayName},
		{"TemplateCode", s.TemplateCode},
	}
	for _, kv := range identity {
		if kv.value != "" {
			t.Set(kv.key, kv.value)
		}
	}
	return t
}

// RenderOptions controls a single render.
type RenderOptions struct {
	Locale     language.Tag
	HTMLEncode bool
}

// Renderer substitutes {{key}} and {{key|format}} placeholders.
type Renderer struct {
	defaultLocale language.Tag
	htmlEncode    bool
}

// NewRenderer creates a renderer. locale is a BCP 47 tag and falls back to
// English when empty or unparsable.
func NewRenderer(locale string, htmlEncode bool) *Renderer {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	return &Renderer{defaultLocale: tag, htmlEncode: htmlEncode}
}

// Options returns render options for a request locale, falling back to the
// renderer default.
func (r *Renderer) Options(locale string) RenderOptions {
	opts := RenderOptions{Locale: r.defaultLocale, HTMLEncode: r.htmlEncode}
	if locale != "" {
		if tag, err := language.Parse(locale); err == nil {
			opts.Locale = tag
		}
	}
	return opts
}

// Render renders an optional subject template and a body template.
func (r *Renderer) Render(subjectTpl *string, bodyTpl string, tokens Tokens, opts RenderOptions) (subject, body string) {
	if subjectTpl != nil {
		subject = RenderString(*subjectTpl, tokens, opts)
	}
	body = RenderString(bodyTpl, tokens, opts)
	return subject, body
}

var tokenPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// RenderString substitutes placeholders in one pass. Substituted values are
// never scanned again and unknown keys are left as written.
func RenderString(tpl string, tokens Tokens, opts RenderOptions) string {
	return tokenPattern.ReplaceAllStringFunc(tpl, func(placeholder string) string {
		raw := placeholder[2 : len(placeholder)-2]
		key, format, _ := strings.Cut(raw, "|")

		value, ok := tokens.Get(key)
		if !ok {
			return placeholder
		}

		out := formatValue(value, strings.TrimSpace(format), opts.Locale)
		if opts.HTMLEncode {
			out = html.EscapeString(out)
		}
		return out
	})
}

var timeLayouts = map[string]string{
	"date":     "2006-01-02",
	"time":     "15:04:05",
	"datetime": "2006-01-02 15:04:05",
	"rfc3339":  time.RFC3339,
}

// dotnetLayout translates yyyy-MM-dd style patterns to Go layouts. Go
// layouts pass through unchanged.
var dotnetLayout = strings.NewReplacer(
	"yyyy", "2006",
	"yy", "06",
	"MMMM", "January",
	"MMM", "Jan",
	"MM", "01",
	"dddd", "Monday",
	"ddd", "Mon",
	"dd", "02",
	"HH", "15",
	"hh", "03",
	"mm", "04",
	"ss", "05",
	"tt", "PM",
	"fff", "000",
)

func formatValue(value any, format string, tag language.Tag) string {
	switch v := value.(type) {
	case time.Time:
		return formatTime(v, format)
	case *time.Time:
		if v == nil {
			return ""
		}
		return formatTime(*v, format)
	case int:
		return formatNumber(float64(v), format, tag, true)
	case int64:
		return formatNumber(float64(v), format, tag, true)
	case float64:
		return formatNumber(v, format, tag, false)
	case string:
		return formatString(v, format, tag)
	default:
		return fmt.Sprint(v)
	}
}

func formatTime(t time.Time, format string) string {
	if format == "" {
		return t.Format(time.RFC3339)
	}
	if layout, ok := timeLayouts[strings.ToLower(format)]; ok {
		return t.Format(layout)
	}
	return t.Format(dotnetLayout.Replace(format))
}

func formatString(s, format string, tag language.Tag) string {
	if format == "" {
		return s
	}

	switch strings.ToLower(format) {
	case "upper":
		return cases.Upper(tag).String(s)
	case "lower":
		return cases.Lower(tag).String(s)
	case "title":
		return cases.Title(tag).String(s)
	case "trim":
		return strings.TrimSpace(s)
	}

	if _, ok := numberFormat(format); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return formatNumber(f, format, tag, false)
		}
		return s
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return formatTime(t, format)
	}

	return s
}

// numberFormat parses n, nN, fN and d specifiers. It returns the number of
// fraction digits, with -1 meaning "integer".
func numberFormat(format string) (digits int, ok bool) {
	if format == "" {
		return 0, false
	}
	switch c := format[0]; c {
	case 'n', 'N', 'f', 'F':
		if len(format) == 1 {
			return 2, true
		}
		d, err := strconv.Atoi(format[1:])
		if err != nil || d < 0 || d > 15 {
			return 0, false
		}
		return d, true
	case 'd', 'D':
		if len(format) == 1 {
			return -1, true
		}
	}
	return 0, false
}

func formatNumber(f float64, format string, tag language.Tag, integer bool) string {
	digits, ok := numberFormat(format)
	if !ok {
		if integer {
			return strconv.FormatInt(int64(f), 10)
		}
		return strconv.FormatFloat(f, 'f', -1, 64)
	}

	p := message.NewPrinter(tag)
	switch format[0] {
	case 'f', 'F':
		return strconv.FormatFloat(f, 'f', digits, 64)
	case 'd', 'D':
		return p.Sprint(number.Decimal(int64(f), number.NoSeparator()))
	default:
		return p.Sprint(number.Decimal(f,
			number.MinFractionDigits(digits),
			number.MaxFractionDigits(digits),
		))
	}
}
