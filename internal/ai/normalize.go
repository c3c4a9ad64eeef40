package ai

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tommypj/ai-content-saas-backend/pkg/models"
)

const (
	defaultSEOScore    = 50
	defaultImageStyle  = "photorealistic"
	defaultOGType      = "article"
	defaultTwitterCard = "summary_large_image"
	keywordSourceAI    = "ai"
)

var defaultPlatforms = []string{"instagram", "twitter", "linkedin"}

func normalizeKeywords(in models.KeywordsInput, m map[string]any) models.KeywordsResult {
	res := models.KeywordsResult{Topic: in.Seed, Keywords: []models.Keyword{}}

	items, _ := first(m, "keywords", "items", "results").([]any)
	seen := make(map[string]bool)
	for _, item := range items {
		var kw models.Keyword
		switch v := item.(type) {
		case string:
			kw.Keyword = strings.TrimSpace(v)
		case map[string]any:
			kw.Keyword = str(v, "keyword", "term", "phrase")
			kw.Volume = intPtr(first(v, "volume", "searchVolume", "search_volume"))
			kw.Difficulty = intPtr(first(v, "difficulty", "kd"))
			kw.Source = str(v, "source")
		}
		key := strings.ToLower(kw.Keyword)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		if kw.Difficulty != nil {
			d := clamp(*kw.Difficulty, 0, 100)
			kw.Difficulty = &d
		}
		if kw.Volume != nil && *kw.Volume < 0 {
			kw.Volume = nil
		}
		if kw.Source == "" {
			kw.Source = keywordSourceAI
		}
		res.Keywords = append(res.Keywords, kw)
	}
	return res
}

func normalizeArticle(in models.ArticleInput, m map[string]any) models.ArticleResult {
	res := models.ArticleResult{
		Title:   str(m, "title", "headline"),
		Content: str(m, "content", "html", "body"),
	}
	if res.Title == "" {
		res.Title = Truncate(in.Topic, 70)
	}
	if n, ok := number(m["wordCount"]); ok && n > 0 {
		res.WordCount = int(n)
	} else {
		res.WordCount = WordCount(res.Content)
	}
	return res
}

func normalizeSEO(m map[string]any) models.SEOResult {
	res := models.SEOResult{
		Score:           defaultSEOScore,
		Analysis:        map[string]any{},
		Recommendations: strList(m["recommendations"]),
		Strengths:       strList(m["strengths"]),
		Issues:          strList(m["issues"]),
	}
	if n, ok := number(m["score"]); ok {
		res.Score = clamp(int(math.Round(n)), 0, 100)
	}
	if a, ok := m["analysis"].(map[string]any); ok {
		res.Analysis = a
	}
	return res
}

func normalizeMeta(in models.MetaInput, m map[string]any) models.MetaResult {
	res := models.MetaResult{
		MetaTitle:       str(m, "metaTitle", "title"),
		MetaDescription: str(m, "metaDescription", "description"),
		MetaKeywords:    strList(m["metaKeywords"]),
	}
	if res.MetaTitle == "" {
		res.MetaTitle = Truncate(in.Article.Title, 60)
	}
	if res.MetaDescription == "" {
		res.MetaDescription = Truncate(firstNonEmpty(StripTags(in.Article.Content), in.Topic, in.Article.Title), 160)
	}
	if len(res.MetaKeywords) == 0 && len(in.Keywords) > 0 {
		res.MetaKeywords = append([]string{}, in.Keywords...)
	}

	og, _ := first(m, "openGraph", "open_graph", "og").(map[string]any)
	res.OpenGraph = models.OpenGraph{
		Title:       firstNonEmpty(str(og, "title"), res.MetaTitle),
		Description: firstNonEmpty(str(og, "description"), res.MetaDescription),
		Type:        firstNonEmpty(str(og, "type"), defaultOGType),
	}

	tw, _ := first(m, "twitterCard", "twitter_card", "twitter").(map[string]any)
	res.TwitterCard = models.TwitterCard{
		Card:        firstNonEmpty(str(tw, "card"), defaultTwitterCard),
		Title:       firstNonEmpty(str(tw, "title"), res.MetaTitle),
		Description: firstNonEmpty(str(tw, "description"), res.MetaDescription),
	}
	return res
}

func normalizeImage(in models.ImageInput, m map[string]any) models.ImageResult {
	res := models.ImageResult{
		Prompt:      str(m, "prompt", "imagePrompt"),
		AltText:     str(m, "altText", "alt"),
		Caption:     str(m, "caption"),
		Style:       str(m, "style"),
		Suggestions: strList(m["suggestions"]),
	}
	if res.Prompt == "" {
		res.Prompt = Truncate(firstNonEmpty(in.Article.Title, in.Topic), 200)
	}
	if res.AltText == "" {
		res.AltText = Truncate(in.Article.Title, 125)
	}
	if res.Style == "" {
		res.Style = defaultImageStyle
	}
	return res
}

func normalizeHashtags(m map[string]any) models.HashtagsResult {
	res := models.HashtagsResult{
		Primary:   hashtags(m["primary"]),
		Secondary: hashtags(m["secondary"]),
		Trending:  hashtags(m["trending"]),
		Platforms: map[string]string{},
	}

	if platforms, ok := m["platforms"].(map[string]any); ok {
		for name, v := range platforms {
			var tags []string
			switch t := v.(type) {
			case string:
				tags = hashtags(strings.Fields(t))
			default:
				tags = hashtags(t)
			}
			if len(tags) > 0 {
				res.Platforms[strings.ToLower(name)] = strings.Join(tags, " ")
			}
		}
	}

	fallback := map[string][]string{
		"instagram": append(append([]string{}, res.Primary...), res.Secondary...),
		"twitter":   head(res.Primary, 3),
		"linkedin":  head(res.Primary, 5),
	}
	for _, name := range defaultPlatforms {
		if _, ok := res.Platforms[name]; !ok {
			res.Platforms[name] = strings.Join(fallback[name], " ")
		}
	}
	return res
}

// --- helpers over decoded JSON ---

// first returns the value of the first key present in m.
func first(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

// str returns the first non-empty string value among keys.
func str(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// strList reads a list of strings. Object items contribute their first text
// field; a single string is split on commas.
func strList(v any) []string {
	out := []string{}
	switch t := v.(type) {
	case string:
		for _, part := range strings.Split(t, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	case []string:
		for _, s := range t {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case []any:
		for _, item := range t {
			switch it := item.(type) {
			case string:
				if s := strings.TrimSpace(it); s != "" {
					out = append(out, s)
				}
			case map[string]any:
				if s := str(it, "text", "message", "title", "description", "keyword", "tag"); s != "" {
					out = append(out, s)
				}
			case float64, bool:
				out = append(out, fmt.Sprint(it))
			}
		}
	}
	return out
}

// hashtags reads a tag list, prefixing '#' and dropping whitespace and
// duplicates.
func hashtags(v any) []string {
	out := []string{}
	seen := make(map[string]bool)
	for _, s := range strList(v) {
		tag := strings.Map(func(r rune) rune {
			if unicode.IsSpace(r) {
				return -1
			}
			return r
		}, s)
		tag = "#" + strings.TrimLeft(tag, "#")
		if tag == "#" || seen[strings.ToLower(tag)] {
			continue
		}
		seen[strings.ToLower(tag)] = true
		out = append(out, tag)
	}
	return out
}

// number reads a JSON number or a numeric string.
func number(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(t, "%")), 64)
		return f, err == nil
	}
	return 0, false
}

func intPtr(v any) *int {
	n, ok := number(v)
	if !ok {
		return nil
	}
	i := int(math.Round(n))
	return &i
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

func head(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// StripTags removes HTML tags and collapses whitespace.
func StripTags(html string) string {
	return strings.Join(strings.Fields(tagPattern.ReplaceAllString(html, " ")), " ")
}

// WordCount counts words in HTML or plain text.
func WordCount(html string) int {
	return len(strings.Fields(StripTags(html)))
}

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
