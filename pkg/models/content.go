package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidPayload is returned when a stored payload is not a JSON object.
var ErrInvalidPayload = errors.New("invalid job payload")

// MissingFieldsError reports required input fields that are absent.
type MissingFieldsError struct {
	Kind   JobType
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("%s job requires %s", e.Kind, strings.Join(e.Fields, ", "))
}

// Input is the typed payload of a job. There is one variant per JobType.
type Input interface {
	Kind() JobType
	// Require checks the fields the generation operation cannot run without.
	Require() error
}

// Result is the typed output of a job. There is one variant per JobType.
type Result interface {
	Kind() JobType
}

// --- Inputs ---

type KeywordsInput struct {
	Seed   string `json:"seed"`
	Locale string `json:"locale,omitempty"`
}

type ArticleSettings struct {
	Length string `json:"length,omitempty"`
	Tone   string `json:"tone,omitempty"`
}

type ArticleInput struct {
	Topic    string          `json:"topic"`
	Keywords []string        `json:"keywords,omitempty"`
	Locale   string          `json:"locale,omitempty"`
	Settings ArticleSettings `json:"settings"`
}

// ArticleRef identifies the article a derived job works on.
type ArticleRef struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// ArticleContext is the shared input of jobs derived from an existing article.
type ArticleContext struct {
	Article  ArticleRef `json:"article"`
	Topic    string     `json:"topic,omitempty"`
	Keywords []string   `json:"keywords,omitempty"`
	Locale   string     `json:"locale,omitempty"`
}

// Source returns the article the job is derived from.
func (c ArticleContext) Source() ArticleRef { return c.Article }

type SEOInput struct{ ArticleContext }
type MetaInput struct{ ArticleContext }
type ImageInput struct{ ArticleContext }
type HashtagsInput struct{ ArticleContext }

func (KeywordsInput) Kind() JobType { return JobTypeKeywords }
func (ArticleInput) Kind() JobType  { return JobTypeArticle }
func (SEOInput) Kind() JobType      { return JobTypeSEO }
func (MetaInput) Kind() JobType     { return JobTypeMeta }
func (ImageInput) Kind() JobType    { return JobTypeImage }
func (HashtagsInput) Kind() JobType { return JobTypeHashtags }

func (in KeywordsInput) Require() error {
	return require(JobTypeKeywords, field{"seed", in.Seed})
}

func (in ArticleInput) Require() error {
	return require(JobTypeArticle, field{"topic", in.Topic})
}

func (in SEOInput) Require() error {
	return RequireArticle(JobTypeSEO, in.Article)
}

// RequireArticle reports a blank title or content on the article a job of
// kind is derived from.
func RequireArticle(kind JobType, art ArticleRef) error {
	return require(kind,
		field{"article.title", art.Title},
		field{"article.content", art.Content})
}

func (in MetaInput) Require() error {
	return require(JobTypeMeta, field{"article.title", in.Article.Title})
}

func (in ImageInput) Require() error {
	return require(JobTypeImage, field{"article.title", in.Article.Title})
}

func (in HashtagsInput) Require() error {
	return require(JobTypeHashtags, field{"article.title", in.Article.Title})
}

type field struct {
	name  string
	value string
}

func require(kind JobType, fields ...field) error {
	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return &MissingFieldsError{Kind: kind, Fields: missing}
	}
	return nil
}

// rawPayload accepts every field any job type reads. Title and content may be
// given at the top level or nested under "article".
type rawPayload struct {
	Seed     string       `json:"seed"`
	Topic    string       `json:"topic"`
	Keywords flexStrings  `json:"keywords"`
	Locale   string       `json:"locale"`
	Settings *rawSettings `json:"settings"`
	Title    string       `json:"title"`
	Content  string       `json:"content"`
	Article  *ArticleRef  `json:"article"`
}

type rawSettings struct {
	Length json.RawMessage `json:"length"`
	Tone   string          `json:"tone"`
}

// DecodeInput builds the typed Input variant for t from a stored payload.
// Missing optional fields are left empty; required fields are checked by
// Input.Require.
func DecodeInput(t JobType, payload json.RawMessage) (Input, error) {
	var raw rawPayload
	if len(payload) > 0 && string(payload) != "null" {
		if err := json.Unmarshal(payload, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}

	article := ArticleRef{Title: raw.Title, Content: raw.Content}
	if raw.Article != nil {
		if raw.Article.Title != "" {
			article.Title = raw.Article.Title
		}
		if raw.Article.Content != "" {
			article.Content = raw.Article.Content
		}
	}
	ctx := ArticleContext{
		Article:  article,
		Topic:    raw.Topic,
		Keywords: raw.Keywords,
		Locale:   raw.Locale,
	}

	switch t {
	case JobTypeKeywords:
		seed := raw.Seed
		if seed == "" {
			seed = raw.Topic
		}
		return KeywordsInput{Seed: seed, Locale: raw.Locale}, nil
	case JobTypeArticle:
		in := ArticleInput{Topic: raw.Topic, Keywords: raw.Keywords, Locale: raw.Locale}
		if in.Topic == "" {
			in.Topic = raw.Seed
		}
		if raw.Settings != nil {
			in.Settings = ArticleSettings{Length: rawLength(raw.Settings.Length), Tone: raw.Settings.Tone}
		}
		return in, nil
	case JobTypeSEO:
		return SEOInput{ctx}, nil
	case JobTypeMeta:
		return MetaInput{ctx}, nil
	case JobTypeImage:
		return ImageInput{ctx}, nil
	case JobTypeHashtags:
		return HashtagsInput{ctx}, nil
	default:
		return nil, fmt.Errorf("unsupported job type %q", t)
	}
}

func rawLength(b json.RawMessage) string {
	if len(b) == 0 || string(b) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return s
	}
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return ""
}

// flexStrings decodes a keyword list given as an array of strings, an array
// of {"keyword": ...} objects, or a single comma-separated string.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = splitList(s)
		return nil
	}

	var items []any
	if err := json.Unmarshal(b, &items); err != nil {
		// Anything else is ignored rather than failing the whole payload.
		*f = nil
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		case map[string]any:
			if kw, ok := v["keyword"].(string); ok && strings.TrimSpace(kw) != "" {
				out = append(out, strings.TrimSpace(kw))
			}
		}
	}
	*f = out
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// --- Results ---

type Keyword struct {
	Keyword    string `json:"keyword"`
	Volume     *int   `json:"volume,omitempty"`
	Difficulty *int   `json:"difficulty,omitempty"`
	Source     string `json:"source"`
}

type KeywordsResult struct {
	Topic    string    `json:"topic"`
	Keywords []Keyword `json:"keywords"`
}

type ArticleResult struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	WordCount int    `json:"wordCount"`
}

type SEOResult struct {
	Score           int            `json:"score"`
	Analysis        map[string]any `json:"analysis"`
	Recommendations []string       `json:"recommendations"`
	Strengths       []string       `json:"strengths"`
	Issues          []string       `json:"issues"`
}

type OpenGraph struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

type TwitterCard struct {
	Card        string `json:"card"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type MetaResult struct {
	MetaTitle       string      `json:"metaTitle"`
	MetaDescription string      `json:"metaDescription"`
	MetaKeywords    []string    `json:"metaKeywords"`
	OpenGraph       OpenGraph   `json:"openGraph"`
	TwitterCard     TwitterCard `json:"twitterCard"`
}

type ImageResult struct {
	Prompt      string   `json:"prompt"`
	AltText     string   `json:"altText"`
	Caption     string   `json:"caption"`
	Style       string   `json:"style"`
	Suggestions []string `json:"suggestions"`
}

type HashtagsResult struct {
	Primary   []string          `json:"primary"`
	Secondary []string          `json:"secondary"`
	Trending  []string          `json:"trending"`
	Platforms map[string]string `json:"platforms"`
}

func (KeywordsResult) Kind() JobType { return JobTypeKeywords }
func (ArticleResult) Kind() JobType  { return JobTypeArticle }
func (SEOResult) Kind() JobType      { return JobTypeSEO }
func (MetaResult) Kind() JobType     { return JobTypeMeta }
func (ImageResult) Kind() JobType    { return JobTypeImage }
func (HashtagsResult) Kind() JobType { return JobTypeHashtags }
