package ai

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/tommypj/ai-content-saas-backend/pkg/models"
)

// maxPromptContent bounds how much article text is sent back to the provider.
const maxPromptContent = 6000

type promptSpec struct {
	system    string
	maxTokens int
	tmpl      *template.Template
}

// promptData is the union of every field a prompt template reads.
type promptData struct {
	Seed     string
	Topic    string
	Keywords string
	Locale   string
	Length   string
	Tone     string
	Title    string
	Content  string
}

var funcs = template.FuncMap{"upper": strings.ToUpper}

var prompts = map[models.JobType]promptSpec{
	models.JobTypeKeywords: {
		system:    "You are an SEO keyword researcher. Respond with a single JSON object and nothing else.",
		maxTokens: 1024,
		tmpl: template.Must(template.New("keywords").Funcs(funcs).Parse(
			`Suggest 10 to 20 search keywords related to "{{.Seed}}" for the {{upper .Locale}} market.
Return JSON: {"topic": string, "keywords": [{"keyword": string, "volume": number, "difficulty": number}]}.
volume is the estimated monthly search volume, difficulty is 0-100. Order by relevance.`)),
	},
	models.JobTypeArticle: {
		system:    "You are an experienced content writer. Respond with a single JSON object and nothing else.",
		maxTokens: 4096,
		tmpl: template.Must(template.New("article").Funcs(funcs).Parse(
			`Write a {{if .Length}}{{.Length}} {{end}}article about "{{.Topic}}" in locale {{.Locale}}.
{{- if .Tone}}
Tone: {{.Tone}}.
{{- end}}
{{- if .Keywords}}
Work in these keywords naturally: {{.Keywords}}.
{{- end}}
Use semantic HTML (h2, h3, p, ul) for the body and no <html> or <body> wrapper.
Return JSON: {"title": string, "content": string, "wordCount": number}.`)),
	},
	models.JobTypeSEO: {
		system:    "You are a technical SEO auditor. Respond with a single JSON object and nothing else.",
		maxTokens: 2048,
		tmpl: template.Must(template.New("seo").Parse(
			`Audit this article for search optimisation{{if .Topic}} on the topic "{{.Topic}}"{{end}}.
{{- if .Keywords}}
Target keywords: {{.Keywords}}.
{{- end}}
Title: {{.Title}}
Content:
{{.Content}}

Return JSON: {"score": number 0-100, "analysis": object, "recommendations": [string], "strengths": [string], "issues": [string]}.`)),
	},
	models.JobTypeMeta: {
		system:    "You write search and social metadata. Respond with a single JSON object and nothing else.",
		maxTokens: 1024,
		tmpl: template.Must(template.New("meta").Parse(
			`Write metadata in locale {{.Locale}} for the article "{{.Title}}".
{{- if .Topic}}
Topic: {{.Topic}}.
{{- end}}
{{- if .Keywords}}
Keywords: {{.Keywords}}.
{{- end}}
{{- if .Content}}
Content excerpt:
{{.Content}}
{{- end}}

Return JSON: {"metaTitle": string (max 60 chars), "metaDescription": string (max 160 chars), "metaKeywords": [string],
"openGraph": {"title": string, "description": string, "type": string},
"twitterCard": {"card": string, "title": string, "description": string}}.`)),
	},
	models.JobTypeImage: {
		system:    "You are an art director writing prompts for an image model. Respond with a single JSON object and nothing else.",
		maxTokens: 1024,
		tmpl: template.Must(template.New("image").Parse(
			`Describe a hero image for the article "{{.Title}}".
{{- if .Topic}}
Topic: {{.Topic}}.
{{- end}}
{{- if .Content}}
Content excerpt:
{{.Content}}
{{- end}}

Return JSON: {"prompt": string, "altText": string, "caption": string, "style": string, "suggestions": [string]}.`)),
	},
	models.JobTypeHashtags: {
		system:    "You are a social media strategist. Respond with a single JSON object and nothing else.",
		maxTokens: 1024,
		tmpl: template.Must(template.New("hashtags").Parse(
			`Suggest hashtags in locale {{.Locale}} to promote the article "{{.Title}}".
{{- if .Topic}}
Topic: {{.Topic}}.
{{- end}}
{{- if .Keywords}}
Keywords: {{.Keywords}}.
{{- end}}

Return JSON: {"primary": [string], "secondary": [string], "trending": [string],
"platforms": {"instagram": string, "twitter": string, "linkedin": string}}.`)),
	},
}

// buildPrompt renders the prompt for in and returns it with its system
// instruction and token ceiling.
func buildPrompt(in models.Input, defaultLocale string) (models.TextRequest, error) {
	spec, ok := prompts[in.Kind()]
	if !ok {
		return models.TextRequest{}, fmt.Errorf("no prompt for job type %q", in.Kind())
	}

	data := promptFor(in)
	if data.Locale == "" {
		data.Locale = defaultLocale
	}

	var buf bytes.Buffer
	if err := spec.tmpl.Execute(&buf, data); err != nil {
		return models.TextRequest{}, fmt.Errorf("rendering %s prompt: %w", in.Kind(), err)
	}

	return models.TextRequest{
		Prompt:    buf.String(),
		System:    spec.system,
		MaxTokens: spec.maxTokens,
		JSON:      true,
	}, nil
}

func promptFor(in models.Input) promptData {
	switch v := in.(type) {
	case models.KeywordsInput:
		return promptData{Seed: v.Seed, Locale: v.Locale}
	case models.ArticleInput:
		return promptData{
			Topic:    v.Topic,
			Keywords: strings.Join(v.Keywords, ", "),
			Locale:   v.Locale,
			Length:   v.Settings.Length,
			Tone:     v.Settings.Tone,
		}
	case models.SEOInput:
		return articlePrompt(v.ArticleContext)
	case models.MetaInput:
		return articlePrompt(v.ArticleContext)
	case models.ImageInput:
		return articlePrompt(v.ArticleContext)
	case models.HashtagsInput:
		return articlePrompt(v.ArticleContext)
	default:
		return promptData{}
	}
}

func articlePrompt(c models.ArticleContext) promptData {
	return promptData{
		Topic:    c.Topic,
		Keywords: strings.Join(c.Keywords, ", "),
		Locale:   c.Locale,
		Title:    c.Article.Title,
		Content:  Truncate(c.Article.Content, maxPromptContent),
	}
}
