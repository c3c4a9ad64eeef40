package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tommypj/ai-content-saas-backend/pkg/models"
)

func TestNormalizeKeywords(t *testing.T) {
	m := map[string]any{
		"topic": "something else",
		"keywords": []any{
			map[string]any{"keyword": "e-bike prices", "volume": float64(1200), "difficulty": float64(140)},
			"commuter ebike",
			map[string]any{"term": "E-Bike Prices"},
			map[string]any{"keyword": ""},
			map[string]any{"keyword": "folding e-bike", "volume": "900", "source": "serp"},
		},
	}
	res := normalizeKeywords(models.KeywordsInput{Seed: "electric bikes"}, m)

	assert.Equal(t, "electric bikes", res.Topic)
	require.Len(t, res.Keywords, 3)

	assert.Equal(t, "e-bike prices", res.Keywords[0].Keyword)
	require.NotNil(t, res.Keywords[0].Volume)
	assert.Equal(t, 1200, *res.Keywords[0].Volume)
	require.NotNil(t, res.Keywords[0].Difficulty)
	assert.Equal(t, 100, *res.Keywords[0].Difficulty, "difficulty clamps to 100")
	assert.Equal(t, "ai", res.Keywords[0].Source)

	assert.Equal(t, "commuter ebike", res.Keywords[1].Keyword)
	assert.Nil(t, res.Keywords[1].Volume)

	assert.Equal(t, 900, *res.Keywords[2].Volume)
	assert.Equal(t, "serp", res.Keywords[2].Source)
}

func TestNormalizeKeywords_Missing(t *testing.T) {
	res := normalizeKeywords(models.KeywordsInput{Seed: "x"}, map[string]any{})
	assert.NotNil(t, res.Keywords)
	assert.Empty(t, res.Keywords)
}

func TestNormalizeArticle(t *testing.T) {
	in := models.ArticleInput{Topic: "A very long topic about electric bikes and how they change urban commuting for everyone"}

	res := normalizeArticle(in, map[string]any{"content": "<h2>Intro</h2><p>Three words here</p>"})
	assert.Equal(t, Truncate(in.Topic, 70), res.Title)
	assert.Equal(t, 4, res.WordCount)

	res = normalizeArticle(in, map[string]any{"title": "Given", "content": "<p>x</p>", "wordCount": float64(900)})
	assert.Equal(t, "Given", res.Title)
	assert.Equal(t, 900, res.WordCount)
}

func TestNormalizeSEO(t *testing.T) {
	tests := []struct {
		name  string
		score any
		want  int
	}{
		{"missing", nil, 50},
		{"in range", float64(72.6), 73},
		{"above", float64(140), 100},
		{"below", float64(-3), 0},
		{"string", "88", 88},
		{"percent string", "64%", 64},
		{"garbage", "high", 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := map[string]any{}
			if tt.score != nil {
				m["score"] = tt.score
			}
			res := normalizeSEO(m)
			assert.Equal(t, tt.want, res.Score)
			assert.NotNil(t, res.Analysis)
			assert.NotNil(t, res.Recommendations)
			assert.NotNil(t, res.Strengths)
			assert.NotNil(t, res.Issues)
		})
	}
}

func TestNormalizeSEO_Lists(t *testing.T) {
	res := normalizeSEO(map[string]any{
		"analysis":        map[string]any{"readability": "good"},
		"recommendations": []any{"Add alt text", map[string]any{"text": "Shorten title"}},
		"issues":          "thin content, missing h1",
	})
	assert.Equal(t, "good", res.Analysis["readability"])
	assert.Equal(t, []string{"Add alt text", "Shorten title"}, res.Recommendations)
	assert.Equal(t, []string{"thin content", "missing h1"}, res.Issues)
	assert.Equal(t, []string{}, res.Strengths)
}

func TestNormalizeMeta_Fallbacks(t *testing.T) {
	in := models.MetaInput{ArticleContext: models.ArticleContext{
		Article:  models.ArticleRef{Title: "Electric Bikes: The Complete Buyer's Guide for City Commuters in 2025", Content: "<p>Electric bikes are great.</p>"},
		Keywords: []string{"ebike"},
	}}
	res := normalizeMeta(in, map[string]any{})

	assert.Equal(t, Truncate(in.Article.Title, 60), res.MetaTitle)
	assert.Equal(t, "Electric bikes are great.", res.MetaDescription)
	assert.Equal(t, []string{"ebike"}, res.MetaKeywords)
	assert.Equal(t, "article", res.OpenGraph.Type)
	assert.Equal(t, res.MetaTitle, res.OpenGraph.Title)
	assert.Equal(t, "summary_large_image", res.TwitterCard.Card)
	assert.Equal(t, res.MetaDescription, res.TwitterCard.Description)
}

func TestNormalizeMeta_Provided(t *testing.T) {
	res := normalizeMeta(models.MetaInput{}, map[string]any{
		"metaTitle":       "T",
		"metaDescription": "D",
		"metaKeywords":    []any{"a", "b"},
		"openGraph":       map[string]any{"title": "OG", "type": "website"},
		"twitter":         map[string]any{"card": "summary"},
	})
	assert.Equal(t, "T", res.MetaTitle)
	assert.Equal(t, []string{"a", "b"}, res.MetaKeywords)
	assert.Equal(t, "OG", res.OpenGraph.Title)
	assert.Equal(t, "D", res.OpenGraph.Description)
	assert.Equal(t, "website", res.OpenGraph.Type)
	assert.Equal(t, "summary", res.TwitterCard.Card)
	assert.Equal(t, "T", res.TwitterCard.Title)
}

func TestNormalizeImage(t *testing.T) {
	in := models.ImageInput{ArticleContext: models.ArticleContext{Article: models.ArticleRef{Title: "Riding in the rain"}}}

	res := normalizeImage(in, map[string]any{})
	assert.Equal(t, "Riding in the rain", res.Prompt)
	assert.Equal(t, "Riding in the rain", res.AltText)
	assert.Equal(t, "photorealistic", res.Style)
	assert.Equal(t, []string{}, res.Suggestions)

	res = normalizeImage(in, map[string]any{"prompt": "p", "style": "watercolor", "suggestions": []any{"wide shot"}})
	assert.Equal(t, "p", res.Prompt)
	assert.Equal(t, "watercolor", res.Style)
	assert.Equal(t, []string{"wide shot"}, res.Suggestions)
}

func TestNormalizeHashtags(t *testing.T) {
	res := normalizeHashtags(map[string]any{
		"primary":   []any{"ebike", "#CityRide", "urban mobility", "EBike"},
		"secondary": "commute, green",
		"platforms": map[string]any{"Twitter": "#ebike #go", "tiktok": []any{"fyp"}},
	})

	assert.Equal(t, []string{"#ebike", "#CityRide", "#urbanmobility"}, res.Primary)
	assert.Equal(t, []string{"#commute", "#green"}, res.Secondary)
	assert.Equal(t, []string{}, res.Trending)

	assert.Equal(t, "#ebike #go", res.Platforms["twitter"])
	assert.Equal(t, "#fyp", res.Platforms["tiktok"])
	assert.Equal(t, "#ebike #CityRide #urbanmobility #commute #green", res.Platforms["instagram"])
	assert.Equal(t, "#ebike #CityRide #urbanmobility", res.Platforms["linkedin"])
}

func TestNormalizeHashtags_Empty(t *testing.T) {
	res := normalizeHashtags(map[string]any{})
	assert.Equal(t, []string{}, res.Primary)
	for _, p := range defaultPlatforms {
		_, ok := res.Platforms[p]
		assert.True(t, ok, p)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "héll", Truncate("héllo", 4))
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "", Truncate("abc", 0))
}

func TestWordCount(t *testing.T) {
	assert.Equal(t, 0, WordCount(""))
	assert.Equal(t, 5, WordCount("<h1>One two</h1>\n<p>three <b>four</b> five</p>"))
}
