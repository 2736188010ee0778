package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Style is a named prompt suffix applied to every visual prompt of a production.
type Style struct {
	ID           string `yaml:"id" json:"id"`
	Name         string `yaml:"name" json:"name"`
	PromptSuffix string `yaml:"prompt_suffix" json:"promptSuffix"`
}

// StyleCatalog is an ordered list of styles.
type StyleCatalog []Style

// Find returns the style with the given id.
func (c StyleCatalog) Find(id string) (Style, bool) {
	for _, s := range c {
		if s.ID == id {
			return s, true
		}
	}
	return Style{}, false
}

// Apply appends the style suffix to prompt. Unknown ids leave the prompt unchanged.
func (c StyleCatalog) Apply(id, prompt string) string {
	s, ok := c.Find(id)
	if !ok {
		return prompt
	}
	return prompt + s.PromptSuffix
}

// DefaultStyles is the built-in catalog.
func DefaultStyles() StyleCatalog {
	return StyleCatalog{
		{ID: "none", Name: "None"},
		{ID: "realistic", Name: "Photorealistic", PromptSuffix: ", hyper-realistic, 8k resolution, highly detailed, professional photography"},
		{ID: "cyberpunk", Name: "Cyberpunk", PromptSuffix: ", cyberpunk aesthetic, neon lights, futuristic city, high tech, dark synthwave colors"},
		{ID: "watercolor", Name: "Watercolor", PromptSuffix: ", soft watercolor painting, artistic brush strokes, pastel colors, paper texture"},
		{ID: "oil", Name: "Oil Painting", PromptSuffix: ", classic oil painting, rich textures, heavy brushwork, masterpiece, canvas texture"},
		{ID: "sketch", Name: "Charcoal Sketch", PromptSuffix: ", rough charcoal sketch, hand-drawn, artistic, expressive lines, black and white"},
		{ID: "3d", Name: "3D Render", PromptSuffix: ", high quality 3d render, Octane render, Unreal Engine 5, Pixar style, vivid lighting"},
		{ID: "anime", Name: "Anime", PromptSuffix: ", high quality anime style, vibrant colors, detailed line art, studio ghibli inspiration"},
		{ID: "flat-vector", Name: "Flat Vector", PromptSuffix: ", flat 2d vector illustration, clean lines, minimalist, solid colors, behance style"},
		{ID: "pixel-art", Name: "Pixel Art", PromptSuffix: ", high quality 16-bit pixel art, retro video game style, vibrant, crisp pixels"},
		{ID: "paper-cutout", Name: "Paper Cutout", PromptSuffix: ", layered paper cutout art, 2d silhouette, depth effect, handcrafted texture"},
		{ID: "line-art", Name: "Line Art", PromptSuffix: ", clean 2d line art, minimalist black and white illustration, elegant contours"},
		{ID: "pop-art", Name: "Pop Art", PromptSuffix: ", 2d pop art style, Andy Warhol inspired, bold colors, halftone dots, high contrast"},
		{ID: "ukiyo-e", Name: "Japanese Woodblock", PromptSuffix: ", traditional Japanese ukiyo-e style, 2d woodblock print, flat colors, classical art"},
		{ID: "isometric", Name: "Isometric 2D", PromptSuffix: ", isometric 2d illustration, game asset style, clean vector, soft shadows"},
		{ID: "graffiti", Name: "Graffiti Art", PromptSuffix: ", urban graffiti street art style, 2d spray paint, bold tags, vibrant dripping paint"},
	}
}

type stylesFile struct {
	Styles []Style `yaml:"styles"`
}

// LoadStyles reads a YAML style catalog. An empty path returns the built-in catalog.
// A "none" style is always present.
func LoadStyles(path string) (StyleCatalog, error) {
	if path == "" {
		return DefaultStyles(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read styles file: %w", err)
	}
	var f stylesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse styles file: %w", err)
	}
	catalog := StyleCatalog(f.Styles)
	for i, s := range catalog {
		if s.ID == "" {
			return nil, fmt.Errorf("style %d has no id", i)
		}
	}
	if _, ok := catalog.Find("none"); !ok {
		catalog = append(StyleCatalog{{ID: "none", Name: "None"}}, catalog...)
	}
	return catalog, nil
}
