package pipeline

import "github.com/Strob0t/ReelForge/internal/domain/run"

// DefaultTemplateID is used when a start request names no pipeline.
const DefaultTemplateID = "content_production"

// BuiltinTemplates returns the set of built-in pipeline templates.
func BuiltinTemplates() []Template {
	return []Template{
		contentProduction(),
		quickGenerate(),
		searchAndScript(),
		articleToScript(),
	}
}

func phase(name string, review bool) run.PhaseSpec {
	return run.PhaseSpec{Name: name, Review: review}
}

// contentProduction is the full pipeline from raw input to published video
// and analytics. Every creative phase is reviewed before the next one runs.
func contentProduction() Template {
	return Template{
		ID:          "content_production",
		Name:        "Full Content Production",
		Description: "Input to published video: research, planning, script, visuals, assembly, export, distribution and analytics.",
		Builtin:     true,
		InputKinds:  []string{"prompt", "youtube", "file", "topic"},
		MaxCostUSD:  10,
		Phases: []run.PhaseSpec{
			phase("input_processing", true),
			phase("search_content_ideas", true),
			phase("research", true),
			phase("planning", true),
			phase("script_writing", true),
			phase("prompt_generation", true),
			phase("image_generation", true),
			phase("visual_generation", true),
			phase("assembly", false),
			phase("export", false),
			phase("distribution", false),
			phase("analytics", false),
		},
	}
}

// quickGenerate searches a topic and writes a script without review.
func quickGenerate() Template {
	return Template{
		ID:          "quick_generate",
		Name:        "Quick Generate",
		Description: "Search a topic and generate a script.",
		Builtin:     true,
		InputKinds:  []string{"topic", "prompt"},
		Phases: []run.PhaseSpec{
			phase("search", false),
			phase("generate_script", false),
		},
	}
}

// searchAndScript is quickGenerate plus a review of the script before it is stored.
func searchAndScript() Template {
	return Template{
		ID:          "search_and_script",
		Name:        "Search and Script",
		Description: "Search a topic, generate a reviewed script and store it.",
		Builtin:     true,
		InputKinds:  []string{"topic", "prompt"},
		Phases: []run.PhaseSpec{
			phase("search", false),
			phase("generate_script", true),
			phase("store_script", false),
		},
	}
}

// articleToScript crawls an article URL and turns it into a reviewed script.
func articleToScript() Template {
	return Template{
		ID:          "article_to_script",
		Name:        "Article to Script",
		Description: "Crawl an article, generate a reviewed script and store it.",
		Builtin:     true,
		InputKinds:  []string{"article_url"},
		Phases: []run.PhaseSpec{
			phase("crawl", false),
			phase("generate_script", true),
			phase("store_script", false),
		},
	}
}
