package prompts

import "github.com/yungbote/sparring-backend/internal/domain/scenario"

// Runtime keys supplied by the system for each kind of scenario template.
var (
	TaskRuntimeKeys      = []string{"scenario_name", "task_title"}
	ResearchRuntimeKeys  = []string{"scenario_name"}
	AssistantRuntimeKeys = []string{"scenario_name", "prep_notes", "opening"}
	AnalysisRuntimeKeys  = []string{"scenario_name", "techniques", "exchange", "prior_context", "score_min", "score_max", "taxonomy_version"}
	FeedbackRuntimeKeys  = []string{"scenario_name", "scores", "missed", "overall"}
)

func TaskRuntime(def *scenario.Definition, task scenario.TaskConfig) map[string]string {
	title := task.Title
	if title == "" {
		title = task.Category
	}
	return map[string]string{"scenario_name": def.Name, "task_title": title}
}

func ResearchRuntime(def *scenario.Definition) map[string]string {
	return map[string]string{"scenario_name": def.Name}
}
