// Package pipeline defines the typed task catalog and the executor that
// drives a routed pipeline through its specialists, tools, and event
// stream.
package pipeline

import "github.com/tweenson/artificer/specialist"

// TaskType identifies one kind of unit of work a pipeline step can run.
type TaskType string

const (
	TaskChat        TaskType = "chat"
	TaskWebResearch TaskType = "web_research"
	TaskSummarizer  TaskType = "summarizer"
	TaskCodeReview  TaskType = "code_review"

	// Background types run as single-task jobs and are never offered to
	// the router.
	TaskTitleGeneration  TaskType = "title_generation"
	TaskSummarization    TaskType = "summarization"
	TaskMemoryExtraction TaskType = "memory_extraction"
	TaskTranslation      TaskType = "translation"
	TaskExtraction       TaskType = "extraction"
)

// Criticality controls how a step's failure affects the rest of the run.
type Criticality int

const (
	// Blocking failures terminate the pipeline.
	Blocking Criticality = iota
	// BestEffort failures are reported in-band and execution continues.
	BestEffort
)

// Definition is the static profile of a task type: what it is for, how
// its specialist is prompted, which tier serves it, and which toolbelts
// it may use.
type Definition struct {
	Description  string
	Instructions string
	Tier         specialist.Tier
	Toolbelts    []string
	Advertisable bool
}

var definitions = map[TaskType]Definition{
	TaskChat: {
		Description:  "General conversation: answer directly from context and memory.",
		Instructions: "You are a helpful assistant. Answer the user directly and concisely using the conversation so far.",
		Tier:         specialist.TierQuick,
		Toolbelts:    []string{"datetime", "archivist"},
		Advertisable: true,
	},
	TaskWebResearch: {
		Description:  "Research a question using web search tools and report findings with sources.",
		Instructions: "You are a research assistant. Use the available search tools to gather current information, then report the findings with their sources.",
		Tier:         specialist.TierToolCalling,
		Toolbelts:    []string{"web_search", "datetime"},
		Advertisable: true,
	},
	TaskSummarizer: {
		Description:  "Condense the preceding step's output into a direct answer.",
		Instructions: "Condense the provided material into a clear, direct answer. Keep only what the user asked for.",
		Tier:         specialist.TierReasoning,
		Advertisable: true,
	},
	TaskCodeReview: {
		Description:  "Review code for defects, style, and clarity using file tools.",
		Instructions: "You are a code reviewer. Read the relevant files with the available tools and report concrete defects and improvements.",
		Tier:         specialist.TierCoding,
		Toolbelts:    []string{"file_smith"},
		Advertisable: true,
	},
	TaskTitleGeneration: {
		Description:  "Produce a short conversation title.",
		Instructions: "Write a title of at most five words for this conversation. Reply with the title only, no quotes.",
		Tier:         specialist.TierQuick,
	},
	TaskSummarization: {
		Description:  "Summarize a conversation for long-term storage.",
		Instructions: "Summarize this conversation in a short paragraph covering the user's goal and the outcome.",
		Tier:         specialist.TierReasoning,
	},
	TaskMemoryExtraction: {
		Description:  "Extract durable facts about the user from a conversation.",
		Instructions: "Extract durable facts about the user from this conversation. Reply with a JSON array of {\"key\", \"value\"} objects and nothing else. Reply with [] when there is nothing worth keeping.",
		Tier:         specialist.TierQuick,
	},
	TaskTranslation: {
		Description:  "Translate text on behalf of a job.",
		Instructions: "Translate the following text accurately while preserving tone and meaning. Maintain the original formatting and structure.",
		Tier:         specialist.TierQuick,
	},
	TaskExtraction: {
		Description:  "Pull requested information out of a piece of text.",
		Instructions: "Extract and return only the requested information from the text. Be precise and concise.",
		Tier:         specialist.TierQuick,
	},
}

// Lookup returns the definition for a task type.
func Lookup(t TaskType) (Definition, bool) {
	def, ok := definitions[t]
	return def, ok
}

// Advertisable returns the task types the router may plan with, in a
// stable order.
func Advertisable() []TaskType {
	ordered := []TaskType{TaskChat, TaskWebResearch, TaskSummarizer, TaskCodeReview}
	out := make([]TaskType, 0, len(ordered))
	for _, t := range ordered {
		if definitions[t].Advertisable {
			out = append(out, t)
		}
	}
	return out
}

// TaskSpec is one planned step of a pipeline. Immutable after creation.
type TaskSpec struct {
	Type        TaskType
	Input       string
	Criticality Criticality
}

// Pipeline is the ordered plan for one inbound message.
type Pipeline []TaskSpec

// Chat builds the single-step fallback pipeline for a raw message.
func Chat(message string) Pipeline {
	return Pipeline{{Type: TaskChat, Input: message, Criticality: Blocking}}
}

// Single builds a one-step pipeline, used for background jobs.
func Single(t TaskType, input string, crit Criticality) Pipeline {
	return Pipeline{{Type: t, Input: input, Criticality: crit}}
}
