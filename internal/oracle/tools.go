package oracle

import (
	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ShayCichocki/arbor/pkg/models"
)

type toolSpec struct {
	description string
	properties  map[string]interface{}
	required    []string
}

func str(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc}
}

func strList(desc string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"items":       map[string]interface{}{"type": "string"},
		"description": desc,
	}
}

func boolean(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "boolean", "description": desc}
}

var toolSpecs = map[models.Verb]toolSpec{
	models.VerbRead: {
		description: "Read files inside your scope. Use the path \"documentation\" to read the project documentation.",
		properties:  map[string]interface{}{"paths": strList("Project-relative paths to read")},
		required:    []string{"paths"},
	},
	models.VerbExecute: {
		description: "Run one allow-listed shell command in the project root. Commands are killed after the default timeout.",
		properties: map[string]interface{}{
			"command": str("The command to run"),
			"timeout": map[string]interface{}{
				"type":        "string",
				"enum":        []string{string(models.TimeoutDefault), string(models.TimeoutUnbounded)},
				"description": "unbounded is only granted to the coordinator for long-running training",
			},
			"timeout_seconds": map[string]interface{}{"type": "integer", "description": "Optional shorter timeout"},
		},
		required: []string{"command"},
	},
	models.VerbWriteDocumentation: {
		description: "Append to or replace the project documentation.",
		properties: map[string]interface{}{
			"content": str("Documentation text"),
			"mode": map[string]interface{}{
				"type": "string",
				"enum": []string{string(models.DocAppend), string(models.DocReplace)},
			},
		},
		required: []string{"content"},
	},
	models.VerbWriteFile: {
		description: "Write the full content of a project file.",
		properties: map[string]interface{}{
			"path":    str("Project-relative file path"),
			"content": str("Complete file content"),
		},
		required: []string{"path", "content"},
	},
	models.VerbWriteScratch: {
		description: "Write a file in your private scratch workspace.",
		properties: map[string]interface{}{
			"path":    str("File name inside the workspace"),
			"content": str("File content"),
		},
		required: []string{"path", "content"},
	},
	models.VerbRunScratch: {
		description: "Run a script from your scratch workspace with the default timeout.",
		properties:  map[string]interface{}{"path": str("Script name inside the workspace")},
		required:    []string{"path"},
	},
	models.VerbDelegate: {
		description: "Hand a task to an existing child. Call wait afterwards.",
		properties: map[string]interface{}{
			"child":       str("Child node ID"),
			"instruction": str("The task"),
			"independent": boolean("Set on every dispatch of a batch that may run in parallel"),
		},
		required: []string{"child", "instruction"},
	},
	models.VerbSpawn: {
		description: "Create a child. Submanagers own a directory, implementers own one file, diagnosticians investigate without owning anything. Call wait afterwards.",
		properties: map[string]interface{}{
			"role": map[string]interface{}{
				"type": "string",
				"enum": []string{string(models.RoleSubManager), string(models.RoleImplementer), string(models.RoleDiagnostician)},
			},
			"scope":       str("Owned directory or file, strictly inside your own scope"),
			"instruction": str("The task"),
			"focus":       strList("Paths a diagnostician should inspect"),
			"independent": boolean("Set on every dispatch of a batch that may run in parallel"),
		},
		required: []string{"role", "instruction"},
	},
	models.VerbWait: {
		description: "Run the pending dispatches and wait for their reports.",
		properties:  map[string]interface{}{},
	},
	models.VerbFinish: {
		description: "End your work and report to your parent.",
		properties: map[string]interface{}{
			"report": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"status":               map[string]interface{}{"type": "string", "enum": []string{string(models.ReportPass), string(models.ReportFail)}},
					"summary":              str("What happened"),
					"findings":             strList("Observed facts"),
					"fixes":                strList("Suggested fixes"),
					"recommend_spawn_more": boolean("Whether more diagnosticians would help"),
					"doc_proposal":         str("Documentation text proposed to the coordinator"),
				},
				"required": []string{"status"},
			},
		},
		required: []string{"report"},
	},
	models.VerbTerminate: {
		description: "Ask the human to approve moving to the next phase, or to reset the scope.",
		properties: map[string]interface{}{
			"reason": str("Why the phase is complete"),
			"reset":  boolean("Request a scope reset back to understanding"),
		},
	},
}

// Tools returns one tool definition per allowed verb.
func Tools(allowed []models.Verb) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(allowed))
	for _, verb := range allowed {
		spec, ok := toolSpecs[verb]
		if !ok {
			continue
		}
		tools = append(tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        string(verb),
				Description: anthropic.String(spec.description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: spec.properties,
					Required:   spec.required,
				},
			},
		})
	}
	return tools
}
