// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package artifact

import (
	"fmt"
	"strings"
)

// =============================================================================
// Prompt templates
// =============================================================================

const graphInstructions = `
Knowledge graph extraction:
After the document, append the graph between these exact markers:

` + GraphStartMarker + `
` + "```json" + `
{
  "nodes": [{"id": "<type>::%[1]s::<name>", "label": "<name>", "type": "<kind>", "line": 10}],
  "edges": [{"source": "<id>", "target": "<id>", "type": "<relation>"}],
  "imports": [{"module": "<module>", "items": ["<name>"]}]
}
` + "```" + `
` + GraphEndMarker + `

Rules:
- Node kinds: %[2]s.
- Relation types: %[3]s.
- Only include elements that are present in the input. Do not guess.
- "line" is optional.
`

const filePromptTemplate = `Analyze the following source file and write technical documentation for it.

File path: %s

Source:
` + "```" + `
%s
` + "```" + `

Cover:
1. Overview: what the file is for.
2. Main components: types, functions and constants it defines.
3. Dependencies: modules it imports and why.
4. Key logic: the core algorithm or business rules.
5. Usage: a short example when it applies.
6. API surface: list any HTTP routes, RPC methods or WebSocket endpoints it declares, with method and path. Say so explicitly if there are none.
%s
Write in clear, concise English Markdown.`

const dirPromptTemplate = `Write a summary document for a directory, based on the documentation of its children.

Directory name: %s
Directory path: %s

Child documents:
%s

Cover:
1. Overview: the directory's overall responsibility.
2. Module relationships: how the children depend on each other.
3. Core capabilities the directory provides.
4. Design patterns, if any are evident.
%s
Write in clear, concise English Markdown.`

const readmePromptTemplate = `Write a README for the project below, based on the documentation of all of its modules.

Project name: %s
Project path: %s

Module documents:
%s

Include:
1. Introduction: a one-line description, the problem it solves and key features.
2. Quick start: prerequisites, installation, configuration and how to run it. Infer the runtime from the code.
3. Usage: CLI, library or HTTP API usage as applicable.
4. Project structure, as a tree.
5. Core modules and what each does.
6. Configuration reference as a table (name, type, default, description).
7. FAQ.

Label every code block with its language. Mark anything that cannot be inferred from the code as <TBD>.`

const readingGuidePromptTemplate = `Write a reading-order guide for the project below so a new contributor can learn it systematically.

Project name: %s

Project structure:
%s

Module documents:
%s

Include:
1. A single reading chain covering every important file, joined with "->", from foundations to advanced parts.
2. For each step, one or two sentences on why it comes at that point.
3. A layered overview: entry points, configuration, models, services, utilities.
4. A short fast-track path of at most five files.

Order dependencies before their dependents, configuration and models before business logic, and simple modules before complex ones. Use Markdown.`

// FilePrompt builds the analysis prompt for one source file.
func FilePrompt(relPath, content string) string {
	graph := fmt.Sprintf(graphInstructions, relPath,
		"class, function, method, interface, struct, enum, constant",
		"contains, imports, calls, inherits, implements")
	return fmt.Sprintf(filePromptTemplate, relPath, content, graph)
}

// DirPrompt builds the summary prompt for one directory.
func DirPrompt(name, relPath, childDocs string) string {
	graph := fmt.Sprintf(graphInstructions, relPath,
		"module, class, function, interface",
		"contains, imports, calls, depends")
	return fmt.Sprintf(dirPromptTemplate, name, displayPath(relPath, name), childDocs, graph)
}

// ReadmePrompt builds the project README prompt.
func ReadmePrompt(projectName, projectPath, allDocs string) string {
	return fmt.Sprintf(readmePromptTemplate, projectName, projectPath, allDocs)
}

// ReadingGuidePrompt builds the reading-order guide prompt.
func ReadingGuidePrompt(projectName, structure, allDocs string) string {
	return fmt.Sprintf(readingGuidePromptTemplate, projectName, strings.TrimRight(structure, "\n"), allDocs)
}

func displayPath(relPath, name string) string {
	if relPath == "" {
		return name
	}
	return relPath
}
