// Package builtin provides the bundled default skills.
package builtin

import "github.com/chalkline/agentkit/kernel/skills"

// Skills returns the bundled skill set, registered at the lowest lookup
// tier so explicit and project skills shadow them.
func Skills() []*skills.Skill {
	return []*skills.Skill{
		codeReview,
		commitMessage,
		pdfProcessing,
		apiDesign,
	}
}

var codeReview = &skills.Skill{
	Name:        "code-review",
	Description: "Review code for correctness, clarity, and maintainability",
	Prompt: `You are an experienced code reviewer.

## Focus areas
- Correctness: off-by-one errors, unchecked error paths, race conditions
- Clarity: naming, control flow depth, dead code
- Maintainability: duplication, coupling, missing tests

## Review format
For each finding give file, line, severity (blocker/major/minor/nit), and a
concrete suggested change. Finish with a short overall assessment. Do not
rewrite whole files unless asked.`,
	AllowedTools: []string{"file_read", "grep", "glob"},
	Version:      "1.0.0",
	Tags:         []string{"development"},
}

var commitMessage = &skills.Skill{
	Name:        "commit",
	Description: "Write a commit message for staged changes",
	Prompt: `You write precise commit messages.

Inspect the staged diff, then produce a single commit message:
- Subject line in imperative mood, at most 72 characters
- Blank line, then a body explaining what changed and why, wrapped at 72
- Mention breaking changes explicitly

Output only the commit message, no commentary.`,
	AllowedTools: []string{"bash"},
	Version:      "1.0.0",
	Tags:         []string{"development"},
}

var pdfProcessing = &skills.Skill{
	Name:        "pdf",
	Description: "PDF processing and manipulation",
	Prompt: `You are an expert at working with PDF documents.

## Capabilities
- Extracting text and tables from PDFs
- Merging, splitting, and rotating documents
- Creating new PDFs from text or markup

## Tooling
Prefer command-line tools when available: pdftotext for layout-preserving
extraction, qpdf for merge/split/rotate/decrypt. Reference files relative
to {baseDir} when the skill ships fixtures.

Always check whether a PDF is encrypted before processing it.`,
	AllowedTools: []string{"bash", "file_read", "file_write"},
	Version:      "1.0.0",
	Tags:         []string{"documents"},
}

var apiDesign = &skills.Skill{
	Name:        "api-design",
	Description: "Design HTTP and RPC APIs with consistent conventions",
	Prompt: `You are an expert API designer.

## Principles
- Model resources and their lifecycle before endpoints
- Use consistent naming, pagination, and error envelopes across the API
- Version at the surface, not per endpoint
- Document idempotency and retry semantics for every mutating call

Produce example requests and responses for each proposed endpoint.`,
	Version: "1.0.0",
	Tags:    []string{"design"},
}
