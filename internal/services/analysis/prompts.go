package analysis

const (
	overviewPromptFormat = `You are a Senior Tech Lead. Analyze the codebase below and return a strict JSON summary.
Required JSON structure:
{
  "description": "Summary",
  "tech_stack": ["List"],
  "key_features": ["List"],
  "stats": { "files": "count", "complexity": "Low/Medium/High" }
}
Context: %s`

	securityPromptFormat = `You are a Senior Security Engineer. Analyze the codebase below for security vulnerabilities.
Focus on: hardcoded secrets, SQL injection, XSS, dangerous dependencies.

CODEBASE CONTEXT:
%s

Return ONLY a JSON object with a key "issues" containing a list.
Each item must have: "severity" (CRITICAL, HIGH, MEDIUM, LOW), "title", "location", and "description".
Do not use Markdown.`

	chatPromptFormat     = "Answer: %s. Code: %s"
	generatePromptFormat = "Generate %s. Context: %s"
)
