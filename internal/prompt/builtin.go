package prompt

// Template names.
const (
	FixReview     = "fix-review.md"
	ChangeRequest = "change-request.md"
	SessionEntry  = "session-entry.md"
)

// builtinTemplates maps template filename to content.
var builtinTemplates = map[string]string{
	FixReview:     fixReviewTemplate,
	ChangeRequest: changeRequestTemplate,
	SessionEntry:  sessionEntryTemplate,
}

const fixReviewTemplate = `# Address review feedback: {{change_request}}

The automated reviewer scored this change {{score}}/5; the merge threshold is {{threshold}}.
This is fix attempt {{attempt}} of {{max_attempts}}.

## Repository Context
Working in: {{workdir}}
Branch: {{branch}}

{{#if review_body}}
## Review Summary
{{review_body}}
{{/if}}

{{#if comments}}
## Comments
{{comments}}
{{/if}}

## Instructions
1. Address every comment above; if one is wrong, leave the code and note why in your reply
2. Keep changes limited to what the review asks for
3. Do not commit or push; the pipeline re-runs lint and build, then commits and pushes for you
`

const changeRequestTemplate = `## Summary
{{message}}

## Checks
- Lint: {{lint_status}}
- Build: {{build_status}}
{{#if session_log}}

## Session
See ` + "`{{session_log}}`" + ` for the full session history.
{{/if}}
`

const sessionEntryTemplate = `## {{timestamp}} ({{branch}})

{{message}}
`
