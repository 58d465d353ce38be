package extract

import "fmt"

const smartTemplate = `Rewrite the documentation page below as clean Markdown.
Keep all technical content: headings, parameters, code samples, tables and warnings.
Remove leftover navigation text, cookie notices and repeated boilerplate.

Title: %s
URL: %s

Page text:
%s`

const structuredTemplate = `Reorganize the documentation page below into exactly these five Markdown sections, in this order:

## Overview
## Key Concepts
## API Reference
## Code Examples
## Notes and Caveats

Put each fact in the section where it fits. Write "None." under a section with no matching content.

Title: %s
URL: %s

Page text:
%s`

const summaryTemplate = `Summarize the documentation page below as 3 to 5 Markdown bullet points.
Each bullet is one factual sentence taken from the page.

Title: %s
URL: %s

Page text:
%s`

// BuildPrompt embeds rawContent, cut to the mode's input budget, in the
// mode's instruction template. It returns "" for modes without a template.
func BuildPrompt(mode Mode, rawContent, title, pageURL string) string {
	var tmpl string
	switch mode {
	case ModeSmart:
		tmpl = smartTemplate
	case ModeStructured:
		tmpl = structuredTemplate
	case ModeSummary:
		tmpl = summaryTemplate
	default:
		return ""
	}
	return fmt.Sprintf(tmpl, title, pageURL, truncateRunes(rawContent, InputBudget(mode)))
}
