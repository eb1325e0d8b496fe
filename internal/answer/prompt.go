package answer

import "fmt"

const promptTemplate = `Based strictly and solely on the content of the following document, please provide a concise and factual answer to the user's question. Do not use any external knowledge or make assumptions beyond what is written in the text. If the answer cannot be found within the document, you must state that the information is not available in the provided text.

DOCUMENT:
---
%s
---

QUESTION:
%s
`

// BuildPrompt embeds the document and question verbatim into the grounding
// instruction sent to the model.
func BuildPrompt(documentText, question string) string {
	return fmt.Sprintf(promptTemplate, documentText, question)
}
