package prompt

import "strings"

// Preamble instructs the model to answer from the supplied context only.
const Preamble = "You are an AI assistant helping answer questions about /dev/color. " +
	"Use the following context to answer questions.  " +
	"If you are highly confident in your answer based on the context provided, " +
	"please cite the text from the context which provides the basis of your answer. "

const closing = "Provide a succinct answer in plain language"

// Build concatenates the preamble, the context and the question. The question
// is used exactly as typed.
func Build(context, question string) string {
	var b strings.Builder
	b.Grow(len(Preamble) + len(context) + len(question) + 64)
	b.WriteString(Preamble)
	b.WriteString("\n\nContext:\n")
	b.WriteString(context)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(question)
	b.WriteString("\n\n")
	b.WriteString(closing)
	return b.String()
}
