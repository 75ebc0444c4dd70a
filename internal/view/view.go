// Package view renders the question form. Both renderers are pure functions
// of controller.State.
package view

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/yungbote/devcolor-ask/internal/controller"
)

const (
	LabelIdle = "Ask"
	LabelBusy = "Loading..."
)

//go:embed templates/*.html
var files embed.FS

var templates = template.Must(
	template.New("view").
		Funcs(template.FuncMap{"submitLabel": SubmitLabel}).
		ParseFS(files, "templates/*.html"),
)

type PageData struct {
	SessionID string
	State     controller.State

	// LastSeq seeds the page script's input numbering so a page reopened on
	// an existing session is not behind the server.
	LastSeq uint64
}

// Patch is the incremental update a live page applies after a state change.
type Patch struct {
	SubmitLabel    string `json:"submit_label"`
	SubmitDisabled bool   `json:"submit_disabled"`
	AnswerHTML     string `json:"answer_html"`
}

func SubmitLabel(s controller.State) string {
	if s.InFlight {
		return LabelBusy
	}
	return LabelIdle
}

// Page writes the full document.
func Page(w io.Writer, data PageData) error {
	if err := templates.ExecuteTemplate(w, "page", data); err != nil {
		return fmt.Errorf("render page: %w", err)
	}
	return nil
}

func PatchFor(s controller.State) (Patch, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "answer", s); err != nil {
		return Patch{}, fmt.Errorf("render answer: %w", err)
	}
	return Patch{
		SubmitLabel:    SubmitLabel(s),
		SubmitDisabled: s.InFlight,
		AnswerHTML:     buf.String(),
	}, nil
}
