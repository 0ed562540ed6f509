// Package ui formats CLI output: colored error blocks with suggestions, success lines
// and simple tables.
package ui

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/conduit-lang/waterline/internal/orm/adapter"
	"github.com/conduit-lang/waterline/internal/orm/query"
	"github.com/conduit-lang/waterline/internal/orm/schema"
)

// Level represents the severity of a message
type Level int

const (
	LevelError Level = iota
	LevelWarning
	LevelInfo
)

// Message configures a formatted block
type Message struct {
	Level        Level
	Context      string
	Problem      string
	Consequence  string
	Suggestions  []string
	HelpCommands []string
	NoColor      bool
}

// Format renders a message block
//
// Example output:
//
//	❌ UNKNOWN COLLECTION: usr
//	   No model has the identity 'usr'.
//
//	   Did you mean: user?
//
//	   → List models: waterline validate
func Format(m Message) string {
	var b strings.Builder

	var headerColor, bodyColor *color.Color
	var symbol string

	switch m.Level {
	case LevelWarning:
		headerColor = color.New(color.FgYellow, color.Bold)
		bodyColor = color.New(color.FgYellow)
		symbol = "⚠️"
	case LevelInfo:
		headerColor = color.New(color.FgCyan, color.Bold)
		bodyColor = color.New(color.FgCyan)
		symbol = "ℹ️"
	default:
		headerColor = color.New(color.FgRed, color.Bold)
		bodyColor = color.New(color.FgRed)
		symbol = "❌"
	}

	if m.NoColor {
		headerColor.DisableColor()
		bodyColor.DisableColor()
	}

	if m.Context != "" {
		headerColor.Fprintf(&b, "%s %s\n", symbol, strings.ToUpper(m.Context))
		if m.Problem != "" {
			bodyColor.Fprintf(&b, "   %s\n", m.Problem)
		}
	} else {
		headerColor.Fprintf(&b, "%s %s\n", symbol, m.Problem)
	}

	if m.Consequence != "" {
		b.WriteString("\n")
		bodyColor.Fprintf(&b, "   %s\n", m.Consequence)
	}

	if len(m.Suggestions) > 0 {
		b.WriteString("\n")
		yellow := color.New(color.FgYellow)
		if m.NoColor {
			yellow.DisableColor()
		}
		yellow.Fprintf(&b, "   Did you mean: %s?\n", strings.Join(m.Suggestions, ", "))
	}

	if len(m.HelpCommands) > 0 {
		b.WriteString("\n")
		cyan := color.New(color.FgCyan)
		if m.NoColor {
			cyan.DisableColor()
		}
		for _, cmd := range m.HelpCommands {
			cyan.Fprintf(&b, "   → %s\n", cmd)
		}
	}

	return b.String()
}

// Write writes a formatted message block
func Write(w io.Writer, m Message) {
	fmt.Fprint(w, Format(m))
}

// FormatSuccess creates a success line
func FormatSuccess(message string, noColor bool) string {
	green := color.New(color.FgGreen, color.Bold)
	if noColor {
		green.DisableColor()
	}
	return green.Sprintf("✓ %s", message)
}

// WriteSuccess writes a success line
func WriteSuccess(w io.Writer, message string, noColor bool) {
	fmt.Fprintln(w, FormatSuccess(message, noColor))
}

// UnknownCollection reports a model identity that is not registered
func UnknownCollection(identity string, known []string, noColor bool) string {
	return Format(Message{
		Context:      "unknown collection",
		Problem:      fmt.Sprintf("No model has the identity '%s'.", identity),
		Suggestions:  Suggest(identity, known),
		HelpCommands: []string{"List models: waterline validate"},
		NoColor:      noColor,
	})
}

// ConfigError reports a configuration problem
func ConfigError(err error, noColor bool) string {
	return Format(Message{
		Context: "configuration error",
		Problem: err.Error(),
		HelpCommands: []string{
			"View config: cat waterline.yml",
			"Create one: waterline init",
		},
		NoColor: noColor,
	})
}

// InitializationError explains why the ontology could not be built, with hints for
// the errors a model author can fix
func InitializationError(err error, noColor bool) string {
	m := Message{
		Context: "initialization failed",
		Problem: err.Error(),
		NoColor: noColor,
	}

	var (
		unknownModel *schema.UnknownModelError
		duplicate    *schema.DuplicateIdentityError
		unbound      *adapter.UnboundConnectionError
		unregistered *adapter.UnregisteredAdapterError
		registration *adapter.RegistrationError
	)
	switch {
	case errors.As(err, &unknownModel):
		m.Consequence = "Every collection or model association must name a model defined in the same directory."
	case errors.As(err, &duplicate):
		m.Consequence = "Model identities must be unique; rename one of the files or set identity explicitly."
	case errors.As(err, &unbound):
		m.Consequence = fmt.Sprintf("Add a '%s' entry under connections in waterline.yml.", unbound.Connection)
	case errors.As(err, &unregistered):
		m.Consequence = fmt.Sprintf("Add an adapter named '%s' under adapters in waterline.yml.", unregistered.Adapter)
	case errors.As(err, &registration):
		m.Consequence = fmt.Sprintf("Check that the storage behind adapter '%s' is reachable.", registration.Adapter)
	}
	m.HelpCommands = []string{"Get help: waterline validate --help"}
	return Format(m)
}

// QueryError reports a rejected query and suggests attribute names
func QueryError(err error, attributes []string, noColor bool) string {
	m := Message{Context: "invalid query", Problem: err.Error(), NoColor: noColor}
	var unknown *query.UnknownAttributeError
	if errors.As(err, &unknown) {
		m.Suggestions = Suggest(unknown.Attribute, attributes)
	}
	return Format(m)
}

// Warning creates a warning message
func Warning(message string, noColor bool) string {
	return Format(Message{Level: LevelWarning, Problem: message, NoColor: noColor})
}

// Info creates an info message
func Info(message string, noColor bool) string {
	return Format(Message{Level: LevelInfo, Problem: message, NoColor: noColor})
}
