package config

import (
	"fmt"
	"time"

	"github.com/winconverge/winconverge/pkg/engine"
)

// Validation severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Document formats understood by the loader.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatCUE  = "cue"
)

// LoadedDocument is a desired-state document ready for convergence, with
// the items that were dropped while loading it.
type LoadedDocument struct {
	// Document holds the blocks and items that passed validation.
	Document *engine.Document `json:"document"`

	// Source is the path the document was read from.
	Source string `json:"source"`

	// Format is the format the document was decoded as.
	Format string `json:"format"`

	// LoadedAt is when the document was loaded.
	LoadedAt time.Time `json:"loaded_at"`

	// Issues lists the problems found. Every error-severity issue dropped
	// the item at its path.
	Issues []ValidationError `json:"issues,omitempty"`
}

// HasErrors reports whether any item was dropped.
func (d *LoadedDocument) HasErrors() bool {
	for _, issue := range d.Issues {
		if issue.Severity == SeverityError {
			return true
		}
	}
	return false
}

// InputErrors returns the error-severity issues as classified input errors.
func (d *LoadedDocument) InputErrors() []error {
	var errs []error
	for _, issue := range d.Issues {
		if issue.Severity != SeverityError {
			continue
		}
		errs = append(errs, engine.NewInputError(issue.Message, nil).WithResource(issue.Path))
	}
	return errs
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed), when known.
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed), when known.
	Column int `json:"column,omitempty"`

	// Path locates the item, e.g. "Configurations[0].Websites[1].Bindings[0]".
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning).
	Severity string `json:"severity" validate:"required,oneof=error warning"`
}

// Error implements the error interface.
func (v ValidationError) Error() string {
	loc := v.Path
	if v.Line > 0 {
		loc = fmt.Sprintf("%s:%d:%d %s", v.File, v.Line, v.Column, v.Path)
	}
	if loc == "" {
		return v.Message
	}
	return fmt.Sprintf("%s: %s", loc, v.Message)
}
