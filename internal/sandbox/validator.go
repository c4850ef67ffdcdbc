// Package sandbox validates candidate code structurally before it is
// allowed anywhere near a commit. Validation is a tree-sitter parse: the
// candidate must produce a tree with no error or missing nodes.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"go.uber.org/zap"

	"github.com/sells-group/mutator/internal/config"
	"github.com/sells-group/mutator/internal/model"
)

// maxDiagnostics caps collection on heavily malformed input.
const maxDiagnostics = 50

// Diagnostic is a single structural problem found in candidate code.
// Line and Column are 1-based and 0-based respectively, matching editor
// conventions.
type Diagnostic struct {
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Message string `json:"message"`
	Snippet string `json:"snippet,omitempty"`
}

// Validator checks candidate code against a per-language grammar under an
// enforced deadline.
type Validator struct {
	timeout      time.Duration
	maxCodeBytes int64
}

// NewValidator creates a Validator from sandbox configuration.
func NewValidator(cfg config.SandboxConfig) *Validator {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxBytes := cfg.MaxCodeBytes
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	return &Validator{timeout: timeout, maxCodeBytes: maxBytes}
}

// Validate parses code with the grammar for language and fails if the tree
// contains any error or missing nodes. The parse runs under the validator's
// timeout regardless of the caller's context.
func (v *Validator) Validate(ctx context.Context, language, code string) (err error) {
	if strings.TrimSpace(code) == "" {
		return eris.Wrap(model.ErrValidationFailed, "candidate code is empty")
	}
	if int64(len(code)) > v.maxCodeBytes {
		return eris.Wrapf(model.ErrValidationFailed, "candidate code exceeds %d bytes", v.maxCodeBytes)
	}

	lang := grammarFor(language)
	if lang == nil {
		return eris.Wrapf(model.ErrValidationFailed, "unsupported language %q", language)
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	// A dead context before parsing is the caller's condition, not a
	// verdict on the candidate.
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return eris.Wrapf(model.ErrValidationTimeout, "after %s", v.timeout)
		}
		return eris.Wrap(ctxErr, "sandbox: validation aborted")
	}

	// Grammar C bindings can panic on pathological input.
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("sandbox parse panicked", zap.Any("panic", r), zap.String("language", language))
			err = eris.Wrapf(model.ErrValidationFailed, "parser panic: %v", r)
		}
	}()

	parser := sitter.NewParser()
	parser.SetLanguage(lang)

	tree, parseErr := parser.ParseCtx(ctx, nil, []byte(code))
	if parseErr != nil {
		if errors.Is(parseErr, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return eris.Wrapf(model.ErrValidationTimeout, "after %s", v.timeout)
		}
		if errors.Is(parseErr, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			return eris.Wrap(context.Canceled, "sandbox: validation aborted")
		}
		return eris.Wrap(model.ErrValidationFailed, parseErr.Error())
	}
	defer tree.Close()

	diags := collectDiagnostics(tree.RootNode(), []byte(code))
	if len(diags) == 0 {
		return nil
	}

	zap.L().Debug("sandbox rejected candidate",
		zap.String("language", language),
		zap.Int("diagnostics", len(diags)),
	)
	return eris.Wrap(model.ErrValidationFailed, formatDiagnostics(diags))
}

func grammarFor(language string) *sitter.Language {
	switch strings.ToLower(language) {
	case "python":
		return python.GetLanguage()
	case "javascript":
		return javascript.GetLanguage()
	case "go":
		return golang.GetLanguage()
	default:
		return nil
	}
}

func collectDiagnostics(root *sitter.Node, content []byte) []Diagnostic {
	diags := make([]Diagnostic, 0)
	walk(root, content, &diags, 0)
	return diags
}

// walk recursively collects ERROR and MISSING nodes. The depth cap guards
// against stack overflow on deeply nested trees.
func walk(node *sitter.Node, content []byte, diags *[]Diagnostic, depth int) {
	if depth > 1000 || len(*diags) >= maxDiagnostics {
		return
	}

	if node.IsError() || node.IsMissing() {
		point := node.StartPoint()
		start, end := node.StartByte(), node.EndByte()
		if end > uint32(len(content)) {
			end = uint32(len(content))
		}

		snippet := ""
		if end > start && end-start < 100 {
			snippet = string(content[start:end])
		}

		msg := "syntax error"
		if node.IsMissing() {
			msg = fmt.Sprintf("missing %s", node.Type())
		} else if snippet != "" {
			msg = fmt.Sprintf("unexpected %q", truncate(snippet, 50))
		}

		*diags = append(*diags, Diagnostic{
			Line:    int(point.Row) + 1,
			Column:  int(point.Column),
			Message: msg,
			Snippet: snippet,
		})
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		walk(node.Child(i), content, diags, depth+1)
	}
}

func formatDiagnostics(diags []Diagnostic) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d syntax error(s)", len(diags))
	for i, d := range diags {
		if i >= 5 {
			fmt.Fprintf(&sb, "; and %d more", len(diags)-5)
			break
		}
		fmt.Fprintf(&sb, "; line %d col %d: %s", d.Line, d.Column, d.Message)
	}
	return sb.String()
}

// truncate shortens s to at most maxRunes runes, never splitting a
// multi-byte sequence.
func truncate(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes]) + "..."
}
