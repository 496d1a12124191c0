package main

import (
	"regexp"
	"strings"
)

// Math-delimiter normalization. Models emit formulas in several conventions
// (\[..\], \(..\), bare [..]); the frontend renders only $..$ and $$..$$, so
// every response text is canonicalized once, right after it is received.

var (
	blockDelimRe  = regexp.MustCompile(`(?s)\\\[(.*?)\\\]`)
	inlineDelimRe = regexp.MustCompile(`(?s)\\\((.*?)\\\)`)
	bracketRe     = regexp.MustCompile(`(?s)\[\s*(.*?)\s*\]`)
)

// mathIndicators are substrings whose presence marks bracket content as a
// formula. Keep this list fixed: callers depend on the exact boundary
// behavior, and `^`/`_` at the end double as superscript/subscript markers.
var mathIndicators = []string{
	`\boxed`, `\frac`, `\sqrt`, `\sum`, `\int`, `\prod`,
	`\lim`, `\exp`, `\log`, `\sin`, `\cos`, `\tan`,
	`\alpha`, `\beta`, `\gamma`, `\delta`, `\epsilon`,
	`\theta`, `\lambda`, `\mu`, `\pi`, `\sigma`, `\omega`,
	`\le`, `\ge`, `\leq`, `\geq`, `\ne`, `\approx`,
	`\in`, `\notin`, `\subset`, `\supset`, `\to`, `\rightarrow`,
	`\left`, `\right`, `\bigl`, `\bigr`, `\Bigl`, `\Bigr`,
	`\tag`, `\qquad`, `\quad`, `\forall`, `\exists`,
	`\mathbb`, `\mathcal`, `\mathrm`,
	"^", "_",
}

// mathOperators feed the density heuristic: two or more distinct operators
// inside a bracket span make it math even without a LaTeX command.
var mathOperators = []string{"+", "-", "*", "/", "=", "<", ">", "|"}

// isLikelyMath decides whether bracket content is a formula rather than a
// citation number, prose aside or link text. Spans shorter than 3 characters
// are never math (they are almost always reference markers like [1]).
func isLikelyMath(content string) bool {
	if len(strings.TrimSpace(content)) < 3 {
		return false
	}
	for _, indicator := range mathIndicators {
		if strings.Contains(content, indicator) {
			return true
		}
	}
	opCount := 0
	for _, op := range mathOperators {
		if strings.Contains(content, op) {
			opCount++
		}
	}
	return opCount >= 2
}

// ConvertLatexFormat rewrites math delimiters into the canonical $ / $$
// convention:
//
//	\[ ... \]  ->  $$ ... $$
//	\( ... \)  ->  $ ... $
//	[ ... ]    ->  $$ ... $$  (only when the content looks like math)
//
// Bracket spans that follow a backtick (code) or precede a parenthesis
// (Markdown links) are left alone. Idempotent on already-canonical input.
func ConvertLatexFormat(text string) string {
	if text == "" {
		return text
	}

	text = blockDelimRe.ReplaceAllString(text, "$$$$${1}$$$$")
	text = inlineDelimRe.ReplaceAllString(text, "$$${1}$$")

	matches := bracketRe.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))
	prev := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		content := text[m[2]:m[3]]

		// Go regexp has no lookaround; exclude code spans and Markdown
		// links by inspecting the neighboring bytes directly.
		inCode := start > 0 && text[start-1] == '`'
		isLink := end < len(text) && text[end] == '('

		b.WriteString(text[prev:start])
		if !inCode && !isLink && isLikelyMath(content) {
			b.WriteString("$$")
			b.WriteString(content)
			b.WriteString("$$")
		} else {
			b.WriteString(text[start:end])
		}
		prev = end
	}
	b.WriteString(text[prev:])
	return b.String()
}
