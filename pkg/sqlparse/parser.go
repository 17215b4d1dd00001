// SPDX-License-Identifier: Apache-2.0

// Package sqlparse splits a SQL script into individual statements, handling
// dialect-specific quoting and block constructs, and classifies each
// statement's transactionality. It is deliberately a hand-written lexer: no
// parsing library in this module's dependency set exposes the raw token
// offsets and inline-data framing (dollar-quoted strings, a psql-style
// `COPY ... FROM STDIN` payload terminated by a lone "\.") that statement
// splitting requires. pkg/resolve uses github.com/pganalyze/pg_query_go for
// full-grammar syntax validation at resolve time, a concern that doesn't need
// token offsets; see DESIGN.md.
package sqlparse

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/driftline/driftline/pkg/migration"
)

// StatementType sentinels. The zero value is a plain statement; COPY alters
// how the remainder of the script is tokenized (see readCopyPayload).
type StatementType string

const (
	StatementTypePlain StatementType = ""
	StatementTypeCopy  StatementType = "COPY"
)

// ParsedStatement is one statement produced by the parser.
type ParsedStatement struct {
	StartOffset int
	Line        int
	Column      int
	SQLText     string
	Type        StatementType
	// CanExecuteInTransaction is Inherit unless the dialect hooks classify
	// the statement as definitely transactional or non-transactional.
	CanExecuteInTransaction migration.TriState
	Delimiter               string
	Batchable               bool
	// CopyData holds the inline payload for a COPY ... FROM STDIN statement,
	// including line endings, with the terminating "\." line stripped.
	CopyData string
}

// ParsingContext carries per-script parser inputs.
type ParsingContext struct {
	// ServerVersion is the numeric major version of the target server, or
	// nil if unknown. Some dialect rules are version-gated.
	ServerVersion *int
	Placeholders  map[string]string
	// Delimiter is the default statement terminator; ";" if unset.
	Delimiter string
}

func (c ParsingContext) delimiter() string {
	if c.Delimiter == "" {
		return ";"
	}
	return c.Delimiter
}

// DialectHooks is the capability set a dialect plugs into the parser core.
type DialectHooks interface {
	// AlternativeStringLiteralQuote returns a sentinel rune (e.g. '$' for
	// Postgres dollar-quoting) that triggers ReadAlternativeStringLiteral,
	// and whether such a quote exists for this dialect.
	AlternativeStringLiteralQuote() (rune, bool)

	// ReadAlternativeStringLiteral consumes an alternative string literal
	// starting at the current reader position (which is positioned just
	// after the opening quote rune) and returns the rest of its raw source
	// text, from just after the opening quote rune through the closing
	// delimiter; the caller writes the opening rune itself.
	ReadAlternativeStringLiteral(r *runeReader) (string, error)

	// DetectStatementType classifies a simplified (comments stripped,
	// whitespace collapsed, upper-cased) statement, possibly consuming
	// additional input from r for sentinel types like COPY.
	DetectStatementType(simplified string, ctx ParsingContext, r *runeReader) (StatementType, error)

	// DetectCanExecuteInTransaction classifies a simplified statement.
	DetectCanExecuteInTransaction(simplified string, ctx ParsingContext) migration.TriState

	// AdjustBlockDepth is invoked for every keyword-shaped token seen at
	// paren-depth 0, in source order, and returns the block-depth delta it
	// should apply (e.g. +1 for BEGIN ATOMIC, -1 for END).
	AdjustBlockDepth(prevToken, token string, parenDepth int, inAtomicBlock bool) int
}

// ParseError reports a lexical failure with its source position.
type ParseError struct {
	Line    int
	Column  int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at line %d, column %d: %s", e.Line, e.Column, e.Message)
}

// Parser produces a lazy sequence of ParsedStatement via repeated calls to
// Next, mirroring bufio.Scanner.
type Parser struct {
	r      *runeReader
	ctx    ParsingContext
	hooks  DialectHooks
	offset int
}

// New creates a Parser over source sql, using hooks for dialect-specific
// behavior.
func New(sql string, ctx ParsingContext, hooks DialectHooks) *Parser {
	return &Parser{r: newRuneReader(sql), ctx: ctx, hooks: hooks}
}

// Next returns the next statement, or (nil, nil) when the input is
// exhausted.
func (p *Parser) Next() (*ParsedStatement, error) {
	p.r.skipWhitespaceAndComments()
	if p.r.eof() {
		return nil, nil
	}

	startLine, startCol, startOffset := p.r.line, p.r.col, p.r.pos

	var raw strings.Builder
	var simplified strings.Builder
	parenDepth := 0
	blockDepth := 0
	prevToken := ""
	delim := p.ctx.delimiter()
	altQuote, hasAltQuote := p.hooks.AlternativeStringLiteralQuote()

	for {
		if p.r.eof() {
			text := strings.TrimSpace(raw.String())
			if text == "" {
				return nil, nil
			}
			return nil, &ParseError{Line: startLine, Column: startCol, Message: "unexpected EOF: unterminated statement"}
		}

		ch := p.r.peek()

		switch {
		case ch == '\'':
			lit, err := p.r.readQuoted('\'', '\'')
			if err != nil {
				return nil, &ParseError{Line: startLine, Column: startCol, Message: err.Error()}
			}
			raw.WriteString(lit)
			simplified.WriteString(" ")

		case ch == '"':
			lit, err := p.r.readQuoted('"', '"')
			if err != nil {
				return nil, &ParseError{Line: startLine, Column: startCol, Message: err.Error()}
			}
			raw.WriteString(lit)
			simplified.WriteString(upperSimplify(lit))
			prevToken = upperSimplify(lit)

		case hasAltQuote && ch == altQuote:
			p.r.next() // consume opening rune
			lit, err := p.hooks.ReadAlternativeStringLiteral(p.r)
			if err != nil {
				return nil, &ParseError{Line: startLine, Column: startCol, Message: err.Error()}
			}
			raw.WriteRune(altQuote)
			raw.WriteString(lit)
			simplified.WriteString(" STRING ")

		case ch == '-' && p.r.peekAt(1) == '-':
			p.r.skipLineComment()
			simplified.WriteString(" ")

		case ch == '/' && p.r.peekAt(1) == '*':
			if err := p.r.skipBlockComment(); err != nil {
				return nil, &ParseError{Line: startLine, Column: startCol, Message: err.Error()}
			}
			simplified.WriteString(" ")

		case ch == '(':
			parenDepth++
			raw.WriteRune(ch)
			simplified.WriteRune(ch)
			p.r.next()

		case ch == ')':
			if parenDepth > 0 {
				parenDepth--
			}
			raw.WriteRune(ch)
			simplified.WriteRune(ch)
			p.r.next()

		case isWordStart(ch):
			word := p.r.readWord()
			raw.WriteString(word)
			upper := strings.ToUpper(word)
			simplified.WriteString(upper)
			simplified.WriteString(" ")
			if parenDepth == 0 {
				delta := p.hooks.AdjustBlockDepth(prevToken, upper, parenDepth, blockDepth > 0)
				blockDepth += delta
				if blockDepth < 0 {
					blockDepth = 0
				}
			}
			prevToken = upper

		case isDelimiterChar(ch, delim) && parenDepth == 0 && blockDepth == 0:
			p.r.advanceBy(len(delim))
			goto statementDone

		default:
			raw.WriteRune(ch)
			simplified.WriteRune(ch)
			p.r.next()
		}
	}

statementDone:
	text := strings.TrimSpace(raw.String())
	simp := normalizeSpaces(simplified.String())

	stmt := &ParsedStatement{
		StartOffset:             startOffset,
		Line:                    startLine,
		Column:                  startCol,
		SQLText:                 text,
		Delimiter:               delim,
		CanExecuteInTransaction: p.hooks.DetectCanExecuteInTransaction(simp, p.ctx),
	}

	stype, err := p.hooks.DetectStatementType(simp, p.ctx, p.r)
	if err != nil {
		return nil, &ParseError{Line: startLine, Column: startCol, Message: err.Error()}
	}
	stmt.Type = stype

	if stype == StatementTypeCopy {
		payload, err := readCopyPayload(p.r)
		if err != nil {
			return nil, &ParseError{Line: p.r.line, Column: p.r.col, Message: err.Error()}
		}
		stmt.CopyData = payload
	}

	return stmt, nil
}

// readCopyPayload consumes lines verbatim (preserving line endings) until a
// line whose trimmed content is exactly "\.", which is discarded.
func readCopyPayload(r *runeReader) (string, error) {
	r.skipToNextLine()

	var payload strings.Builder
	for {
		if r.eof() {
			return "", fmt.Errorf("unexpected EOF inside COPY payload")
		}
		line, hadNewline := r.readLine()
		if strings.TrimRight(line, "\r\n") == `\.` {
			return payload.String(), nil
		}
		payload.WriteString(line)
		if hadNewline {
			payload.WriteString("\n")
		}
	}
}

var nonTransactionalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(CREATE|DROP) (DATABASE|TABLESPACE|SUBSCRIPTION)\b`),
	regexp.MustCompile(`^ALTER SYSTEM\b`),
	regexp.MustCompile(`^(CREATE|DROP)( UNIQUE)? INDEX CONCURRENTLY\b`),
	regexp.MustCompile(`^REINDEX( VERBOSE)? (SCHEMA|DATABASE|SYSTEM)\b`),
	regexp.MustCompile(`^VACUUM\b`),
	regexp.MustCompile(`^DISCARD ALL\b`),
}

var alterTypeAddValuePattern = regexp.MustCompile(`^ALTER TYPE .* ADD VALUE\b`)

// classifyPostgresTransactionality implements the non-transactional
// statement table from spec.md §4.1. serverVersionUnder12 defaults to true
// (the conservative VERSION_UNKNOWN fallback) when ctx.ServerVersion is nil.
func classifyPostgresTransactionality(simplified string, ctx ParsingContext) migration.TriState {
	for _, p := range nonTransactionalPatterns {
		if p.MatchString(simplified) {
			return migration.No
		}
	}

	if alterTypeAddValuePattern.MatchString(simplified) {
		serverVersionUnder12 := true
		if ctx.ServerVersion != nil {
			serverVersionUnder12 = *ctx.ServerVersion < 12
		}
		if serverVersionUnder12 {
			return migration.No
		}
	}

	return migration.Inherit
}

func isWordStart(ch rune) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')
}

func isDelimiterChar(ch rune, delim string) bool {
	return len(delim) == 1 && rune(delim[0]) == ch
}

func upperSimplify(s string) string {
	return strings.ToUpper(s)
}

func normalizeSpaces(s string) string {
	fields := strings.Fields(s)
	return strings.TrimSpace(strings.Join(fields, " "))
}
