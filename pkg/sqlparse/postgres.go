// SPDX-License-Identifier: Apache-2.0

package sqlparse

import (
	"fmt"
	"strings"

	"github.com/driftline/driftline/pkg/migration"
)

// PostgresHooks implements DialectHooks for PostgreSQL: dollar-quoted
// strings, BEGIN ATOMIC / CASE...END block depth, COPY ... FROM STDIN
// detection, and the non-transactional statement table.
type PostgresHooks struct{}

var _ DialectHooks = PostgresHooks{}

func (PostgresHooks) AlternativeStringLiteralQuote() (rune, bool) {
	return '$', true
}

// ReadAlternativeStringLiteral reads a Postgres dollar-quoted string. The
// reader is positioned just after the opening '$'. It reads the (possibly
// empty) tag up to the second '$', then scans for the identical closing tag;
// nesting is not permitted, so an inner occurrence of the same tag ends the
// string.
func (PostgresHooks) ReadAlternativeStringLiteral(r *runeReader) (string, error) {
	var tag strings.Builder
	for {
		if r.eof() {
			return "", fmt.Errorf("unterminated dollar-quote tag")
		}
		ch := r.next()
		if ch == '$' {
			break
		}
		tag.WriteRune(ch)
	}

	terminator := "$" + tag.String() + "$"
	terminatorRunes := []rune(terminator)

	// The caller already consumed and echoed the leading '$'; reconstruct the
	// rest of the opening delimiter (tag + '$') followed by the body and the
	// closing delimiter, so concatenation with the caller's leading '$'
	// yields the exact original source text.
	var out strings.Builder
	out.WriteString(tag.String())
	out.WriteRune('$')

	for {
		if r.eof() {
			return "", fmt.Errorf("unterminated dollar-quoted string (tag %q)", tag.String())
		}
		if matchesAt(r, terminatorRunes) {
			r.advanceBy(len(terminatorRunes))
			out.WriteString(terminator)
			return out.String(), nil
		}
		out.WriteRune(r.next())
	}
}

func matchesAt(r *runeReader, want []rune) bool {
	for i, w := range want {
		if r.peekAt(i) != w {
			return false
		}
	}
	return true
}

// DetectStatementType recognizes `COPY ... FROM STDIN` so the caller reads
// its inline payload instead of tokenizing it as SQL.
func (PostgresHooks) DetectStatementType(simplified string, ctx ParsingContext, r *runeReader) (StatementType, error) {
	if strings.HasPrefix(simplified, "COPY ") && strings.Contains(simplified, "FROM STDIN") {
		return StatementTypeCopy, nil
	}
	return StatementTypePlain, nil
}

func (PostgresHooks) DetectCanExecuteInTransaction(simplified string, ctx ParsingContext) migration.TriState {
	return classifyPostgresTransactionality(simplified, ctx)
}

// AdjustBlockDepth increments block depth on the ATOMIC that follows a BEGIN
// at paren-depth 0 (BEGIN ATOMIC ... END), and -- once inside such a block --
// on CASE ... END as well, since an inline CASE expression's END would
// otherwise be mistaken for statement-level structure. Decrements on END.
func (PostgresHooks) AdjustBlockDepth(prevToken, token string, parenDepth int, inAtomicBlock bool) int {
	switch token {
	case "ATOMIC":
		if prevToken == "BEGIN" {
			return 1
		}
	case "CASE":
		if inAtomicBlock {
			return 1
		}
	case "END":
		if inAtomicBlock {
			return -1
		}
	}
	return 0
}
