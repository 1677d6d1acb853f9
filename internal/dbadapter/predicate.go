package dbadapter

import (
	"fmt"
	"strings"

	"kitchensync/internal/schema"
)

// Placeholder renders the Nth (1-based) bind placeholder for a dialect:
// "?" repeated for MySQL, "$N" for Postgres, "@pN" for MSSQL. Generalizes
// the teacher's sql_placeholder/sql_placeholder_start_pos parameters to
// generatePredicat/generateEqualityPredicat into a small function value so
// each adapter package supplies its own without duplicating the predicate
// shape.
type Placeholder func(pos int) string

// QuoteIdent quotes an identifier with the dialect's open/close quote
// characters, mirroring the teacher's needCopyForquoteString*/tablequote
// convention (there expressed as a 2-byte string "`" + "`", `"`+`"`, or
// "["+"]").
type QuoteIdent func(name string) string

// SeekPredicate builds the tuple "seek" predicate used to select every row
// strictly greater than a key tuple (lower) and, when upper is non-empty, at
// or below it: the same flattened OR-of-ANDs shape as the teacher's
// generatePredicat, since not every dialect this module targets supports a
// native row-value comparison ((a,b) > (x,y)) that would make the
// flattening unnecessary.
//
// Returns the SQL fragment (already wrapped in parens) and the bind values
// in the exact order the placeholders in that fragment expect — callers
// never need to re-derive the bind order themselves.
func SeekPredicate(pk []string, quote QuoteIdent, ph Placeholder, lower, upper schema.ColumnValues) (string, []any) {
	var b strings.Builder
	var args []any
	n := len(pk)
	pos := 1

	writeBound := func(op string, key schema.ColumnValues) {
		b.WriteString(" (")
		for i := 0; i < n; i++ {
			if i > 0 {
				b.WriteString(" or ")
			}
			b.WriteString(" (")
			for j := 0; j < i; j++ {
				b.WriteString(quote(pk[j]))
				b.WriteString(" = ")
				b.WriteString(ph(pos))
				b.WriteString(" and ")
				args = append(args, key[j].Bytes)
				pos++
			}
			b.WriteString(quote(pk[i]))
			b.WriteString(" ")
			// Only the last key column takes the inclusive "<=": an earlier
			// column equal to the bound must fall through to the next term.
			o := op
			if op == "<=" && i < n-1 {
				o = "<"
			}
			b.WriteString(o)
			b.WriteString(" ")
			b.WriteString(ph(pos))
			args = append(args, key[i].Bytes)
			pos++
			b.WriteString(") ")
		}
		b.WriteString(") ")
	}

	b.WriteString("(")
	if !lower.Empty() {
		writeBound(">", lower)
	} else {
		b.WriteString(" 1=1 ")
	}
	if !upper.Empty() {
		b.WriteString(" and ")
		writeBound("<=", upper)
	}
	b.WriteString(")")
	return b.String(), args
}

// EqualityPredicate builds "(c1 = ?) and (c2 = ?) ..." for pk, the
// single-row lookup used by ApplyUpdate/ApplyDelete. Mirrors the teacher's
// generateEqualityPredicat.
func EqualityPredicate(pk []string, quote QuoteIdent, ph Placeholder) string {
	var parts []string
	for i, col := range pk {
		parts = append(parts, fmt.Sprintf("(%s = %s)", quote(col), ph(i+1)))
	}
	return "(" + strings.Join(parts, " and ") + ")"
}

// OrderByPK renders "ORDER BY c1, c2, ..." for pk.
func OrderByPK(pk []string, quote QuoteIdent) string {
	quoted := make([]string, len(pk))
	for i, c := range pk {
		quoted[i] = quote(c)
	}
	return "order by " + strings.Join(quoted, ", ")
}
