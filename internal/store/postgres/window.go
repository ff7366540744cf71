package postgres

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/treasurechest/internal/domain"
)

// windowQuery appends the time bounds and paging of opts to a SELECT over
// table. tsCol is the bounded column; orderBy is the full ORDER BY list.
func windowQuery(cols, table, tsCol, orderBy string, opts domain.ListOpts) (string, []any) {
	var (
		b    strings.Builder
		args []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	fmt.Fprintf(&b, "SELECT %s FROM %s", cols, table)
	var where []string
	if opts.Since != nil {
		where = append(where, tsCol+" >= "+arg(*opts.Since))
	}
	if opts.Until != nil {
		where = append(where, tsCol+" <= "+arg(*opts.Until))
	}
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY " + orderBy)
	if opts.Limit > 0 {
		b.WriteString(" LIMIT " + arg(opts.Limit))
	}
	if opts.Offset > 0 {
		b.WriteString(" OFFSET " + arg(opts.Offset))
	}
	return b.String(), args
}
