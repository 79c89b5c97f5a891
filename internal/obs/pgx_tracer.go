package obs

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type pgxSpanKey struct{}

// statementClip bounds recorded SQL. The order and cart queries are all
// short; anything longer is an anomaly and the prefix is enough to find it.
const statementClip = 200

// PGXTracer implements pgx.QueryTracer, emitting one span per statement
// named after the SQL verb (pg.select, pg.update, ...).
type PGXTracer struct{}

func (PGXTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	op := "query"
	if fields := strings.Fields(data.SQL); len(fields) > 0 {
		op = strings.ToLower(fields[0])
	}
	ctx, span := otel.Tracer("pgx").Start(ctx, "pg."+op)
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.statement", clipStatement(data.SQL)),
	)
	return context.WithValue(ctx, pgxSpanKey{}, span)
}

func (PGXTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	span, ok := ctx.Value(pgxSpanKey{}).(trace.Span)
	if !ok {
		return
	}
	if data.Err != nil {
		span.RecordError(data.Err)
	} else {
		span.SetAttributes(attribute.Int64("db.rows_affected", data.CommandTag.RowsAffected()))
	}
	span.End()
}

// clipStatement collapses whitespace so multi-line queries trace as one line.
func clipStatement(sql string) string {
	flat := strings.Join(strings.Fields(sql), " ")
	if len(flat) > statementClip {
		return flat[:statementClip] + "..."
	}
	return flat
}
