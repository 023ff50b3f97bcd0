// Package report renders a parse run into the downloadable settlement
// archive: a summary CSV plus one extract file per ATM reference group,
// zipped under the uploaded file's name and area tag.
package report

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/settlement-tracker/pkg/observability"
)

// DefaultBaseName names the archive when the request carries no original
// filename.
const DefaultBaseName = "transactions"

// utf8BOM is prepended to the summary CSV so spreadsheet tools pick the
// right encoding for the peso sign.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Group is one ATM reference group as the report needs it. Amounts are
// integer cents; formatting happens only here.
type Group struct {
	Reference  string
	Count      int
	TotalCents int64
	Channel    string
	Dates      []string
	RawLines   []string
}

// Input carries everything one archive build needs.
type Input struct {
	Groups   []Group
	BaseName string
	Area     string
}

// Archive is a finished zip ready to stream to the client.
type Archive struct {
	Filename string
	Data     []byte
}

// Builder projects groups into report archives.
type Builder struct {
	logger *slog.Logger
	tracer trace.Tracer
}

// NewBuilder returns a report builder.
func NewBuilder(logger *slog.Logger) *Builder {
	return &Builder{
		logger: logger,
		tracer: otel.Tracer("settlement/report"),
	}
}

// Build assembles the archive: transactions_summary.csv first, then one
// ATM_<reference>_<channel>_<area>.txt per group in the order given. Group
// totals and counts are taken as-is, never recomputed from raw lines.
func (b *Builder) Build(ctx context.Context, in Input) (*Archive, error) {
	ctx, span := b.tracer.Start(ctx, "report.build", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.Int("report.groups", len(in.Groups)),
		attribute.String("report.area", in.Area),
	)
	defer span.End()

	archive, err := b.build(ctx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("report.bytes", len(archive.Data)))
	span.SetStatus(codes.Ok, "ok")
	observability.ReportsBuilt.Inc()
	return archive, nil
}

func (b *Builder) build(ctx context.Context, in Input) (*Archive, error) {
	base := in.BaseName
	if base == "" {
		base = DefaultBaseName
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	summary, err := zw.Create("transactions_summary.csv")
	if err != nil {
		return nil, fmt.Errorf("failed to create summary entry: %w", err)
	}
	if err := writeSummaryCSV(summary, in.Groups); err != nil {
		return nil, fmt.Errorf("failed to write summary: %w", err)
	}

	for _, g := range in.Groups {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := fmt.Sprintf("ATM_%s_%s_%s.txt", g.Reference, g.Channel, in.Area)
		entry, err := zw.Create(name)
		if err != nil {
			return nil, fmt.Errorf("failed to create extract entry %s: %w", name, err)
		}
		for _, line := range g.RawLines {
			if _, err := fmt.Fprintf(entry, "%s\n", line); err != nil {
				return nil, fmt.Errorf("failed to write extract %s: %w", name, err)
			}
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}

	archive := &Archive{
		Filename: fmt.Sprintf("%s_%s.zip", base, in.Area),
		Data:     buf.Bytes(),
	}
	b.logger.InfoContext(ctx, "report archive built",
		slog.String("filename", archive.Filename),
		slog.Int("groups", len(in.Groups)),
		slog.Int("bytes", len(archive.Data)),
	)
	return archive, nil
}

// writeSummaryCSV emits the overall summary sheet: report title, run totals,
// then the per-reference breakdown in group order. Rows end in CRLF and the
// sheet opens with a UTF-8 BOM, matching what the finance teams' tooling
// expects.
func writeSummaryCSV(w io.Writer, groups []Group) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	cw.UseCRLF = true

	var totalCount int
	var totalCents int64
	for _, g := range groups {
		totalCount += g.Count
		totalCents += g.TotalCents
	}

	rows := [][]string{
		{"OVERALL SUMMARY REPORT"},
		{},
		{"Total Transactions", strconv.Itoa(totalCount)},
		{"Total Amount", "₱" + FormatCents(totalCents)},
		{},
		{"ATM REFERENCE BREAKDOWN"},
		{"ATM Reference", "Count", "Amount", "PaymentMode", "Dates"},
	}
	for _, g := range groups {
		channel := g.Channel
		if channel == "" {
			channel = "Unknown"
		}
		rows = append(rows, []string{
			g.Reference,
			strconv.Itoa(g.Count),
			FormatCents(g.TotalCents),
			channel,
			strings.Join(g.Dates, ", "),
		})
	}

	for _, row := range rows {
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// FormatCents renders integer cents as a decimal amount with thousands
// separators, e.g. 123456789 -> "1,234,567.89".
func FormatCents(cents int64) string {
	neg := cents < 0
	if neg {
		cents = -cents
	}
	whole := strconv.FormatInt(cents/100, 10)

	var sb strings.Builder
	if neg {
		sb.WriteByte('-')
	}
	for i := 0; i < len(whole); i++ {
		if i > 0 && (len(whole)-i)%3 == 0 {
			sb.WriteByte(',')
		}
		sb.WriteByte(whole[i])
	}
	fmt.Fprintf(&sb, ".%02d", cents%100)
	return sb.String()
}
