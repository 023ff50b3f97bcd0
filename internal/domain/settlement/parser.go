package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// progressStride is how many lines a run advances between progress reports.
const progressStride = 500

// Stats summarises one parse run for logging and diagnostics.
type Stats struct {
	Lines       int
	Records     int
	ZeroAmounts int
	Skipped     int
	SkipReasons map[string]int
}

func newStats() *Stats {
	return &Stats{SkipReasons: make(map[string]int)}
}

func (s *Stats) skip(reason string) {
	s.Skipped++
	s.SkipReasons[reason]++
}

// Parser drives a channel descriptor over decoded file content. One loop
// serves every channel; the per-channel differences live entirely in the
// descriptor table.
type Parser struct {
	logger *slog.Logger
}

// NewParser returns a parser logging line-level detail at debug level.
func NewParser(logger *slog.Logger) *Parser {
	return &Parser{logger: logger}
}

// Run parses content under channelID's layout and groups the records by
// their 4-character ATM reference. progress, when non-nil, receives
// (done, total) line counts at intervals and once at completion. Run fails
// only on an unknown channel or a cancelled context; malformed lines degrade
// to skips and zero amounts, never errors.
func (p *Parser) Run(ctx context.Context, content, channelID string, progress func(done, total int)) (*Aggregation, *Stats, error) {
	desc, ok := Lookup(channelID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownChannel, channelID)
	}

	lines := SplitLines(content)
	agg := NewAggregation(desc.ID)
	stats := newStats()
	currentRef := ""

	for i, line := range lines {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if progress != nil && i%progressStride == 0 {
			progress(i, len(lines))
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		stats.Lines++
		agg.RawLines = append(agg.RawLines, line)

		if desc.Continuation {
			currentRef = p.continuationLine(ctx, desc, agg, stats, line, currentRef, i)
			continue
		}
		p.recordLine(ctx, desc, agg, stats, line, i)
	}

	if progress != nil {
		progress(len(lines), len(lines))
	}
	p.logger.DebugContext(ctx, "parse run finished",
		slog.String("channel", desc.ID),
		slog.Int("lines", stats.Lines),
		slog.Int("records", stats.Records),
		slog.Int("groups", agg.Len()),
		slog.Int("skipped", stats.Skipped),
	)
	return agg, stats, nil
}

// recordLine handles one line of a single-line-record channel.
func (p *Parser) recordLine(ctx context.Context, desc *Descriptor, agg *Aggregation, stats *Stats, line string, idx int) {
	if desc.MinLineLen > 0 && len(line) < desc.MinLineLen {
		stats.skip("short_line")
		p.logger.DebugContext(ctx, "line below channel minimum length",
			slog.String("channel", desc.ID), slog.Int("line", idx+1))
		return
	}

	l := Line{Raw: line, Fields: desc.Delimiter.Split(line)}
	ref, err := desc.reference(l)
	if err != nil {
		if errors.Is(err, ErrShortLine) {
			stats.skip("short_line")
		} else {
			stats.skip("no_reference")
		}
		p.logger.DebugContext(ctx, "line excluded",
			slog.String("channel", desc.ID), slog.Int("line", idx+1), slog.Any("error", err))
		return
	}

	g := agg.Ensure(ref)
	cents, err := desc.amount(l)
	if err != nil {
		cents = 0
		stats.ZeroAmounts++
		p.logger.DebugContext(ctx, "amount unreadable, counted as zero",
			slog.String("channel", desc.ID), slog.String("reference", ref), slog.Int("line", idx+1))
	}
	g.Add(cents, desc.date(l), line)
	stats.Records++
}

// continuationLine handles one line of a channel whose records span several
// lines. A line meeting the layout's minimum length starts a record and
// becomes the current group; anything shorter attaches to the current group
// as a raw continuation, or to the NOREF group when no record has started
// yet. Returns the reference the next line should continue under.
func (p *Parser) continuationLine(ctx context.Context, desc *Descriptor, agg *Aggregation, stats *Stats, line, currentRef string, idx int) string {
	l := Line{Raw: line}

	if len(line) >= desc.MinLineLen {
		ref, _ := desc.reference(l)
		g := agg.Ensure(ref)
		if desc.Dedupe && g.HasRaw(line) {
			stats.skip("duplicate")
			return ref
		}
		cents, err := desc.amount(l)
		if err != nil {
			cents = 0
			stats.ZeroAmounts++
			p.logger.DebugContext(ctx, "amount unreadable, counted as zero",
				slog.String("channel", desc.ID), slog.String("reference", ref), slog.Int("line", idx+1))
		}
		g.Add(cents, desc.date(l), line)
		stats.Records++
		return ref
	}

	ref := currentRef
	if ref == "" {
		ref = NoRef
	}
	g := agg.Ensure(ref)
	if desc.Dedupe && g.HasRaw(line) {
		stats.skip("duplicate")
		return currentRef
	}
	g.AppendRaw(line)
	return currentRef
}
