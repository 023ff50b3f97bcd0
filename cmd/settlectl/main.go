// settlectl parses a settlement file locally and writes the report archive
// without going through the HTTP service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/FACorreiaa/settlement-tracker/internal/domain/report"
	"github.com/FACorreiaa/settlement-tracker/internal/domain/settlement"
)

func main() {
	var (
		filePath string
		channel  string
		area     string
		outPath  string
		verbose  bool
	)
	pflag.StringVarP(&filePath, "file", "f", "", "settlement file to process")
	pflag.StringVarP(&channel, "channel", "c", "", "channel id (detected from the filename when omitted)")
	pflag.StringVarP(&area, "area", "a", "EPR", "area tag (EPR, PIC, FPR)")
	pflag.StringVarP(&outPath, "out", "o", "", "output zip path (defaults next to the input)")
	pflag.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	pflag.Parse()

	if err := run(filePath, channel, area, outPath, verbose); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(filePath, channel, area, outPath string, verbose bool) error {
	if filePath == "" {
		return fmt.Errorf("--file is required")
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if channel == "" {
		channel = settlement.ClassifyFilename(filepath.Base(filePath))
		if channel == settlement.ChannelUnknown {
			return fmt.Errorf("could not detect channel from %q, pass --channel", filepath.Base(filePath))
		}
		logger.Info("channel detected from filename", slog.String("channel", channel))
	}
	channel = settlement.Canonical(channel)
	if !settlement.ValidChannel(channel) {
		return fmt.Errorf("unknown channel %s", channel)
	}
	if !settlement.ValidArea(area) {
		return fmt.Errorf("invalid area %s, want one of %s", area, strings.Join(settlement.Areas, ", "))
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	text, encoding, err := settlement.DecodeContent(data)
	if err != nil {
		return err
	}

	ctx := context.Background()
	agg, stats, err := settlement.NewParser(logger).Run(ctx, text, channel, nil)
	if err != nil {
		return err
	}

	logger.Info("file parsed",
		slog.String("channel", channel),
		slog.String("encoding", encoding),
		slog.Int("lines", stats.Lines),
		slog.Int("records", stats.Records),
		slog.Int("groups", agg.Len()),
		slog.Int("skipped", stats.Skipped),
	)

	groups := make([]report.Group, 0, agg.Len())
	for _, ref := range agg.Keys() {
		g, _ := agg.Group(ref)
		groups = append(groups, report.Group{
			Reference:  ref,
			Count:      g.Count,
			TotalCents: g.TotalCents,
			Channel:    g.Channel,
			Dates:      g.Dates(),
			RawLines:   g.RawLines,
		})
	}

	base := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	arch, err := report.NewBuilder(logger).Build(ctx, report.Input{
		Groups:   groups,
		BaseName: base,
		Area:     area,
	})
	if err != nil {
		return err
	}

	out := outPath
	if out == "" {
		out = filepath.Join(filepath.Dir(filePath), arch.Filename)
	}
	if err := os.WriteFile(out, arch.Data, 0o644); err != nil {
		return fmt.Errorf("failed to write archive: %w", err)
	}

	fmt.Printf("%s: %d records in %d groups, total %s\n",
		out, agg.TotalCount(), agg.Len(), "₱"+report.FormatCents(agg.TotalCents()))
	return nil
}
