package report

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"testing"

	"pgregory.net/rapid"

	"github.com/FACorreiaa/settlement-tracker/internal/domain/settlement"
)

func testBuilder() *Builder {
	return NewBuilder(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func sampleInput() Input {
	return Input{
		BaseName: "BDO_jan",
		Area:     "EPR",
		Groups: []Group{
			{
				Reference:  "1234",
				Count:      2,
				TotalCents: 123456789,
				Channel:    "BDO",
				Dates:      []string{"2024-01-05", "2024-01-06"},
				RawLines:   []string{"line one", "line two"},
			},
			{
				Reference:  "NOREF",
				Count:      1,
				TotalCents: 250,
				Channel:    "BDO",
				Dates:      nil,
				RawLines:   []string{"orphan"},
			},
		},
	}
}

func readEntry(t *testing.T, zr *zip.Reader, name string) []byte {
	t.Helper()
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		return data
	}
	t.Fatalf("entry %s not in archive", name)
	return nil
}

func TestBuild(t *testing.T) {
	archive, err := testBuilder().Build(context.Background(), sampleInput())
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	if archive.Filename != "BDO_jan_EPR.zip" {
		t.Errorf("Filename = %q, want %q", archive.Filename, "BDO_jan_EPR.zip")
	}

	zr, err := zip.NewReader(bytes.NewReader(archive.Data), int64(len(archive.Data)))
	if err != nil {
		t.Fatalf("zip open error: %v", err)
	}

	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	expected := []string{
		"transactions_summary.csv",
		"ATM_1234_BDO_EPR.txt",
		"ATM_NOREF_BDO_EPR.txt",
	}
	if len(names) != len(expected) {
		t.Fatalf("entries = %v, want %v", names, expected)
	}
	for i := range expected {
		if names[i] != expected[i] {
			t.Errorf("entry[%d] = %q, want %q", i, names[i], expected[i])
		}
	}

	extract := readEntry(t, zr, "ATM_1234_BDO_EPR.txt")
	if string(extract) != "line one\nline two\n" {
		t.Errorf("extract content = %q", extract)
	}
}

func TestBuild_SummaryCSV(t *testing.T) {
	archive, err := testBuilder().Build(context.Background(), sampleInput())
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(archive.Data), int64(len(archive.Data)))
	if err != nil {
		t.Fatalf("zip open error: %v", err)
	}

	data := readEntry(t, zr, "transactions_summary.csv")
	if !bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}) {
		t.Error("summary CSV missing UTF-8 BOM")
	}

	text := string(data[3:])
	lines := strings.Split(text, "\r\n")
	expected := []string{
		"OVERALL SUMMARY REPORT",
		"",
		"Total Transactions,3",
		`Total Amount,"₱1,234,570.39"`,
		"",
		"ATM REFERENCE BREAKDOWN",
		"ATM Reference,Count,Amount,PaymentMode,Dates",
		`1234,2,"1,234,567.89",BDO,"2024-01-05, 2024-01-06"`,
		"NOREF,1,2.50,BDO,",
		"",
	}
	if len(lines) != len(expected) {
		t.Fatalf("summary has %d lines, want %d:\n%s", len(lines), len(expected), text)
	}
	for i := range expected {
		if lines[i] != expected[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], expected[i])
		}
	}
}

func TestBuild_Defaults(t *testing.T) {
	archive, err := testBuilder().Build(context.Background(), Input{Area: "PIC"})
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	if archive.Filename != "transactions_PIC.zip" {
		t.Errorf("Filename = %q, want %q", archive.Filename, "transactions_PIC.zip")
	}

	zr, err := zip.NewReader(bytes.NewReader(archive.Data), int64(len(archive.Data)))
	if err != nil {
		t.Fatalf("zip open error: %v", err)
	}
	if len(zr.File) != 1 {
		t.Errorf("entries = %d, want summary only", len(zr.File))
	}
}

// Re-parsing a group's extract file must reproduce the group's count and
// total, so the archive loses nothing the summary claims.
func TestBuild_RoundTrip(t *testing.T) {
	content := "A|X|2024-01-05|X|X|99990001|X|X|X|10.00\n" +
		"B|X|2024-01-06|X|X|12340002|X|X|X|20.00\n" +
		"C|X|2024-01-07|X|X|99990003|X|X|X|30.00\n"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	agg, _, err := settlement.NewParser(logger).Run(context.Background(), content, settlement.ChannelBDO, nil)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	groups := make([]Group, 0, agg.Len())
	for _, ref := range agg.Keys() {
		g, _ := agg.Group(ref)
		groups = append(groups, Group{
			Reference:  ref,
			Count:      g.Count,
			TotalCents: g.TotalCents,
			Channel:    g.Channel,
			Dates:      g.Dates(),
			RawLines:   g.RawLines,
		})
	}

	archive, err := testBuilder().Build(context.Background(), Input{Groups: groups, BaseName: "bdo", Area: "EPR"})
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(archive.Data), int64(len(archive.Data)))
	if err != nil {
		t.Fatalf("zip open error: %v", err)
	}

	for _, g := range groups {
		extract := readEntry(t, zr, "ATM_"+g.Reference+"_BDO_EPR.txt")
		reparsed, _, err := settlement.NewParser(logger).Run(context.Background(), string(extract), settlement.ChannelBDO, nil)
		if err != nil {
			t.Fatalf("re-parse %s error: %v", g.Reference, err)
		}
		rg, ok := reparsed.Group(g.Reference)
		if !ok {
			t.Fatalf("group %s missing after round trip", g.Reference)
		}
		if rg.Count != g.Count {
			t.Errorf("group %s count = %d after round trip, want %d", g.Reference, rg.Count, g.Count)
		}
		if rg.TotalCents != g.TotalCents {
			t.Errorf("group %s total = %d after round trip, want %d", g.Reference, rg.TotalCents, g.TotalCents)
		}
	}
}

func TestFormatCents(t *testing.T) {
	tests := []struct {
		cents    int64
		expected string
	}{
		{0, "0.00"},
		{5, "0.05"},
		{250, "2.50"},
		{10050, "100.50"},
		{123456, "1,234.56"},
		{123456789, "1,234,567.89"},
		{100000000, "1,000,000.00"},
		{-4523, "-45.23"},
	}

	for _, tc := range tests {
		if got := FormatCents(tc.cents); got != tc.expected {
			t.Errorf("FormatCents(%d) = %q, want %q", tc.cents, got, tc.expected)
		}
	}
}

// Stripping the separators out of a formatted amount must recover the exact
// cents that went in.
func TestFormatCents_RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cents := rapid.Int64Range(0, 100_000_000_000).Draw(t, "cents")

		formatted := FormatCents(cents)
		digits := strings.NewReplacer(",", "", ".", "").Replace(formatted)
		back, err := strconv.ParseInt(digits, 10, 64)
		if err != nil {
			t.Fatalf("FormatCents(%d) = %q, not numeric after stripping: %v", cents, formatted, err)
		}
		if back != cents {
			t.Fatalf("FormatCents(%d) = %q, round-trips to %d", cents, formatted, back)
		}

		if dot := strings.LastIndexByte(formatted, '.'); dot != len(formatted)-3 {
			t.Fatalf("FormatCents(%d) = %q, want exactly two fractional digits", cents, formatted)
		}
	})
}
