package settlement

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"
)

func testParser() *Parser {
	return NewParser(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func runParser(t *testing.T, content, channel string) (*Aggregation, *Stats) {
	t.Helper()
	agg, stats, err := testParser().Run(context.Background(), content, channel, nil)
	if err != nil {
		t.Fatalf("Run(%s) error: %v", channel, err)
	}
	return agg, stats
}

func TestRun_BDO(t *testing.T) {
	agg, stats := runParser(t, "NAME|X|2024-01-05|X|X|1234567890|X|X|X|100.50\n", ChannelBDO)

	g, ok := agg.Group("1234")
	if !ok {
		t.Fatal("group 1234 missing")
	}
	if g.Count != 1 {
		t.Errorf("Count = %d, want 1", g.Count)
	}
	if g.TotalCents != 10050 {
		t.Errorf("TotalCents = %d, want 10050", g.TotalCents)
	}
	if got := g.Dates(); !reflect.DeepEqual(got, []string{"2024-01-05"}) {
		t.Errorf("Dates = %v, want [2024-01-05]", got)
	}
	if stats.Records != 1 {
		t.Errorf("Records = %d, want 1", stats.Records)
	}
}

func TestRun_Metrobank(t *testing.T) {
	agg, _ := runParser(t, "HDR 12345678 X 00000001005A FOO 010524\n", ChannelMetrobank)

	g, ok := agg.Group("1234")
	if !ok {
		t.Fatal("group 1234 missing")
	}
	if g.TotalCents != 1005 {
		t.Errorf("TotalCents = %d, want 1005", g.TotalCents)
	}
	if got := g.Dates(); !reflect.DeepEqual(got, []string{"01/05/24"}) {
		t.Errorf("Dates = %v, want [01/05/24]", got)
	}
}

func unionbankFixture() string {
	long := "   UB0001 240115 PAYMENT" +
		strings.Repeat(" ", 120) +
		"12345678901234    " +
		"ABCDEFGHIJKLMNOPQRSTUVWX" +
		"000000005000DB"
	return long + "\n CONT DETAIL A\n CONT DETAIL B\n"
}

func TestRun_Unionbank(t *testing.T) {
	agg, _ := runParser(t, unionbankFixture(), ChannelUnionBank)

	g, ok := agg.Group("1234")
	if !ok {
		t.Fatal("group 1234 missing")
	}
	if g.Count != 1 {
		t.Errorf("Count = %d, want 1", g.Count)
	}
	if g.TotalCents != 5000 {
		t.Errorf("TotalCents = %d, want 5000", g.TotalCents)
	}
	if got := g.Dates(); !reflect.DeepEqual(got, []string{"24/01/15"}) {
		t.Errorf("Dates = %v, want [24/01/15]", got)
	}
	if len(g.RawLines) != 3 {
		t.Errorf("RawLines length = %d, want 3", len(g.RawLines))
	}
	if _, ok := agg.Group(NoRef); ok {
		t.Error("NOREF group present, want absent")
	}
}

// Repeating an identical record line must not double-count it; the second
// occurrence only moves the current-group cursor.
func TestRun_UnionbankDedupe(t *testing.T) {
	long := "   UB0001 240115 PAYMENT" +
		strings.Repeat(" ", 120) +
		"12345678901234    " +
		"ABCDEFGHIJKLMNOPQRSTUVWX" +
		"000000005000DB"
	agg, stats := runParser(t, long+"\n"+long+"\n", ChannelUnionBank)

	g, ok := agg.Group("1234")
	if !ok {
		t.Fatal("group 1234 missing")
	}
	if g.Count != 1 {
		t.Errorf("Count = %d, want 1", g.Count)
	}
	if g.TotalCents != 5000 {
		t.Errorf("TotalCents = %d, want 5000", g.TotalCents)
	}
	if stats.SkipReasons["duplicate"] != 1 {
		t.Errorf("duplicate skips = %d, want 1", stats.SkipReasons["duplicate"])
	}
}

// Short lines arriving before any record line land in the NOREF group.
func TestRun_UnionbankOrphans(t *testing.T) {
	agg, _ := runParser(t, "HEADER ROW\nANOTHER SHORT\n", ChannelUnionBank)

	g, ok := agg.Group(NoRef)
	if !ok {
		t.Fatal("NOREF group missing")
	}
	if g.Count != 0 {
		t.Errorf("Count = %d, want 0", g.Count)
	}
	if len(g.RawLines) != 2 {
		t.Errorf("RawLines length = %d, want 2", len(g.RawLines))
	}
}

func TestRun_SM(t *testing.T) {
	line := "ABC" + "01152024" + "DEFGHIJ" + "1234ABCDEFGHI" + "ABCDEF" + "000250CS"
	agg, _ := runParser(t, line+"\n", ChannelSM)

	g, ok := agg.Group("1234")
	if !ok {
		t.Fatal("group 1234 missing")
	}
	if g.TotalCents != 250 {
		t.Errorf("TotalCents = %d, want 250", g.TotalCents)
	}
	if got := g.Dates(); !reflect.DeepEqual(got, []string{"01/15/2024"}) {
		t.Errorf("Dates = %v, want [01/15/2024]", got)
	}
}

// Lines under the 45-char minimum stay in the run's raw contents but join no
// group.
func TestRun_SMShortLine(t *testing.T) {
	agg, stats := runParser(t, "TOO SHORT\n", ChannelSM)

	if agg.Len() != 0 {
		t.Errorf("groups = %d, want 0", agg.Len())
	}
	if len(agg.RawLines) != 1 {
		t.Errorf("RawLines length = %d, want 1", len(agg.RawLines))
	}
	if stats.SkipReasons["short_line"] != 1 {
		t.Errorf("short_line skips = %d, want 1", stats.SkipReasons["short_line"])
	}
}

func TestRun_Bancnet(t *testing.T) {
	line := "AAAAAAAAAAAAAA" + "240115" + "1234" + "BBBBBBBBBB" + "*" + strings.Repeat(" ", 20) + "00007500" + "X"
	agg, _ := runParser(t, line+"\n", ChannelBancnet)

	g, ok := agg.Group("1234")
	if !ok {
		t.Fatal("group 1234 missing")
	}
	if g.Count != 1 {
		t.Errorf("Count = %d, want 1", g.Count)
	}
	if g.TotalCents != 7500 {
		t.Errorf("TotalCents = %d, want 7500", g.TotalCents)
	}
	if got := g.Dates(); !reflect.DeepEqual(got, []string{"15/01/2025"}) {
		t.Errorf("Dates = %v, want [15/01/2025]", got)
	}
}

func TestRun_ROB(t *testing.T) {
	agg, _ := runParser(t, "2024-01-05^X|X^X^1234567^X^123.45^X\n", ChannelROB)

	g, ok := agg.Group("1234")
	if !ok {
		t.Fatal("group 1234 missing")
	}
	if g.TotalCents != 12345 {
		t.Errorf("TotalCents = %d, want 12345", g.TotalCents)
	}
	if got := g.Dates(); !reflect.DeepEqual(got, []string{"2024-01-05"}) {
		t.Errorf("Dates = %v, want [2024-01-05]", got)
	}
}

func TestRun_EmptyContent(t *testing.T) {
	agg, stats := runParser(t, "", ChannelBDO)
	if agg.Len() != 0 {
		t.Errorf("groups = %d, want 0", agg.Len())
	}
	if stats.Lines != 0 {
		t.Errorf("Lines = %d, want 0", stats.Lines)
	}
}

func TestRun_TooFewFields(t *testing.T) {
	agg, stats := runParser(t, "ONLY|TWO|FIELDS\n", ChannelBDO)
	if agg.Len() != 0 {
		t.Errorf("groups = %d, want 0", agg.Len())
	}
	if stats.SkipReasons["no_reference"] != 1 {
		t.Errorf("no_reference skips = %d, want 1", stats.SkipReasons["no_reference"])
	}
}

// An unreadable amount keeps the record with zero contribution.
func TestRun_BadAmountCountsZero(t *testing.T) {
	agg, stats := runParser(t, "NAME|X|2024-01-05|X|X|1234567890|X|X|X|NOTANUMBER\n", ChannelBDO)

	g, ok := agg.Group("1234")
	if !ok {
		t.Fatal("group 1234 missing")
	}
	if g.Count != 1 {
		t.Errorf("Count = %d, want 1", g.Count)
	}
	if g.TotalCents != 0 {
		t.Errorf("TotalCents = %d, want 0", g.TotalCents)
	}
	if stats.ZeroAmounts != 1 {
		t.Errorf("ZeroAmounts = %d, want 1", stats.ZeroAmounts)
	}
}

func TestRun_DuplicateReferencesGroupTogether(t *testing.T) {
	content := "A|X|2024-01-05|X|X|99990001|X|X|X|10.00\n" +
		"B|X|2024-01-06|X|X|12340002|X|X|X|20.00\n" +
		"C|X|2024-01-07|X|X|99990003|X|X|X|30.00\n"
	agg, _ := runParser(t, content, ChannelBDO)

	if got := agg.Keys(); !reflect.DeepEqual(got, []string{"9999", "1234"}) {
		t.Fatalf("Keys = %v, want [9999 1234]", got)
	}
	g, _ := agg.Group("9999")
	if g.Count != 2 {
		t.Errorf("Count = %d, want 2", g.Count)
	}
	if g.TotalCents != 4000 {
		t.Errorf("TotalCents = %d, want 4000", g.TotalCents)
	}
	if agg.TotalCents() != 6000 {
		t.Errorf("TotalCents() = %d, want 6000", agg.TotalCents())
	}
	if agg.TotalCount() != 3 {
		t.Errorf("TotalCount() = %d, want 3", agg.TotalCount())
	}
}

// Every channel except UNIONBANK keeps count equal to buffered raw lines.
func TestRun_CountMatchesRawLines(t *testing.T) {
	content := "A|X|2024-01-05|X|X|99990001|X|X|X|10.00\n" +
		"B|X|2024-01-06|X|X|12340002|X|X|X|20.00\n"
	agg, _ := runParser(t, content, ChannelBDO)

	for _, ref := range agg.Keys() {
		g, _ := agg.Group(ref)
		if g.Count != len(g.RawLines) {
			t.Errorf("group %s: Count %d != RawLines %d", ref, g.Count, len(g.RawLines))
		}
	}
}

func TestRun_Idempotent(t *testing.T) {
	content := unionbankFixture()
	first, _ := runParser(t, content, ChannelUnionBank)
	second, _ := runParser(t, content, ChannelUnionBank)

	if !reflect.DeepEqual(first.Keys(), second.Keys()) {
		t.Fatalf("Keys differ: %v vs %v", first.Keys(), second.Keys())
	}
	for _, ref := range first.Keys() {
		fg, _ := first.Group(ref)
		sg, _ := second.Group(ref)
		if fg.Count != sg.Count || fg.TotalCents != sg.TotalCents {
			t.Errorf("group %s differs: (%d, %d) vs (%d, %d)", ref, fg.Count, fg.TotalCents, sg.Count, sg.TotalCents)
		}
		if !reflect.DeepEqual(fg.RawLines, sg.RawLines) {
			t.Errorf("group %s raw lines differ", ref)
		}
	}
}

func TestRun_UnknownChannel(t *testing.T) {
	_, _, err := testParser().Run(context.Background(), "x", "GCASH", nil)
	if !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("error = %v, want ErrUnknownChannel", err)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := testParser().Run(ctx, "NAME|X|2024-01-05|X|X|1234567890|X|X|X|100.50\n", ChannelBDO, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestRun_Progress(t *testing.T) {
	var calls int
	var lastDone, lastTotal int
	progress := func(done, total int) {
		calls++
		lastDone, lastTotal = done, total
	}

	_, _, err := testParser().Run(context.Background(), "NAME|X|2024-01-05|X|X|1234567890|X|X|X|100.50\n", ChannelBDO, progress)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if calls == 0 {
		t.Fatal("progress never called")
	}
	if lastDone != lastTotal {
		t.Errorf("final progress = %d/%d, want done == total", lastDone, lastTotal)
	}
}
