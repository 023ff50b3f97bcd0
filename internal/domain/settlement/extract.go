package settlement

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Extraction failure sentinels. A reference failure excludes the line from
// the run; an amount failure keeps the record with a zero amount and the raw
// line still buffered under its group.
var (
	ErrShortLine   = errors.New("line too short for channel layout")
	ErrNoReference = errors.New("no usable ATM reference in line")
	ErrBadAmount   = errors.New("amount field not numeric")
)

// Line is one settlement line together with its split fields. Positional
// channels carry no fields; their extractors read byte offsets of Raw.
type Line struct {
	Raw    string
	Fields []string
}

func (l Line) field(i int) string {
	if i < len(l.Fields) {
		return l.Fields[i]
	}
	return ""
}

// METROBANK encodes the amount as an 11-12 digit cents run ending in a
// letter code, and the date as the first six digits of the trailing digit
// run of the line.
var (
	metrobankAmountPattern = regexp.MustCompile(`(\d{11,12})[A-Z]`)
	metrobankDatePattern   = regexp.MustCompile(`(\d{6})\d*$`)
)

// UNIONBANK references sit in a heavily padded positional region: prefer the
// last 14-digit run after a 10+ space gap, fall back to any 4+ digit run,
// then to whitespace field 4. Amounts are a 12-digit cents run tagged DB/LC
// at line end; dates follow the UB<digits> marker.
var (
	unionbankRef14Pattern  = regexp.MustCompile(`\s{10,}(\d{14})\s+`)
	unionbankRefAnyPattern = regexp.MustCompile(`\s{10,}(\d{4,})\s+`)
	unionbankAmountPattern = regexp.MustCompile(`(\d{12})(?:DB|LC)\d*\s*$`)
	unionbankDatePattern   = regexp.MustCompile(`UB\d+\s+(\d{6})`)
)

// BANCNET amounts above this bound (one million pesos, in cents) are outside
// the sanity range and contribute zero.
const bancnetMaxCents = 100_000_000

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}

// parseDecimalCents converts a decimal amount string to cents, stripping
// thousands separators first. Negative or non-numeric values fail.
func parseDecimalCents(raw string) (int64, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if cleaned == "" {
		return 0, ErrBadAmount
	}
	val, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, ErrBadAmount
	}
	cents := int64(math.Round(val * 100))
	if cents < 0 {
		return 0, ErrBadAmount
	}
	return cents, nil
}

// parseCentsDigits reads an all-digit field already denominated in cents.
func parseCentsDigits(raw string) (int64, error) {
	cents, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, ErrBadAmount
	}
	return cents, nil
}

// sliceDate reformats a compact digit date by slicing, e.g. MMDDYYYY into
// MM/DD/YYYY and YYMMDD into YY/MM/DD. Too-short input passes through.
func sliceDate(s string) string {
	if len(s) < 5 {
		return s
	}
	return s[:2] + "/" + s[2:4] + "/" + s[4:]
}

// fieldDigitsRef extracts a reference as the first 4 digits of field idx
// after dropping every non-digit. Fewer than 4 digits invalidates the line.
func fieldDigitsRef(idx int) func(Line) (string, error) {
	return func(l Line) (string, error) {
		digits := digitsOnly(l.field(idx))
		if len(digits) < 4 {
			return "", ErrNoReference
		}
		return digits[:4], nil
	}
}

// fieldCharsRef extracts a reference as the first 4 characters of field idx,
// digits or not (METROBANK and ROB keep whatever the field starts with).
func fieldCharsRef(idx int) func(Line) (string, error) {
	return func(l Line) (string, error) {
		f := l.field(idx)
		if len(f) < 4 {
			return "", ErrNoReference
		}
		return f[:4], nil
	}
}

// fieldAmount parses field idx as a decimal amount in major units.
func fieldAmount(idx int) func(Line) (int64, error) {
	return func(l Line) (int64, error) {
		return parseDecimalCents(l.field(idx))
	}
}

// fieldDate returns field idx as the channel-native date string, untouched.
func fieldDate(idx int) func(Line) string {
	return func(l Line) string {
		return strings.TrimSpace(l.field(idx))
	}
}

// slicedFieldDate returns field idx reformatted from MMDDYYYY to MM/DD/YYYY.
func slicedFieldDate(idx int) func(Line) string {
	return func(l Line) string {
		ds := strings.TrimSpace(l.field(idx))
		if ds == "" {
			return ""
		}
		return sliceDate(ds)
	}
}

func metrobankAmount(l Line) (int64, error) {
	m := metrobankAmountPattern.FindStringSubmatch(l.Raw)
	if m == nil {
		return 0, ErrBadAmount
	}
	return parseCentsDigits(m[1])
}

func metrobankDate(l Line) string {
	m := metrobankDatePattern.FindStringSubmatch(l.Raw)
	if m == nil {
		return ""
	}
	return sliceDate(m[1])
}

// unionbankReference never fails: a long line that defeats all three
// strategies still lands in the NOREF group.
func unionbankReference(l Line) (string, error) {
	if matches := unionbankRef14Pattern.FindAllStringSubmatch(l.Raw, -1); len(matches) > 0 {
		return matches[len(matches)-1][1][:4], nil
	}
	if m := unionbankRefAnyPattern.FindStringSubmatch(l.Raw); m != nil {
		return m[1][:4], nil
	}
	fields := strings.Fields(l.Raw)
	if len(fields) > 4 {
		if digits := digitsOnly(fields[4]); len(digits) >= 4 {
			return digits[:4], nil
		}
	}
	return NoRef, nil
}

func unionbankAmount(l Line) (int64, error) {
	m := unionbankAmountPattern.FindStringSubmatch(l.Raw)
	if m == nil {
		return 0, ErrBadAmount
	}
	return parseCentsDigits(m[1])
}

func unionbankDate(l Line) string {
	m := unionbankDatePattern.FindStringSubmatch(l.Raw)
	if m == nil {
		return ""
	}
	return sliceDate(m[1])
}

// smReference takes the first 4 characters of the reference region at bytes
// 18..31. The parser has already gated the line at 45 bytes.
func smReference(l Line) (string, error) {
	if len(l.Raw) < 31 {
		return "", ErrShortLine
	}
	return l.Raw[18:31][:4], nil
}

// smAmount collects the digits immediately preceding the first CS marker,
// scanning backward over at most the nine preceding characters, and reads
// them as cents.
func smAmount(l Line) (int64, error) {
	csPos := strings.Index(l.Raw, "CS")
	if csPos <= 0 {
		return 0, ErrBadAmount
	}
	stop := csPos - 10
	if stop < 0 {
		stop = 0
	}
	var digits []byte
	for i := csPos - 1; i > stop; i-- {
		c := l.Raw[i]
		if c < '0' || c > '9' {
			break
		}
		digits = append([]byte{c}, digits...)
	}
	if len(digits) == 0 {
		return 0, ErrBadAmount
	}
	return parseCentsDigits(string(digits))
}

func smDate(l Line) string {
	if len(l.Raw) < 11 {
		return ""
	}
	return sliceDate(l.Raw[3:11])
}

// bancnetReference is the raw 4-byte slice 14..10 bytes before the first
// asterisk. It is not digit-filtered; an all-blank slice invalidates the
// line.
func bancnetReference(l Line) (string, error) {
	p := strings.Index(l.Raw, "*")
	if p < 14 {
		return "", ErrNoReference
	}
	ref := l.Raw[p-14 : p-10]
	if strings.TrimSpace(ref) == "" {
		return "", ErrNoReference
	}
	return ref, nil
}

// bancnetAmount reads the 8-byte cents field 21 bytes after the last
// asterisk. Amounts outside (0, one million pesos) are out of the sanity
// range and count as zero.
func bancnetAmount(l Line) (int64, error) {
	q := strings.LastIndex(l.Raw, "*")
	if q <= 0 || len(l.Raw) <= q+28 {
		return 0, ErrBadAmount
	}
	cents, err := parseCentsDigits(strings.TrimSpace(l.Raw[q+21 : q+29]))
	if err != nil {
		return 0, ErrBadAmount
	}
	if cents <= 0 || cents >= bancnetMaxCents {
		return 0, ErrBadAmount
	}
	return cents, nil
}

// bancnetDate reads the six bytes ending at byte 20 as YYMMDD and formats
// them DD/MM/2025. The year is fixed upstream; kept as the files dictate.
func bancnetDate(l Line) string {
	if len(l.Raw) < 50 {
		return ""
	}
	ds := l.Raw[14:20]
	return ds[4:6] + "/" + ds[2:4] + "/2025"
}
