// Package settlement implements parsing and grouping of Philippine
// payment-channel settlement files. Every channel ships a different flat-text
// layout; the descriptor table below declares how each one splits into fields
// and where the ATM reference, amount, and date live, so adding a channel is
// adding a row, not editing the parser.
package settlement

import (
	"errors"
	"strings"
)

// Channel identifiers as they appear in upload requests and report output.
const (
	ChannelBDO       = "BDO"
	ChannelCebuana   = "CEBUANA"
	ChannelChinabank = "CHINABANK"
	ChannelCIS       = "CIS"
	ChannelECPay     = "ECPAY"
	ChannelMetrobank = "METROBANK"
	ChannelPNB       = "PNB"
	ChannelUnionBank = "UNIONBANK"
	ChannelSM        = "SM"
	ChannelBancnet   = "BANCNET"
	ChannelPeralink  = "PERALINK"
	ChannelROB       = "ROB"

	// ChannelUnknown is returned by ClassifyFilename when no alias matches.
	ChannelUnknown = "Unknown"
)

// NoRef is the sentinel group key for lines that carry no usable reference.
const NoRef = "NOREF"

var (
	ErrUnknownChannel = errors.New("unknown payment channel")
	ErrInvalidArea    = errors.New("invalid area")
)

// Areas are the operational region tags appended to output filenames.
var Areas = []string{"EPR", "PIC", "FPR"}

// ValidArea reports whether area is one of the known region tags.
func ValidArea(area string) bool {
	for _, a := range Areas {
		if area == a {
			return true
		}
	}
	return false
}

// Descriptor declares one channel's line layout: how a raw line splits into
// fields and how the three extractors read a reference key, an amount in
// cents, and a channel-native date string out of it.
type Descriptor struct {
	ID          string
	DisplayName string
	Delimiter   DelimiterKind
	Aliases     []string

	// MinLineLen gates positional channels; a shorter line is skipped, or
	// treated as a continuation of the current group when Continuation is
	// set (UNIONBANK).
	MinLineLen   int
	Continuation bool
	// Dedupe drops a line that is already buffered under its target group.
	Dedupe bool

	reference func(Line) (string, error)
	amount    func(Line) (int64, error)
	date      func(Line) string
}

// registry holds every known channel in classification order: when a
// filename matches aliases of more than one channel, the earlier row wins.
var registry = []Descriptor{
	{
		ID: ChannelBDO, DisplayName: ChannelBDO, Delimiter: DelimiterPipe,
		Aliases:   []string{"BDO"},
		reference: fieldDigitsRef(5), amount: fieldAmount(9), date: fieldDate(2),
	},
	{
		ID: ChannelCebuana, DisplayName: ChannelCebuana, Delimiter: DelimiterComma,
		Aliases:   []string{"CEBUANA LHUILLIER", "CEBUANA LHUILIER", "CEBUANA"},
		reference: fieldDigitsRef(4), amount: fieldAmount(6), date: fieldDate(2),
	},
	{
		ID: ChannelChinabank, DisplayName: ChannelChinabank, Delimiter: DelimiterWhitespace,
		Aliases:   []string{"CHINABANK", "CHINA BANK"},
		reference: fieldDigitsRef(3), amount: fieldAmount(2), date: slicedFieldDate(0),
	},
	{
		ID: ChannelCIS, DisplayName: ChannelCIS, Delimiter: DelimiterCaret,
		Aliases:   []string{"CIS"},
		reference: fieldDigitsRef(1), amount: fieldAmount(2), date: fieldDate(0),
	},
	{
		ID: ChannelECPay, DisplayName: ChannelECPay, Delimiter: DelimiterComma,
		Aliases:   []string{"ECPAY", "EC PAY"},
		reference: fieldDigitsRef(5), amount: fieldAmount(6), date: fieldDate(2),
	},
	{
		ID: ChannelMetrobank, DisplayName: ChannelMetrobank, Delimiter: DelimiterWhitespace,
		Aliases:   []string{"METROBANK", "METRO BANK", "METRO"},
		reference: fieldCharsRef(1), amount: metrobankAmount, date: metrobankDate,
	},
	{
		ID: ChannelPNB, DisplayName: ChannelPNB, Delimiter: DelimiterCaret,
		Aliases:   []string{"PNB"},
		reference: fieldDigitsRef(4), amount: fieldAmount(6), date: fieldDate(1),
	},
	{
		ID: ChannelUnionBank, DisplayName: ChannelUnionBank, Delimiter: DelimiterPositional,
		Aliases:    []string{"UNIONBANK", "UNION BANK", "UB"},
		MinLineLen: 200, Continuation: true, Dedupe: true,
		reference: unionbankReference, amount: unionbankAmount, date: unionbankDate,
	},
	{
		ID: ChannelSM, DisplayName: ChannelSM, Delimiter: DelimiterPositional,
		Aliases:    []string{"SM"},
		MinLineLen: 45,
		reference:  smReference, amount: smAmount, date: smDate,
	},
	{
		ID: ChannelBancnet, DisplayName: ChannelBancnet, Delimiter: DelimiterPositional,
		Aliases:   []string{"BANCNET"},
		reference: bancnetReference, amount: bancnetAmount, date: bancnetDate,
	},
	{
		ID: ChannelPeralink, DisplayName: ChannelPeralink, Delimiter: DelimiterComma,
		Aliases:   []string{"PERALINK"},
		reference: fieldDigitsRef(4), amount: fieldAmount(6), date: fieldDate(2),
	},
	{
		ID: ChannelROB, DisplayName: ChannelROB, Delimiter: DelimiterMixedCaretPipe,
		Aliases:   []string{"ROBINSONS BANK", "ROBINSON BANK", "ROBINSONS_BANK", "ROBINSONS", "ROBINSON", "ROB"},
		reference: fieldCharsRef(4), amount: fieldAmount(6), date: fieldDate(0),
	},
}

var channelIndex = make(map[string]*Descriptor, len(registry))

func init() {
	for i := range registry {
		channelIndex[registry[i].ID] = &registry[i]
	}
}

// Lookup returns the descriptor for a channel id.
func Lookup(id string) (*Descriptor, bool) {
	d, ok := channelIndex[id]
	return d, ok
}

// ValidChannel reports whether id names a known channel.
func ValidChannel(id string) bool {
	_, ok := channelIndex[id]
	return ok
}

// Channels returns all channel ids in registry order.
func Channels() []string {
	ids := make([]string, 0, len(registry))
	for i := range registry {
		ids = append(ids, registry[i].ID)
	}
	return ids
}

var robinsonsAliases = map[string]string{
	"ROBINSONS":      ChannelROB,
	"ROBINSONS BANK": ChannelROB,
	"ROBINSON":       ChannelROB,
	"ROBINSON BANK":  ChannelROB,
	"ROBINSONS_BANK": ChannelROB,
}

// Canonical upper-cases a submitted payment mode and folds the ROBINSONS
// naming family into ROB. It does not validate the result.
func Canonical(mode string) string {
	upper := strings.ToUpper(strings.TrimSpace(mode))
	if id, ok := robinsonsAliases[upper]; ok {
		return id
	}
	return upper
}

// ClassifyFilename guesses the channel from a settlement filename by
// case-insensitive substring match against each channel's aliases, in
// registry order. Returns ChannelUnknown when nothing matches.
func ClassifyFilename(name string) string {
	upper := strings.ToUpper(name)
	for i := range registry {
		for _, alias := range registry[i].Aliases {
			if strings.Contains(upper, alias) {
				return registry[i].ID
			}
		}
	}
	return ChannelUnknown
}
