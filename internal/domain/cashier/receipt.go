package cashier

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// GroupingType selects which bill references key the receipt sequence.
type GroupingType string

const (
	GroupingNone                GroupingType = "NONE"
	GroupingCashier             GroupingType = "CASHIER"
	GroupingCashPoint           GroupingType = "CASH_POINT"
	GroupingCashierAndCashPoint GroupingType = "CASHIER_AND_CASH_POINT"
)

// SequenceType selects the date component placed before the counter.
type SequenceType string

const (
	SequenceTypeCounter         SequenceType = "COUNTER"
	SequenceTypeDateCounter     SequenceType = "DATE_COUNTER"
	SequenceTypeDateTimeCounter SequenceType = "DATE_TIME_COUNTER"
)

const (
	dateLayout     = "060102"
	dateTimeLayout = "060102150405"
)

// ReceiptGeneratorModel configures receipt number formatting.
type ReceiptGeneratorModel struct {
	Grouping          GroupingType `json:"grouping" mapstructure:"grouping"`
	SequenceType      SequenceType `json:"sequence_type" mapstructure:"sequence_type"`
	Separator         string       `json:"separator" mapstructure:"separator"`
	SequencePadding   int          `json:"sequence_padding" mapstructure:"sequence_padding"`
	CashierPrefix     string       `json:"cashier_prefix" mapstructure:"cashier_prefix"`
	CashPointPrefix   string       `json:"cash_point_prefix" mapstructure:"cash_point_prefix"`
	IncludeCheckDigit bool         `json:"include_check_digit" mapstructure:"include_check_digit"`
}

// DefaultReceiptGeneratorModel is used when nothing has been configured.
func DefaultReceiptGeneratorModel() ReceiptGeneratorModel {
	return ReceiptGeneratorModel{
		Grouping:        GroupingNone,
		SequenceType:    SequenceTypeCounter,
		SequencePadding: 4,
		CashierPrefix:   "P",
		CashPointPrefix: "CP",
	}
}

// Validate checks the model's enums and padding.
func (m ReceiptGeneratorModel) Validate() error {
	switch m.Grouping {
	case GroupingNone, GroupingCashier, GroupingCashPoint, GroupingCashierAndCashPoint:
	default:
		return fmt.Errorf("invalid receipt grouping type: %q", m.Grouping)
	}
	switch m.SequenceType {
	case SequenceTypeCounter, SequenceTypeDateCounter, SequenceTypeDateTimeCounter:
	default:
		return fmt.Errorf("invalid receipt sequence type: %q", m.SequenceType)
	}
	if m.SequencePadding < 0 {
		return fmt.Errorf("receipt sequence padding cannot be negative: %d", m.SequencePadding)
	}
	return nil
}

// GroupingKey builds the sequence key for the bill under m.
func GroupingKey(m ReceiptGeneratorModel, b *Bill) string {
	cashier := m.CashierPrefix + strconv.FormatInt(b.CashierID, 10)
	cashPoint := m.CashPointPrefix + strconv.FormatInt(b.CashPointID, 10)
	switch m.Grouping {
	case GroupingCashier:
		return cashier
	case GroupingCashPoint:
		return cashPoint
	case GroupingCashierAndCashPoint:
		return cashier + m.Separator + cashPoint
	}
	return ""
}

// FormatReceiptNumber renders a reserved sequence value. It is a pure function
// of its inputs; now is only read for date based sequence types.
func FormatReceiptNumber(m ReceiptGeneratorModel, grouping string, seq int64, now time.Time) string {
	var sb strings.Builder
	if m.Grouping != GroupingNone && grouping != "" {
		sb.WriteString(grouping)
		sb.WriteString(m.Separator)
	}
	switch m.SequenceType {
	case SequenceTypeDateCounter:
		sb.WriteString(now.Format(dateLayout))
	case SequenceTypeDateTimeCounter:
		sb.WriteString(now.Format(dateTimeLayout))
	}
	sb.WriteString(fmt.Sprintf("%0*d", m.SequencePadding, seq))

	number := sb.String()
	if m.IncludeCheckDigit {
		number += m.Separator + strconv.Itoa(CheckDigit(number))
	}
	return number
}

// CheckDigit computes a Luhn mod-10 digit over the alphanumeric characters of
// body. Letters weigh their ASCII value minus 48; any other character is skipped.
func CheckDigit(body string) int {
	s := strings.ToUpper(body)
	sum, pos := 0, 0
	for i := len(s) - 1; i >= 0; i-- {
		ch := s[i]
		if !isCheckDigitChar(ch) {
			continue
		}
		d := int(ch) - '0'
		if pos%2 == 0 {
			sum += 2*d - (d/5)*9
		} else {
			sum += d
		}
		pos++
	}
	if sum < 0 {
		sum = -sum
	}
	sum += 10
	return (10 - sum%10) % 10
}

func isCheckDigitChar(ch byte) bool {
	return (ch >= '0' && ch <= '9') || (ch >= 'A' && ch <= 'Z') || ch == '_'
}

// ReceiptNumberGenerator reserves sequence values and formats receipt numbers.
type ReceiptNumberGenerator struct {
	settings ReceiptSettingsRepository
	counter  SequenceCounter
	now      func() time.Time
}

func NewReceiptNumberGenerator(settings ReceiptSettingsRepository, counter SequenceCounter) *ReceiptNumberGenerator {
	return &ReceiptNumberGenerator{settings: settings, counter: counter, now: time.Now}
}

// Generate reloads the model, reserves the next value for the bill's grouping
// key and formats it. Every failure is reported as ErrGeneration.
func (g *ReceiptNumberGenerator) Generate(ctx context.Context, b *Bill) (string, error) {
	m, err := g.settings.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: load settings: %v", ErrGeneration, err)
	}
	if m == nil {
		def := DefaultReceiptGeneratorModel()
		m = &def
	}
	if err := m.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	if usesCashier(m.Grouping) && b.CashierID <= 0 {
		return "", fmt.Errorf("%w: bill has no cashier to group by", ErrGeneration)
	}
	if usesCashPoint(m.Grouping) && b.CashPointID <= 0 {
		return "", fmt.Errorf("%w: bill has no cash point to group by", ErrGeneration)
	}

	key := GroupingKey(*m, b)
	seq, err := g.counter.ReserveNext(ctx, key)
	if err != nil {
		return "", fmt.Errorf("%w: reserve sequence %q: %v", ErrGeneration, key, err)
	}
	return FormatReceiptNumber(*m, key, seq, g.now()), nil
}

func usesCashier(g GroupingType) bool {
	return g == GroupingCashier || g == GroupingCashierAndCashPoint
}

func usesCashPoint(g GroupingType) bool {
	return g == GroupingCashPoint || g == GroupingCashierAndCashPoint
}
