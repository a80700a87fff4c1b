// =============================================================================
// Billing Reconciler - Value Parsers
// =============================================================================
//
// Amounts, quantities and dates as they appear in Italian billing exports.
//
// =============================================================================

package ingest

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// ErrInvalidValue is wrapped by the value parsers.
var ErrInvalidValue = errors.New("invalid value")

// maxExcelSerial is 9999-12-31 in the 1900 date system.
const maxExcelSerial = 2958465

// ParseAmount reads a money amount as written in Italian exports:
// "1.234,56", "1234,56", "1234.56", "€ 12,00", "(12,00)".
// When both separators appear the last one is the decimal separator; a lone
// comma is always decimal.
func ParseAmount(value string) (decimal.Decimal, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		return decimal.Zero, nil
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	s = strings.NewReplacer("\u20ac", "", "EUR", "", " ", "", "\u00a0", "", "'", "").Replace(s)

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0 && lastComma > lastDot:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case lastComma >= 0 && lastDot >= 0:
		s = strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		s = strings.Replace(s, ",", ".", 1)
	case strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: amount %q", ErrInvalidValue, value)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// ParseQuantity reads a quantity. Empty means 1.
func ParseQuantity(value string) (decimal.Decimal, error) {
	if strings.TrimSpace(value) == "" {
		return decimal.NewFromInt(1), nil
	}
	q, err := ParseAmount(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: quantity %q", ErrInvalidValue, value)
	}
	return q, nil
}

// ParseDate tries each layout in order, then falls back to an Excel serial
// date (workbooks read with raw cell values keep dates as serials).
func ParseDate(value string, layouts []string) (time.Time, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty date", ErrInvalidValue)
	}

	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial > 0 && serial <= maxExcelSerial {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: date %q", ErrInvalidValue, value)
}
