// Package edi parses pipe-bang delimited EDI forecast exports into tabular
// rows. Parsing is a pure transform: no I/O, no logging, no side effects.
package edi

import (
	"errors"
	"strings"
	"unicode/utf8"

	"ediforecast/pkg/domain"
)

var (
	// ErrInvalidEncoding is returned when the upload is not valid UTF-8.
	ErrInvalidEncoding = errors.New("file content is not valid UTF-8")
	// ErrInsufficientData is returned when the file is too short to hold
	// the fixed 6-line header plus at least one candidate data line.
	ErrInsufficientData = errors.New("the file does not contain enough data")
	// ErrNoDataRows is returned when no line survives row filtering.
	ErrNoDataRows = errors.New("no data rows found in the file")
)

const (
	headerLines = 6
	fieldCount  = 8
	delimiter   = "!"
)

// Parse converts raw uploaded bytes into forecast rows. The first 6 lines of
// the export are always banner/header and are skipped regardless of content.
// Rows are split on "!", trimmed, and kept only when at least 8 fields
// remain; the delivery column is run through FormatDeliveryDate.
func Parse(content []byte) ([]domain.ForecastRow, error) {
	if !utf8.Valid(content) {
		return nil, ErrInvalidEncoding
	}
	lines := strings.Split(string(content), "\n")
	if len(lines) < headerLines+1 {
		return nil, ErrInsufficientData
	}

	var rows []domain.ForecastRow
	for _, line := range lines[headerLines:] {
		fields, ok := splitDataLine(line)
		if !ok {
			continue
		}
		rows = append(rows, domain.ForecastRow{
			Index:        len(rows) + 1,
			OrderHyd:     fields[0],
			CustomerCode: fields[1],
			ArticleCode:  fields[2],
			Description:  fields[3],
			OcliGare:     fields[4],
			Quantity:     fields[5],
			Delivery:     FormatDeliveryDate(fields[6]),
			OrderVen:     fields[7],
		})
	}
	if len(rows) == 0 {
		return nil, ErrNoDataRows
	}
	return rows, nil
}

// splitDataLine returns the first 8 trimmed fields of a data line, or false
// for blank lines, separator rows, and lines with fewer than 8 fields.
func splitDataLine(line string) ([]string, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "-") || strings.HasPrefix(trimmed, "+") {
		return nil, false
	}
	cols := strings.Split(line, delimiter)
	// A leading or trailing delimiter produces an empty edge field.
	if len(cols) > 0 && strings.TrimSpace(cols[0]) == "" {
		cols = cols[1:]
	}
	if len(cols) > 0 && strings.TrimSpace(cols[len(cols)-1]) == "" {
		cols = cols[:len(cols)-1]
	}
	if len(cols) < fieldCount {
		return nil, false
	}
	fields := make([]string, fieldCount)
	for i := 0; i < fieldCount; i++ {
		fields[i] = strings.TrimSpace(cols[i])
	}
	return fields, true
}

// FormatDeliveryDate reshapes the raw delivery value into DD.MM.YYYY on a
// best-effort basis. The source system truncates leading zeros of the day
// and sometimes the century, so the digit count decides the layout:
//
//	8 digits DDMMYYYY -> DD.MM.YYYY
//	7 digits DMMYYYY  -> 0D.MM.YYYY
//	6 digits DDMMYY   -> DD.MM.20YY
//	5 digits DMMYY    -> 0D.MM.20YY
//
// Anything else is returned unchanged. This is a cosmetic transform, not
// validation; it never fails.
func FormatDeliveryDate(raw string) string {
	digits := keepDigits(strings.TrimSpace(raw))
	switch len(digits) {
	case 8:
		return digits[:2] + "." + digits[2:4] + "." + digits[4:]
	case 7:
		return "0" + digits[:1] + "." + digits[1:3] + "." + digits[3:]
	case 6:
		return digits[:2] + "." + digits[2:4] + ".20" + digits[4:]
	case 5:
		return "0" + digits[:1] + "." + digits[1:3] + ".20" + digits[3:]
	default:
		return raw
	}
}

func keepDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
