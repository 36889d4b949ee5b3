package edi

import (
	"errors"
	"strings"
	"testing"
)

const header = "EDI FORECAST EXPORT\nCUSTOMER PROGRAM\n\nPAGE 1\n+----+\n| ORD.HYD ! COD.CLIENTE ! COD. ART ! DESCRIZIONE ! OCLI GARE ! QUANTITA ! CONSEGNA ! ORD.VEN |\n"

func TestParseDataRows(t *testing.T) {
	content := header +
		"! A1 ! C100 ! ART-9 ! Widget left ! OC1 ! 40 ! 01022024 ! V7 !\n" +
		"-----------------------------------------------\n" +
		"! A2 ! C100 ! ART-10 !  Widget right  ! OC2 ! 12 ! 010224 ! V8 !\n" +
		"\n"
	rows, err := Parse([]byte(content))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	for i, row := range rows {
		if row.Index != i+1 {
			t.Fatalf("row %d: index = %d", i, row.Index)
		}
	}
	if rows[1].Description != "Widget right" {
		t.Fatalf("fields not trimmed: %q", rows[1].Description)
	}
	if rows[0].Delivery != "01.02.2024" || rows[1].Delivery != "01.02.2024" {
		t.Fatalf("delivery not normalized: %q / %q", rows[0].Delivery, rows[1].Delivery)
	}
}

func TestParseSkipsShortAndSeparatorLines(t *testing.T) {
	content := header +
		"+------+\n" +
		"! too ! few ! fields !\n" +
		"! A1 ! C1 ! ART ! D ! O ! 1 ! 01022024 ! V !\n"
	rows, err := Parse([]byte(content))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
}

func TestParseKeepsFirstEightFields(t *testing.T) {
	content := header + "! a ! b ! c ! d ! e ! f ! 1022024 ! h ! extra ! more !\n"
	rows, err := Parse([]byte(content))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := rows[0].OrderVen; got != "h" {
		t.Fatalf("expected eighth field %q, got %q", "h", got)
	}
}

func TestParseHeaderOnlyFile(t *testing.T) {
	_, err := Parse([]byte("a\nb\nc\nd\ne\nf"))
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestParseBlankSeventhLine(t *testing.T) {
	_, err := Parse([]byte("a\nb\nc\nd\ne\nf\n   "))
	if !errors.Is(err, ErrNoDataRows) {
		t.Fatalf("expected ErrNoDataRows, got %v", err)
	}
}

func TestParseInvalidUTF8(t *testing.T) {
	_, err := Parse([]byte{0xff, 0xfe, '\n'})
	if !errors.Is(err, ErrInvalidEncoding) {
		t.Fatalf("expected ErrInvalidEncoding, got %v", err)
	}
}

func TestParseHeaderSkippedUnconditionally(t *testing.T) {
	// The first six lines are dropped even when they look like data.
	dataLike := "! a ! b ! c ! d ! e ! f ! g ! h !"
	content := strings.Repeat(dataLike+"\n", 6)
	_, err := Parse([]byte(content + "\n"))
	if !errors.Is(err, ErrNoDataRows) {
		t.Fatalf("expected ErrNoDataRows, got %v", err)
	}
}

func TestFormatDeliveryDate(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"01022024", "01.02.2024"},
		{"1022024", "01.02.2024"},
		{"010224", "01.02.2024"},
		{"10224", "01.02.2024"},
		{"31.12.2025", "31.12.2025"},
		{" 1/02/24 ", "01.02.2024"},
		{"123456789", "123456789"},
		{"1234", "1234"},
		{"n/a", "n/a"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := FormatDeliveryDate(tc.in); got != tc.want {
			t.Errorf("FormatDeliveryDate(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
