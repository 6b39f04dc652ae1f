package calls

import (
	"context"
	"errors"
	"testing"

	"callwatch/internal/browser"
	"callwatch/internal/browser/browsertest"
)

func TestScannerReadsRows(t *testing.T) {
	table := &browsertest.Element{Children: map[string][]*browsertest.Element{
		"tr": {
			{Attrs: map[string]string{}},
			browsertest.Row("r1", "1", "+1 555 123 4567", "US", "00:12", "live"),
			browsertest.Row("r2", "2", "+44 7400 123456", "GB", "00:03", "live"),
		},
	}}
	page := browsertest.NewPage("https://dash.example.com/live/calls").Set("#LiveCalls", table)

	rows, err := Scanner{TableSelector: "#LiveCalls"}.Rows(context.Background(), page)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0].ID != "" || len(rows[0].Cells) != 0 {
		t.Fatalf("expected header row without id or cells, got %+v", rows[0])
	}
	if rows[2].ID != "r2" || rows[2].Cells[1] != "+44 7400 123456" {
		t.Fatalf("unexpected row %+v", rows[2])
	}
}

func TestScannerMissingTable(t *testing.T) {
	page := browsertest.NewPage("https://dash.example.com/live/calls")
	_, err := Scanner{TableSelector: "#LiveCalls"}.Rows(context.Background(), page)
	if !errors.Is(err, ErrTableNotFound) {
		t.Fatalf("expected ErrTableNotFound, got %v", err)
	}
}

func TestScannerStaleCellKeepsOtherRows(t *testing.T) {
	bad := browsertest.Row("r1", "1", "555", "x", "x", "x")
	bad.Children["td"][1].Stale = true
	table := &browsertest.Element{Children: map[string][]*browsertest.Element{
		"tr": {bad, browsertest.Row("r2", "2", "15551234567", "x", "x", "x")},
	}}
	page := browsertest.NewPage("").Set("#LiveCalls", table)

	rows, err := Scanner{TableSelector: "#LiveCalls"}.Rows(context.Background(), page)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if !errors.Is(rows[0].Err, browser.ErrStaleElement) || rows[0].ID != "r1" {
		t.Fatalf("expected stale first row, got %+v", rows[0])
	}
	if rows[1].Err != nil || len(rows[1].Cells) != 5 {
		t.Fatalf("expected second row intact, got %+v", rows[1])
	}
}
