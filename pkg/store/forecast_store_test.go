package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ediforecast/pkg/domain"
)

func newTestForecastStore(t *testing.T) *ForecastStore {
	t.Helper()
	base := t.TempDir()
	fs, err := NewForecastStore(filepath.Join(base, "output"), filepath.Join(base, "backup"), nil)
	if err != nil {
		t.Fatalf("new forecast store: %v", err)
	}
	return fs
}

func sampleRows() []domain.ForecastRow {
	return []domain.ForecastRow{
		{Index: 1, OrderHyd: "A1", CustomerCode: "C1", ArticleCode: "ART", Description: "Widget", OcliGare: "OC", Quantity: "5", Delivery: "01.02.2024", OrderVen: "V1"},
		{Index: 2, OrderHyd: "A2", CustomerCode: "C1", ArticleCode: "ART2", Description: "Bolt", OcliGare: "OC", Quantity: "9", Delivery: "02.02.2024", OrderVen: "V2"},
	}
}

func TestSaveCreatesDocumentAndBackup(t *testing.T) {
	fs := newTestForecastStore(t)
	result, err := fs.Save(domain.CustomerVolvo, "demand_week07.txt", []byte("raw!content"), sampleRows())
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if result.Overwritten {
		t.Fatalf("first save must create, not overwrite")
	}
	if !strings.HasPrefix(result.Filename, "forecast_Volvo_") || !strings.HasSuffix(result.Filename, ".json") {
		t.Fatalf("unexpected document name %q", result.Filename)
	}
	if !strings.HasPrefix(result.BackupFilename, "BACKUP_Volvo_demand_week07_") {
		t.Fatalf("unexpected backup name %q", result.BackupFilename)
	}

	raw, err := os.ReadFile(filepath.Join(fs.backupDir, result.BackupFilename))
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if string(raw) != "raw!content" {
		t.Fatalf("backup content changed: %q", raw)
	}
}

func TestSavePersistedShapeOmitsIndex(t *testing.T) {
	fs := newTestForecastStore(t)
	result, err := fs.Save(domain.CustomerMan, "file.txt", nil, sampleRows())
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(fs.outputDir, result.Filename))
	if err != nil {
		t.Fatalf("read document: %v", err)
	}
	var generic struct {
		Customer         string           `json:"customer"`
		Timestamp        string           `json:"timestamp"`
		OriginalFilename string           `json:"original_filename"`
		Records          []map[string]any `json:"records"`
	}
	if err := json.Unmarshal(data, &generic); err != nil {
		t.Fatalf("decode document: %v", err)
	}
	if generic.OriginalFilename != "file.txt" {
		t.Fatalf("original_filename = %q", generic.OriginalFilename)
	}
	for _, record := range generic.Records {
		if _, ok := record["Index"]; ok {
			t.Fatalf("Index leaked into persisted record: %v", record)
		}
		for _, key := range []string{"ORD.HYD", "COD.CLIENTE", "COD. ART", "DESCRIZIONE", "OCLI GARE", "QUANTITA", "CONSEGNA", "ORD.VEN"} {
			if _, ok := record[key]; !ok {
				t.Fatalf("missing record key %q: %v", key, record)
			}
		}
	}
}

func TestSaveUpsertsByOriginalFilename(t *testing.T) {
	fs := newTestForecastStore(t)
	fs.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }
	first, err := fs.Save(domain.CustomerNavistar, "Weekly_Demand.TXT", []byte("v1"), sampleRows())
	if err != nil {
		t.Fatalf("first save: %v", err)
	}
	fs.now = func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) }
	second, err := fs.Save(domain.CustomerNavistar, "weekly_demand.csv", []byte("v2"), sampleRows()[:1])
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if !second.Overwritten {
		t.Fatalf("expected overwrite of existing document")
	}
	if second.Filename != first.Filename {
		t.Fatalf("overwrite must keep the original path: %q vs %q", second.Filename, first.Filename)
	}

	names, err := fs.documentNames()
	if err != nil {
		t.Fatalf("list names: %v", err)
	}
	if len(names) != 1 {
		t.Fatalf("expected exactly one document on disk, got %v", names)
	}
	doc, err := fs.Load(first.Filename)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(doc.Records) != 1 || doc.OriginalFilename != "weekly_demand.csv" {
		t.Fatalf("document not overwritten: %+v", doc)
	}
}

func TestRoundTripPreservesFields(t *testing.T) {
	fs := newTestForecastStore(t)
	rows := sampleRows()
	result, err := fs.Save(domain.CustomerVolvo, "rt.txt", nil, rows)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	doc, err := fs.Load(result.Filename)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(doc.Records) != len(rows) {
		t.Fatalf("record count: got %d want %d", len(doc.Records), len(rows))
	}
	for i, got := range doc.Records {
		want := rows[i]
		want.Index = 0
		if got != want {
			t.Fatalf("record %d: got %+v want %+v", i, got, want)
		}
	}
}

func TestListFilterAndOrder(t *testing.T) {
	fs := newTestForecastStore(t)
	fs.now = func() time.Time { return time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC) }
	if _, err := fs.Save(domain.CustomerVolvo, "one.txt", nil, sampleRows()); err != nil {
		t.Fatalf("save one: %v", err)
	}
	fs.now = func() time.Time { return time.Date(2026, 1, 2, 8, 0, 0, 0, time.UTC) }
	if _, err := fs.Save(domain.CustomerMan, "two.txt", nil, sampleRows()); err != nil {
		t.Fatalf("save two: %v", err)
	}

	all, err := fs.List("", false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(all))
	}
	if all[0].Customer != domain.CustomerMan {
		t.Fatalf("newest first expected, got %+v", all)
	}

	oldest, err := fs.List("", true)
	if err != nil {
		t.Fatalf("list oldest: %v", err)
	}
	if oldest[0].Customer != domain.CustomerVolvo {
		t.Fatalf("oldest first expected, got %+v", oldest)
	}

	volvoOnly, err := fs.List(domain.CustomerVolvo, false)
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(volvoOnly) != 1 || volvoOnly[0].OriginalFilename != "one.txt" {
		t.Fatalf("filter failed: %+v", volvoOnly)
	}
}

func TestDeleteDocument(t *testing.T) {
	fs := newTestForecastStore(t)
	result, err := fs.Save(domain.CustomerVolvo, "del.txt", nil, sampleRows())
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := fs.Delete(result.Filename); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := fs.Delete(result.Filename); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
	if _, err := fs.Load(result.Filename); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound on load, got %v", err)
	}
	if err := fs.Delete("../escape.json"); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected traversal to be rejected, got %v", err)
	}
}

type captureMirror struct {
	keys []string
}

func (c *captureMirror) Put(_ context.Context, key string, _ []byte, _ string) error {
	c.keys = append(c.keys, key)
	return nil
}

func TestSaveMirrorsBackup(t *testing.T) {
	base := t.TempDir()
	mirror := &captureMirror{}
	fs, err := NewForecastStore(filepath.Join(base, "output"), filepath.Join(base, "backup"), mirror)
	if err != nil {
		t.Fatalf("new forecast store: %v", err)
	}
	result, err := fs.Save(domain.CustomerVolvo, "m.txt", []byte("raw"), sampleRows())
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if len(mirror.keys) != 1 || mirror.keys[0] != result.BackupFilename {
		t.Fatalf("mirror keys = %v, want [%s]", mirror.keys, result.BackupFilename)
	}
}
