package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"ediforecast/pkg/domain"
	"ediforecast/pkg/storage"
)

// ErrDocumentNotFound is returned for loads/deletes of unknown documents.
var ErrDocumentNotFound = errors.New("forecast record not found")

const timestampLayout = "20060102_150405"

// ForecastStore keeps one JSON file per saved forecast document plus a raw
// TXT backup of every upload. Documents are upserted by the uploaded file's
// base name: a later save of the same name overwrites the existing file in
// place instead of creating a second one.
type ForecastStore struct {
	outputDir string
	backupDir string
	mirror    storage.ObjectStore
	mu        sync.Mutex
	now       func() time.Time
}

// SaveResult describes what a save produced.
type SaveResult struct {
	Filename       string `json:"filename"`
	BackupFilename string `json:"backupFilename"`
	RecordCount    int    `json:"recordCount"`
	Overwritten    bool   `json:"overwritten"`
}

// DocumentInfo is a browse listing entry.
type DocumentInfo struct {
	Filename         string `json:"filename"`
	Customer         string `json:"customer"`
	Timestamp        string `json:"timestamp"`
	OriginalFilename string `json:"original_filename"`
	RecordCount      int    `json:"recordCount"`
}

// NewForecastStore creates the output and backup directories when missing.
// mirror may be nil; when set, backups are copied to object storage on a
// best-effort basis.
func NewForecastStore(outputDir, backupDir string, mirror storage.ObjectStore) (*ForecastStore, error) {
	if strings.TrimSpace(outputDir) == "" || strings.TrimSpace(backupDir) == "" {
		return nil, fmt.Errorf("output and backup directories are required")
	}
	for _, dir := range []string{outputDir, backupDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create forecast dir: %w", err)
		}
	}
	return &ForecastStore{
		outputDir: outputDir,
		backupDir: backupDir,
		mirror:    mirror,
		now:       time.Now,
	}, nil
}

// Save persists a forecast document and a TXT backup of the raw upload.
// The parse-time Index is stripped from records before persistence.
func (f *ForecastStore) Save(customer, originalFilename string, rawContent []byte, records []domain.ForecastRow) (SaveResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	timestamp := f.now().Format(timestampLayout)
	stripped := make([]domain.ForecastRow, len(records))
	for i, row := range records {
		row.Index = 0
		stripped[i] = row
	}
	doc := domain.ForecastDocument{
		Customer:         customer,
		Timestamp:        timestamp,
		OriginalFilename: originalFilename,
		Records:          stripped,
	}

	backupName := fmt.Sprintf("BACKUP_%s_%s_%s.txt", customer, baseName(originalFilename), timestamp)
	if err := os.WriteFile(filepath.Join(f.backupDir, backupName), rawContent, 0o644); err != nil {
		return SaveResult{}, fmt.Errorf("write backup: %w", err)
	}
	f.mirrorBackup(backupName, rawContent)

	result := SaveResult{BackupFilename: backupName, RecordCount: len(stripped)}
	path := f.findExisting(originalFilename)
	if path != "" {
		result.Overwritten = true
	} else {
		path = filepath.Join(f.outputDir, fmt.Sprintf("forecast_%s_%s.json", customer, timestamp))
	}
	result.Filename = filepath.Base(path)

	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return SaveResult{}, fmt.Errorf("encode forecast document: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return SaveResult{}, fmt.Errorf("write forecast document: %w", err)
	}
	return result, nil
}

// List returns browse entries, newest first unless oldestFirst is set.
// customer filters by document customer when non-empty.
func (f *ForecastStore) List(customer string, oldestFirst bool) ([]DocumentInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	names, err := f.documentNames()
	if err != nil {
		return nil, err
	}
	infos := make([]DocumentInfo, 0, len(names))
	for _, name := range names {
		doc, err := f.read(name)
		if err != nil {
			slog.Warn("skipping unreadable forecast file", "file", name, "err", err)
			continue
		}
		if customer != "" && doc.Customer != customer {
			continue
		}
		infos = append(infos, DocumentInfo{
			Filename:         name,
			Customer:         doc.Customer,
			Timestamp:        doc.Timestamp,
			OriginalFilename: doc.OriginalFilename,
			RecordCount:      len(doc.Records),
		})
	}
	// Filenames embed the save timestamp, so name order is time order.
	sort.Slice(infos, func(i, j int) bool {
		if oldestFirst {
			return infos[i].Filename < infos[j].Filename
		}
		return infos[i].Filename > infos[j].Filename
	})
	return infos, nil
}

// Load reads one document by filename.
func (f *ForecastStore) Load(name string) (domain.ForecastDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !validDocumentName(name) {
		return domain.ForecastDocument{}, ErrDocumentNotFound
	}
	doc, err := f.read(name)
	if os.IsNotExist(err) {
		return domain.ForecastDocument{}, ErrDocumentNotFound
	}
	return doc, err
}

// Delete removes one document by filename.
func (f *ForecastStore) Delete(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !validDocumentName(name) {
		return ErrDocumentNotFound
	}
	err := os.Remove(filepath.Join(f.outputDir, name))
	if os.IsNotExist(err) {
		return ErrDocumentNotFound
	}
	return err
}

// findExisting scans the output dir for a document whose original filename
// normalizes to the same base name (extension stripped, case-insensitive).
func (f *ForecastStore) findExisting(originalFilename string) string {
	names, err := f.documentNames()
	if err != nil {
		slog.Warn("scanning forecast dir failed", "err", err)
		return ""
	}
	want := baseName(originalFilename)
	for _, name := range names {
		doc, err := f.read(name)
		if err != nil {
			slog.Warn("skipping unreadable forecast file", "file", name, "err", err)
			continue
		}
		if baseName(doc.OriginalFilename) == want {
			return filepath.Join(f.outputDir, name)
		}
	}
	return ""
}

func (f *ForecastStore) documentNames() ([]string, error) {
	entries, err := os.ReadDir(f.outputDir)
	if err != nil {
		return nil, fmt.Errorf("read forecast dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

func (f *ForecastStore) read(name string) (domain.ForecastDocument, error) {
	data, err := os.ReadFile(filepath.Join(f.outputDir, name))
	if err != nil {
		return domain.ForecastDocument{}, err
	}
	var doc domain.ForecastDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return domain.ForecastDocument{}, fmt.Errorf("decode %s: %w", name, err)
	}
	return doc, nil
}

func (f *ForecastStore) mirrorBackup(key string, data []byte) {
	if f.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := f.mirror.Put(ctx, key, data, "text/plain; charset=utf-8"); err != nil {
		slog.Warn("backup mirror upload failed", "key", key, "err", err)
	}
}

// baseName strips the directory and extension and lower-cases the rest.
// It is the natural key deciding overwrite-vs-create on save.
func baseName(filename string) string {
	name := filepath.Base(strings.TrimSpace(filename))
	return strings.ToLower(strings.TrimSuffix(name, filepath.Ext(name)))
}

func validDocumentName(name string) bool {
	return name != "" && name == filepath.Base(name) && strings.HasSuffix(name, ".json")
}
