package config

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a launch file. Files ending in .csv use the legacy
// "name,command,working_directory" row format; anything else is YAML. Every
// failure wraps ErrConfigLoad.
func Load(path string) (*File, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve path: %w", ErrConfigLoad, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigLoad, err)
	}

	var doc *File
	if strings.EqualFold(filepath.Ext(absPath), ".csv") {
		doc, err = parseCSV(data)
	} else {
		doc, err = parseYAML(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConfigLoad, absPath, err)
	}
	if err := doc.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s:\n%w", ErrConfigLoad, absPath, err)
	}

	doc.Path = absPath
	base := filepath.Dir(absPath)
	for i := range doc.Entries {
		doc.Entries[i].Workdir = resolveWorkdir(base, os.ExpandEnv(doc.Entries[i].Workdir))
	}
	return doc, nil
}

func parseYAML(data []byte) (*File, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if raw == nil {
		return nil, errors.New("decode: empty document")
	}
	if err := validateAgainstSchema(raw); err != nil {
		return nil, err
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	var doc File
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &doc, nil
}

func parseCSV(data []byte) (*File, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = 3
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	var doc File
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		doc.Entries = append(doc.Entries, Entry{
			Name:    record[0],
			Command: record[1],
			Workdir: record[2],
		})
	}
	return &doc, nil
}

func resolveWorkdir(base, workdir string) string {
	if workdir == "" {
		return base
	}
	if filepath.IsAbs(workdir) {
		return filepath.Clean(workdir)
	}
	return filepath.Clean(filepath.Join(base, workdir))
}
