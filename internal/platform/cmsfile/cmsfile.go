// Package cmsfile reads the fixed-width ICD-10-CM order file published by CMS
// (icd10cm_order_YYYY.txt).
package cmsfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Column layout of the order file, zero-indexed.
const (
	orderStart = 0
	orderEnd   = 5
	codeStart  = 6
	codeEnd    = 13
	flagPos    = 14
	shortStart = 16
	shortEnd   = 76
	longStart  = 77
)

// Record is one line of the order file.
type Record struct {
	Order            int
	Code             string
	Billable         bool
	ShortDescription string
	LongDescription  string
}

// ReadFile parses the order file at path.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads order-file lines from r. Blank lines are skipped.
func Parse(r io.Reader) ([]Record, error) {
	var records []Record
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read order file: %w", err)
	}
	return records, nil
}

func parseLine(line string) (Record, error) {
	if len(line) <= longStart {
		return Record{}, fmt.Errorf("line too short (%d chars)", len(line))
	}

	order, err := strconv.Atoi(strings.TrimSpace(line[orderStart:orderEnd]))
	if err != nil {
		return Record{}, fmt.Errorf("invalid order number %q", line[orderStart:orderEnd])
	}

	code := strings.TrimSpace(line[codeStart:codeEnd])
	if code == "" {
		return Record{}, fmt.Errorf("missing code")
	}

	var billable bool
	switch line[flagPos] {
	case '1':
		billable = true
	case '0':
	default:
		return Record{}, fmt.Errorf("invalid header flag %q", line[flagPos])
	}

	return Record{
		Order:            order,
		Code:             code,
		Billable:         billable,
		ShortDescription: strings.TrimSpace(line[shortStart:shortEnd]),
		LongDescription:  strings.TrimSpace(line[longStart:]),
	}, nil
}
