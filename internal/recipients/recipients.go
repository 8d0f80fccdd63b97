// Package recipients imports campaign recipient lists from CSV or plain
// one-per-line text.
package recipients

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// DefaultMaxRows limits how many recipients are imported when no limit is given
const DefaultMaxRows = 1000

// headerAliases are the accepted (case-insensitive) names of the number column
var headerAliases = []string{"phone", "number", "recipient", "msisdn"}

// ErrNoRecipients is returned when the input contains no usable rows
var ErrNoRecipients = errors.New("no recipients found")

// Parse reads recipients from r. A CSV header containing one of the number
// column aliases selects that column; otherwise every non-blank line is a
// recipient. Blank and malformed rows are skipped.
func Parse(r io.Reader, maxRows int) ([]string, error) {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read recipients: %w", err)
	}

	first, _, _ := strings.Cut(string(data), "\n")
	if idx := headerIndex(first); idx >= 0 {
		return parseCSV(bytes.NewReader(data), idx, maxRows)
	}
	return parseLines(bytes.NewReader(data), maxRows)
}

// LoadFile reads recipients from the file at path
func LoadFile(path string, maxRows int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recipients file: %w", err)
	}
	defer f.Close()

	return Parse(f, maxRows)
}

func headerIndex(line string) int {
	reader := csv.NewReader(strings.NewReader(line))
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err != nil {
		return -1
	}
	for i, h := range headers {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		for _, alias := range headerAliases {
			if strings.EqualFold(h, alias) {
				return i
			}
		}
	}
	return -1
}

func parseCSV(r io.Reader, column, maxRows int) ([]string, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	out := make([]string, 0)
	for len(out) < maxRows {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv row: %w", err)
		}
		if len(record) != len(headers) {
			// skip malformed row
			continue
		}

		value := strings.TrimSpace(record[column])
		if value == "" {
			continue
		}
		out = append(out, value)
	}

	if len(out) == 0 {
		return nil, ErrNoRecipients
	}
	return out, nil
}

func parseLines(r io.Reader, maxRows int) ([]string, error) {
	scanner := bufio.NewScanner(r)

	out := make([]string, 0)
	for scanner.Scan() && len(out) < maxRows {
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read recipients: %w", err)
	}

	if len(out) == 0 {
		return nil, ErrNoRecipients
	}
	return out, nil
}
