package classify

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/attack-surface/asm/internal/call"
)

// ReadList reads (name, file) records, one per CSV row. The file column is
// optional; blank rows and rows starting with '#' are ignored.
func ReadList(r io.Reader) ([]call.Key, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.Comment = '#'
	reader.TrimLeadingSpace = true

	var keys []call.Key
	for line := 1; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read list: %w", err)
		}
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		k := call.Key{Name: strings.TrimSpace(row[0])}
		if len(row) > 1 {
			k.File = strings.TrimSpace(row[1])
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// ReadListFile reads a list from path. A missing or empty path yields no records.
func ReadListFile(path string) ([]call.Key, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open list: %w", err)
	}
	defer f.Close()

	keys, err := ReadList(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return keys, nil
}
