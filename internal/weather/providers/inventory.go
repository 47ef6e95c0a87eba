package providers

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// inventoryItem is one record of a wgrib2 "short" inventory (.idx file):
//
//	71:41923424:d=2024030519:UGRD:10 m above ground:anl:
type inventoryItem struct {
	Record string
	Offset int64
	Line   string
}

// byteRange is an inclusive HTTP byte range; End < 0 means "to end of file".
type byteRange struct {
	Start int64
	End   int64
}

func (r byteRange) header() string {
	if r.End < 0 {
		return fmt.Sprintf("bytes=%d-", r.Start)
	}
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// parseInventory reads a .idx inventory. Sub-records ("12.1", "12.2") share
// the offset of their parent and are kept as separate lines.
func parseInventory(stream io.Reader) ([]inventoryItem, error) {
	var items []inventoryItem
	scanner := bufio.NewScanner(stream)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 6 {
			return nil, fmt.Errorf("inventory record has too few fields: %q", line)
		}
		offset, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("inventory record %s: bad offset: %w", fields[0], err)
		}
		items = append(items, inventoryItem{Record: fields[0], Offset: offset, Line: line})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, errors.New("inventory is empty")
	}
	return items, nil
}

// selectRanges returns the byte ranges of the records whose inventory line
// matches. A record extends to the next record with a larger offset.
func selectRanges(items []inventoryItem, match *regexp.Regexp) []byteRange {
	var ranges []byteRange
	for i, item := range items {
		if !match.MatchString(item.Line) {
			continue
		}
		end := int64(-1)
		for _, next := range items[i+1:] {
			if next.Offset > item.Offset {
				end = next.Offset - 1
				break
			}
		}
		r := byteRange{Start: item.Offset, End: end}
		if n := len(ranges); n > 0 && ranges[n-1].Start == r.Start {
			continue
		}
		ranges = append(ranges, r)
	}
	return ranges
}
