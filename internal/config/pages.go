package config

import (
	"fmt"
	"strconv"
	"strings"
)

// PageRange is an inclusive one-based range. End == -1 means "to the last page".
type PageRange struct {
	Start int
	End   int
}

// PageSelection is the parsed form of Config.Pages. A nil selection selects every page.
type PageSelection []PageRange

// ParsePages parses "1,3-5,-2,7-". An empty string returns a nil selection.
func ParsePages(s string) (PageSelection, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	var ranges PageSelection
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if i := strings.Index(part, "-"); i >= 0 {
			startStr, endStr := part[:i], part[i+1:]
			start, end := 1, -1
			var err error
			if startStr != "" {
				if start, err = strconv.Atoi(startStr); err != nil {
					return nil, fmt.Errorf("invalid page number format in range: %s", part)
				}
				if start < 1 {
					return nil, fmt.Errorf("invalid start page number: %s", startStr)
				}
			}
			if endStr != "" {
				if end, err = strconv.Atoi(endStr); err != nil {
					return nil, fmt.Errorf("invalid page number format in range: %s", part)
				}
				if end < 1 {
					return nil, fmt.Errorf("invalid end page number: %s", endStr)
				}
			}
			if end != -1 && start > end {
				return nil, fmt.Errorf("start page %d is greater than end page %d", start, end)
			}
			ranges = append(ranges, PageRange{Start: start, End: end})
			continue
		}

		page, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid page number format: %s", part)
		}
		if page < 1 {
			return nil, fmt.Errorf("invalid page number: %d", page)
		}
		ranges = append(ranges, PageRange{Start: page, End: page})
	}
	return ranges, nil
}

// Contains reports whether the zero-based page index is selected.
func (s PageSelection) Contains(index int) bool {
	if s == nil {
		return true
	}
	n := index + 1
	for _, r := range s {
		if n >= r.Start && (r.End == -1 || n <= r.End) {
			return true
		}
	}
	return false
}
