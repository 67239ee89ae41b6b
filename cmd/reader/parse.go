package main

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseIDArg extracts a positive numeric ID from a command argument. A
// leading # is accepted, so ids can be pasted from list output.
func ParseIDArg(arg string) (int64, error) {
	s := strings.TrimSpace(arg)
	if s == "" {
		return 0, fmt.Errorf("id is required")
	}
	s = strings.TrimPrefix(strings.Fields(s)[0], "#")
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}
