// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package hls

import (
	"strconv"
	"strings"
)

// Attributes is a parsed HLS attribute list (KEY=VALUE,KEY="quoted,value").
type Attributes map[string]string

// ParseAttributes splits an attribute list on commas that are outside quotes.
// Quoted values are returned without their quotes. Keys are upper-cased.
func ParseAttributes(list string) Attributes {
	attrs := make(Attributes)
	var (
		buf     strings.Builder
		inQuote bool
	)
	flush := func() {
		pair := strings.TrimSpace(buf.String())
		buf.Reset()
		if pair == "" {
			return
		}
		eq := strings.IndexByte(pair, '=')
		if eq <= 0 {
			return
		}
		key := strings.ToUpper(strings.TrimSpace(pair[:eq]))
		val := strings.TrimSpace(pair[eq+1:])
		if len(val) >= 2 && val[0] == '"' && val[len(val)-1] == '"' {
			val = val[1 : len(val)-1]
		}
		attrs[key] = val
	}

	for _, r := range list {
		switch {
		case r == '"':
			inQuote = !inQuote
			buf.WriteRune(r)
		case r == ',' && !inQuote:
			flush()
		default:
			buf.WriteRune(r)
		}
	}
	flush()
	return attrs
}

// Int returns the attribute parsed as an integer, or 0.
func (a Attributes) Int(key string) int64 {
	v, err := strconv.ParseInt(a[key], 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// Bool reports whether the attribute is the enumerated string YES.
func (a Attributes) Bool(key string) bool {
	return strings.EqualFold(a[key], "YES")
}

// Resolution parses a RESOLUTION=WxH attribute.
func (a Attributes) Resolution() (width, height int, ok bool) {
	raw := a["RESOLUTION"]
	x := strings.IndexAny(raw, "xX")
	if x <= 0 {
		return 0, 0, false
	}
	w, err1 := strconv.Atoi(raw[:x])
	h, err2 := strconv.Atoi(raw[x+1:])
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}
