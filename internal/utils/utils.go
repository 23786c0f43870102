package utils

import (
	"bytes"
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	UserMentionRegex  = regexp.MustCompile(`<@!?(\d+)>`)
	ItemKeyRegex      = regexp.MustCompile(`^([\w.\-]+):([\w.\-]+)$`)
	SettlementIDRegex = regexp.MustCompile(`^gstore:settlement:([0-9a-f-]{36})$`)
)

// ExtractMentionIDs extracts user IDs from Discord mention strings
func ExtractMentionIDs(content string) []string {
	var ids []string
	matches := UserMentionRegex.FindAllStringSubmatch(content, -1)
	for _, match := range matches {
		if len(match) > 1 {
			ids = append(ids, match[1])
		}
	}
	return ids
}

// ExtractSettlementID returns the settlement id carried by a receipt payload
func ExtractSettlementID(payload string) (string, bool) {
	match := SettlementIDRegex.FindStringSubmatch(strings.TrimSpace(payload))
	if len(match) > 1 {
		return match[1], true
	}
	return "", false
}

// DecodeLoose unmarshals JSON keeping numbers as json.Number so that the
// coercion helpers below see the original text
func DecodeLoose(raw []byte) (any, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// AsObject returns v as a JSON object, or nil
func AsObject(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// AsString returns strings as is and renders numbers; anything else is ""
func AsString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	}
	return ""
}

// AsFloat coerces JSON numbers and numeric strings. ok is false for
// anything else, including NaN and infinities.
func AsFloat(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = t
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// AsBool accepts true and "true"
func AsBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(strings.TrimSpace(t), "true")
	}
	return false
}

// PositiveQuantity coerces a quantity: values above zero are truncated
// with a floor of 1, everything else is rejected
func PositiveQuantity(v any) (int, bool) {
	f, ok := AsFloat(v)
	if !ok || f <= 0 {
		return 0, false
	}
	if f >= math.MaxInt32 {
		return math.MaxInt32, true
	}
	return max(1, int(math.Trunc(f))), true
}

// NonNegativeAmount coerces a copper amount, falling back to 0
func NonNegativeAmount(v any) int64 {
	f, ok := AsFloat(v)
	if !ok || f <= 0 {
		return 0
	}
	if f >= math.MaxInt64/2 {
		return math.MaxInt64 / 2
	}
	return int64(math.Round(f))
}
