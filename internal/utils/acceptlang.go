package utils

import (
	"sort"
	"strconv"
	"strings"
)

// DetermineLocale picks the response locale. An explicit query value wins,
// then the highest-weighted supported Accept-Language entry, then def.
// Regional tags fall back to their base language ("hi-IN" -> "hi").
func DetermineLocale(queryLang, acceptLang string, supported []string, def string) string {
	known := make(map[string]bool, len(supported))
	for _, s := range supported {
		known[strings.ToLower(s)] = true
	}
	match := func(tag string) (string, bool) {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			return "", false
		}
		if known[tag] {
			return tag, true
		}
		if base, _, ok := strings.Cut(tag, "-"); ok && known[base] {
			return base, true
		}
		return "", false
	}

	if l, ok := match(queryLang); ok {
		return l
	}
	if l, ok := bestAccepted(acceptLang, match); ok {
		return l
	}
	if l, ok := match(def); ok {
		return l
	}
	if len(supported) > 0 {
		return strings.ToLower(supported[0])
	}
	return "en"
}

type weightedTag struct {
	tag    string
	weight float64
}

// bestAccepted parses an Accept-Language header and returns the supported
// tag with the highest q-value. Ties keep header order; q=0 is excluded.
func bestAccepted(header string, match func(string) (string, bool)) (string, bool) {
	var tags []weightedTag
	for _, part := range strings.Split(header, ",") {
		tag, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		weight := 1.0
		if k, v, ok := strings.Cut(strings.TrimSpace(params), "="); ok && strings.TrimSpace(k) == "q" {
			q, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				continue
			}
			weight = q
		}
		if weight <= 0 {
			continue
		}
		if l, ok := match(tag); ok {
			tags = append(tags, weightedTag{tag: l, weight: weight})
		}
	}
	if len(tags) == 0 {
		return "", false
	}
	sort.SliceStable(tags, func(i, j int) bool { return tags[i].weight > tags[j].weight })
	return tags[0].tag, true
}
