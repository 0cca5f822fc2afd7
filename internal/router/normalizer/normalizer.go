// internal/router/normalizer/normalizer.go
package normalizer

import (
	"fmt"
	"regexp"
	"strings"

	stderrors "nlq-router/internal/common/errors"
	"nlq-router/internal/models"
)

// Normalizer cleans raw questions and extracts typed entities. It is a pure
// component: no I/O, deterministic output for the same input.
type Normalizer struct {
	maxQueryLength int
	maxTokens      int
}

func New(maxQueryLength, maxTokens int) *Normalizer {
	if maxQueryLength <= 0 {
		maxQueryLength = 2048
	}
	if maxTokens <= 0 {
		maxTokens = 256
	}
	return &Normalizer{
		maxQueryLength: maxQueryLength,
		maxTokens:      maxTokens,
	}
}

var tokenSplitter = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// Normalize produces the NormalizedQuery for a raw question. The only failure
// mode is input exceeding the configured maximum length.
func (n *Normalizer) Normalize(raw string) (*models.NormalizedQuery, error) {
	if len(raw) > n.maxQueryLength {
		return nil, stderrors.NewInputTooLargeError(len(raw), n.maxQueryLength)
	}

	lowered := strings.ToLower(strings.TrimSpace(raw))

	allTokens := tokenSplitter.Split(lowered, -1)
	tokens := make([]string, 0, len(allTokens))
	for _, tok := range allTokens {
		if tok == "" {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		tokens = append(tokens, tok)
	}
	if len(tokens) > n.maxTokens {
		tokens = tokens[:n.maxTokens]
	}

	cleaned := strings.Join(tokens, " ")

	nq := &models.NormalizedQuery{
		Original: raw,
		Cleaned:  cleaned,
		Tokens:   tokens,
		Language: "en",
	}
	nq.Entities = n.extractEntities(lowered, tokens)

	return nq, nil
}

// TruncateForService bounds text sent to the embedding/classifier adapters to
// the configured input-token budget.
func (n *Normalizer) TruncateForService(cleaned string) string {
	fields := strings.Fields(cleaned)
	if len(fields) <= n.maxTokens {
		return cleaned
	}
	return strings.Join(fields[:n.maxTokens], " ")
}

func (n *Normalizer) extractEntities(lowered string, tokens []string) []models.Entity {
	entities := make([]models.Entity, 0, 4)

	entities = append(entities, matchDictionary(lowered, tokens, brandDictionary, models.EntityBrand)...)
	entities = append(entities, matchDictionary(lowered, tokens, categoryDictionary, models.EntityCategory)...)
	entities = append(entities, matchDictionary(lowered, tokens, regionDictionary, models.EntityRegion)...)
	entities = append(entities, matchDictionary(lowered, tokens, metricDictionary, models.EntityMetric)...)

	if timeEnt, ok := parseTimeRange(lowered); ok {
		entities = append(entities, timeEnt)
	}

	return entities
}

// matchDictionary finds canonical entities by exact alias containment first,
// then by fuzzy token match (edit distance <= 2 on tokens of 4+ chars).
func matchDictionary(lowered string, tokens []string, dict map[string][]string, etype models.EntityType) []models.Entity {
	type match struct {
		entity models.Entity
		pos    int
	}
	found := make([]match, 0, 2)
	seen := make(map[string]struct{})

	for canonical, aliases := range dict {
		for _, alias := range aliases {
			if pos := wordIndex(lowered, alias); pos >= 0 {
				if _, dup := seen[canonical]; !dup {
					seen[canonical] = struct{}{}
					found = append(found, match{
						entity: models.Entity{
							Type:       etype,
							Value:      canonical,
							Confidence: 1.0,
							Aliases:    aliases,
						},
						pos: pos,
					})
				}
				break
			}
		}
	}

	// Fuzzy pass on remaining dictionary entries, one token at a time.
	for canonical, aliases := range dict {
		if _, dup := seen[canonical]; dup {
			continue
		}
		for _, tok := range tokens {
			if len(tok) < 4 {
				continue
			}
			for _, alias := range aliases {
				if strings.ContainsRune(alias, ' ') {
					continue
				}
				dist := levenshtein(tok, alias)
				if dist > 0 && dist <= 2 && len(alias) >= 4 {
					seen[canonical] = struct{}{}
					found = append(found, match{
						entity: models.Entity{
							Type:       etype,
							Value:      canonical,
							Confidence: 1.0 - float64(dist)*0.2,
							Aliases:    aliases,
						},
						pos: strings.Index(lowered, tok),
					})
					break
				}
			}
			if _, dup := seen[canonical]; dup {
				break
			}
		}
	}

	// Mention order decides which entity claims a spec slot downstream, so
	// the sort key is position in the question, with the value as a
	// deterministic tie-break (dictionary iteration order is random).
	for i := 1; i < len(found); i++ {
		for j := i; j > 0 && (found[j].pos < found[j-1].pos ||
			(found[j].pos == found[j-1].pos && found[j].entity.Value < found[j-1].entity.Value)); j-- {
			found[j], found[j-1] = found[j-1], found[j]
		}
	}
	out := make([]models.Entity, len(found))
	for i, m := range found {
		out[i] = m.entity
	}
	return out
}

// wordIndex locates an alias on word boundaries, to avoid matching inside
// longer tokens ("share" in "shareholder"). Returns -1 when absent.
func wordIndex(text, alias string) int {
	idx := 0
	for {
		pos := strings.Index(text[idx:], alias)
		if pos < 0 {
			return -1
		}
		start := idx + pos
		end := start + len(alias)
		beforeOK := start == 0 || !isWordChar(text[start-1])
		afterOK := end == len(text) || !isWordChar(text[end])
		if beforeOK && afterOK {
			return start
		}
		idx = start + 1
	}
}

func isWordChar(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}

var (
	lastNPattern  = regexp.MustCompile(`last (\d+) (day|week|month|year)s?`)
	thisPattern   = regexp.MustCompile(`this (day|week|month|quarter|year)`)
	ytdPattern    = regexp.MustCompile(`\bytd\b|year to date`)
	todayPattern  = regexp.MustCompile(`\btoday\b`)
	yesterdayPattern = regexp.MustCompile(`\byesterday\b`)
)

// parseTimeRange extracts a relative time-range entity. The value is a
// normalized token like "last_30_days" consumed by the spec generator.
func parseTimeRange(lowered string) (models.Entity, bool) {
	if m := lastNPattern.FindStringSubmatch(lowered); m != nil {
		return models.Entity{
			Type:       models.EntityTime,
			Value:      fmt.Sprintf("last_%s_%ss", m[1], m[2]),
			Confidence: 1.0,
		}, true
	}
	if m := thisPattern.FindStringSubmatch(lowered); m != nil {
		return models.Entity{
			Type:       models.EntityTime,
			Value:      "this_" + m[1],
			Confidence: 1.0,
		}, true
	}
	if ytdPattern.MatchString(lowered) {
		return models.Entity{Type: models.EntityTime, Value: "year_to_date", Confidence: 1.0}, true
	}
	if todayPattern.MatchString(lowered) {
		return models.Entity{Type: models.EntityTime, Value: "today", Confidence: 1.0}, true
	}
	if yesterdayPattern.MatchString(lowered) {
		return models.Entity{Type: models.EntityTime, Value: "yesterday", Confidence: 1.0}, true
	}
	return models.Entity{}, false
}

// levenshtein computes edit distance between two short tokens.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	la, lb := len(a), len(b)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}

	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}

	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
