// Package keyword turns a consolidated part's fields into a short vendor
// search phrase, using a generative-text API when configured and a
// deterministic field concatenation otherwise. Synthesis never fails: every
// error path degrades to the fallback phrase.
package keyword

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/charlesh97/bomhelper/internal/bom"
)

var titleCaser = cases.Title(language.English)

// Source produces search phrases for parts. GenerateBatch is keyed by the
// part's consolidated index.
type Source interface {
	Generate(ctx context.Context, part *bom.ConsolidatedPart) string
	GenerateBatch(ctx context.Context, parts []*bom.ConsolidatedPart) map[int]string
}

// Synthesizer calls a Gemini-style generateContent endpoint. A zero-valued
// endpoint disables remote synthesis entirely.
type Synthesizer struct {
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
	log        *zap.Logger
}

func NewSynthesizer(endpoint, apiKey, model string, logger *zap.Logger) *Synthesizer {
	if model == "" {
		model = "gemini-pro"
	}
	return &Synthesizer{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        logger,
	}
}

// Fallback builds the deterministic phrase from value, package and
// description. This is also the shape remote synthesis is prompted toward.
func Fallback(part *bom.ConsolidatedPart) string {
	fields := []string{part.Field("value"), part.Field("package"), part.Field("description")}
	kept := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			kept = append(kept, f)
		}
	}
	return strings.Join(kept, " ")
}

var packageCodeRe = regexp.MustCompile(`\d{4}`)

// partContext flattens a part's fields into prompt text, tagging any 4-digit
// package code found in footprint-like fields so the model keeps it.
func partContext(part *bom.ConsolidatedPart) string {
	keys := make([]string, 0, len(part.Fields))
	for k := range part.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var pieces []string
	for _, k := range keys {
		v := part.Fields[k]
		if v == "" {
			continue
		}
		label := titleCaser.String(strings.ReplaceAll(k, "_", " "))
		if k == "package" || k == "footprint" {
			if code := packageCodeRe.FindString(v); code != "" {
				pieces = append(pieces, fmt.Sprintf("%s: %s [PACKAGE_SIZE: %s]", label, v, code))
				continue
			}
		}
		pieces = append(pieces, fmt.Sprintf("%s: %s", label, v))
	}
	if refdes := part.RefDesJoined(); refdes != "" {
		pieces = append(pieces, "Refdes: "+refdes)
	}
	return strings.Join(pieces, ", ")
}

const promptRules = `Rules:
1. Extract the package size from footprint/package fields (0402, 0603, 0805, 1206, ...). If you see [PACKAGE_SIZE: XXXX], use that exact value.
2. Use the component value (e.g. "0.1uF", "10k", "499k").
3. Identify the component type from the description or reference designator.
4. Format as "[value] [type] [package]", e.g. "0.1uF capacitor 0402".
5. If there is a manufacturer part number, start with that and add the package.
6. Keep it under 40 characters.
7. Ignore library paths, symbols and other non-essential text.`

// Generate produces a phrase for one part, falling back deterministically.
func (s *Synthesizer) Generate(ctx context.Context, part *bom.ConsolidatedPart) string {
	if s.endpoint == "" || s.apiKey == "" {
		return Fallback(part)
	}

	prompt := fmt.Sprintf(`Create a concise vendor search phrase for this electronic component.
Component Data: %s

%s
Return ONLY the search phrase, no quotes or extra text.`, partContext(part), promptRules)

	text, err := s.generateContent(ctx, prompt)
	if err != nil {
		s.log.Error("Keyword synthesis failed, using fallback",
			zap.Int("part_index", part.Index), zap.Error(err))
		return Fallback(part)
	}
	term := strings.Trim(strings.TrimSpace(text), `"'`)
	if term == "" {
		return Fallback(part)
	}
	s.log.Info("Synthesized search term",
		zap.Int("part_index", part.Index), zap.String("term", term))
	return term
}

// GenerateBatch produces phrases for many parts in one call, keyed by
// consolidated index. Parts missing from the model's answer, and the whole
// batch on any error, fall back per part.
func (s *Synthesizer) GenerateBatch(ctx context.Context, parts []*bom.ConsolidatedPart) map[int]string {
	out := make(map[int]string, len(parts))
	if s.endpoint == "" || s.apiKey == "" {
		for _, p := range parts {
			out[p.Index] = Fallback(p)
		}
		return out
	}

	var listing []string
	for _, p := range parts {
		listing = append(listing, fmt.Sprintf("Component (Key: part_%d): %s", p.Index, partContext(p)))
	}
	prompt := fmt.Sprintf(`Create a concise vendor search phrase for each of these electronic components.
Return ONLY a JSON object mapping each component key to its phrase, like {"part_0": "10k resistor 0603"}.

%s

%s`, strings.Join(listing, "\n\n"), promptRules)

	text, err := s.generateContent(ctx, prompt)
	if err != nil {
		s.log.Error("Batch keyword synthesis failed, using fallback for all parts", zap.Error(err))
		for _, p := range parts {
			out[p.Index] = Fallback(p)
		}
		return out
	}

	parsed := map[string]string{}
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &parsed); err != nil {
		s.log.Error("Batch keyword response is not valid JSON, using fallback", zap.Error(err))
		for _, p := range parts {
			out[p.Index] = Fallback(p)
		}
		return out
	}

	for _, p := range parts {
		term := strings.TrimSpace(parsed[fmt.Sprintf("part_%d", p.Index)])
		if term == "" {
			term = Fallback(p)
		}
		out[p.Index] = term
	}
	return out
}

// stripCodeFence removes a surrounding markdown code block if present.
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimPrefix(text, "json")
	if i := strings.LastIndex(text, "```"); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}

// generateContent wire types

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []textPart `json:"parts"`
}

type textPart struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func (s *Synthesizer) generateContent(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []textPart{{Text: prompt}}}},
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", s.endpoint, s.model, s.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("synthesis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("synthesis endpoint returned status %d", resp.StatusCode)
	}

	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("response has no candidates")
	}
	return decoded.Candidates[0].Content.Parts[0].Text, nil
}
