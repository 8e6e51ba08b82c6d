package bom

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
)

// ConsolidatedPart is one logical unique part aggregated from the rows that
// share a grouping key. Identity is the position in the consolidated
// sequence, so user edits to field values never invalidate it.
type ConsolidatedPart struct {
	Index    int               `json:"index"`
	Key      string            `json:"key"`
	Quantity int               `json:"quantity"`
	RefDes   []string          `json:"refdes"`
	Fields   map[string]string `json:"fields"`
}

// canonical fields every consolidated part carries, present even when empty
var canonicalFields = []string{"mpn", "value", "package", "voltage", "tolerance", "power", "description"}

// RefDesJoined returns the designators comma-joined for display and export.
func (p *ConsolidatedPart) RefDesJoined() string {
	return strings.Join(p.RefDes, ", ")
}

// Field returns a field value by normalized name. The aggregated refdes and
// quantity are addressable the same way as the copied scalar columns.
func (p *ConsolidatedPart) Field(name string) string {
	switch name {
	case "refdes":
		return p.RefDesJoined()
	case "quantity":
		return strconv.Itoa(p.Quantity)
	default:
		return p.Fields[name]
	}
}

// SetField edits a scalar field in place. Quantity edits must parse as an
// integer; refdes edits replace the whole aggregated list.
func (p *ConsolidatedPart) SetField(name, value string) error {
	switch name {
	case "quantity":
		qty, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("quantity must be an integer: %q", value)
		}
		p.Quantity = qty
	case "refdes":
		p.RefDes = splitRefDes(value)
	default:
		p.Fields[name] = value
	}
	return nil
}

func splitRefDes(value string) []string {
	fields := strings.Split(value, ",")
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// GroupKey derives the grouping key for a raw row. Priority: exact MPN, then
// value+package, then value alone, then a hash over all sorted field pairs so
// every row lands in exactly one group.
func GroupKey(row RawRow) string {
	mpn := strings.TrimSpace(row["mpn"])
	value := strings.TrimSpace(row["value"])
	pkg := strings.TrimSpace(row["package"])

	switch {
	case mpn != "":
		return "mpn:" + mpn
	case value != "" && pkg != "":
		return "value:" + value + "|package:" + pkg
	case value != "":
		return "value:" + value
	default:
		return fallbackKey(row)
	}
}

// fallbackKey hashes all (field, value) pairs in sorted field order with
// values trimmed, so incidental whitespace does not split a group.
func fallbackKey(row RawRow) string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := fnv.New64a()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(strings.TrimSpace(row[k])))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("hash:%016x", h.Sum64())
}

// Consolidate groups raw rows into unique parts. Groups keep first-seen
// order; designators are deduplicated in first-seen order; quantities sum
// with unparsable or missing values counted as 1. Scalar fields are filled
// from the first row in the group that supplies a non-empty value and are
// never overwritten.
func Consolidate(rows []RawRow) []*ConsolidatedPart {
	byKey := make(map[string]*ConsolidatedPart)
	seenRefDes := make(map[string]map[string]struct{})
	var order []*ConsolidatedPart

	for _, row := range rows {
		key := GroupKey(row)
		part, ok := byKey[key]
		if !ok {
			part = &ConsolidatedPart{
				Index:  len(order),
				Key:    key,
				Fields: make(map[string]string, len(row)),
			}
			for _, f := range canonicalFields {
				part.Fields[f] = ""
			}
			byKey[key] = part
			seenRefDes[key] = make(map[string]struct{})
			order = append(order, part)
		}

		if refdes := strings.TrimSpace(row["refdes"]); refdes != "" {
			if _, dup := seenRefDes[key][refdes]; !dup {
				seenRefDes[key][refdes] = struct{}{}
				part.RefDes = append(part.RefDes, refdes)
			}
		}

		part.Quantity += rowQuantity(row)

		for k, v := range row {
			if k == "refdes" || k == "quantity" {
				continue
			}
			if part.Fields[k] == "" && strings.TrimSpace(v) != "" {
				part.Fields[k] = strings.TrimSpace(v)
			} else if _, exists := part.Fields[k]; !exists {
				part.Fields[k] = ""
			}
		}
	}

	return order
}

// rowQuantity parses the row quantity, counting unparsable or missing as 1.
func rowQuantity(row RawRow) int {
	raw := strings.TrimSpace(row["quantity"])
	if raw == "" {
		return 1
	}
	qty, err := strconv.Atoi(raw)
	if err != nil {
		return 1
	}
	return qty
}
