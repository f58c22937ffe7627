package report

import (
	"fmt"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// structuredCandidate returns the JSON document the script may have printed:
// either the whole output or its last non-empty line.
func structuredCandidate(stdout string) string {
	trimmed := strings.TrimSpace(stdout)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		return trimmed
	}
	lines := splitLines(trimmed)
	for i := len(lines) - 1; i >= 0; i-- {
		last := strings.TrimSpace(lines[i])
		if last == "" {
			continue
		}
		if strings.HasPrefix(last, "{") && strings.HasSuffix(last, "}") {
			return last
		}
		break
	}
	return ""
}

// parseStructured decodes the structured contract. ok is false when the
// output does not look like a structured result, in which case callers fall
// back to the text contract.
func parseStructured(stdout string) (res *Result, ok bool, err error) {
	doc := structuredCandidate(stdout)
	if doc == "" {
		return nil, false, nil
	}
	if jsonAPI.Get([]byte(doc), "best_column").ValueType() == jsoniter.InvalidValue {
		return nil, false, nil
	}

	res = &Result{Format: FormatJSON}
	var sawReward, sawRelations bool
	iter := jsoniter.ParseString(jsonAPI, doc)
	for field := iter.ReadObject(); field != ""; field = iter.ReadObject() {
		switch field {
		case "best_column":
			res.BestColumn = strings.TrimSpace(iter.ReadString())
		case "reward":
			sawReward = true
			res.Reward = readReward(iter)
		case "relations":
			sawRelations = true
			res.Relations = readRelations(iter)
		default:
			iter.Skip()
		}
		if iter.Error != nil {
			break
		}
	}
	if iter.Error != nil {
		return nil, true, &FormatError{Section: SectionJSON, Reason: "invalid document", Err: iter.Error}
	}
	switch {
	case res.BestColumn == "":
		return nil, true, &FormatError{Section: SectionBestColumn, Reason: "empty column name"}
	case !sawReward:
		return nil, true, missing(SectionReward)
	case !sawRelations:
		return nil, true, missing(SectionRelations)
	}
	for _, r := range res.Relations {
		if r.Degree < 0 {
			return nil, true, &FormatError{Section: SectionRelations, Reason: fmt.Sprintf("negative degree %d for %s", r.Degree, r.Label())}
		}
	}
	return res, true, nil
}

// readReward accepts an object {name: number} (order preserved) or an array
// of {"name": ..., "value": ...}.
func readReward(iter *jsoniter.Iterator) Reward {
	out := Reward{}
	switch iter.WhatIsNext() {
	case jsoniter.ObjectValue:
		for name := iter.ReadObject(); name != ""; name = iter.ReadObject() {
			out = append(out, Metric{Name: name, Value: readNumber(iter)})
		}
	case jsoniter.ArrayValue:
		for iter.ReadArray() {
			var m Metric
			for f := iter.ReadObject(); f != ""; f = iter.ReadObject() {
				switch f {
				case "name":
					m.Name = iter.ReadString()
				case "value":
					m.Value = readNumber(iter)
				default:
					iter.Skip()
				}
			}
			out = append(out, m)
		}
	default:
		iter.ReportError("reward", "expected object or array")
	}
	return out
}

func readRelations(iter *jsoniter.Iterator) []Relation {
	rels := []Relation{}
	if iter.WhatIsNext() != jsoniter.ArrayValue {
		iter.ReportError("relations", "expected array")
		return rels
	}
	for iter.ReadArray() {
		var r Relation
		for f := iter.ReadObject(); f != ""; f = iter.ReadObject() {
			switch f {
			case "source", "src":
				r.Source = strings.TrimSpace(iter.ReadString())
			case "destination", "dst":
				r.Destination = strings.TrimSpace(iter.ReadString())
			case "degree", "deg":
				r.Degree = iter.ReadInt()
			case "r_squared", "r2", "R²":
				r.RSquared = readNumber(iter)
			default:
				iter.Skip()
			}
		}
		rels = append(rels, r)
	}
	return rels
}

// readNumber reads a JSON number, or a string holding one ("nan", "inf").
func readNumber(iter *jsoniter.Iterator) float64 {
	switch iter.WhatIsNext() {
	case jsoniter.NumberValue:
		return iter.ReadFloat64()
	case jsoniter.StringValue:
		s := iter.ReadString()
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			iter.ReportError("number", fmt.Sprintf("not a number: %q", s))
		}
		return v
	default:
		iter.ReportError("number", "expected number")
		iter.Skip()
		return 0
	}
}
