package report

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// numericWrapper matches reprs such as np.float64(0.5) or float(1).
var numericWrapper = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*\((.*)\)$`)

// parsePyDict parses a Python dict literal mapping quoted names to numbers,
// e.g. {'accuracy': 0.91, "f1": np.float64(0.88)}. Keys keep their order of
// first appearance; a repeated key updates the earlier value.
func parsePyDict(s string) (Reward, error) {
	p := &pyScanner{src: s}
	p.skipSpace()
	if !p.consume('{') {
		return nil, errors.New("expected '{'")
	}
	out := Reward{}
	index := map[string]int{}
	for {
		p.skipSpace()
		if p.consume('}') {
			break
		}
		key, err := p.readString()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if !p.consume(':') {
			return nil, fmt.Errorf("expected ':' after key %q", key)
		}
		tok, err := p.readValueToken()
		if err != nil {
			return nil, fmt.Errorf("value for %q: %w", key, err)
		}
		val, err := parsePyNumber(tok)
		if err != nil {
			return nil, fmt.Errorf("value for %q: %w", key, err)
		}
		if i, ok := index[key]; ok {
			out[i].Value = val
		} else {
			index[key] = len(out)
			out = append(out, Metric{Name: key, Value: val})
		}
		p.skipSpace()
		if p.consume(',') {
			continue
		}
		if p.consume('}') {
			break
		}
		return nil, fmt.Errorf("expected ',' or '}' at offset %d", p.pos)
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, fmt.Errorf("trailing data after mapping at offset %d", p.pos)
	}
	return out, nil
}

func parsePyNumber(tok string) (float64, error) {
	tok = strings.TrimSpace(tok)
	for {
		m := numericWrapper.FindStringSubmatch(tok)
		if m == nil {
			break
		}
		tok = strings.TrimSpace(m[1])
	}
	tok = strings.Trim(tok, `'"`)
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", tok)
	}
	return v, nil
}

type pyScanner struct {
	src string
	pos int
}

func (p *pyScanner) skipSpace() {
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *pyScanner) consume(c byte) bool {
	if p.pos < len(p.src) && p.src[p.pos] == c {
		p.pos++
		return true
	}
	return false
}

func (p *pyScanner) readString() (string, error) {
	if p.pos >= len(p.src) {
		return "", errors.New("unexpected end of input, expected a quoted key")
	}
	quote := p.src[p.pos]
	if quote != '\'' && quote != '"' {
		return "", fmt.Errorf("expected quoted key at offset %d", p.pos)
	}
	p.pos++
	var b strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == '\\' && p.pos+1 < len(p.src):
			b.WriteByte(p.src[p.pos+1])
			p.pos += 2
		case c == quote:
			p.pos++
			return b.String(), nil
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
	return "", errors.New("unterminated key string")
}

// readValueToken returns the raw text up to the next top-level ',' or '}'.
func (p *pyScanner) readValueToken() (string, error) {
	start := p.pos
	depth := 0
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case ',', '}':
			if depth == 0 {
				tok := strings.TrimSpace(p.src[start:p.pos])
				if tok == "" {
					return "", errors.New("missing value")
				}
				return tok, nil
			}
		}
		p.pos++
	}
	return "", errors.New("unexpected end of input inside value")
}
