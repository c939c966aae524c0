// Package codegen produces unique coupon codes from a pattern template.
//
// A pattern mixes literal characters from [A-Z0-9_-] with placeholder
// tokens written in braces, e.g. "SUMMER-{XXXX}-{99}". Inside braces
// each X expands to a random letter A-Z, each 9 to a random digit and
// each * to a random alphanumeric. Randomness comes from crypto/rand;
// predictable codes would let an attacker guess unissued ones.
package codegen

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var (
	// ErrInvalidPattern is returned when a pattern violates the grammar.
	ErrInvalidPattern = errors.New("invalid code pattern")

	// ErrCountTooLarge is returned when the requested count exceeds 80%
	// of the pattern's combinatorial capacity.
	ErrCountTooLarge = errors.New("count exceeds pattern capacity")

	// ErrExhausted is returned when the draw budget runs out before
	// enough unique codes are collected.
	ErrExhausted = errors.New("pattern exhausted")
)

const (
	alphabetLetters  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	alphabetDigits   = "0123456789"
	alphabetAlphanum = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// drawFactor bounds the collision-retry budget at drawFactor*count.
	drawFactor = 10
)

// segment is one parsed piece of a pattern: either a literal run or a
// placeholder run whose every character draws from alphabet.
type segment struct {
	literal  string
	alphabet string
	length   int
}

// Pattern is a parsed, validated code template.
type Pattern struct {
	raw      string
	segments []segment
}

// Parse validates pattern against the grammar and returns its parsed
// form. A valid pattern contains at least one placeholder token and
// only [A-Z0-9_-] literals. Placeholder symbols are case-insensitive.
func Parse(pattern string) (*Pattern, error) {
	if pattern == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPattern)
	}

	p := &Pattern{raw: pattern}
	var literal strings.Builder

	for i := 0; i < len(pattern); i++ {
		ch := pattern[i]
		if ch != '{' {
			if ch == '}' {
				return nil, fmt.Errorf("%w: unmatched '}' at position %d", ErrInvalidPattern, i)
			}
			if !isLiteralChar(ch) {
				return nil, fmt.Errorf("%w: character %q not allowed", ErrInvalidPattern, ch)
			}
			literal.WriteByte(ch)
			continue
		}

		if literal.Len() > 0 {
			p.segments = append(p.segments, segment{literal: literal.String()})
			literal.Reset()
		}

		end := strings.IndexByte(pattern[i:], '}')
		if end < 0 {
			return nil, fmt.Errorf("%w: unterminated placeholder at position %d", ErrInvalidPattern, i)
		}
		body := pattern[i+1 : i+end]
		if body == "" {
			return nil, fmt.Errorf("%w: empty placeholder at position %d", ErrInvalidPattern, i)
		}
		for j := 0; j < len(body); j++ {
			alphabet, err := placeholderAlphabet(body[j])
			if err != nil {
				return nil, err
			}
			p.segments = append(p.segments, segment{alphabet: alphabet, length: 1})
		}
		i += end
	}
	if literal.Len() > 0 {
		p.segments = append(p.segments, segment{literal: literal.String()})
	}

	if !p.hasPlaceholder() {
		return nil, fmt.Errorf("%w: no placeholder token", ErrInvalidPattern)
	}
	return p, nil
}

func isLiteralChar(ch byte) bool {
	return (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') || ch == '-' || ch == '_'
}

func placeholderAlphabet(sym byte) (string, error) {
	switch sym {
	case 'X', 'x':
		return alphabetLetters, nil
	case '9':
		return alphabetDigits, nil
	case '*':
		return alphabetAlphanum, nil
	default:
		return "", fmt.Errorf("%w: placeholder symbol %q not allowed", ErrInvalidPattern, sym)
	}
}

func (p *Pattern) hasPlaceholder() bool {
	for _, s := range p.segments {
		if s.alphabet != "" {
			return true
		}
	}
	return false
}

// String returns the original pattern text.
func (p *Pattern) String() string { return p.raw }

// MaxUniqueCodes returns the exact number of distinct codes the
// pattern can produce: the product of each placeholder character's
// alphabet size. big.Int because 36^32 dwarfs uint64.
func (p *Pattern) MaxUniqueCodes() *big.Int {
	total := big.NewInt(1)
	for _, s := range p.segments {
		if s.alphabet != "" {
			total.Mul(total, big.NewInt(int64(len(s.alphabet))))
		}
	}
	return total
}

// ValidateCount checks that count unique codes can realistically be
// drawn: count must be positive and at most 80% of MaxUniqueCodes,
// keeping the collision retry loop cheap.
func (p *Pattern) ValidateCount(count int) error {
	if count <= 0 {
		return fmt.Errorf("%w: count must be positive", ErrCountTooLarge)
	}
	// count <= 0.80 * max  <=>  5*count <= 4*max, exactly, in integers.
	lhs := new(big.Int).Mul(big.NewInt(5), big.NewInt(int64(count)))
	rhs := new(big.Int).Mul(big.NewInt(4), p.MaxUniqueCodes())
	if lhs.Cmp(rhs) > 0 {
		return fmt.Errorf("%w: %d requested, capacity %s", ErrCountTooLarge, count, p.MaxUniqueCodes())
	}
	return nil
}

// Draw produces one random code from the pattern.
func (p *Pattern) Draw() (string, error) {
	var b strings.Builder
	for _, s := range p.segments {
		if s.alphabet == "" {
			b.WriteString(s.literal)
			continue
		}
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(s.alphabet))))
		if err != nil {
			return "", fmt.Errorf("draw random index: %w", err)
		}
		b.WriteByte(s.alphabet[n.Int64()])
	}
	return b.String(), nil
}

// Generate returns count distinct codes drawn from the pattern.
// Collisions are discarded; if the unique set cannot reach count
// within drawFactor*count draws, ErrExhausted is returned. Generate
// runs ValidateCount itself before drawing.
func (p *Pattern) Generate(count int) ([]string, error) {
	if err := p.ValidateCount(count); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, count)
	codes := make([]string, 0, count)
	for draws := 0; draws < drawFactor*count; draws++ {
		code, err := p.Draw()
		if err != nil {
			return nil, err
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
		if len(codes) == count {
			return codes, nil
		}
	}
	return nil, fmt.Errorf("%w: produced %d of %d codes", ErrExhausted, len(codes), count)
}
