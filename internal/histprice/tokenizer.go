package histprice

import (
	"fmt"
	"strconv"
	"unicode/utf16"
	"unicode/utf8"
)

// tokenKind enumerates the JSON tokens the decoder reacts to.
type tokenKind int

const (
	tokStartObject tokenKind = iota
	tokEndObject
	tokStartArray
	tokEndArray
	tokPropertyName
	tokString
	tokNumber
	tokNull
	tokBool
)

type token struct {
	kind tokenKind
	str  string // property name or string value

	// number payload; isInt is true when the literal had no fraction or
	// exponent, so int-valued fields (timestamps, volumes) don't lose
	// precision
	f     float64
	i     int64
	isInt bool
}

// tokenizer scans complete JSON tokens out of a byte buffer. Its state (the
// container stack and the key/value position inside the current object)
// survives chunk boundaries; the bytes of a token that spans a boundary do
// not, and are re-scanned when the caller re-presents them with the next
// chunk prepended.
type tokenizer struct {
	stack     []byte // '{' and '[' nesting
	expectKey bool   // next string in the current object is a property name
}

// next scans one token from buf starting at pos.
//
// ok=false with err=nil means no complete token remains; newPos is then the
// start of the unconsumed tail the caller must carry over. final=true tells
// the tokenizer the stream is over, so a trailing number or literal is
// complete by definition.
func (tz *tokenizer) next(buf []byte, pos int, final bool) (tok token, newPos int, ok bool, err error) {
	for pos < len(buf) {
		c := buf[pos]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			pos++
		case c == ',':
			if tz.inObject() {
				tz.expectKey = true
			}
			pos++
		case c == ':':
			tz.expectKey = false
			pos++
		case c == '{':
			tz.stack = append(tz.stack, '{')
			tz.expectKey = true
			return token{kind: tokStartObject}, pos + 1, true, nil
		case c == '}':
			tz.pop()
			tz.expectKey = false
			return token{kind: tokEndObject}, pos + 1, true, nil
		case c == '[':
			tz.stack = append(tz.stack, '[')
			tz.expectKey = false
			return token{kind: tokStartArray}, pos + 1, true, nil
		case c == ']':
			tz.pop()
			return token{kind: tokEndArray}, pos + 1, true, nil
		case c == '"':
			s, end, complete, serr := scanString(buf, pos)
			if serr != nil {
				return token{}, pos, false, serr
			}
			if !complete {
				return token{}, pos, false, nil
			}
			kind := tokString
			if tz.expectKey && tz.inObject() {
				kind = tokPropertyName
			}
			return token{kind: kind, str: s}, end, true, nil
		case c == 'n' || c == 't' || c == 'f':
			return tz.scanLiteral(buf, pos, final)
		case c == '-' || (c >= '0' && c <= '9'):
			return tz.scanNumber(buf, pos, final)
		default:
			return token{}, pos, false, fmt.Errorf("histprice: unexpected byte %q at offset %d", c, pos)
		}
	}
	return token{}, pos, false, nil
}

func (tz *tokenizer) inObject() bool {
	return len(tz.stack) > 0 && tz.stack[len(tz.stack)-1] == '{'
}

func (tz *tokenizer) pop() {
	if len(tz.stack) > 0 {
		tz.stack = tz.stack[:len(tz.stack)-1]
	}
}

var literals = map[byte]string{'n': "null", 't': "true", 'f': "false"}

func (tz *tokenizer) scanLiteral(buf []byte, pos int, final bool) (token, int, bool, error) {
	want := literals[buf[pos]]
	if pos+len(want) > len(buf) {
		if final {
			return token{}, pos, false, fmt.Errorf("histprice: truncated literal at offset %d", pos)
		}
		return token{}, pos, false, nil
	}
	if string(buf[pos:pos+len(want)]) != want {
		return token{}, pos, false, fmt.Errorf("histprice: malformed literal at offset %d", pos)
	}
	switch want {
	case "null":
		return token{kind: tokNull}, pos + len(want), true, nil
	default:
		return token{kind: tokBool}, pos + len(want), true, nil
	}
}

func (tz *tokenizer) scanNumber(buf []byte, pos int, final bool) (token, int, bool, error) {
	end := pos
	isInt := true
	for end < len(buf) {
		c := buf[end]
		if c >= '0' && c <= '9' || c == '-' || c == '+' {
			end++
			continue
		}
		if c == '.' || c == 'e' || c == 'E' {
			isInt = false
			end++
			continue
		}
		break
	}
	if end == len(buf) && !final {
		// The number may continue in the next chunk.
		return token{}, pos, false, nil
	}
	lit := string(buf[pos:end])
	if isInt {
		i, err := strconv.ParseInt(lit, 10, 64)
		if err != nil {
			return token{}, pos, false, fmt.Errorf("histprice: bad number %q: %w", lit, err)
		}
		return token{kind: tokNumber, i: i, f: float64(i), isInt: true}, end, true, nil
	}
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return token{}, pos, false, fmt.Errorf("histprice: bad number %q: %w", lit, err)
	}
	return token{kind: tokNumber, f: f, i: int64(f)}, end, true, nil
}

// scanString scans a JSON string starting at the opening quote. complete is
// false when the closing quote is not inside buf.
func scanString(buf []byte, pos int) (s string, end int, complete bool, err error) {
	i := pos + 1
	hasEscape := false
	for i < len(buf) {
		switch buf[i] {
		case '\\':
			hasEscape = true
			i += 2
		case '"':
			raw := buf[pos+1 : i]
			if !hasEscape {
				return string(raw), i + 1, true, nil
			}
			dec, uerr := unescapeString(raw)
			if uerr != nil {
				return "", pos, false, uerr
			}
			return dec, i + 1, true, nil
		default:
			i++
		}
	}
	return "", pos, false, nil
}

func unescapeString(raw []byte) (string, error) {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c != '\\' {
			out = append(out, c)
			continue
		}
		i++
		if i >= len(raw) {
			return "", fmt.Errorf("histprice: dangling escape in string")
		}
		switch raw[i] {
		case '"', '\\', '/':
			out = append(out, raw[i])
		case 'b':
			out = append(out, '\b')
		case 'f':
			out = append(out, '\f')
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		case 't':
			out = append(out, '\t')
		case 'u':
			if i+4 >= len(raw) {
				return "", fmt.Errorf("histprice: truncated unicode escape")
			}
			v, err := strconv.ParseUint(string(raw[i+1:i+5]), 16, 32)
			if err != nil {
				return "", fmt.Errorf("histprice: bad unicode escape: %w", err)
			}
			i += 4
			r := rune(v)
			if utf16.IsSurrogate(r) && i+6 < len(raw) && raw[i+1] == '\\' && raw[i+2] == 'u' {
				v2, err := strconv.ParseUint(string(raw[i+3:i+7]), 16, 32)
				if err == nil {
					if dec := utf16.DecodeRune(r, rune(v2)); dec != utf8.RuneError {
						r = dec
						i += 6
					}
				}
			}
			out = utf8.AppendRune(out, r)
		default:
			return "", fmt.Errorf("histprice: unknown escape \\%c", raw[i])
		}
	}
	return string(out), nil
}
