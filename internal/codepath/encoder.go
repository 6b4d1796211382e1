package codepath

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"
)

// DefaultMaxTemplates bounds the number of learned route templates.
const DefaultMaxTemplates = 100

// EncoderStats describes the learned templates.
type EncoderStats struct {
	Templates         int `json:"templates"`
	MaxTemplates      int `json:"max_templates"`
	TrackedStructures int `json:"tracked_structures"`
}

// PreEncoder learns the top-level key set of each route's JSON object
// responses and encodes matching payloads without reflection.
type PreEncoder struct {
	mu           sync.Mutex
	maxTemplates int
	templates    map[string][]string
	fingerprints map[string]string
	order        []string
}

// NewPreEncoder returns an encoder holding at most maxTemplates templates.
func NewPreEncoder(maxTemplates int) *PreEncoder {
	if maxTemplates <= 0 {
		maxTemplates = DefaultMaxTemplates
	}
	return &PreEncoder{
		maxTemplates: maxTemplates,
		templates:    make(map[string][]string),
		fingerprints: make(map[string]string),
	}
}

// LearnStructure observes a payload for route. It reports whether the
// payload matches the previously seen structure. A structural change
// drops the template; the next matching payload rebuilds it.
func (e *PreEncoder) LearnStructure(route string, data map[string]any) bool {
	if data == nil {
		return false
	}
	fp := Fingerprint(data)

	e.mu.Lock()
	defer e.mu.Unlock()

	if prev, ok := e.fingerprints[route]; ok && prev != fp {
		e.fingerprints[route] = fp
		e.dropTemplateLocked(route)
		return false
	}
	e.fingerprints[route] = fp

	if _, ok := e.templates[route]; !ok {
		keys := make([]string, 0, len(data))
		for k := range data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		e.templates[route] = keys
		e.order = append(e.order, route)

		// Fingerprints outlive evicted templates so a returning route
		// rebuilds its template on the first consistent payload.
		for len(e.order) > e.maxTemplates {
			oldest := e.order[0]
			e.order = e.order[1:]
			delete(e.templates, oldest)
		}
	}
	return true
}

func (e *PreEncoder) dropTemplateLocked(route string) {
	if _, ok := e.templates[route]; !ok {
		return
	}
	delete(e.templates, route)
	if i := slices.Index(e.order, route); i >= 0 {
		e.order = slices.Delete(e.order, i, i+1)
	}
}

// HasTemplate reports whether route has a learned template.
func (e *PreEncoder) HasTemplate(route string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.templates[route]
	return ok
}

// Forget removes route's template and fingerprint.
func (e *PreEncoder) Forget(route string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dropTemplateLocked(route)
	delete(e.fingerprints, route)
}

// FastEncode encodes data using route's template keys. Keys absent from
// data encode as null. It returns false when no template exists or a
// value cannot be represented in JSON. When data holds exactly the
// template's keys the output is byte-identical to json.Marshal.
func (e *PreEncoder) FastEncode(route string, data map[string]any) ([]byte, bool) {
	if data == nil {
		return nil, false
	}
	e.mu.Lock()
	keys, ok := e.templates[route]
	e.mu.Unlock()
	if !ok {
		return nil, false
	}

	buf := make([]byte, 0, 16*len(keys)+2)
	buf = append(buf, '{')
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = appendString(buf, k)
		buf = append(buf, ':')
		var err error
		buf, err = appendValue(buf, data[k])
		if err != nil {
			return nil, false
		}
	}
	buf = append(buf, '}')
	return buf, true
}

// Stats returns template counters.
func (e *PreEncoder) Stats() EncoderStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EncoderStats{
		Templates:         len(e.templates),
		MaxTemplates:      e.maxTemplates,
		TrackedStructures: len(e.fingerprints),
	}
}

// Reset discards every template and fingerprint.
func (e *PreEncoder) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates = make(map[string][]string)
	e.fingerprints = make(map[string]string)
	e.order = nil
}

// Fingerprint hashes the sorted key:type pairs of data.
func Fingerprint(data map[string]any) string {
	pairs := make([]string, 0, len(data))
	for k, v := range data {
		pairs = append(pairs, k+":"+typeName(v))
	}
	sort.Strings(pairs)
	sum := sha256.Sum256([]byte(strings.Join(pairs, "|")))
	return hex.EncodeToString(sum[:16])
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "str"
	case bool:
		return "bool"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "int"
	case float32, float64:
		return "float"
	case json.Number:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func appendValue(buf []byte, v any) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return append(buf, "null"...), nil
	case string:
		return appendString(buf, x), nil
	case bool:
		return strconv.AppendBool(buf, x), nil
	case int:
		return strconv.AppendInt(buf, int64(x), 10), nil
	case int8:
		return strconv.AppendInt(buf, int64(x), 10), nil
	case int16:
		return strconv.AppendInt(buf, int64(x), 10), nil
	case int32:
		return strconv.AppendInt(buf, int64(x), 10), nil
	case int64:
		return strconv.AppendInt(buf, x, 10), nil
	case uint:
		return strconv.AppendUint(buf, uint64(x), 10), nil
	case uint8:
		return strconv.AppendUint(buf, uint64(x), 10), nil
	case uint16:
		return strconv.AppendUint(buf, uint64(x), 10), nil
	case uint32:
		return strconv.AppendUint(buf, uint64(x), 10), nil
	case uint64:
		return strconv.AppendUint(buf, x, 10), nil
	case float32:
		return appendFloat(buf, float64(x), 32)
	case float64:
		return appendFloat(buf, x, 64)
	case json.Number:
		if _, err := x.Float64(); err != nil {
			return nil, err
		}
		return append(buf, string(x)...), nil
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, err
		}
		return append(buf, b...), nil
	}
}

// appendFloat formats f the way encoding/json does: plain decimal,
// switching to an exponent only for very small or very large values.
func appendFloat(buf []byte, f float64, bits int) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("unsupported float value %v", f)
	}
	format := byte('f')
	if abs := math.Abs(f); abs != 0 {
		if bits == 64 && (abs < 1e-6 || abs >= 1e21) ||
			bits == 32 && (float32(abs) < 1e-6 || float32(abs) >= 1e21) {
			format = 'e'
		}
	}
	buf = strconv.AppendFloat(buf, f, format, -1, bits)
	if format == 'e' {
		// e-09 becomes e-9
		n := len(buf)
		if n >= 4 && buf[n-4] == 'e' && buf[n-3] == '-' && buf[n-2] == '0' {
			buf[n-2] = buf[n-1]
			buf = buf[:n-1]
		}
	}
	return buf, nil
}

const hexDigits = "0123456789abcdef"

// appendString writes s as a JSON string literal with the escaping
// json.Marshal applies: HTML-sensitive characters, U+2028 and U+2029
// become \u sequences and invalid UTF-8 becomes \ufffd.
func appendString(buf []byte, s string) []byte {
	buf = append(buf, '"')
	for i := 0; i < len(s); {
		c := s[i]
		if c < utf8.RuneSelf {
			switch c {
			case '"', '\\':
				buf = append(buf, '\\', c)
			case '\b':
				buf = append(buf, '\\', 'b')
			case '\f':
				buf = append(buf, '\\', 'f')
			case '\n':
				buf = append(buf, '\\', 'n')
			case '\r':
				buf = append(buf, '\\', 'r')
			case '\t':
				buf = append(buf, '\\', 't')
			default:
				if c < 0x20 || c == '<' || c == '>' || c == '&' {
					buf = append(buf, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xf])
				} else {
					buf = append(buf, c)
				}
			}
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		switch {
		case r == utf8.RuneError && size == 1:
			buf = append(buf, `\ufffd`...)
		case r == '\u2028' || r == '\u2029':
			buf = append(buf, '\\', 'u', '2', '0', '2', hexDigits[r&0xf])
		default:
			buf = append(buf, s[i:i+size]...)
		}
		i += size
	}
	return append(buf, '"')
}
