package kvsession

import (
	"bytes"
	"math"
	"strconv"
	"strings"
)

// Codec translates between the wire string kept in the store and the
// structured attribute mapping that hooks operate on.
type Codec interface {
	Name() string
	Encode(m *Map) (string, error)
	Decode(data string) (*Map, error)
}

const (
	// maxDecodeDepth bounds container nesting in untrusted payloads.
	maxDecodeDepth = 64

	flatSeparator = '|'
)

// FlatCodec encodes a mapping as a concatenation of key|value segments, each
// value in the scalar encoding, e.g. `user|s:5:"alice";n|i:3;`.
type FlatCodec struct{}

func (FlatCodec) Name() string { return "flat" }

func (FlatCodec) Encode(m *Map) (string, error) {
	if m.Len() == 0 {
		return "", nil
	}

	buf := getBuffer()
	defer PutBuffer(buf)

	var err error
	m.Range(func(k string, v Value) bool {
		if strings.IndexByte(k, flatSeparator) >= 0 {
			err = dataError("key %q contains the %q separator", k, flatSeparator)
			return false
		}
		buf.WriteString(k)
		buf.WriteByte(flatSeparator)
		err = appendValue(buf, v)
		return err == nil
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (FlatCodec) Decode(data string) (*Map, error) {
	m := NewMap()
	pos := 0
	for pos < len(data) {
		sep := strings.IndexByte(data[pos:], flatSeparator)
		if sep < 0 {
			return nil, dataError("segment at offset %d has no key separator", pos)
		}
		key := data[pos : pos+sep]

		d := &decoder{data: data, pos: pos + sep + 1}
		v, err := d.value(0)
		if err != nil {
			return nil, err
		}
		m.Set(key, v)
		pos = d.pos
	}
	return m, nil
}

// StructuredCodec encodes the whole mapping as one container token, e.g.
// `a:1:{s:4:"user";s:5:"alice";}`. An empty mapping encodes as `a:0:{}`.
type StructuredCodec struct{}

func (StructuredCodec) Name() string { return "structured" }

func (StructuredCodec) Encode(m *Map) (string, error) {
	buf := getBuffer()
	defer PutBuffer(buf)

	if err := appendValue(buf, MapValue(m)); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (StructuredCodec) Decode(data string) (*Map, error) {
	if data == "" {
		return NewMap(), nil
	}

	d := &decoder{data: data}
	v, err := d.value(0)
	if err != nil {
		return nil, err
	}
	if d.pos != len(data) {
		return nil, dataError("unexpected trailing data at offset %d", d.pos)
	}

	switch v.Kind() {
	case KindMap:
		m, _ := v.AsMap()
		return m, nil
	case KindList:
		list, _ := v.AsList()
		m := NewMap()
		for i, item := range list {
			m.Set(strconv.Itoa(i), item)
		}
		return m, nil
	default:
		return nil, dataError("top-level value is %s, not a mapping", v.Kind())
	}
}

// CodecByName returns the codec registered under name.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "structured":
		return StructuredCodec{}, nil
	case "flat":
		return FlatCodec{}, nil
	default:
		return nil, configError("unknown codec %q", name)
	}
}

func appendValue(buf *bytes.Buffer, v Value) error {
	switch v.Kind() {
	case KindNull:
		buf.WriteString("N;")
	case KindBool:
		b, _ := v.AsBool()
		if b {
			buf.WriteString("b:1;")
		} else {
			buf.WriteString("b:0;")
		}
	case KindInt:
		i, _ := v.AsInt()
		appendInt(buf, i)
	case KindFloat:
		f, _ := v.AsFloat()
		buf.WriteString("d:")
		buf.WriteString(formatFloat(f))
		buf.WriteByte(';')
	case KindString:
		s, _ := v.AsString()
		appendString(buf, s)
	case KindList:
		list, _ := v.AsList()
		buf.WriteString("a:")
		buf.WriteString(strconv.Itoa(len(list)))
		buf.WriteString(":{")
		for i, item := range list {
			appendInt(buf, int64(i))
			if err := appendValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case KindMap:
		m, _ := v.AsMap()
		buf.WriteString("a:")
		buf.WriteString(strconv.Itoa(m.Len()))
		buf.WriteString(":{")
		var err error
		m.Range(func(k string, item Value) bool {
			appendKey(buf, k)
			err = appendValue(buf, item)
			return err == nil
		})
		if err != nil {
			return err
		}
		buf.WriteByte('}')
	default:
		return dataError("cannot encode value of kind %s", v.Kind())
	}
	return nil
}

func appendInt(buf *bytes.Buffer, i int64) {
	buf.WriteString("i:")
	buf.WriteString(strconv.FormatInt(i, 10))
	buf.WriteByte(';')
}

func appendString(buf *bytes.Buffer, s string) {
	buf.WriteString("s:")
	buf.WriteString(strconv.Itoa(len(s)))
	buf.WriteString(`:"`)
	buf.WriteString(s)
	buf.WriteString(`";`)
}

// appendKey writes canonical decimal keys as integer tokens so that keys
// decoded from integer-indexed containers encode back to the same bytes.
func appendKey(buf *bytes.Buffer, k string) {
	if n, err := strconv.ParseInt(k, 10, 64); err == nil && strconv.FormatInt(n, 10) == k {
		appendInt(buf, n)
		return
	}
	appendString(buf, k)
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NAN"
	case math.IsInf(f, 1):
		return "INF"
	case math.IsInf(f, -1):
		return "-INF"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func parseFloat(s string) (float64, error) {
	switch s {
	case "NAN":
		return math.NaN(), nil
	case "INF":
		return math.Inf(1), nil
	case "-INF":
		return math.Inf(-1), nil
	}
	return strconv.ParseFloat(s, 64)
}

// decoder reads scalar-encoded values from data starting at pos.
type decoder struct {
	data string
	pos  int
}

func (d *decoder) errorf(format string, args ...any) error {
	return dataError("offset %d: "+format, append([]any{d.pos}, args...)...)
}

func (d *decoder) expect(c byte) error {
	if d.pos >= len(d.data) || d.data[d.pos] != c {
		return d.errorf("expected %q", c)
	}
	d.pos++
	return nil
}

// until returns the text up to the next occurrence of c and moves past c.
func (d *decoder) until(c byte) (string, error) {
	end := strings.IndexByte(d.data[d.pos:], c)
	if end < 0 {
		return "", d.errorf("unterminated token, expected %q", c)
	}
	tok := d.data[d.pos : d.pos+end]
	d.pos += end + 1
	return tok, nil
}

func (d *decoder) value(depth int) (Value, error) {
	if d.pos+1 >= len(d.data) {
		return Value{}, d.errorf("truncated value")
	}
	tag := d.data[d.pos]

	if tag == 'N' {
		d.pos++
		if err := d.expect(';'); err != nil {
			return Value{}, err
		}
		return Null(), nil
	}

	d.pos++
	if err := d.expect(':'); err != nil {
		return Value{}, err
	}

	switch tag {
	case 'b':
		tok, err := d.until(';')
		if err != nil {
			return Value{}, err
		}
		switch tok {
		case "0":
			return Bool(false), nil
		case "1":
			return Bool(true), nil
		}
		return Value{}, d.errorf("invalid boolean %q", tok)
	case 'i':
		tok, err := d.until(';')
		if err != nil {
			return Value{}, err
		}
		i, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			return Value{}, d.errorf("invalid integer %q", tok)
		}
		return Int(i), nil
	case 'd':
		tok, err := d.until(';')
		if err != nil {
			return Value{}, err
		}
		f, err := parseFloat(tok)
		if err != nil {
			return Value{}, d.errorf("invalid float %q", tok)
		}
		return Float(f), nil
	case 's':
		s, err := d.stringBody()
		if err != nil {
			return Value{}, err
		}
		return String(s), nil
	case 'a':
		if depth >= maxDecodeDepth {
			return Value{}, d.errorf("nesting deeper than %d", maxDecodeDepth)
		}
		return d.container(depth + 1)
	}
	return Value{}, dataError("offset %d: unknown type tag %q", d.pos-2, tag)
}

// stringBody reads `<len>:"<bytes>";` after the `s:` prefix.
func (d *decoder) stringBody() (string, error) {
	tok, err := d.until(':')
	if err != nil {
		return "", err
	}
	n, err := strconv.Atoi(tok)
	if err != nil || n < 0 {
		return "", d.errorf("invalid string length %q", tok)
	}
	if err := d.expect('"'); err != nil {
		return "", err
	}
	if n > len(d.data)-d.pos {
		return "", d.errorf("string length %d exceeds payload", n)
	}
	s := d.data[d.pos : d.pos+n]
	d.pos += n
	if err := d.expect('"'); err != nil {
		return "", err
	}
	if err := d.expect(';'); err != nil {
		return "", err
	}
	return s, nil
}

// container reads `<n>:{<key><value>...}` after the `a:` prefix. Keys that
// run exactly 0..n-1 produce a list, anything else a map.
func (d *decoder) container(depth int) (Value, error) {
	tok, err := d.until(':')
	if err != nil {
		return Value{}, err
	}
	n, err := strconv.Atoi(tok)
	if err != nil || n < 0 {
		return Value{}, d.errorf("invalid element count %q", tok)
	}
	// Each element occupies several bytes, so a count above the remaining
	// length is a lie and must not drive an allocation.
	if n > len(d.data)-d.pos {
		return Value{}, d.errorf("element count %d exceeds payload", n)
	}
	if err := d.expect('{'); err != nil {
		return Value{}, err
	}

	m := NewMap()
	sequential := n > 0
	for i := 0; i < n; i++ {
		key, err := d.value(depth)
		if err != nil {
			return Value{}, err
		}
		var k string
		switch key.Kind() {
		case KindInt:
			ik, _ := key.AsInt()
			if ik != int64(i) {
				sequential = false
			}
			k = strconv.FormatInt(ik, 10)
		case KindString:
			sequential = false
			k, _ = key.AsString()
		default:
			return Value{}, d.errorf("container key must be int or string, got %s", key.Kind())
		}

		v, err := d.value(depth)
		if err != nil {
			return Value{}, err
		}
		m.Set(k, v)
	}
	if err := d.expect('}'); err != nil {
		return Value{}, err
	}

	if sequential && m.Len() == n {
		list := make([]Value, 0, n)
		m.Range(func(_ string, v Value) bool {
			list = append(list, v)
			return true
		})
		return List(list...), nil
	}
	return MapValue(m), nil
}
