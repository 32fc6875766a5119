package serial

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	kindInt     = "int"
	kindFloat   = "float"
	kindString  = "string"
	kindBool    = "bool"
	kindInts    = "ints"
	kindFloats  = "floats"
	kindObject  = "object"
	kindNil     = "nil"
	kindObjects = "objects"
)

// Encoder はフィールドを書き込み順に保持する。
// フィールド名は読み出し時の検証に使われる。
type Encoder struct {
	lines []string
	n     int
	err   error
}

func encodeRecord(s Serializable) ([]string, error) {
	tag := s.TypeTag()
	if tag == "" {
		return nil, fmt.Errorf("%w: empty type tag", ErrSerialization)
	}
	e := &Encoder{}
	s.Serialize(e)
	if e.err != nil {
		return nil, e.err
	}
	rec := make([]string, 0, len(e.lines)+1)
	rec = append(rec, tag+"\t"+strconv.Itoa(e.n))
	return append(rec, e.lines...), nil
}

func (e *Encoder) put(name, kind string, values ...string) {
	if e.err != nil {
		return
	}
	if name == "" || strings.ContainsAny(name, "\t\n") {
		e.err = fmt.Errorf("%w: invalid field name %q", ErrSerialization, name)
		return
	}
	parts := make([]string, 0, len(values)+2)
	parts = append(parts, name, kind)
	parts = append(parts, values...)
	e.lines = append(e.lines, strings.Join(parts, "\t"))
	e.n++
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func (e *Encoder) Int(name string, v int) {
	e.put(name, kindInt, strconv.Itoa(v))
}

func (e *Encoder) Float(name string, v float64) {
	e.put(name, kindFloat, formatFloat(v))
}

func (e *Encoder) String(name string, v string) {
	e.put(name, kindString, strconv.Quote(v))
}

func (e *Encoder) Bool(name string, v bool) {
	e.put(name, kindBool, strconv.FormatBool(v))
}

func (e *Encoder) Ints(name string, vs []int) {
	ss := make([]string, len(vs))
	for i, v := range vs {
		ss[i] = strconv.Itoa(v)
	}
	e.put(name, kindInts, ss...)
}

func (e *Encoder) Floats(name string, vs []float64) {
	ss := make([]string, len(vs))
	for i, v := range vs {
		ss[i] = formatFloat(v)
	}
	e.put(name, kindFloats, ss...)
}

// Object は入れ子のレコードを書き込む。nilも書き込める。
func (e *Encoder) Object(name string, s Serializable) {
	if s == nil {
		e.put(name, kindNil)
		return
	}
	rec, err := encodeRecord(s)
	if err != nil {
		if e.err == nil {
			e.err = err
		}
		return
	}
	e.put(name, kindObject)
	e.lines = append(e.lines, rec...)
}

// Objects は要素数に続けて各要素をObjectとして書き込む。1フィールドとして数える。
func (e *Encoder) Objects(name string, ss []Serializable) {
	e.put(name, kindObjects, strconv.Itoa(len(ss)))
	if e.err != nil {
		return
	}
	for i, s := range ss {
		if s == nil {
			e.lines = append(e.lines, strconv.Itoa(i)+"\t"+kindNil)
			continue
		}
		rec, err := encodeRecord(s)
		if err != nil {
			e.err = err
			return
		}
		e.lines = append(e.lines, strconv.Itoa(i)+"\t"+kindObject)
		e.lines = append(e.lines, rec...)
	}
}

func (e *Encoder) Err() error {
	return e.err
}

// Decoder はレコードのフィールドを書き込み順に読み出す。
// 最初のエラーを保持し、以降の読み出しはゼロ値を返す。
type Decoder struct {
	reg       *Registry
	lr        *lineReader
	tag       string
	remaining int
	err       error
}

func (d *Decoder) Tag() string {
	return d.tag
}

func (d *Decoder) Err() error {
	return d.err
}

func (d *Decoder) fail(format string, args ...any) {
	if d.err == nil {
		msg := fmt.Sprintf(format, args...)
		d.err = fmt.Errorf("%w: %s: line %d: %s", ErrMalformed, d.tag, d.lr.n, msg)
	}
}

func (d *Decoder) field(name string, kinds ...string) (string, []string) {
	if d.err != nil {
		return "", nil
	}
	if d.remaining <= 0 {
		d.fail("missing field %s", name)
		return "", nil
	}
	line, err := d.lr.next()
	if err != nil {
		d.err = err
		return "", nil
	}
	d.remaining--

	parts := strings.Split(line, "\t")
	if len(parts) < 2 {
		d.fail("invalid field line %q", line)
		return "", nil
	}
	if parts[0] != name {
		d.fail("expected field %s, got %s", name, parts[0])
		return "", nil
	}
	for _, k := range kinds {
		if parts[1] == k {
			return k, parts[2:]
		}
	}
	d.fail("field %s has kind %s, expected %s", name, parts[1], strings.Join(kinds, "|"))
	return "", nil
}

func (d *Decoder) single(name, kind string) (string, bool) {
	_, vs := d.field(name, kind)
	if d.err != nil {
		return "", false
	}
	if len(vs) != 1 {
		d.fail("field %s expects one value, got %d", name, len(vs))
		return "", false
	}
	return vs[0], true
}

func (d *Decoder) Int(name string) int {
	s, ok := d.single(name, kindInt)
	if !ok {
		return 0
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		d.fail("field %s: %v", name, err)
		return 0
	}
	return v
}

func (d *Decoder) Float(name string) float64 {
	s, ok := d.single(name, kindFloat)
	if !ok {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		d.fail("field %s: %v", name, err)
		return 0
	}
	return v
}

func (d *Decoder) String(name string) string {
	s, ok := d.single(name, kindString)
	if !ok {
		return ""
	}
	v, err := strconv.Unquote(s)
	if err != nil {
		d.fail("field %s: %v", name, err)
		return ""
	}
	return v
}

func (d *Decoder) Bool(name string) bool {
	s, ok := d.single(name, kindBool)
	if !ok {
		return false
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		d.fail("field %s: %v", name, err)
		return false
	}
	return v
}

func (d *Decoder) Ints(name string) []int {
	_, ss := d.field(name, kindInts)
	if d.err != nil {
		return nil
	}
	vs := make([]int, len(ss))
	for i, s := range ss {
		v, err := strconv.Atoi(s)
		if err != nil {
			d.fail("field %s[%d]: %v", name, i, err)
			return nil
		}
		vs[i] = v
	}
	return vs
}

func (d *Decoder) Floats(name string) []float64 {
	_, ss := d.field(name, kindFloats)
	if d.err != nil {
		return nil
	}
	vs := make([]float64, len(ss))
	for i, s := range ss {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			d.fail("field %s[%d]: %v", name, i, err)
			return nil
		}
		vs[i] = v
	}
	return vs
}

func (d *Decoder) Object(name string) Serializable {
	kind, _ := d.field(name, kindObject, kindNil)
	if d.err != nil || kind == kindNil {
		return nil
	}
	s, err := d.reg.readRecord(d.lr)
	if err != nil {
		d.err = err
		return nil
	}
	return s
}

func (d *Decoder) Objects(name string) []Serializable {
	s, ok := d.single(name, kindObjects)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		d.fail("field %s: invalid length %q", name, s)
		return nil
	}
	ss := make([]Serializable, n)
	for i := range n {
		line, err := d.lr.next()
		if err != nil {
			d.err = err
			return nil
		}
		parts := strings.Split(line, "\t")
		if len(parts) != 2 || parts[0] != strconv.Itoa(i) {
			d.fail("field %s: invalid element header %q", name, line)
			return nil
		}
		switch parts[1] {
		case kindNil:
		case kindObject:
			obj, err := d.reg.readRecord(d.lr)
			if err != nil {
				d.err = err
				return nil
			}
			ss[i] = obj
		default:
			d.fail("field %s: invalid element kind %q", name, parts[1])
			return nil
		}
	}
	return ss
}

// DecodeObject はd.Objectの結果をTへ型アサーションする。nilはゼロ値として返す。
func DecodeObject[T any](d *Decoder, name string) T {
	var zero T
	s := d.Object(name)
	if s == nil {
		return zero
	}
	t, ok := s.(T)
	if !ok {
		d.fail("field %s: unexpected type %s", name, s.TypeTag())
		return zero
	}
	return t
}
