// Package serial は、型タグ付きのテキストレコードによって、具象型を知らない呼び出し側でも
// オブジェクトを保存・復元できるようにする。
package serial

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"
)

var (
	ErrSerialization = errors.New("serialization error")
	ErrUnknownTag    = fmt.Errorf("%w: unknown type tag", ErrSerialization)
	ErrMalformed     = fmt.Errorf("%w: malformed stream", ErrSerialization)
	ErrDuplicateTag  = errors.New("duplicate type tag")
)

type Serializable interface {
	TypeTag() string
	Serialize(*Encoder)
}

type Factory func(*Decoder) (Serializable, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

func (r *Registry) Register(tag string, factory Factory) error {
	if tag == "" {
		return fmt.Errorf("tag must not be empty")
	}
	if strings.ContainsAny(tag, "\t\n") {
		return fmt.Errorf("tag %q must not contain tabs or newlines", tag)
	}
	if factory == nil {
		return fmt.Errorf("factory must not be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[tag]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTag, tag)
	}
	r.factories[tag] = factory
	return nil
}

func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.factories))
	for tag := range r.factories {
		tags = append(tags, tag)
	}
	slices.Sort(tags)
	return tags
}

func (r *Registry) lookup(tag string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[tag]
	return f, ok
}

// CheckIn は型タグに続けてsのフィールドをwへ書き込む。
func (r *Registry) CheckIn(w io.Writer, s Serializable) error {
	if s == nil {
		return fmt.Errorf("serializable must not be nil")
	}
	rec, err := encodeRecord(s)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	for _, line := range rec {
		if _, err := bw.WriteString(line); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// CreateInstance はrから型タグを読み、登録済みのFactoryで残りのフィールドを復元する。
// rからはレコードの最終行までしか読まないため、同じrに続けて書かれたレコードを
// 繰り返し読み出せる。
func (r *Registry) CreateInstance(rd io.Reader) (Serializable, error) {
	return r.readRecord(newLineReader(rd))
}

func (r *Registry) Marshal(s Serializable) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.CheckIn(&buf, s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (r *Registry) Unmarshal(b []byte) (Serializable, error) {
	return r.CreateInstance(bytes.NewReader(b))
}

func (r *Registry) readRecord(lr *lineReader) (Serializable, error) {
	header, err := lr.next()
	if err != nil {
		return nil, err
	}
	parts := strings.Split(header, "\t")
	if len(parts) != 2 {
		return nil, fmt.Errorf("%w: line %d: invalid record header %q", ErrMalformed, lr.n, header)
	}
	tag := parts[0]
	n, err := strconv.Atoi(parts[1])
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%w: line %d: invalid field count %q", ErrMalformed, lr.n, parts[1])
	}

	factory, ok := r.lookup(tag)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTag, tag)
	}

	d := &Decoder{reg: r, lr: lr, tag: tag, remaining: n}
	s, err := factory(d)
	if d.err != nil {
		return nil, d.err
	}
	if err != nil {
		if errors.Is(err, ErrSerialization) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformed, tag, err)
	}
	if d.remaining != 0 {
		return nil, fmt.Errorf("%w: %s: %d unread fields", ErrMalformed, tag, d.remaining)
	}
	if s == nil {
		return nil, fmt.Errorf("%w: %s: factory returned nil", ErrMalformed, tag)
	}
	return s, nil
}

var Default = NewRegistry()

func Register(tag string, factory Factory) error {
	return Default.Register(tag, factory)
}

// MustRegister はinitから呼ばれる事を想定している。
func MustRegister(tag string, factory Factory) {
	if err := Default.Register(tag, factory); err != nil {
		panic(err)
	}
}

func CheckIn(w io.Writer, s Serializable) error {
	return Default.CheckIn(w, s)
}

func CreateInstance(r io.Reader) (Serializable, error) {
	return Default.CreateInstance(r)
}

func Marshal(s Serializable) ([]byte, error) {
	return Default.Marshal(s)
}

func Unmarshal(b []byte) (Serializable, error) {
	return Default.Unmarshal(b)
}

// Decode はDefaultからインスタンスを生成し、Tへ型アサーションする。
func Decode[T any](r io.Reader) (T, error) {
	var zero T
	s, err := Default.CreateInstance(r)
	if err != nil {
		return zero, err
	}
	t, ok := s.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s does not match the requested type", ErrMalformed, s.TypeTag())
	}
	return t, nil
}

// byteReader はio.ByteReaderを持たないReaderを1バイトずつ読む。
// 先読みしないので、レコードの後ろのバイトはrに残る。
type byteReader struct {
	r   io.Reader
	buf [1]byte
}

func (b *byteReader) ReadByte() (byte, error) {
	for {
		n, err := b.r.Read(b.buf[:])
		if n == 1 {
			return b.buf[0], nil
		}
		if err != nil {
			return 0, err
		}
	}
}

type lineReader struct {
	r    io.ByteReader
	n    int
	line strings.Builder
}

// newLineReader は*bufio.Reader, *bytes.Buffer, *bytes.Readerのようにio.ByteReaderを
// 実装するReaderはそのまま使い、それ以外はbyteReaderで包む。
func newLineReader(rd io.Reader) *lineReader {
	if br, ok := rd.(io.ByteReader); ok {
		return &lineReader{r: br}
	}
	return &lineReader{r: &byteReader{r: rd}}
}

func (lr *lineReader) next() (string, error) {
	lr.line.Reset()
	for {
		c, err := lr.r.ReadByte()
		if err != nil {
			if err == io.EOF && lr.line.Len() != 0 {
				lr.n++
				return strings.TrimSuffix(lr.line.String(), "\r"), nil
			}
			if err == io.EOF {
				return "", fmt.Errorf("%w: unexpected end of stream after line %d", ErrMalformed, lr.n)
			}
			return "", err
		}
		if c == '\n' {
			lr.n++
			return strings.TrimSuffix(lr.line.String(), "\r"), nil
		}
		lr.line.WriteByte(c)
	}
}
