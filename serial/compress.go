package serial

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zlib"
)

func Compress(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		zw.Close()
		return nil, fmt.Errorf("compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	return buf.Bytes(), nil
}

func Decompress(b []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %w", ErrMalformed, err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %w", ErrMalformed, err)
	}
	return out, nil
}

func (r *Registry) SaveFile(path string, s Serializable) error {
	b, err := r.Marshal(s)
	if err != nil {
		return err
	}
	z, err := Compress(b)
	if err != nil {
		return err
	}
	return os.WriteFile(path, z, 0o644)
}

func (r *Registry) LoadFile(path string) (Serializable, error) {
	z, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	b, err := Decompress(z)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r.Unmarshal(b)
}

func SaveFile(path string, s Serializable) error {
	return Default.SaveFile(path, s)
}

func LoadFile(path string) (Serializable, error) {
	return Default.LoadFile(path)
}

// Load はLoadFileの結果をTへ型アサーションする。
func Load[T any](path string) (T, error) {
	var zero T
	s, err := Default.LoadFile(path)
	if err != nil {
		return zero, err
	}
	t, ok := s.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s: %s does not match the requested type", ErrMalformed, path, s.TypeTag())
	}
	return t, nil
}
