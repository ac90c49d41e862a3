package formats

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// tokenReader reads whitespace-separated tokens from a stream that may
// switch to raw binary data at any point.
type tokenReader struct {
	r *bufio.Reader
}

func newTokenReader(r io.Reader) *tokenReader {
	return &tokenReader{r: bufio.NewReader(r)}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

// Token returns the next token. The single whitespace byte that terminates
// it is consumed, so binary data following "token\n" starts at the next
// read. io.EOF is returned when the stream is exhausted.
func (t *tokenReader) Token() (string, error) {
	var c byte
	var err error
	for {
		c, err = t.r.ReadByte()
		if err != nil {
			return "", err
		}
		if !isSpace(c) {
			break
		}
	}
	var sb strings.Builder
	sb.WriteByte(c)
	for {
		c, err = t.r.ReadByte()
		if err == io.EOF {
			return sb.String(), nil
		}
		if err != nil {
			return "", err
		}
		if isSpace(c) {
			if c == '\r' {
				if next, err := t.r.Peek(1); err == nil && next[0] == '\n' {
					t.r.ReadByte()
				}
			}
			return sb.String(), nil
		}
		sb.WriteByte(c)
	}
}

// Expect reads a token and fails unless it equals want, ignoring case.
func (t *tokenReader) Expect(want string) error {
	tok, err := t.Token()
	if err != nil {
		return fmt.Errorf("expected %q: %w", want, err)
	}
	if !strings.EqualFold(tok, want) {
		return fmt.Errorf("expected %q, got %q", want, tok)
	}
	return nil
}

// Int reads an integer token.
func (t *tokenReader) Int() (int, error) {
	tok, err := t.Token()
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(tok)
	if err != nil {
		return 0, fmt.Errorf("expected integer, got %q", tok)
	}
	return n, nil
}

// Float reads a floating point token.
func (t *tokenReader) Float() (float64, error) {
	tok, err := t.Token()
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, fmt.Errorf("expected number, got %q", tok)
	}
	return f, nil
}

// Floats reads n floating point tokens.
func (t *tokenReader) Floats(n int) ([]float64, error) {
	out := make([]float64, n)
	for i := range out {
		f, err := t.Float()
		if err != nil {
			return nil, fmt.Errorf("value %d of %d: %w", i, n, err)
		}
		out[i] = f
	}
	return out, nil
}

// Line returns the rest of the current line without the line break.
func (t *tokenReader) Line() (string, error) {
	s, err := t.r.ReadString('\n')
	if err != nil && (err != io.EOF || s == "") {
		return "", err
	}
	return strings.TrimRight(s, "\r\n"), nil
}

// SkipPast discards bytes up to and including the first c.
func (t *tokenReader) SkipPast(c byte) error {
	for {
		b, err := t.r.ReadByte()
		if err != nil {
			return err
		}
		if b == c {
			return nil
		}
	}
}

// Bytes reads exactly n raw bytes.
func (t *tokenReader) Bytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("negative byte count %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(t.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
