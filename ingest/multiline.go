package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
)

// DefaultMaxBlockLines bounds how many lines the multiline parser will
// accumulate before giving up on a block.
const DefaultMaxBlockLines = 100

// OverflowFunc receives blocks the parser abandoned: either the line
// bound was hit or the stream ended mid-object. The callback typically
// routes the bytes to the dead-letter queue.
type OverflowFunc func(start int64, raw []byte)

// MultilineParser yields events from pretty-printed JSON streams where
// one object spans several lines. It accumulates non-blank lines and
// retries a parse after each one; no sanitization happens during
// accumulation, because rewriting bytes mid-token corrupts the block.
type MultilineParser struct {
	br       *bufio.Reader
	overflow OverflowFunc
	maxLines int

	offset int64
	start  int64
	buf    bytes.Buffer
	lines  int
}

// NewMultilineParser wraps r. overflow may be nil to drop abandoned
// blocks silently.
func NewMultilineParser(r io.Reader, overflow OverflowFunc) *MultilineParser {
	return &MultilineParser{
		br:       bufio.NewReader(r),
		overflow: overflow,
		maxLines: DefaultMaxBlockLines,
	}
}

// Next returns the byte offset at which the next complete object started,
// the raw bytes it was parsed from, and the parsed object. It reports
// io.EOF when the stream is exhausted; a trailing partial block goes to
// the overflow callback.
func (p *MultilineParser) Next() (int64, []byte, map[string]any, error) {
	for {
		line, err := p.br.ReadBytes('\n')
		if len(line) > 0 {
			lineStart := p.offset
			p.offset += int64(len(line))
			if len(bytes.TrimSpace(line)) > 0 {
				if p.buf.Len() == 0 {
					p.start = lineStart
				}
				p.buf.Write(line)
				p.lines++
				var m map[string]any
				if jerr := json.Unmarshal(p.buf.Bytes(), &m); jerr == nil {
					start := p.start
					raw := make([]byte, p.buf.Len())
					copy(raw, p.buf.Bytes())
					p.reset()
					return start, raw, m, nil
				}
				if p.lines >= p.maxLines {
					p.abandon()
				}
			}
		}
		switch {
		case err == nil:
		case err == io.EOF:
			if p.buf.Len() > 0 {
				p.abandon()
			}
			return 0, nil, nil, io.EOF
		default:
			return 0, nil, nil, err
		}
	}
}

func (p *MultilineParser) reset() {
	p.buf.Reset()
	p.lines = 0
}

func (p *MultilineParser) abandon() {
	if p.overflow != nil {
		raw := make([]byte, p.buf.Len())
		copy(raw, p.buf.Bytes())
		p.overflow(p.start, raw)
	}
	p.reset()
}

// LineParser yields events from one-object-per-line streams. Lines that
// do not parse go to the bad callback.
type LineParser struct {
	br     *bufio.Reader
	bad    OverflowFunc
	offset int64
}

// NewLineParser wraps r. bad may be nil to drop garbage lines silently.
func NewLineParser(r io.Reader, bad OverflowFunc) *LineParser {
	return &LineParser{br: bufio.NewReader(r), bad: bad}
}

// Next returns the byte offset of the next parseable line, its raw bytes,
// and its parsed object, reporting io.EOF at end of stream.
func (p *LineParser) Next() (int64, []byte, map[string]any, error) {
	for {
		line, err := p.br.ReadBytes('\n')
		if len(line) > 0 {
			start := p.offset
			p.offset += int64(len(line))
			trimmed := bytes.TrimSpace(line)
			if len(trimmed) > 0 {
				raw := append([]byte(nil), trimmed...)
				var m map[string]any
				if jerr := json.Unmarshal(raw, &m); jerr != nil {
					if p.bad != nil {
						p.bad(start, raw)
					}
				} else {
					return start, raw, m, nil
				}
			}
		}
		switch {
		case err == nil:
		case err == io.EOF:
			return 0, nil, nil, io.EOF
		default:
			return 0, nil, nil, err
		}
	}
}
