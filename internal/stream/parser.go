package stream

import (
	"bytes"
	"iter"

	"go.uber.org/zap"

	"github.com/yubzen/phonepilot/internal/logger"
)

var (
	frameSep = []byte("\n\n")
	crlf     = []byte("\r\n")
	lf       = []byte("\n")
)

// Parser splits a byte stream into frames. It keeps only the unconsumed tail
// between Feed calls, so splitting the input at arbitrary points yields the
// same frames as feeding it whole.
type Parser struct {
	buf    []byte
	logger *logger.Logger
}

func NewParser(log *logger.Logger) *Parser {
	if log == nil {
		log = logger.Default()
	}
	return &Parser{logger: log.WithComponent("stream-parser")}
}

// Feed appends chunk and yields every complete frame in order. Each frame is
// consumed as it is yielded; if the caller stops early the remaining frames
// stay buffered for the next call.
func (p *Parser) Feed(chunk []byte) iter.Seq[Frame] {
	if len(chunk) > 0 {
		p.buf = append(p.buf, chunk...)
		// whole-buffer pass so a "\r\n" split across chunks is still caught
		p.buf = normalizeNewlines(p.buf)
	}
	return func(yield func(Frame) bool) {
		for {
			idx := bytes.Index(p.buf, frameSep)
			if idx < 0 {
				return
			}
			block := p.buf[:idx]
			rest := p.buf[idx+len(frameSep):]
			frame, ok := p.parseBlock(block)
			p.buf = append(p.buf[:0:0], rest...)
			if !ok {
				continue
			}
			if !yield(frame) {
				return
			}
		}
	}
}

// Pending reports the number of buffered bytes not yet forming a frame.
func (p *Parser) Pending() int {
	return len(p.buf)
}

func (p *Parser) parseBlock(block []byte) (Frame, bool) {
	var (
		kind    Kind
		data    [][]byte
		hasData bool
	)
	for _, line := range bytes.Split(block, lf) {
		if len(line) == 0 || line[0] == ':' {
			continue
		}
		field, value, _ := bytes.Cut(line, []byte(":"))
		value = bytes.TrimPrefix(value, []byte(" "))
		switch string(field) {
		case "event":
			kind = Kind(bytes.TrimSpace(value))
		case "data":
			data = append(data, value)
			hasData = true
		}
	}
	if kind == "" && !hasData {
		// comment-only block (keep-alive)
		return Frame{}, false
	}
	if kind == "" || !hasData {
		p.logger.Warn("dropping incomplete frame",
			zap.String("event", string(kind)),
			zap.Bool("has_data", hasData))
		return Frame{}, false
	}
	if !kind.Valid() {
		p.logger.Warn("dropping frame with unknown event", zap.String("event", string(kind)))
		return Frame{}, false
	}
	raw := bytes.Join(data, lf)
	payload, err := decodePayload(kind, raw)
	if err != nil {
		p.logger.Warn("dropping frame with malformed payload",
			zap.String("event", string(kind)),
			zap.Error(err))
		return Frame{}, false
	}
	return Frame{Kind: kind, Payload: payload, Raw: append([]byte(nil), raw...)}, true
}

func normalizeNewlines(b []byte) []byte {
	if !bytes.Contains(b, crlf) {
		return b
	}
	return bytes.ReplaceAll(b, crlf, lf)
}
