package agentsy

import (
	"bytes"
	"io"
)

const readChunkSize = 4096

var (
	frameDelimiter = []byte("\n\n")
	crlf           = []byte("\r\n")
	lf             = []byte("\n")
	space          = []byte(" ")
	doneSentinel   = []byte("[DONE]")
	dataField      = []byte("data:")
	ignoredFields  = [][]byte{[]byte("event:"), []byte("id:"), []byte("retry:")}
)

// frameReader splits a server-sent event byte stream into frame bodies. Read boundaries
// carry no meaning: bytes are buffered until a blank-line delimiter completes a frame, so
// partial frames and partial UTF-8 sequences simply wait for the next read.
type frameReader struct {
	r     io.Reader
	buf   []byte
	chunk []byte
	eof   bool
	done  bool
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{r: r, chunk: make([]byte, readChunkSize)}
}

// Next returns the body of the next data frame with the "data:" prefix stripped.
// Empty frames and comment/keep-alive frames are skipped. It returns io.EOF when the
// reader is exhausted or the [DONE] sentinel frame is seen.
func (f *frameReader) Next() ([]byte, error) {
	for {
		if f.done {
			return nil, io.EOF
		}
		if frame, ok := f.cut(); ok {
			body, isDone := parseFrame(frame)
			if isDone {
				f.done = true
				return nil, io.EOF
			}
			if body != nil {
				return body, nil
			}
			continue
		}
		if f.eof {
			// Servers may omit the delimiter after the last frame.
			f.done = true
			body, isDone := parseFrame(f.buf)
			f.buf = nil
			if isDone || body == nil {
				return nil, io.EOF
			}
			return body, nil
		}
		n, err := f.r.Read(f.chunk)
		if n > 0 {
			f.buf = append(f.buf, f.chunk[:n]...)
			if bytes.Contains(f.buf, crlf) {
				f.buf = bytes.ReplaceAll(f.buf, crlf, lf)
			}
		}
		if err == io.EOF {
			f.eof = true
		} else if err != nil {
			return nil, err
		}
	}
}

// cut removes the first complete frame from the buffer.
func (f *frameReader) cut() ([]byte, bool) {
	idx := bytes.Index(f.buf, frameDelimiter)
	if idx < 0 {
		return nil, false
	}
	frame := bytes.Clone(f.buf[:idx])
	f.buf = f.buf[idx+len(frameDelimiter):]
	return frame, true
}

// parseFrame extracts the data payload of one frame. Comment lines (": ..." keep-alives)
// and event/id/retry fields are dropped, multiple data lines are joined with a newline and
// lines without a field name are taken as data. Only the single space after "data:" is
// removed: a payload may be a fragment of a JSON string whose spaces are significant.
// body is nil when nothing remains.
func parseFrame(frame []byte) (body []byte, isDone bool) {
	text := bytes.Trim(frame, "\r\n")
	if isBlank(text) {
		return nil, false
	}
	var data [][]byte
	for line := range bytes.SplitSeq(text, lf) {
		switch {
		case isBlank(line), line[0] == ':':
			continue
		case bytes.HasPrefix(line, dataField):
			data = append(data, bytes.TrimPrefix(line[len(dataField):], space))
		case hasAnyPrefix(line, ignoredFields):
			continue
		default:
			data = append(data, line)
		}
	}
	if len(data) == 0 {
		return nil, false
	}
	body = bytes.Join(data, lf)
	if bytes.Equal(bytes.TrimSpace(body), doneSentinel) {
		return nil, true
	}
	if isBlank(body) {
		return nil, false
	}
	return body, false
}

func isBlank(b []byte) bool { return len(bytes.TrimSpace(b)) == 0 }

func hasAnyPrefix(line []byte, prefixes [][]byte) bool {
	for _, p := range prefixes {
		if bytes.HasPrefix(line, p) {
			return true
		}
	}
	return false
}
