package coach

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

type sseFrame struct {
	Event string
	Data  []byte
}

// sseParser incrementally decodes an event-stream body into frames.
// Frames are delimited by a blank line; within a frame, `event:` and `data:`
// lines are accumulated. The parser is insensitive to how the underlying
// reader fragments the byte stream.
type sseParser struct {
	reader *bufio.Reader
}

func newSSEParser(r io.Reader) *sseParser {
	return &sseParser{reader: bufio.NewReader(r)}
}

func (p *sseParser) Next() (sseFrame, error) {
	var eventType string
	var dataLines []string

	for {
		line, err := p.reader.ReadString('\n')
		eof := errors.Is(err, io.EOF)
		if err != nil && !eof {
			return sseFrame{}, err
		}

		if line != "" {
			line = strings.TrimSuffix(line, "\n")
			line = strings.TrimSuffix(line, "\r")
		}

		if line == "" {
			if len(dataLines) == 0 && eventType == "" {
				if eof {
					return sseFrame{}, io.EOF
				}
				continue
			}
			return sseFrame{
				Event: eventType,
				Data:  []byte(strings.Join(dataLines, "\n")),
			}, nil
		}

		if strings.HasPrefix(line, ":") {
			// Comment line; servers use these as keepalives.
			if eof {
				return p.flushAtEOF(eventType, dataLines)
			}
			continue
		}

		field, value := splitSSEField(line)
		switch field {
		case "event":
			eventType = value
		case "data":
			dataLines = append(dataLines, value)
		}

		if eof {
			return p.flushAtEOF(eventType, dataLines)
		}
	}
}

func (p *sseParser) flushAtEOF(eventType string, dataLines []string) (sseFrame, error) {
	if len(dataLines) == 0 && eventType == "" {
		return sseFrame{}, io.EOF
	}
	return sseFrame{
		Event: eventType,
		Data:  []byte(strings.Join(dataLines, "\n")),
	}, nil
}

func splitSSEField(line string) (field string, value string) {
	index := strings.IndexByte(line, ':')
	if index < 0 {
		return line, ""
	}
	field = line[:index]
	value = line[index+1:]
	if strings.HasPrefix(value, " ") {
		value = value[1:]
	}
	return field, value
}
