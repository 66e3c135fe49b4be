package ollama

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

var errStreamInterrupted = errors.New("ollama stream ended before done")

const maxStreamLine = 1 << 20

type chatChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

// chatStream reads Ollama's newline-delimited chat chunks on demand. Each
// Next call consumes at most one line, so a cancelled context is noticed
// between chunks.
type chatStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool

	closeOnce sync.Once
	closeErr  error
}

func newChatStream(body io.ReadCloser) *chatStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLine)
	return &chatStream{body: body, scanner: scanner}
}

func (s *chatStream) Next(ctx context.Context) (string, error) {
	if s.done {
		return "", io.EOF
	}
	if err := ctx.Err(); err != nil {
		_ = s.Close()
		return "", err
	}

	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var chunk chatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			_ = s.Close()
			return "", fmt.Errorf("decode chat chunk: %w", err)
		}
		if chunk.Error != "" {
			_ = s.Close()
			return "", wrapUnavailable("ollama chat", fmt.Errorf("%w: %s", errStreamInterrupted, chunk.Error))
		}
		if chunk.Done {
			s.done = true
			_ = s.Close()
			if chunk.Message.Content != "" {
				return chunk.Message.Content, nil
			}
			return "", io.EOF
		}
		return chunk.Message.Content, nil
	}

	_ = s.Close()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := s.scanner.Err(); err != nil {
		return "", wrapUnavailable("ollama chat", fmt.Errorf("%w: %w", errStreamInterrupted, err))
	}
	return "", wrapUnavailable("ollama chat", errStreamInterrupted)
}

func (s *chatStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}
