package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/zoho-mcp/zoho-mcp-server/pkg/logger"
	"github.com/zoho-mcp/zoho-mcp-server/pkg/mcp"
)

// StdioServer speaks newline-delimited JSON-RPC over a byte stream, one
// envelope per line. Requests are handled concurrently and correlated by id;
// there is no admission gate because the stream is inherently local.
type StdioServer struct {
	dispatcher *mcp.Dispatcher
	in         io.Reader
	out        io.Writer

	// mu serialises writes so concurrent responses never interleave.
	mu sync.Mutex
}

// NewStdioServer creates a stream transport over the given reader/writer
// pair, normally stdin and stdout.
func NewStdioServer(dispatcher *mcp.Dispatcher, in io.Reader, out io.Writer) *StdioServer {
	return &StdioServer{dispatcher: dispatcher, in: in, out: out}
}

// Serve reads envelopes until EOF or cancellation. Each line is dispatched
// in its own goroutine; all in-flight requests are drained before return.
func (s *StdioServer) Serve(ctx context.Context) error {
	logger.Info("Stream transport ready")

	// Uploads arrive as base64 inside a single line, so the reader buffer
	// must not cap the line length.
	reader := bufio.NewReaderSize(s.in, 1<<20)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		line, err := reader.ReadString('\n')
		if line = strings.TrimSpace(line); line != "" {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.handleLine(ctx, []byte(line))
			}()
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Info("Stream transport closed")
				return nil
			}
			return err
		}
	}
}

func (s *StdioServer) handleLine(ctx context.Context, line []byte) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Panic in stream handler: %v", r)
		}
	}()

	resp := s.dispatcher.HandleRaw(ctx, line)
	if resp == nil {
		return
	}
	s.write(resp)
}

func (s *StdioServer) write(resp *mcp.Response) {
	encoded, err := json.Marshal(resp)
	if err != nil {
		logger.Errorf("Failed to encode response: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.out.Write(append(encoded, '\n')); err != nil {
		logger.Errorf("Failed to write response: %v", err)
	}
}
