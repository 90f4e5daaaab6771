package rpc

import (
	"bufio"
	"context"
	"io"

	"go.uber.org/zap"
)

// maxLineBytes bounds a single request line; a markdown bulk import can be
// large but anything past this is a malformed stream.
const maxLineBytes = 16 * 1024 * 1024

// StdioTransport serves newline-delimited JSON-RPC over a byte stream, one
// request per line, one response per line. This is the transport for
// process-piped agents. Requests are handled in arrival order so a client
// that pipelines initialize followed by a mutation sees them applied in
// sequence.
type StdioTransport struct {
	server *Server
	in     io.Reader
	out    io.Writer
	logger *zap.Logger
}

// NewStdioTransport creates a line-delimited transport over the given streams
func NewStdioTransport(server *Server, in io.Reader, out io.Writer, logger *zap.Logger) *StdioTransport {
	return &StdioTransport{
		server: server,
		in:     in,
		out:    out,
		logger: logger,
	}
}

// Run reads request lines until the input closes or the context is cancelled.
// Blank lines are skipped.
func (t *StdioTransport) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(t.in)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp := t.server.Handle(ctx, line)
		if _, err := t.out.Write(append(resp, '\n')); err != nil {
			t.logger.Error("stdio transport write failed", zap.Error(err))
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		t.logger.Error("stdio transport read failed", zap.Error(err))
		return err
	}
	t.logger.Info("stdio transport closed")
	return nil
}
