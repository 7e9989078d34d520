package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/starlake-ai/mcp-openapi-proxy/pkg/mcp/mcp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrentCalls bounds in-flight tool calls when no limit is configured.
const DefaultMaxConcurrentCalls = 16

// StdioServer serves one session over newline delimited JSON-RPC.
//
// Messages are read by a single loop. tools/call requests run on their own
// goroutines, bounded by a semaphore, and their responses are written in
// completion order; everything else is answered inline.
type StdioServer struct {
	adapter *Adapter
	log     *zap.Logger
	sem     *semaphore.Weighted

	writeMu sync.Mutex
	out     io.Writer
	calls   sync.WaitGroup
}

// NewStdioServer creates a stdio transport for adapter.
func NewStdioServer(adapter *Adapter, maxConcurrent int, log *zap.Logger) *StdioServer {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentCalls
	}
	return &StdioServer{
		adapter: adapter,
		log:     log,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Listen serves messages from in until EOF or ctx is done. It waits for
// in-flight calls and closes the session before returning. EOF is a clean
// shutdown and returns nil.
func (s *StdioServer) Listen(ctx context.Context, in io.Reader, out io.Writer) error {
	s.out = out
	defer s.shutdown()

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		reader := bufio.NewReaderSize(in, 64*1024)
		for {
			line, err := reader.ReadBytes('\n')
			if len(bytes.TrimSpace(line)) > 0 {
				select {
				case lines <- line:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				s.log.Info("input closed, shutting down")
				return nil
			}
			return err
		case line := <-lines:
			if err := s.handleLine(ctx, line); err != nil {
				return err
			}
		}
	}
}

func (s *StdioServer) handleLine(ctx context.Context, line []byte) error {
	req, rpcErr := mcp.ParseRequest(line)
	if rpcErr != nil {
		var id json.RawMessage
		if req != nil {
			id = req.ID
		}
		s.log.Warn("rejected malformed message", zap.String("reason", rpcErr.Message))
		s.write(mcp.NewErrorResponse(id, rpcErr))
		return nil
	}

	if req.Method != mcp.MethodToolsCall || req.IsNotification() {
		s.write(s.adapter.HandleRequest(ctx, req))
		return nil
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	s.calls.Add(1)
	go func() {
		defer s.calls.Done()
		defer s.sem.Release(1)
		s.write(s.adapter.HandleRequest(ctx, req))
	}()
	return nil
}

func (s *StdioServer) write(resp *mcp.Response) {
	if resp == nil {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("failed to encode response", zap.Error(err))
		data, _ = json.Marshal(mcp.NewErrorResponse(resp.ID,
			mcp.NewError(mcp.CodeInternalError, "failed to encode response")))
	}
	data = append(data, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(data); err != nil {
		s.log.Error("failed to write response", zap.Error(err))
	}
}

func (s *StdioServer) shutdown() {
	s.calls.Wait()
	s.adapter.Close()
}

// ServeStdio serves adapter on the given streams until EOF or until ctx is
// cancelled, which is not reported as an error. maxCalls <= 0 selects
// DefaultMaxConcurrentCalls.
func ServeStdio(ctx context.Context, adapter *Adapter, maxCalls int, in io.Reader, out io.Writer, log *zap.Logger) error {
	if maxCalls <= 0 {
		maxCalls = DefaultMaxConcurrentCalls
	}
	err := NewStdioServer(adapter, maxCalls, log).Listen(ctx, in, out)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
