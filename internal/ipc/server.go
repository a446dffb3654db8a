package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// requestReadTimeout bounds how long a connected client may take to send its
// request line. Handling the request is not bounded.
const requestReadTimeout = 2 * time.Second

// Handler processes one IPC command request. Handle may block; each connection is
// served on its own goroutine.
type Handler interface {
	Handle(context.Context, Request) Response
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, Request) Response

func (f HandlerFunc) Handle(ctx context.Context, req Request) Response {
	return f(ctx, req)
}

// Serve accepts clients until ctx is cancelled or the listener closes, then waits
// for in-flight requests. Each connection carries one request and one response.
func Serve(ctx context.Context, listener net.Listener, handler Handler) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	stop := context.AfterFunc(ctx, func() { _ = listener.Close() })
	defer stop()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept IPC connection: %w", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			serveConn(ctx, conn, handler)
		}()
	}
}

func serveConn(ctx context.Context, conn net.Conn, handler Handler) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(requestReadTimeout))
	var req Request
	if err := readMessage(bufio.NewReader(conn), &req, "request"); err != nil {
		_ = writeMessage(conn, Response{Error: err.Error()})
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	resp := handler.Handle(ctx, req)
	if resp.ID == "" {
		resp.ID = req.ID
	}
	_ = writeMessage(conn, resp)
}
