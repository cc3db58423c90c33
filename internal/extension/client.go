package extension

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// maxFrameSize bounds one protocol line.
const maxFrameSize = 32 << 20

// closeGrace is how long Close waits for an extension to exit after its
// stdin is closed before killing it.
const closeGrace = 2 * time.Second

// requestHandler answers a request sent by the extension.
type requestHandler func(ctx context.Context, c *client, method string, params json.RawMessage) (any, error)

// eventHandler receives an unsolicited event from the extension.
type eventHandler func(c *client, name string, data json.RawMessage)

type result struct {
	raw json.RawMessage
	err error
}

// client is the RPC connection to one extension process. Outstanding
// requests are kept in a table keyed by id and resolved by a single reader
// goroutine. When the process exits every outstanding request fails with the
// same *HostError and the client stays unusable.
type client struct {
	path string
	cmd  *exec.Cmd

	stdin   io.WriteCloser
	writeMu sync.Mutex

	nextID  atomic.Int64
	mu      sync.Mutex
	pending map[int64]chan result
	dead    *HostError

	done       chan struct{}
	stderrDone chan struct{}
	wg         sync.WaitGroup
	handler    requestHandler
	onEvent    eventHandler

	// ctx is cancelled when the client dies; incoming request handlers use it.
	ctx    context.Context
	cancel context.CancelFunc

	log zerolog.Logger
}

func startClient(path string, cmd *exec.Cmd, handler requestHandler, onEvent eventHandler, log zerolog.Logger) (*client, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, hostErrorf(path, "", err, "failed to open stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, hostErrorf(path, "", err, "failed to open stdout")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, hostErrorf(path, "", err, "failed to open stderr")
	}
	if err := cmd.Start(); err != nil {
		return nil, hostErrorf(path, "", err, "failed to start extension")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &client{
		path:       path,
		cmd:        cmd,
		stdin:      stdin,
		pending:    make(map[int64]chan result),
		done:       make(chan struct{}),
		stderrDone: make(chan struct{}),
		handler:    handler,
		onEvent:    onEvent,
		ctx:        ctx,
		cancel:     cancel,
		log:        log.With().Str("extension", path).Logger(),
	}

	c.wg.Add(2)
	go c.readLoop(stdout)
	go c.logStderr(stderr)
	return c, nil
}

// readLoop dispatches frames until stdout closes, then fails the client.
func (c *client) readLoop(stdout io.Reader) {
	defer c.wg.Done()

	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var f frame
		if err := json.Unmarshal(line, &f); err != nil {
			c.log.Warn().Err(err).Msg("skipping malformed frame")
			continue
		}
		switch {
		case f.isResponse():
			c.resolve(&f)
		case f.isRequest():
			c.wg.Add(1)
			if isRegistration(f.Method) {
				c.serve(f)
			} else {
				go c.serve(f)
			}
		case f.isEvent():
			if c.onEvent != nil {
				c.onEvent(c, f.Event, f.Data)
			}
		default:
			c.log.Warn().RawJSON("frame", line).Msg("skipping frame without id, method or event")
		}
	}

	readErr := sc.Err()
	if readErr != nil && c.cmd.Process != nil {
		// stdout is unreadable, so the process cannot be talked to anymore.
		_ = c.cmd.Process.Kill()
	}
	<-c.stderrDone
	waitErr := c.cmd.Wait()
	err := errors.Join(readErr, waitErr)
	c.fail(hostErrorf(c.path, "", err, "extension process exited"))
}

func (c *client) logStderr(stderr io.Reader) {
	defer c.wg.Done()
	defer close(c.stderrDone)
	sc := bufio.NewScanner(stderr)
	sc.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	for sc.Scan() {
		c.log.Debug().Str("stream", "stderr").Msg(sc.Text())
	}
}

func (c *client) resolve(f *frame) {
	id, err := strconv.ParseInt(string(f.ID), 10, 64)
	if err != nil {
		c.log.Warn().RawJSON("id", f.ID).Msg("response with unknown id")
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if !ok {
		c.log.Warn().Int64("id", id).Msg("response for no pending request")
		return
	}

	if f.Error != nil {
		ch <- result{err: &RPCErrorResponse{RPCError: *f.Error}}
		return
	}
	ch <- result{raw: f.Result}
}

// serve answers one request from the extension.
func (c *client) serve(f frame) {
	defer c.wg.Done()

	var out any
	res, err := c.handler(c.ctx, c, f.Method, f.Params)
	if err != nil {
		out = errorResponse{ID: f.ID, Error: RPCError{Message: err.Error()}}
	} else {
		out = response{ID: f.ID, Result: res}
	}
	if err := c.write(out); err != nil {
		c.log.Debug().Err(err).Str("method", f.Method).Msg("failed to answer request")
	}
}

// fail marks the client dead and resolves every outstanding request with err.
func (c *client) fail(err *HostError) {
	c.mu.Lock()
	if c.dead != nil {
		c.mu.Unlock()
		return
	}
	c.dead = err
	pending := c.pending
	c.pending = make(map[int64]chan result)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- result{err: err}
	}
	c.cancel()
	close(c.done)
	c.log.Debug().Err(err).Int("failedCalls", len(pending)).Msg("extension stopped")
}

// Err returns the error that made the client unusable, or nil.
func (c *client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dead == nil {
		return nil
	}
	return c.dead
}

// call sends a request and waits for its response.
func (c *client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	ch := make(chan result, 1)

	c.mu.Lock()
	if c.dead != nil {
		err := c.dead
		c.mu.Unlock()
		return nil, err
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.write(request{ID: id, Method: method, Params: params}); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		dead := c.dead
		c.mu.Unlock()
		if dead != nil {
			return nil, dead
		}
		return nil, hostErrorf(c.path, method, err, "failed to send request")
	}

	select {
	case r := <-ch:
		return r.raw, r.err
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// notify sends an event without waiting.
func (c *client) notify(name string, data any) error {
	if err := c.Err(); err != nil {
		return err
	}
	return c.write(event{Event: name, Data: data})
}

func (c *client) write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.stdin.Write(append(b, '\n'))
	return err
}

// close asks the extension to exit by closing its stdin, kills it after a
// grace period, and waits for the reader goroutines.
func (c *client) close() {
	c.writeMu.Lock()
	_ = c.stdin.Close()
	c.writeMu.Unlock()

	select {
	case <-c.done:
	case <-time.After(closeGrace):
		if c.cmd.Process != nil {
			_ = c.cmd.Process.Kill()
		}
		<-c.done
	}
	c.wg.Wait()
}

// kill terminates the process immediately.
func (c *client) kill() {
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	c.close()
}

// RPCErrorResponse is returned when an extension answers a request with an
// error.
type RPCErrorResponse struct {
	RPCError
}

func (e *RPCErrorResponse) Error() string { return e.Message }
