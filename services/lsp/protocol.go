// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
)

// JSONRPCVersion is the JSON-RPC version used by LSP.
const JSONRPCVersion = "2.0"

// MaxFrameSize bounds a single incoming message body (64MB).
const MaxFrameSize = 64 * 1024 * 1024

// errMalformedFrame marks a header block that cannot be used. The reader
// skips such frames and keeps going.
var errMalformedFrame = errors.New("malformed lsp frame")

// =============================================================================
// JSON-RPC MESSAGE TYPES
// =============================================================================

// Request represents an outgoing JSON-RPC request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Notification represents an outgoing JSON-RPC notification.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// ResponseError represents a JSON-RPC error object.
type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// reply answers a request the server sent to us. The id is echoed back
// verbatim since servers may use string ids. Result is always emitted,
// as null when empty.
type reply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
}

// incomingMessage is the union of every message shape the server sends.
type incomingMessage struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ResponseError  `json:"error,omitempty"`
}

// hasID reports whether the message carries a non-null id.
func (m *incomingMessage) hasID() bool {
	return len(m.ID) > 0 && string(m.ID) != "null"
}

// numericID returns the id as an integer if it is a JSON number.
func (m *incomingMessage) numericID() (int64, bool) {
	id, err := strconv.ParseInt(string(m.ID), 10, 64)
	return id, err == nil
}

// encodeRequest marshals a request payload (without framing).
func encodeRequest(id int64, method string, params any) ([]byte, error) {
	data, err := json.Marshal(Request{JSONRPC: JSONRPCVersion, ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", method, err)
	}
	return data, nil
}

// encodeNotification marshals a notification payload (without framing).
func encodeNotification(method string, params any) ([]byte, error) {
	data, err := json.Marshal(Notification{JSONRPC: JSONRPCVersion, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal %s notification: %w", method, err)
	}
	return data, nil
}

// encodeReply marshals a reply to a server-initiated request.
func encodeReply(id json.RawMessage, result json.RawMessage) ([]byte, error) {
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	data, err := json.Marshal(reply{JSONRPC: JSONRPCVersion, ID: id, Result: result})
	if err != nil {
		return nil, fmt.Errorf("marshal reply: %w", err)
	}
	return data, nil
}

// =============================================================================
// FRAMING
// =============================================================================

// writeFrame writes one Content-Length framed payload and flushes.
func writeFrame(w *bufio.Writer, payload []byte) error {
	if _, err := fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(payload)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// frameReader reads Content-Length framed messages.
type frameReader struct {
	src io.Reader
	r   *bufio.Reader
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{src: r, r: bufio.NewReader(r)}
}

// buffered returns the number of bytes already read from the source but
// not yet consumed as frames.
func (f *frameReader) buffered() int {
	return f.r.Buffered()
}

// waitForData reports whether more input is available within d. It must
// only be called between frames. Sources without read deadlines report
// false unless input is already buffered.
func (f *frameReader) waitForData(d time.Duration) bool {
	if f.r.Buffered() > 0 {
		return true
	}
	dl, ok := f.src.(interface{ SetReadDeadline(time.Time) error })
	if !ok || dl.SetReadDeadline(time.Now().Add(d)) != nil {
		return false
	}
	_, err := f.r.Peek(1)
	_ = dl.SetReadDeadline(time.Time{})
	return err == nil
}

// ReadFrame reads headers up to the blank line, then exactly Content-Length
// body bytes.
//
// Description:
//
//	Only Content-Length is honored, matched case-insensitively. Other
//	headers are skipped. A header block with a missing, invalid, or
//	oversized length yields errMalformedFrame and the caller may keep
//	reading. Any other error means the stream is unusable.
func (f *frameReader) ReadFrame() ([]byte, error) {
	length := -1
	malformed := false

	for {
		line, err := f.r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 || n > MaxFrameSize {
			malformed = true
			continue
		}
		length = n
	}

	if malformed || length < 0 {
		return nil, errMalformedFrame
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(f.r, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// =============================================================================
// PENDING REQUESTS
// =============================================================================

// callResult is delivered to a waiting request exactly once.
type callResult struct {
	msg *incomingMessage
	err error
}

// pendingSlot is the one-shot delivery point for one request.
type pendingSlot struct {
	ch chan callResult

	// settle asks the reader to wait briefly for input that follows the
	// response before delivering it. Used for the initialize handshake.
	settle bool
}

func (s *pendingSlot) deliver(r callResult) {
	s.ch <- r
}

// pendingRequests correlates outstanding request ids with their waiters.
//
// Thread Safety:
//
//	Safe for concurrent use. Guarded by its own mutex so response delivery
//	never contends with the diagnostic cache or document bookkeeping.
type pendingRequests struct {
	mu     sync.Mutex
	slots  map[int64]*pendingSlot
	closed error
}

func newPendingRequests() *pendingRequests {
	return &pendingRequests{slots: make(map[int64]*pendingSlot)}
}

// register creates the one-shot slot for id.
func (p *pendingRequests) register(id int64) (<-chan callResult, error) {
	return p.registerSlot(id, false)
}

// registerSettled is register for a request whose response must not be
// delivered while the server is still writing what follows it.
func (p *pendingRequests) registerSettled(id int64) (<-chan callResult, error) {
	return p.registerSlot(id, true)
}

func (p *pendingRequests) registerSlot(id int64, settle bool) (<-chan callResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed != nil {
		return nil, p.closed
	}
	slot := &pendingSlot{ch: make(chan callResult, 1), settle: settle}
	p.slots[id] = slot
	return slot.ch, nil
}

// take removes and returns the slot for id. The caller owns delivery.
func (p *pendingRequests) take(id int64) (*pendingSlot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	slot, ok := p.slots[id]
	delete(p.slots, id)
	return slot, ok
}

// remove drops the slot for id if it is still registered.
func (p *pendingRequests) remove(id int64) {
	p.mu.Lock()
	delete(p.slots, id)
	p.mu.Unlock()
}

// resolve delivers msg to the waiter for id. Returns false if nobody is
// waiting, for example because the request already timed out.
func (p *pendingRequests) resolve(id int64, msg *incomingMessage) bool {
	slot, ok := p.take(id)
	if !ok {
		return false
	}
	slot.deliver(callResult{msg: msg})
	return true
}

// failAll fails every waiter with err and rejects future registrations.
func (p *pendingRequests) failAll(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = err
	for id, slot := range p.slots {
		slot.deliver(callResult{err: err})
		delete(p.slots, id)
	}
}

// count returns the number of outstanding requests.
func (p *pendingRequests) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}
