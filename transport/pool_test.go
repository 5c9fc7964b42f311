package transport

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/nimbusdb/corekit/corekv"
	"github.com/nimbusdb/corekit/corereq"
	"github.com/nimbusdb/corekit/node"
	"github.com/nimbusdb/corekit/svctype"
	"github.com/nimbusdb/corekit/wire"
)

type fakeSink struct {
	done chan struct{}
	resp corereq.Response
	err  error
}

func newFakeSink() *fakeSink { return &fakeSink{done: make(chan struct{})} }

func (s *fakeSink) Succeed(resp corereq.Response) {
	s.resp = resp
	close(s.done)
}

func (s *fakeSink) Fail(err error) {
	s.err = err
	close(s.done)
}

// echoServer accepts one connection and, for every request frame it
// reads, writes back a success frame carrying the same opaque.
func echoServer(t *testing.T, ln net.Listener) {
	t.Helper()
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	codec := wire.NewBinaryCodec()
	lenBuf := make([]byte, 4)
	for {
		if _, err := readFull(conn, lenBuf); err != nil {
			return
		}
		body := make([]byte, binary.BigEndian.Uint32(lenBuf))
		if _, err := readFull(conn, body); err != nil {
			return
		}
		frame, err := codec.Decode(body)
		if err != nil {
			return
		}
		resp, _ := wire.WriteFrame(codec, wire.Frame{Opaque: frame.Opaque, Status: wire.StatusOK, Body: []byte("ok")})
		if _, err := conn.Write(resp); err != nil {
			return
		}
	}
}

func TestKVEndpointPoolSendAndReceive(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go echoServer(t, ln)

	pool, err := NewKVEndpointPool(NewTCPConnector(), wire.NewBinaryCodec(), PoolConfig{
		Endpoints:              []string{ln.Addr().String()},
		ConnectionsPerEndpoint: 1,
		RetryCount:             3,
		Timeout:                2 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewKVEndpointPool: %v", err)
	}
	defer pool.Close()

	if pool.State() != node.StateConnected {
		t.Fatalf("expected StateConnected, got %v", pool.State())
	}

	sink := newFakeSink()
	req := corekv.NewKeyValueRequest(time.Second, nil, "k",
		corekv.CollectionIdentifier{Bucket: "default"}, nil, sink)

	pool.Send(req)

	select {
	case <-sink.done:
		if sink.err != nil {
			t.Fatalf("expected success, got error: %v", sink.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the echoed response")
	}
}

func TestKVEndpointPoolFailsConstructionWithNoReachableEndpoints(t *testing.T) {
	_, err := NewKVEndpointPool(NewTCPConnector(), wire.NewBinaryCodec(), PoolConfig{
		Endpoints: []string{"127.0.0.1:1"}, // port 1 is never listening
	})
	if err == nil {
		t.Fatal("expected construction to fail when no endpoint is reachable")
	}
}

func TestKVEndpointPoolSendRejectsNonKVRequest(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go echoServer(t, ln)

	pool, err := NewKVEndpointPool(NewTCPConnector(), wire.NewBinaryCodec(), PoolConfig{
		Endpoints: []string{ln.Addr().String()},
	})
	if err != nil {
		t.Fatalf("NewKVEndpointPool: %v", err)
	}
	defer pool.Close()

	sink := newFakeSink()
	req := &nonKVRequest{BaseRequest: corereq.NewBaseRequest(svctype.Unknown, time.Second, nil, nil, sink)}
	pool.Send(req)

	select {
	case <-sink.done:
		if sink.err == nil {
			t.Fatal("expected a non-KV request to be cancelled")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cancellation")
	}
}

func TestKVEndpointPoolCloseStopsConnections(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go echoServer(t, ln)

	pool, err := NewKVEndpointPool(NewTCPConnector(), wire.NewBinaryCodec(), PoolConfig{
		Endpoints: []string{ln.Addr().String()},
	})
	if err != nil {
		t.Fatalf("NewKVEndpointPool: %v", err)
	}

	if err := pool.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if pool.State() != node.StateDisconnecting {
		t.Errorf("expected StateDisconnecting after Close, got %v", pool.State())
	}
	diag := pool.Diagnostics()
	if diag.LocalEndpoints != 0 {
		t.Errorf("expected 0 local endpoints after Close, got %d", diag.LocalEndpoints)
	}
}

type nonKVRequest struct {
	*corereq.BaseRequest
}
