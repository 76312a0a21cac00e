package natsutil

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

func startTestNATS(t *testing.T) *nats.Conn {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})
	return nc
}

type row struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

func TestPublishSubscribe(t *testing.T) {
	nc := startTestNATS(t)

	ch := make(chan Delivery[row], 1)
	sub, err := Subscribe(nc, "test.rows", func(_ context.Context, d Delivery[row]) {
		ch <- d
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	if err := Publish(context.Background(), nc, "test.rows", row{Question: "Что такое страйк?", Answer: "Все 10 кеглей."}); err != nil {
		t.Fatal(err)
	}

	select {
	case d := <-ch:
		if d.Value.Question != "Что такое страйк?" || d.Retries != 0 || d.Subject != "test.rows" {
			t.Fatalf("unexpected delivery: %+v", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishRetryHeader(t *testing.T) {
	nc := startTestNATS(t)

	ch := make(chan int, 1)
	sub, err := Subscribe(nc, "test.retry", func(_ context.Context, d Delivery[row]) {
		ch <- d.Retries
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	if err := PublishRetry(context.Background(), nc, "test.retry", row{Question: "q"}, 2); err != nil {
		t.Fatal(err)
	}
	select {
	case n := <-ch:
		if n != 2 {
			t.Fatalf("retries = %d", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout")
	}
}

func TestSubscribeMalformed(t *testing.T) {
	nc := startTestNATS(t)

	called := make(chan struct{}, 1)
	bad := make(chan error, 1)
	sub, err := Subscribe(nc, "test.malformed", func(context.Context, Delivery[row]) {
		called <- struct{}{}
	}, func(_ *nats.Msg, err error) { bad <- err })
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	nc.Publish("test.malformed", []byte("{bad"))
	nc.Flush()

	select {
	case <-called:
		t.Fatal("handler should not be called for malformed data")
	case err := <-bad:
		if err == nil {
			t.Fatal("expected decode error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout")
	}
}

func TestRetryCount(t *testing.T) {
	msg := nats.NewMsg("x")
	if RetryCount(msg) != 0 {
		t.Fatal("expected 0 without header")
	}
	msg.Header.Set(RetryHeader, "garbage")
	if RetryCount(msg) != 0 {
		t.Fatal("expected 0 for malformed header")
	}
	msg.Header.Set(RetryHeader, "3")
	if RetryCount(msg) != 3 {
		t.Fatal("expected 3")
	}
}

func TestRequestRespond(t *testing.T) {
	nc := startTestNATS(t)

	type stats struct{ Points int }
	sub, err := Respond(nc, "test.stats", func(_ context.Context, r row) stats {
		return stats{Points: len(r.Question)}
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	resp, err := Request[row, stats](context.Background(), nc, "test.stats", row{Question: "abcd"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Points != 4 {
		t.Fatalf("unexpected resp: %+v", resp)
	}
}

func TestRequestTimeout(t *testing.T) {
	nc := startTestNATS(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := Request[row, row](ctx, nc, "test.noreply", row{Question: "x"})
	if err == nil {
		t.Fatal("expected error without responder")
	}
}

func TestPublishMarshalError(t *testing.T) {
	nc := startTestNATS(t)

	err := Publish(context.Background(), nc, "test.err", make(chan int))
	if err == nil {
		t.Fatal("expected marshal error")
	}
}
