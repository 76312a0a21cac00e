// Package natsutil provides typed NATS publish/subscribe/request helpers
// with OpenTelemetry trace propagation and a redelivery counter header.
package natsutil

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// RetryHeader carries the number of failed attempts for a redelivered message.
const RetryHeader = "X-Retry-Count"

// natsHeaderCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type natsHeaderCarrier nats.Msg

func (c *natsHeaderCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *natsHeaderCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Delivery is a decoded message plus its redelivery count.
type Delivery[T any] struct {
	Subject string
	Value   T
	Retries int
	Raw     []byte
}

// Publish serializes v as JSON and publishes to the given subject.
// Trace context from ctx is injected into NATS message headers.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	return PublishRetry(ctx, nc, subject, v, 0)
}

// PublishRetry publishes v with the retry counter set to retries.
func PublishRetry[T any](ctx context.Context, nc *nats.Conn, subject string, v T, retries int) error {
	msg, err := newMsg(ctx, subject, v)
	if err != nil {
		return err
	}
	if retries > 0 {
		msg.Header.Set(RetryHeader, strconv.Itoa(retries))
	}
	return nc.PublishMsg(msg)
}

// Subscribe registers a handler that deserializes JSON messages of type T.
// Trace context is extracted from NATS message headers and passed to the handler.
// Malformed messages are handed to onMalformed when set, otherwise dropped.
func Subscribe[T any](nc *nats.Conn, subject string, handler func(context.Context, Delivery[T]), onMalformed func(*nats.Msg, error)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			if onMalformed != nil {
				onMalformed(msg, err)
			}
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*natsHeaderCarrier)(msg))
		handler(ctx, Delivery[T]{
			Subject: msg.Subject,
			Value:   v,
			Retries: RetryCount(msg),
			Raw:     msg.Data,
		})
	})
}

// RetryCount reads the retry counter header, 0 when absent or malformed.
func RetryCount(msg *nats.Msg) int {
	if msg.Header == nil {
		return 0
	}
	n, err := strconv.Atoi(msg.Header.Get(RetryHeader))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Request sends a JSON-encoded request and decodes the response.
// Without a deadline on ctx, nats.DefaultTimeout applies.
func Request[Req, Resp any](ctx context.Context, nc *nats.Conn, subject string, req Req) (Resp, error) {
	var zero Resp
	msg, err := newMsg(ctx, subject, req)
	if err != nil {
		return zero, err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, nats.DefaultTimeout)
		defer cancel()
	}
	resp, err := nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return zero, err
	}
	var result Resp
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return zero, err
	}
	return result, nil
}

// Respond serves Request calls on subject. Malformed requests get no reply.
func Respond[Req, Resp any](nc *nats.Conn, subject string, handler func(context.Context, Req) Resp) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		var req Req
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*natsHeaderCarrier)(msg))
		data, err := json.Marshal(handler(ctx, req))
		if err != nil {
			return
		}
		_ = msg.Respond(data)
	})
}

func newMsg[T any](ctx context.Context, subject string, v T) (*nats.Msg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header:  make(nats.Header),
	}
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	return msg, nil
}
