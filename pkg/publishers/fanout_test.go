package publishers

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hashicorp/go-multierror"
)

type stubPublisher struct {
	id    string
	typ   string
	err   error
	calls int
}

func (s *stubPublisher) ID() string   { return s.id }
func (s *stubPublisher) Type() string { return s.typ }
func (s *stubPublisher) Publish(context.Context, Event) error {
	s.calls++
	return s.err
}

func TestFanoutPublishAggregatesErrors(t *testing.T) {
	sinkErr := errors.New("failed")
	fanout := NewFanout([]Publisher{
		&stubPublisher{id: "ok", typ: "http"},
		&stubPublisher{id: "bad", typ: "http", err: sinkErr},
		&stubPublisher{id: "worse", typ: "sqs", err: sinkErr},
	})

	count, err := fanout.Publish(context.Background(), Event{})
	if count != 1 {
		t.Fatalf("expected 1 success, got %d", count)
	}
	var merr *multierror.Error
	if !errors.As(err, &merr) {
		t.Fatalf("expected multierror, got %T", err)
	}
	if len(merr.Errors) != 2 {
		t.Fatalf("expected 2 wrapped errors, got %d", len(merr.Errors))
	}
	if !errors.Is(merr.Errors[0], sinkErr) {
		t.Fatalf("expected sink error to be wrapped, got %v", merr.Errors[0])
	}
}

func TestRegistryFanoutSkipsDisabled(t *testing.T) {
	off := false
	fanout, err := DefaultRegistry().Fanout(context.Background(), []PublisherConfig{
		{ID: "http", Type: TypeHTTP, HTTP: &HTTPPublisherConfig{URL: "https://example.com"}},
		{ID: "muted", Type: TypeHTTP, Enabled: &off, HTTP: &HTTPPublisherConfig{URL: "https://example.com/2"}},
	}, nil)
	if err != nil {
		t.Fatalf("Fanout: %v", err)
	}
	if fanout.Size() != 1 {
		t.Fatalf("expected 1 publisher, got %d", fanout.Size())
	}
}

type closingPublisher struct {
	stubPublisher
	closed bool
}

func (c *closingPublisher) Close() error {
	c.closed = true
	return nil
}

func TestFanoutCloseReleasesClosers(t *testing.T) {
	closer := &closingPublisher{stubPublisher: stubPublisher{id: "c", typ: "gcp_pubsub"}}
	fanout := NewFanout([]Publisher{closer, &stubPublisher{id: "plain", typ: "http"}, nil})

	if fanout.Size() != 2 {
		t.Fatalf("expected nil publishers to be skipped, got %d", fanout.Size())
	}
	if err := fanout.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !closer.closed {
		t.Fatalf("expected closer to be closed")
	}
}

func TestRegistryFanoutUnknownTypeClosesBuilt(t *testing.T) {
	closer := &closingPublisher{stubPublisher: stubPublisher{id: "first", typ: "stub"}}
	reg := NewRegistry().Register("stub", func(context.Context, PublisherConfig, Logger) (Publisher, error) {
		return closer, nil
	})

	_, err := reg.Fanout(context.Background(), []PublisherConfig{
		{ID: "first", Type: "stub"},
		{ID: "k", Type: "kafka"},
	}, nil)
	if err == nil {
		t.Fatalf("expected error for unregistered type")
	}
	if !strings.Contains(err.Error(), "known: stub") {
		t.Fatalf("expected known types in error, got %v", err)
	}
	if !closer.closed {
		t.Fatalf("expected already built publisher to be closed")
	}
}

func TestDefaultRegistryTypes(t *testing.T) {
	got := strings.Join(DefaultRegistry().Types(), ",")
	if got != "gcp_pubsub,http,sns,sqs" {
		t.Fatalf("unexpected types %s", got)
	}
}
