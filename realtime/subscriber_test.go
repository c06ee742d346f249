package realtime

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestParsePayload(t *testing.T) {
	cases := []struct {
		in   string
		want Event
		ok   bool
	}{
		{"attendance-update", Event{Name: "attendance-update"}, true},
		{"  leave-update\n", Event{Name: "leave-update"}, true},
		{`{"event":"widget-update","userId":"u1"}`, Event{Name: "widget-update", UserID: "u1"}, true},
		{`{"type":"attendance-update"}`, Event{Name: "attendance-update"}, true},
		{`{"userId":"u1"}`, Event{}, false},
		{`{broken`, Event{}, false},
		{"", Event{}, false},
	}
	for _, tc := range cases {
		got, ok := ParsePayload(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("ParsePayload(%q) = %+v, %v; want %+v, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestDispatchFiltersOtherUsers(t *testing.T) {
	var got []string
	s := NewSubscriber(nil, "events", func(_ context.Context, name string) error {
		got = append(got, name)
		return nil
	}, func() string { return "u1" }, nil)

	s.Dispatch(context.Background(), `{"event":"attendance-update","userId":"u2"}`)
	s.Dispatch(context.Background(), `{"event":"attendance-update","userId":"u1"}`)
	s.Dispatch(context.Background(), "leave-update")
	s.Dispatch(context.Background(), "")

	if len(got) != 2 || got[0] != "attendance-update" || got[1] != "leave-update" {
		t.Fatalf("unexpected dispatched events %v", got)
	}
}

// Requires a reachable Redis; set PUNCHCLOCK_REDIS_ADDR_INTEGRATION=127.0.0.1:6379.
func TestSubscriberReceivesPublishedEvents(t *testing.T) {
	addr := os.Getenv("PUNCHCLOCK_REDIS_ADDR_INTEGRATION")
	if addr == "" {
		t.Skip("PUNCHCLOCK_REDIS_ADDR_INTEGRATION not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	received := make(chan string, 1)
	s := NewSubscriber(client, "punchclock:test:events", func(_ context.Context, name string) error {
		received <- name
		return nil
	}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	deadline := time.After(5 * time.Second)
	for {
		if err := client.Publish(ctx, "punchclock:test:events", "attendance-update").Err(); err != nil {
			t.Fatalf("publish: %v", err)
		}
		select {
		case name := <-received:
			if name != "attendance-update" {
				t.Fatalf("unexpected event %q", name)
			}
			return
		case <-deadline:
			t.Fatalf("no event received")
		case <-time.After(100 * time.Millisecond):
		}
	}
}
