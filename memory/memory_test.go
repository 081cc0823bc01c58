package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/relaykit/message-api/api"
)

// clock returns a time source that advances one second per call, starting
// at 2024-01-01 00:00:00 UTC.
func clock() func() time.Time {
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		now := t
		t = t.Add(time.Second)
		return now
	}
}

func insert(t *testing.T, s *Store, contents ...string) []api.Message {
	t.Helper()
	out := make([]api.Message, len(contents))
	for i, c := range contents {
		m, err := s.InsertMessage(context.Background(), api.Message{Content: c})
		if err != nil {
			t.Fatalf("Insert %q failed: %v", c, err)
		}
		out[i] = m
	}
	return out
}

func TestStore_InsertMessage(t *testing.T) {
	s := New(WithClock(clock()))
	ctx := context.Background()

	got, err := s.InsertMessage(ctx, api.Message{
		ID:      "ignored",
		Content: "  hello  ",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := api.ParseID(got.ID); err != nil {
		t.Errorf("Generated id %q is not a UUID", got.ID)
	}
	if got.Content != "  hello  " {
		t.Errorf("Stored content %q, want it verbatim", got.Content)
	}
	if want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC); !got.CreatedAt.Equal(want) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, want)
	}

	latest, err := s.LatestMessage(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(latest, got); diff != "" {
		t.Errorf("Diff (-got +want)\n%s", diff)
	}
}

func TestStore_InsertMessage_Empty(t *testing.T) {
	for _, content := range []string{"", "   ", "\n\t"} {
		s := New()
		_, err := s.InsertMessage(context.Background(), api.Message{Content: content})
		if !errors.Is(err, api.ErrEmptyContent) {
			t.Errorf("Insert %q: got error %v, want ErrEmptyContent", content, err)
		}
		n, _ := s.CountMessages(context.Background())
		if n != 0 {
			t.Errorf("Insert %q: count = %d, want 0", content, n)
		}
	}
}

func TestStore_ListMessages(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		contents []string
		want     []string
	}{
		{
			name: "Empty",
			want: []string{},
		},
		{
			name:     "NewestFirst",
			opts:     []Option{WithClock(clock())},
			contents: []string{"one", "two", "three"},
			want:     []string{"three", "two", "one"},
		},
		{
			name: "SameTimestamp",
			opts: []Option{WithClock(func() time.Time {
				return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			})},
			contents: []string{"one", "two"},
			want:     []string{"two", "one"},
		},
		{
			name:     "Capacity",
			opts:     []Option{WithClock(clock()), WithCapacity(2)},
			contents: []string{"one", "two", "three"},
			want:     []string{"three", "two"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(tt.opts...)
			insert(t, s, tt.contents...)

			msgs, err := s.ListMessages(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			got := make([]string, len(msgs))
			for i, m := range msgs {
				got[i] = m.Content
			}
			if diff := cmp.Diff(got, tt.want); diff != "" {
				t.Errorf("Diff (-got +want)\n%s", diff)
			}
		})
	}
}

func TestStore_Slot(t *testing.T) {
	ctx := context.Background()
	s := New(WithCapacity(1), WithClock(clock()))

	text, err := api.LatestText(ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if text != api.NoMessagesText {
		t.Errorf("Empty slot text = %q, want %q", text, api.NoMessagesText)
	}

	insert(t, s, "first", "second")
	if text, _ = api.LatestText(ctx, s); text != "second" {
		t.Errorf("Slot text = %q, want %q", text, "second")
	}
	if n, _ := s.CountMessages(ctx); n != 1 {
		t.Errorf("Slot holds %d messages, want 1", n)
	}

	if err := s.DeleteMessages(ctx); err != nil {
		t.Fatal(err)
	}
	if text, _ = api.LatestText(ctx, s); text != api.NoMessagesText {
		t.Errorf("Cleared slot text = %q, want %q", text, api.NoMessagesText)
	}
}

func TestStore_GetMessage(t *testing.T) {
	s := New(WithClock(clock()))
	msgs := insert(t, s, "hello", "world")

	tests := []struct {
		name    string
		id      string
		want    api.Message
		wantErr error
	}{
		{name: "OK", id: msgs[0].ID, want: msgs[0]},
		{name: "Uppercase", id: strings.ToUpper(msgs[1].ID), want: msgs[1]},
		{name: "NotFound", id: "7f1f1803-d3cf-46a9-acd2-6aa9d4b8b4c0", wantErr: api.ErrNotFound},
		{name: "InvalidID", id: "not-a-uuid", wantErr: api.ErrInvalidID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.GetMessage(context.Background(), tt.id)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Got error %v, want %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(got, tt.want, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("Diff (-got +want)\n%s", diff)
			}
		})
	}
}

func TestStore_DeleteMessage(t *testing.T) {
	ctx := context.Background()
	s := New(WithClock(clock()))
	msgs := insert(t, s, "hello", "world")

	if err := s.DeleteMessage(ctx, "nope"); !errors.Is(err, api.ErrInvalidID) {
		t.Errorf("Invalid id: got error %v, want ErrInvalidID", err)
	}
	if err := s.DeleteMessage(ctx, msgs[0].ID); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteMessage(ctx, msgs[0].ID); !errors.Is(err, api.ErrNotFound) {
		t.Errorf("Second delete: got error %v, want ErrNotFound", err)
	}

	got, err := s.ListMessages(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(got, msgs[1:]); diff != "" {
		t.Errorf("Diff (-got +want)\n%s", diff)
	}
}

func TestStore_DeleteMessages(t *testing.T) {
	ctx := context.Background()
	s := New()

	// Deleting from an empty store succeeds.
	if err := s.DeleteMessages(ctx); err != nil {
		t.Fatal(err)
	}

	insert(t, s, "a", "b", "c")
	if err := s.DeleteMessages(ctx); err != nil {
		t.Fatal(err)
	}
	got, err := s.ListMessages(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("Got %d messages after delete, want 0", len(got))
	}
	if _, err := s.LatestMessage(ctx); !errors.Is(err, api.ErrNotFound) {
		t.Errorf("Latest after delete: got error %v, want ErrNotFound", err)
	}
}

func TestStore_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := New()
	const (
		writers = 8
		perG    = 50
	)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		kept []api.Message
	)
	for g := 0; g < writers; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perG; i++ {
				m, err := s.InsertMessage(ctx, api.Message{Content: "hello"})
				if err != nil {
					t.Errorf("Insert failed: %v", err)
					return
				}
				// Every other message is deleted again right away.
				if i%2 == 0 {
					if err := s.DeleteMessage(ctx, m.ID); err != nil {
						t.Errorf("Delete failed: %v", err)
					}
					continue
				}
				mu.Lock()
				kept = append(kept, m)
				mu.Unlock()
			}
		}()
	}
	for g := 0; g < writers; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perG; i++ {
				msgs, err := s.ListMessages(ctx)
				if err != nil {
					t.Errorf("List failed: %v", err)
					return
				}
				for j := 1; j < len(msgs); j++ {
					if msgs[j].CreatedAt.After(msgs[j-1].CreatedAt) {
						t.Errorf("List out of order at %d", j)
						return
					}
				}
				if _, err := s.CountMessages(ctx); err != nil {
					t.Errorf("Count failed: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	n, err := s.CountMessages(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if want := writers * perG / 2; n != want || len(kept) != want {
		t.Fatalf("Got %d stored and %d kept messages, want %d", n, len(kept), want)
	}
	for _, m := range kept {
		if _, err := s.GetMessage(ctx, m.ID); err != nil {
			t.Errorf("Kept message %s: %v", m.ID, err)
		}
	}

	// Clearing while inserting leaves only messages inserted after the clear.
	var cleared sync.WaitGroup
	cleared.Add(2)
	go func() {
		defer cleared.Done()
		for i := 0; i < perG; i++ {
			if _, err := s.InsertMessage(ctx, api.Message{Content: "late"}); err != nil {
				t.Errorf("Insert failed: %v", err)
			}
		}
	}()
	go func() {
		defer cleared.Done()
		if err := s.DeleteMessages(ctx); err != nil {
			t.Errorf("DeleteMessages failed: %v", err)
		}
	}()
	cleared.Wait()

	msgs, err := s.ListMessages(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) > perG {
		t.Errorf("Got %d messages after clear, want at most %d", len(msgs), perG)
	}
	for _, m := range msgs {
		if m.Content != "late" {
			t.Errorf("Message %q survived DeleteMessages", m.Content)
		}
	}
}
