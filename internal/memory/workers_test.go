package memory

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/perceptualart/torbobase-sub002/internal/bus"
	"github.com/perceptualart/torbobase-sub002/internal/store"
	"github.com/perceptualart/torbobase-sub002/pkg/protocol"
)

type completerFunc func(ctx context.Context, prompt string) (string, error)

func (f completerFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

func newPoolFixture(t *testing.T, completer Completer, pub bus.EventPublisher) (*Pool, *Index, *LegacyStore) {
	t.Helper()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "mem.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	idx, err := NewIndex(db, NewHashEmbedder(64), 100)
	if err != nil {
		t.Fatal(err)
	}
	legacy, err := NewLegacyStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return NewPool(idx, legacy, completer, pub, PoolConfig{Workers: 1, QueueDepth: 4}), idx, legacy
}

func TestPoolExtractsAndIndexes(t *testing.T) {
	completer := completerFunc(func(_ context.Context, prompt string) (string, error) {
		if !strings.Contains(prompt, "I moved to Porto") {
			t.Errorf("user text missing from extraction prompt")
		}
		return "```json\n" + `{"facts": ["user moved to Porto"],
 "preferences": {"city": "Porto"},
 "current_topic": "relocation"}` + "\n```", nil
	})

	msgBus := bus.New()
	indexed := make(chan bus.Event, 8)
	msgBus.Subscribe("test", func(e bus.Event) {
		if e.Name == protocol.EventMemoryIndexed {
			indexed <- e
		}
	})

	pool, idx, legacy := newPoolFixture(t, completer, msgBus)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	if !pool.EnqueueExtract(ExtractJob{
		UserText:      "I moved to Porto last month",
		AssistantText: "Congratulations on the move!",
	}) {
		t.Fatal("enqueue refused on an empty queue")
	}

	deadline := time.After(5 * time.Second)
	for idx.Count() < 2 {
		select {
		case <-deadline:
			t.Fatalf("extraction never landed, count = %d", idx.Count())
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done

	counts := idx.CategoryCounts()
	if counts[CategoryFact] != 1 || counts[CategoryPreference] != 1 {
		t.Errorf("category counts = %v", counts)
	}
	if got := legacy.User().Preferences["city"]; got != "Porto" {
		t.Errorf("legacy merge missed preference: %q", got)
	}
	if got := legacy.Working().CurrentTopic; got != "relocation" {
		t.Errorf("legacy merge missed topic: %q", got)
	}

	select {
	case <-indexed:
	default:
		t.Error("no memory.indexed event broadcast")
	}
}

func TestPoolExtractionFailureIsSilent(t *testing.T) {
	completer := completerFunc(func(_ context.Context, _ string) (string, error) {
		return "I cannot help with that.", nil
	})
	pool, idx, _ := newPoolFixture(t, completer, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	pool.EnqueueExtract(ExtractJob{UserText: "hello"})

	deadline := time.After(2 * time.Second)
	for pool.QueueLen() > 0 {
		select {
		case <-deadline:
			t.Fatal("job never drained")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done

	if idx.Count() != 0 {
		t.Errorf("unparseable extraction still indexed %d records", idx.Count())
	}
}

func TestEnqueueExtractDropsWhenFull(t *testing.T) {
	// No workers running, so the queue fills.
	pool, _, _ := newPoolFixture(t, nil, nil)

	for i := 0; i < 4; i++ {
		if !pool.EnqueueExtract(ExtractJob{UserText: "x"}) {
			t.Fatalf("enqueue %d refused below capacity", i)
		}
	}
	if pool.EnqueueExtract(ExtractJob{UserText: "overflow"}) {
		t.Error("enqueue accepted past queue depth")
	}
	if pool.QueueLen() != 4 {
		t.Errorf("QueueLen = %d", pool.QueueLen())
	}
}

func TestExtractionCandidates(t *testing.T) {
	ex := &Extraction{
		Facts:        []string{"likes hiking", "  ", "born in 1990"},
		Preferences:  map[string]string{"drink": "tea"},
		Projects:     map[string]string{"shed": "painting"},
		PendingTasks: []string{"buy paint", ""},
	}
	cands := ex.candidates()
	if len(cands) != 5 {
		t.Fatalf("candidates = %d, want 5", len(cands))
	}
	byCat := make(map[string]int)
	for _, c := range cands {
		byCat[c.category]++
		if c.text == "" {
			t.Error("blank candidate survived")
		}
	}
	if byCat[CategoryFact] != 2 || byCat[CategoryPreference] != 1 ||
		byCat[CategoryProject] != 1 || byCat[CategoryWorking] != 1 {
		t.Errorf("category split = %v", byCat)
	}
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare json", `{"facts": []}`, `{"facts": []}`},
		{"fenced", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"fenced no lang", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"prose around object", "Sure! Here you go: {\"a\": 1} Hope that helps.", `{"a": 1}`},
		{"leading whitespace", "  \n{\"a\": 1}", `{"a": 1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripFences(tt.in); got != tt.want {
				t.Errorf("stripFences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
