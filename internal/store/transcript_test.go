package store

import (
	"context"
	"testing"
)

func TestTranscriptStore(t *testing.T) {
	pool := getTestPool(t)
	defer pool.Close()

	s := NewTranscriptStore(pool)
	ctx := context.Background()
	pool.Exec(ctx, "DELETE FROM transcripts WHERE session_id LIKE 'test-%'")

	t.Run("Load_Missing", func(t *testing.T) {
		_, found, err := s.Load(ctx, "test-missing")
		if err != nil || found {
			t.Errorf("Load = found %v, err %v", found, err)
		}
	})

	t.Run("Save_Then_Load", func(t *testing.T) {
		if err := s.Save(ctx, "test-s1", sampleMessages()); err != nil {
			t.Fatalf("Save: %v", err)
		}
		msgs, found, err := s.Load(ctx, "test-s1")
		if err != nil || !found {
			t.Fatalf("Load = found %v, err %v", found, err)
		}
		if len(msgs) != 2 || msgs[0].Text != "what is 6*7?" {
			t.Errorf("loaded = %+v", msgs)
		}
	})

	t.Run("Recent_Includes_Saved", func(t *testing.T) {
		recent, err := s.Recent(ctx, 500)
		if err != nil {
			t.Fatalf("Recent: %v", err)
		}
		found := false
		for _, r := range recent {
			if r.SessionID == "test-s1" && r.MessageCount == 2 {
				found = true
			}
		}
		if !found {
			t.Errorf("test-s1 missing from recent: %+v", recent)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := s.Delete(ctx, "test-s1"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, found, _ := s.Load(ctx, "test-s1"); found {
			t.Error("still cached after delete")
		}
	})
}
