package api

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/mailbatch/internal/msgstore"
	"github.com/sungwon/mailbatch/internal/pipeline"
	"github.com/sungwon/mailbatch/internal/transport"
)

func TestRouter_SubmitAndPoll(t *testing.T) {
	outDir := t.TempDir()
	store := msgstore.NewContentStore(msgstore.NewMemoryStore())
	ctrl := pipeline.New(pipeline.Config{}, store, transport.NewFile(outDir), zerolog.Nop())
	ctrl.Start(context.Background())
	t.Cleanup(func() { ctrl.Stop(context.Background()) })

	h := NewRouter(Deps{Pipeline: ctrl, DefaultFrom: "noreply@example.com"}, zerolog.Nop())

	rec := doRequest(h, http.MethodPost, "/batches", `{"type":"welcome","messages":[
		{"to":["a@example.com"],"subject":"one","text":"hi"},
		{"to":["b@example.com"],"subject":"two","text":"hi"},
		{"to":["not an address"],"subject":"three"}]}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var accepted batchResponse
	if err := json.NewDecoder(rec.Body).Decode(&accepted); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if accepted.BatchID == "" {
		t.Fatal("expected a batch id")
	}

	var status batchResponse
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec = doRequest(h, http.MethodGet, "/batches/"+accepted.BatchID, "")
		if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if status.Done {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if !status.Done || status.Total != 3 || status.Processed != 3 {
		t.Fatalf("unexpected final status %+v", status)
	}
	if status.States["send_success"] != 2 || status.States["prepare_error"] != 1 {
		t.Errorf("unexpected states %v", status.States)
	}

	files, err := filepath.Glob(filepath.Join(outDir, "*.eml"))
	if err != nil || len(files) != 2 {
		t.Errorf("expected 2 delivered files, got %v (%v)", files, err)
	}
	if len(files) > 0 {
		if data, _ := os.ReadFile(files[0]); len(data) == 0 {
			t.Error("delivered file is empty")
		}
	}
}
