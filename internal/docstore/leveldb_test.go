package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestWriteAndRead(t *testing.T) {
	store := newTestStore(t)

	doc := json.RawMessage(`{"urls":["/","/static/app.js"]}`)
	if err := store.Write(context.Background(), "shell/manifest", doc); err != nil {
		t.Fatalf("write error: %v", err)
	}

	got, err := store.Read(context.Background(), "shell/manifest")
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if string(got) != string(doc) {
		t.Fatalf("document mismatch: %s", got)
	}
}

func TestReadMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Read(context.Background(), "shell/absent")
	if !errors.Is(err, ErrDocNotFound) {
		t.Fatalf("expected ErrDocNotFound, got %v", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	store := newTestStore(t)

	if err := store.Write(context.Background(), "shell/tmp", json.RawMessage(`1`)); err != nil {
		t.Fatalf("write error: %v", err)
	}
	if err := store.Delete(context.Background(), "shell/tmp"); err != nil {
		t.Fatalf("delete error: %v", err)
	}
	if err := store.Delete(context.Background(), "shell/tmp"); err != nil {
		t.Fatalf("repeated delete error: %v", err)
	}
	if _, err := store.Read(context.Background(), "shell/tmp"); !errors.Is(err, ErrDocNotFound) {
		t.Fatalf("expected ErrDocNotFound after delete, got %v", err)
	}
}

func TestListChildren(t *testing.T) {
	store := newTestStore(t)

	docs := map[string]string{
		"shell/events/a1":     `{"kind":"install"}`,
		"shell/events/a2":     `{"kind":"activate"}`,
		"shell/events/a2/sub": `{"nested":true}`,
		"shell/manifest":      `{"urls":[]}`,
	}
	for path, doc := range docs {
		if err := store.Write(context.Background(), path, json.RawMessage(doc)); err != nil {
			t.Fatalf("write %s error: %v", path, err)
		}
	}

	children, err := store.ListChildren(context.Background(), "shell/events")
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if !reflect.DeepEqual(children, []string{"a1", "a2"}) {
		t.Fatalf("unexpected children: %v", children)
	}

	roots, err := store.ListChildren(context.Background(), "")
	if err != nil {
		t.Fatalf("root list error: %v", err)
	}
	if !reflect.DeepEqual(roots, []string{"shell"}) {
		t.Fatalf("unexpected roots: %v", roots)
	}
}

func TestRejectsInvalidInput(t *testing.T) {
	store := newTestStore(t)

	if err := store.Write(context.Background(), "shell/bad", json.RawMessage(`{broken`)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if err := store.Write(context.Background(), "", json.RawMessage(`1`)); err == nil {
		t.Fatal("expected error for empty path")
	}
	if err := store.Write(context.Background(), "a//b", json.RawMessage(`1`)); err == nil {
		t.Fatal("expected error for empty path segment")
	}
	if err := store.Write(context.Background(), "a/../b", json.RawMessage(`1`)); err == nil {
		t.Fatal("expected error for dot segment")
	}
}

func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open docstore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}
