package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreateMemoSendsIdempotencyKey(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/memos" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(CreateMemoResponse{ID: 42})
	}))
	defer srv.Close()

	c := New(srv.URL, Credentials{})
	id, err := c.CreateMemo(context.Background(), []byte(`{"content":"hi"}`), "key-1")
	if err != nil {
		t.Fatalf("CreateMemo: %v", err)
	}
	if id != 42 {
		t.Errorf("id = %d, want 42", id)
	}
	if gotKey != "key-1" {
		t.Errorf("idempotency key = %q, want key-1", gotKey)
	}
}

func TestClassifiesNotFoundOnDelete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, Credentials{})
	err := c.DeleteMemo(context.Background(), 7)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestClassifiesServer5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, Credentials{})
	_, err := c.CreateMemo(context.Background(), []byte(`{}`), "k")
	if !errors.Is(err, ErrServer5xx) {
		t.Fatalf("err = %v, want ErrServer5xx", err)
	}
}

func TestClassifiesConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	c := New(srv.URL, Credentials{})
	_, err := c.CreateShelfEntry(context.Background(), []byte(`{}`), "k")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestUpdateMemoRequiresNoBodyOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Fatalf("method = %s, want PUT", r.Method)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, Credentials{})
	if err := c.UpdateMemo(context.Background(), 10, []byte(`{"content":"b"}`)); err != nil {
		t.Fatalf("UpdateMemo: %v", err)
	}
}

func TestBearerTokenAttached(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, Credentials{BearerToken: "tok-1"})
	_ = c.UpdateMemo(context.Background(), 1, []byte(`{}`))
	if gotAuth != "Bearer tok-1" {
		t.Errorf("authorization = %q, want Bearer tok-1", gotAuth)
	}
}
