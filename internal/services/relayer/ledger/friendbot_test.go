package ledger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFriendbotFundSendsAddress(t *testing.T) {
	var gotAddr string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAddr = r.URL.Query().Get("addr")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	faucet, err := NewFriendbot(server.URL)
	if err != nil {
		t.Fatalf("new friendbot: %v", err)
	}
	if err := faucet.Fund(context.Background(), "GABC"); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if gotAddr != "GABC" {
		t.Fatalf("addr = %q, want %q", gotAddr, "GABC")
	}
}

func TestFriendbotTreatsExistingAccountAsFunded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"extras":{"result_codes":{"operations":["op_already_exists"]}}}`))
	}))
	defer server.Close()

	faucet, _ := NewFriendbot(server.URL)
	if err := faucet.Fund(context.Background(), "GABC"); err != nil {
		t.Fatalf("fund existing: %v", err)
	}
}

func TestFriendbotReportsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	faucet, _ := NewFriendbot(server.URL)
	if err := faucet.Fund(context.Background(), "GABC"); err == nil {
		t.Fatal("expected funding error")
	}
}

func TestNewFriendbotRequiresURL(t *testing.T) {
	if _, err := NewFriendbot(""); err == nil {
		t.Fatal("expected url error")
	}
}
