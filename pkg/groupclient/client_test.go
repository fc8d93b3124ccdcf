package groupclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMembershipDecodesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/internal/groups/grp-1/members/user_1" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-Internal-API-Key") != "key" {
			t.Fatalf("expected internal api key header")
		}
		_, _ = w.Write([]byte(`{"is_member":true,"group_active":true,"contribution_amount_cents":50000}`))
	}))
	defer server.Close()

	membership, err := NewClient(server.URL, " key ").Membership(context.Background(), "grp-1", "user_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !membership.IsMember || membership.MinimumContributionCents != 50000 {
		t.Fatalf("unexpected membership: %+v", membership)
	}
	if membership.GroupID != "grp-1" || membership.OwnerID != "user_1" {
		t.Fatalf("expected ids to be filled from the request, got %+v", membership)
	}
}

func TestMembershipUnknownGroup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "").Membership(context.Background(), "missing", "user_1")
	if !errors.Is(err, ErrGroupNotFound) {
		t.Fatalf("expected ErrGroupNotFound, got %v", err)
	}
}

func TestConfirmContribution(t *testing.T) {
	var got ContributionNotice
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/internal/groups/grp-1/contributions" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	notice := ContributionNotice{ContributionID: "c-1", UserID: "user_1", AmountCents: 50000, ContributedAt: time.Now().UTC()}
	if err := NewClient(server.URL, "key").ConfirmContribution(context.Background(), "grp-1", notice); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ContributionID != "c-1" || got.AmountCents != 50000 {
		t.Fatalf("unexpected notice: %+v", got)
	}

	if err := NewClient("", "key").ConfirmContribution(context.Background(), "grp-1", notice); err == nil {
		t.Fatal("expected error for empty base url")
	}
}
