package usecase

import (
	"context"
	"testing"

	emaildomain "mailcore-backend/internal/email/domain"
)

func TestResolveMessageDedupesParticipants(t *testing.T) {
	repo := newFakeAddressRepo()
	reg := NewAddressRegistry(repo, nil)

	msg := testMessage("m1", "t1")
	msg.From = emaildomain.Address{Address: "Alice@Example.com"}
	msg.To = []emaildomain.Address{{Name: "Bob", Address: "bob@example.com"}, {Address: "alice@example.com", Name: "Alice A."}}
	msg.Cc = []emaildomain.Address{{Address: " BOB@example.com "}}

	res, err := reg.ResolveMessage(context.Background(), "acc-1", &msg)
	if err != nil {
		t.Fatal(err)
	}
	if repo.calls != 2 {
		t.Errorf("upserts = %d, want one per distinct address", repo.calls)
	}
	if len(res.Participants) != 2 || res.Participants[0] != res.FromID {
		t.Errorf("participants = %v, want sender first", res.Participants)
	}
	if len(res.CcIDs) != 1 || res.CcIDs[0] != res.ToIDs[0] {
		t.Errorf("cc ids = %v, to ids = %v", res.CcIDs, res.ToIDs)
	}
	alice, _ := repo.FindByAddress(context.Background(), "acc-1", "alice@example.com")
	if alice == nil || alice.Name != "Alice A." {
		t.Errorf("alice = %+v, want display name taken from the named occurrence", alice)
	}
}

func TestAddressUpsertKeepsNameOnEmptyUpdate(t *testing.T) {
	repo := newFakeAddressRepo()
	reg := NewAddressRegistry(repo, nil)
	ctx := context.Background()

	first, err := reg.Upsert(ctx, "acc-1", emaildomain.Address{Name: "Dana", Address: "dana@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := reg.Upsert(ctx, "acc-1", emaildomain.Address{Address: "DANA@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Errorf("ids differ: %s vs %s", first.ID, second.ID)
	}
	if second.Name != "Dana" {
		t.Errorf("name = %q, want Dana", second.Name)
	}

	other, _ := reg.Upsert(ctx, "acc-2", emaildomain.Address{Address: "dana@example.com"})
	if other.ID == first.ID {
		t.Error("addresses must be scoped per account")
	}
}

func TestAddressUpsertRejectsEmpty(t *testing.T) {
	reg := NewAddressRegistry(newFakeAddressRepo(), nil)
	if _, err := reg.Upsert(context.Background(), "acc-1", emaildomain.Address{Address: "  "}); err == nil {
		t.Error("expected error for empty address")
	}
}
