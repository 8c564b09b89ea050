package chroma

import (
	"context"
	"errors"
	"testing"

	emaildomain "mailcore-backend/internal/email/domain"
)

type fakeStore struct {
	upserts  []string
	docs     []string
	metadata []map[string]interface{}
	ids      []string
	dists    []float64
	err      error
	queried  string
}

func (f *fakeStore) Upsert(ctx context.Context, id string, vec []float32, document string, metadata map[string]interface{}) error {
	f.upserts = append(f.upserts, id)
	f.docs = append(f.docs, document)
	f.metadata = append(f.metadata, metadata)
	return f.err
}

func (f *fakeStore) Query(ctx context.Context, vec []float32, accountID string, limit int) ([]string, []float64, error) {
	f.queried = accountID
	return f.ids, f.dists, f.err
}

func unitVector() emaildomain.Vector {
	v := emaildomain.ZeroVector()
	v[0] = 1
	return v
}

func TestUpsertSkipsZeroVectors(t *testing.T) {
	fs := &fakeStore{}
	vs := newVectorStore(fs, nil)
	email := &emaildomain.Email{ID: "m1", AccountID: "acc-1", Subject: "Hello"}

	if err := vs.Upsert(context.Background(), email, emaildomain.ZeroVector()); err != nil {
		t.Fatal(err)
	}
	if len(fs.upserts) != 0 {
		t.Error("zero vector must not be mirrored")
	}

	summary := "Greeting from a colleague."
	email.Summary = &summary
	if err := vs.Upsert(context.Background(), email, unitVector()); err != nil {
		t.Fatal(err)
	}
	if len(fs.upserts) != 1 || fs.docs[0] != summary {
		t.Errorf("upserts = %v docs = %v", fs.upserts, fs.docs)
	}
	if fs.metadata[0]["account_id"] != "acc-1" {
		t.Errorf("metadata = %v", fs.metadata[0])
	}
}

func TestUpsertWrapsError(t *testing.T) {
	fs := &fakeStore{err: errors.New("unavailable")}
	vs := newVectorStore(fs, nil)
	err := vs.Upsert(context.Background(), &emaildomain.Email{ID: "m1"}, unitVector())
	if err == nil || !errors.Is(err, fs.err) {
		t.Errorf("err = %v", err)
	}
}

func TestNearestPairsIDsWithDistances(t *testing.T) {
	fs := &fakeStore{ids: []string{"a", "b", "c"}, dists: []float64{0.1, 0.4}}
	vs := newVectorStore(fs, nil)

	matches, err := vs.Nearest(context.Background(), "acc-1", unitVector(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if fs.queried != "acc-1" {
		t.Errorf("queried account %q", fs.queried)
	}
	if len(matches) != 2 || matches[1].EmailID != "b" || matches[1].Distance != 0.4 {
		t.Errorf("matches = %+v", matches)
	}

	none, err := vs.Nearest(context.Background(), "acc-1", emaildomain.ZeroVector(), 5)
	if err != nil || none != nil {
		t.Errorf("zero query must short-circuit, got %v %v", none, err)
	}
}
