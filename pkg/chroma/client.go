package chroma

import (
	"context"
	"fmt"

	emaildomain "mailcore-backend/internal/email/domain"
	"mailcore-backend/pkg/config"
	"mailcore-backend/pkg/logger"

	chroma "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings"
	"github.com/sirupsen/logrus"
)

// maxDocumentChars bounds the stored document text
const maxDocumentChars = 10000

// store is the slice of a Chroma collection the vector store needs
type store interface {
	Upsert(ctx context.Context, id string, vec []float32, document string, metadata map[string]interface{}) error
	Query(ctx context.Context, vec []float32, accountID string, limit int) ([]string, []float64, error)
}

// VectorStore mirrors message embeddings into Chroma and can answer
// nearest-neighbour queries from it
type VectorStore struct {
	store store
	log   *logrus.Entry
}

// NewVectorStore connects to Chroma and opens the collection. ef may be nil
// when every write carries its own embedding.
func NewVectorStore(ctx context.Context, cfg *config.Config, ef embeddings.EmbeddingFunction, log logrus.FieldLogger) (*VectorStore, error) {
	if cfg.ChromaURL == "" {
		return nil, fmt.Errorf("CHROMA_URL is required")
	}

	opts := []chroma.ClientOption{chroma.WithBaseURL(cfg.ChromaURL)}
	if cfg.ChromaAPIKey != "" {
		opts = append(opts, chroma.WithCloudAPIKey(cfg.ChromaAPIKey))
	}
	switch {
	case cfg.ChromaDatabase != "" && cfg.ChromaTenant != "":
		opts = append(opts, chroma.WithDatabaseAndTenant(cfg.ChromaDatabase, cfg.ChromaTenant))
	case cfg.ChromaTenant != "":
		opts = append(opts, chroma.WithTenant(cfg.ChromaTenant))
	}
	client, err := chroma.NewHTTPClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Chroma client: %w", err)
	}

	createOpts := []chroma.CreateCollectionOption{chroma.WithHNSWSpaceCreate(embeddings.COSINE)}
	if ef != nil {
		createOpts = append(createOpts, chroma.WithEmbeddingFunctionCreate(ef))
	}
	collection, err := client.GetOrCreateCollection(ctx, cfg.ChromaCollection, createOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}

	vs := newVectorStore(&collectionStore{collection: collection}, log)
	vs.log.WithField("collection", cfg.ChromaCollection).Info("Chroma vector store ready")
	return vs, nil
}

func newVectorStore(s store, log logrus.FieldLogger) *VectorStore {
	return &VectorStore{store: s, log: logger.Component(log, "chroma")}
}

// Upsert stores the message's embedding keyed by message id.
// Zero vectors are skipped since they carry no direction.
func (v *VectorStore) Upsert(ctx context.Context, email *emaildomain.Email, vec emaildomain.Vector) error {
	if email == nil || vec.IsZero() {
		return nil
	}
	document := email.Subject
	if email.Summary != nil && *email.Summary != "" {
		document = *email.Summary
	}
	if len(document) > maxDocumentChars {
		document = document[:maxDocumentChars]
	}

	metadata := map[string]interface{}{
		"account_id": email.AccountID,
		"thread_id":  email.ThreadID,
		"subject":    email.Subject,
	}
	if err := v.store.Upsert(ctx, email.ID, []float32(vec), document, metadata); err != nil {
		return fmt.Errorf("failed to upsert email embedding: %w", err)
	}
	return nil
}

// Nearest returns the closest messages of the account by cosine distance
func (v *VectorStore) Nearest(ctx context.Context, accountID string, query emaildomain.Vector, limit int) ([]emaildomain.VectorMatch, error) {
	if query.IsZero() {
		return nil, nil
	}
	ids, distances, err := v.store.Query(ctx, []float32(query), accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}

	matches := make([]emaildomain.VectorMatch, 0, len(ids))
	for i, id := range ids {
		if i >= len(distances) {
			break
		}
		matches = append(matches, emaildomain.VectorMatch{EmailID: id, Distance: distances[i]})
	}
	v.log.WithFields(logrus.Fields{"account_id": accountID, "matches": len(matches)}).Debug("Chroma query done")
	return matches, nil
}

// collectionStore adapts a chroma-go collection
type collectionStore struct {
	collection chroma.Collection
}

func (c *collectionStore) Upsert(ctx context.Context, id string, vec []float32, document string, metadata map[string]interface{}) error {
	md, err := chroma.NewDocumentMetadataFromMap(metadata)
	if err != nil {
		return fmt.Errorf("failed to create metadata: %w", err)
	}
	return c.collection.Upsert(
		ctx,
		chroma.WithIDs(chroma.DocumentID(id)),
		chroma.WithEmbeddings(embeddings.NewEmbeddingFromFloat32(vec)),
		chroma.WithMetadatas(md),
		chroma.WithTexts(document),
	)
}

func (c *collectionStore) Query(ctx context.Context, vec []float32, accountID string, limit int) ([]string, []float64, error) {
	results, err := c.collection.Query(
		ctx,
		chroma.WithQueryEmbeddings(embeddings.NewEmbeddingFromFloat32(vec)),
		chroma.WithNResults(limit),
		chroma.WithWhereQuery(chroma.EqString("account_id", accountID)),
	)
	if err != nil {
		return nil, nil, err
	}
	if results == nil || results.CountGroups() == 0 {
		return nil, nil, nil
	}

	idGroups := results.GetIDGroups()
	distanceGroups := results.GetDistancesGroups()
	if len(idGroups) == 0 || len(distanceGroups) == 0 {
		return nil, nil, nil
	}

	ids := make([]string, 0, len(idGroups[0]))
	for _, id := range idGroups[0] {
		ids = append(ids, string(id))
	}
	distances := make([]float64, 0, len(distanceGroups[0]))
	for _, d := range distanceGroups[0] {
		distances = append(distances, float64(d))
	}
	return ids, distances, nil
}
