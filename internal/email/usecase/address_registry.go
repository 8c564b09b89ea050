package usecase

import (
	"context"
	"fmt"
	"strings"

	emaildomain "mailcore-backend/internal/email/domain"
	"mailcore-backend/internal/email/repository"
	"mailcore-backend/pkg/logger"

	"github.com/sirupsen/logrus"
)

// ResolvedAddresses maps a message's participants to registry ids
type ResolvedAddresses struct {
	FromID       string
	ToIDs        []string
	CcIDs        []string
	BccIDs       []string
	ReplyToIDs   []string
	Participants []string
}

// AddressRegistry assigns stable per-account ids to participant addresses
type AddressRegistry struct {
	repo repository.AddressRepository
	log  *logrus.Entry
}

// NewAddressRegistry creates the registry
func NewAddressRegistry(repo repository.AddressRepository, log logrus.FieldLogger) *AddressRegistry {
	return &AddressRegistry{repo: repo, log: logger.Component(log, "address_registry")}
}

// Upsert returns the registry row for the address, creating it on first sighting
func (r *AddressRegistry) Upsert(ctx context.Context, accountID string, addr emaildomain.Address) (*emaildomain.EmailAddress, error) {
	normalized := addr.Normalized()
	if normalized == "" {
		return nil, fmt.Errorf("empty address")
	}
	row, err := r.repo.Upsert(ctx, accountID, normalized, strings.TrimSpace(addr.Name))
	if err != nil {
		return nil, fmt.Errorf("upsert address %s: %w", normalized, err)
	}
	if row == nil {
		return nil, fmt.Errorf("address %s missing after upsert", normalized)
	}
	return row, nil
}

// ResolveMessage upserts every distinct participant of msg, one at a time,
// and returns the ids per header field.
func (r *AddressRegistry) ResolveMessage(ctx context.Context, accountID string, msg *emaildomain.Message) (*ResolvedAddresses, error) {
	unique := make(map[string]emaildomain.Address)
	var order []string
	for _, addr := range msg.Participants() {
		key := addr.Normalized()
		if key == "" {
			continue
		}
		existing, seen := unique[key]
		if !seen {
			order = append(order, key)
			unique[key] = addr
			continue
		}
		if existing.Name == "" && addr.Name != "" {
			unique[key] = addr
		}
	}

	ids := make(map[string]string, len(order))
	for _, key := range order {
		row, err := r.Upsert(ctx, accountID, unique[key])
		if err != nil {
			return nil, err
		}
		ids[key] = row.ID
	}

	resolved := &ResolvedAddresses{
		FromID:     ids[msg.From.Normalized()],
		ToIDs:      collectIDs(ids, msg.To),
		CcIDs:      collectIDs(ids, msg.Cc),
		BccIDs:     collectIDs(ids, msg.Bcc),
		ReplyToIDs: collectIDs(ids, msg.ReplyTo),
	}
	for _, key := range order {
		resolved.Participants = append(resolved.Participants, ids[key])
	}
	return resolved, nil
}

func collectIDs(ids map[string]string, addrs []emaildomain.Address) []string {
	out := make([]string, 0, len(addrs))
	seen := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		id, ok := ids[a.Normalized()]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
