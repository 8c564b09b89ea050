package usecase

import (
	"encoding/base64"
	"fmt"

	emaildomain "mailcore-backend/internal/email/domain"

	"github.com/goccy/go-json"
)

// folderCursor is the decoded form of a folder-page continuation token
type folderCursor struct {
	Folder    emaildomain.Folder         `json:"f"`
	Strategy  emaildomain.FolderStrategy `json:"s"`
	PageToken string                     `json:"p"`
}

func encodeContinuation(c folderCursor) (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode continuation: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeContinuation(token string, folder emaildomain.Folder) (folderCursor, error) {
	var c folderCursor
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return c, fmt.Errorf("%w: %v", emaildomain.ErrInvalidContinuation, err)
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("%w: %v", emaildomain.ErrInvalidContinuation, err)
	}
	if c.Folder != folder {
		return c, fmt.Errorf("%w: token is for folder %q, not %q", emaildomain.ErrInvalidContinuation, c.Folder, folder)
	}
	if c.Strategy != emaildomain.StrategyLabel && c.Strategy != emaildomain.StrategyClassification {
		return c, fmt.Errorf("%w: unknown strategy %q", emaildomain.ErrInvalidContinuation, c.Strategy)
	}
	if c.PageToken == "" {
		return c, fmt.Errorf("%w: empty page cursor", emaildomain.ErrInvalidContinuation)
	}
	return c, nil
}
