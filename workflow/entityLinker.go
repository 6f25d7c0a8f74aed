package workflow

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/mmdatafocus/payrecon_backend/models"
	"gorm.io/gorm"
)

// AccountRegistry resolves processor customer references to internal accounts.
type AccountRegistry interface {
	LookupAccount(ctx context.Context, provider, externalRef string) (accountId string, found bool, err error)
}

type GormAccountRegistry struct {
	DB *gorm.DB
}

func (r GormAccountRegistry) LookupAccount(ctx context.Context, provider, externalRef string) (string, bool, error) {
	link, err := models.FindAccountLink(ctx, r.DB, provider, externalRef)
	if err != nil {
		return "", false, err
	}
	if link == nil {
		return "", false, nil
	}
	return link.InternalAccountId, true, nil
}

type LinkInput struct {
	ExternalCustomerRef string
	MetadataAccountId   string
}

type LinkResult struct {
	AccountId string
	Linked    bool
}

// EntityLinker attaches an internal account to an event. Not linking is a
// normal outcome; only registry failures are errors.
type EntityLinker struct {
	Registry AccountRegistry
	Provider string
}

func (l EntityLinker) Link(ctx context.Context, in LinkInput) (LinkResult, error) {
	if id := strings.TrimSpace(in.MetadataAccountId); id != "" {
		if parsed, err := uuid.Parse(id); err == nil {
			return LinkResult{AccountId: parsed.String(), Linked: true}, nil
		}
	}

	ref := strings.TrimSpace(in.ExternalCustomerRef)
	if ref == "" || l.Registry == nil {
		return LinkResult{}, nil
	}
	accountId, found, err := l.Registry.LookupAccount(ctx, l.provider(), ref)
	if err != nil {
		return LinkResult{}, err
	}
	if !found {
		return LinkResult{}, nil
	}
	return LinkResult{AccountId: accountId, Linked: true}, nil
}

func (l EntityLinker) provider() string {
	if l.Provider == "" {
		return models.ProcessorProviderStripe
	}
	return l.Provider
}
