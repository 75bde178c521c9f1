package service

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/cloudillo/federation"
	"github.com/cloudillo/federation/client"
	"github.com/cloudillo/federation/internal/usecase"
)

const (
	variantFetchTimeout = 8 * time.Second
	maxParallelFetches  = 4
)

// AttachmentMetaStore records the metadata of replicated variants.
type AttachmentMetaStore interface {
	StoreMeta(ctx context.Context, tenant, variantID string, meta federation.AttachmentMeta) error
}

// AttachmentSync selectively replicates the binary variants referenced by
// an inbound action. The audience of an action receives every declared
// variant; bystander nodes fetch only the SD and thumbnail renditions to
// bound relay bandwidth.
type AttachmentSync struct {
	client *client.Client
	blobs  usecase.BlobStore
	meta   AttachmentMetaStore
	proxy  *ProxyIssuer
}

func NewAttachmentSync(cl *client.Client, blobs usecase.BlobStore, meta AttachmentMetaStore, proxy *ProxyIssuer) *AttachmentSync {
	return &AttachmentSync{
		client: cl,
		blobs:  blobs,
		meta:   meta,
		proxy:  proxy,
	}
}

// SelectVariants returns the variant ids to replicate for one attachment
// given whether the local tenant is the action's audience.
func SelectVariants(att federation.Attachment, isAudience bool) []string {
	var ids []string
	for i := 0; i < len(att.Flags) && i < len(att.VariantIDs); i++ {
		if !isAudience && att.Flags[i] == federation.VariantHD {
			continue
		}
		ids = append(ids, att.VariantIDs[i])
	}
	return ids
}

// Sync fetches the selected variants of every attachment into the local
// blob store. Fetches run concurrently under a parallelism cap; variants
// fail independently, so one unreachable variant never stops the others
// from replicating. Wait reports the first failure and the caller treats
// it as degradation rather than a hard stop.
func (s *AttachmentSync) Sync(ctx context.Context, tenant string, a *federation.Action) error {
	ctx, span := tracer.Start(ctx, "Attachments.Sync")
	defer span.End()

	bearer, err := s.proxy.Issue(ctx, tenant, a.IssuerTag)
	if err != nil {
		span.RecordError(err)
		return federation.AttachmentFetchf("no credentials for %s: %v", a.IssuerTag, err)
	}

	isAudience := a.AudienceTag == tenant

	var g errgroup.Group
	g.SetLimit(maxParallelFetches)

	for _, att := range a.Attachments {
		for _, variantID := range SelectVariants(att, isAudience) {
			variantID := variantID
			if s.blobs.Has(ctx, variantID) {
				continue
			}
			g.Go(func() error {
				return s.fetchVariant(ctx, tenant, a.IssuerTag, variantID, bearer)
			})
		}
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (s *AttachmentSync) fetchVariant(ctx context.Context, tenant, issuerTag, variantID, bearer string) error {
	ctx, cancel := context.WithTimeout(ctx, variantFetchTimeout)
	defer cancel()

	meta, err := s.client.FetchVariantMeta(ctx, issuerTag, variantID, bearer)
	if err != nil {
		return err
	}

	body, contentType, err := s.client.FetchVariant(ctx, issuerTag, variantID, bearer)
	if err != nil {
		return err
	}
	defer body.Close()

	if meta.ContentType == "" {
		meta.ContentType = contentType
	}

	if _, err := s.blobs.Write(ctx, variantID, body); err != nil {
		return federation.AttachmentFetchf("store %s: %v", variantID, err)
	}

	if err := s.meta.StoreMeta(ctx, tenant, variantID, meta); err != nil {
		return errors.Wrap(err, "attachment meta store failed")
	}
	return nil
}
