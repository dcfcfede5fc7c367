package openstack

import (
	"context"
	"log/slog"

	"github.com/aravindh-murugesan/rackspace-cpi-go/internal/cloud"
	"github.com/gophercloud/gophercloud/v2/openstack/image/v2/images"
)

// DefaultInfrastructure is the stemcell infrastructure tag accepted by default.
const DefaultInfrastructure = "rackspace"

// StemcellProperties is the subset of stemcell manifest properties used here.
type StemcellProperties struct {
	Infrastructure string `json:"infrastructure"`
	ImageID        string `json:"image_id"`
}

// StemcellManager maps stemcells onto provider images. Images are owned by the provider, so
// creating a stemcell is a lookup and deleting one does nothing.
type StemcellManager struct {
	images         ImageAPI
	caller         *Caller
	infrastructure string
	logger         *slog.Logger
}

// Get returns the image backing a stemcell.
func (m *StemcellManager) Get(ctx context.Context, stemcellID string) (*images.Image, error) {
	var image *images.Image
	err := m.caller.Do(ctx, "GetImage", func(ctx context.Context) error {
		var err error
		image, err = m.images.GetImage(ctx, stemcellID)
		return err
	})
	if isNotFound(err) {
		return nil, cloud.NotFoundError("Stemcell `%s' not found", stemcellID)
	}
	if err != nil {
		return nil, err
	}
	return image, nil
}

// Create validates the stemcell properties and returns the existing image they point at.
func (m *StemcellManager) Create(ctx context.Context, properties map[string]any) (*images.Image, error) {
	props, err := cloud.Decode[StemcellProperties](properties)
	if err != nil {
		return nil, cloud.ConfigurationError("Invalid stemcell properties: %v", err)
	}

	if props.Infrastructure != m.infrastructure {
		return nil, cloud.ConfigurationError("This is not a %s stemcell, infrastructure is `%s'",
			m.infrastructure, props.Infrastructure)
	}

	if props.ImageID == "" {
		return nil, cloud.ConfigurationError("Stemcell properties does not contain image id")
	}

	image, err := m.Get(ctx, props.ImageID)
	if err != nil {
		return nil, err
	}

	m.logger.Debug("Using existing image", "image_name", image.Name, "image_id", image.ID)
	return image, nil
}

// Delete is a no-op.
func (m *StemcellManager) Delete(_ context.Context, stemcellID string) error {
	m.logger.Debug("Stemcells are managed by the provider, skipping delete", "stemcell_id", stemcellID)
	return nil
}
