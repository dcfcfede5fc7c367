package openstack

import (
	"context"
	"log/slog"
	"math"
	"strings"

	"github.com/aravindh-murugesan/rackspace-cpi-go/internal/cloud"
	"github.com/google/uuid"
	"github.com/gophercloud/gophercloud/v2/openstack/blockstorage/v3/volumes"
)

// DefaultMinVolumeSizeGiB is the smallest volume the provider will create.
const DefaultMinVolumeSizeGiB = 100

// VolumeManager handles the volume lifecycle.
type VolumeManager struct {
	volumes    BlockStorageAPI
	caller     *Caller
	waiter     *WaitManager
	minSizeGiB int
	logger     *slog.Logger
}

// ParseVolumeSize accepts a disk size in MiB as decoded from JSON. Only whole numbers are valid.
func ParseVolumeSize(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v == math.Trunc(v) && !math.IsInf(v, 0) {
			return int(v), nil
		}
	}
	return 0, cloud.ConfigurationError("Volume size needs to be an Integer")
}

// ConvertToGiB converts MiB to GiB, rounding up.
func ConvertToGiB(sizeMiB int) int {
	return (sizeMiB + 1023) / 1024
}

// Get returns an existing volume or a not-found CloudError.
func (m *VolumeManager) Get(ctx context.Context, volumeID string) (*volumes.Volume, error) {
	var volume *volumes.Volume
	err := m.caller.Do(ctx, "GetVolume", func(ctx context.Context) error {
		var err error
		volume, err = m.volumes.GetVolume(ctx, volumeID)
		return err
	})
	if isNotFound(err) {
		return nil, cloud.NotFoundError("Volume `%s' not found", volumeID)
	}
	if err != nil {
		return nil, err
	}
	return volume, nil
}

// Create provisions a volume of sizeMiB (rounded up to whole GiB) and waits until it is
// available. Sizes under the provider minimum are rejected before calling the provider.
func (m *VolumeManager) Create(ctx context.Context, sizeMiB int) (*volumes.Volume, error) {
	if sizeMiB < m.minSizeGiB*1024 {
		return nil, cloud.ConfigurationError("Minimum volume size is %d GiB, set only %d GiB",
			m.minSizeGiB, ConvertToGiB(sizeMiB))
	}

	opts := volumes.CreateOpts{
		Name: "volume-" + uuid.New().String(),
		Size: ConvertToGiB(sizeMiB),
	}
	m.logger.Debug("Using volume params", "name", opts.Name, "size_gib", opts.Size)

	var volume *volumes.Volume
	err := m.caller.Do(ctx, "CreateVolume", func(ctx context.Context) error {
		var err error
		volume, err = m.volumes.CreateVolume(ctx, opts)
		return err
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("Creating new volume", "volume_id", volume.ID)

	if err := m.waiter.WaitFor(ctx, volumeResource{api: m.volumes, id: volume.ID}, WaitSpec{
		TargetStates: []string{"available"},
	}); err != nil {
		return nil, err
	}

	return m.Get(ctx, volume.ID)
}

// Delete removes an available volume and waits until it is gone.
func (m *VolumeManager) Delete(ctx context.Context, volumeID string) error {
	volume, err := m.Get(ctx, volumeID)
	if err != nil {
		return err
	}

	if !isReady(volume.Status) {
		return cloud.StateError("Cannot delete volume `%s', state is `%s'", volume.ID, volume.Status)
	}

	err = m.caller.Do(ctx, "DeleteVolume", func(ctx context.Context) error {
		return m.volumes.DeleteVolume(ctx, volume.ID)
	})
	if err != nil {
		return err
	}

	return m.waiter.WaitFor(ctx, volumeResource{api: m.volumes, id: volume.ID}, WaitSpec{
		TargetStates:  []string{"deleted"},
		AllowNotFound: true,
	})
}

// isReady reports whether a volume or snapshot can be acted upon.
func isReady(status string) bool {
	return strings.EqualFold(status, "available")
}
