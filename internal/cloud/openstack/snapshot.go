package openstack

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/aravindh-murugesan/rackspace-cpi-go/internal/cloud"
	"github.com/google/uuid"
	"github.com/gophercloud/gophercloud/v2/openstack/blockstorage/v3/snapshots"
	"github.com/gophercloud/gophercloud/v2/openstack/blockstorage/v3/volumes"
)

// VolumeSnapshotManager handles volume snapshots.
type VolumeSnapshotManager struct {
	volumes *VolumeManager
	storage BlockStorageAPI
	caller  *Caller
	waiter  *WaitManager
	logger  *slog.Logger
}

// Get returns an existing snapshot or a not-found CloudError.
func (m *VolumeSnapshotManager) Get(ctx context.Context, snapshotID string) (*snapshots.Snapshot, error) {
	var snapshot *snapshots.Snapshot
	err := m.caller.Do(ctx, "GetSnapshot", func(ctx context.Context) error {
		var err error
		snapshot, err = m.storage.GetSnapshot(ctx, snapshotID)
		return err
	})
	if isNotFound(err) {
		return nil, cloud.NotFoundError("Volume snapshot `%s' not found", snapshotID)
	}
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// Create snapshots a volume and waits until the snapshot is available.
//
// Force is always set so volumes that are in-use can be snapshotted. The description is
// "<deployment>/<job>/<index>" followed by the device name when the volume is attached.
func (m *VolumeSnapshotManager) Create(ctx context.Context, volumeID string, metadata map[string]any) (*snapshots.Snapshot, error) {
	volume, err := m.volumes.Get(ctx, volumeID)
	if err != nil {
		return nil, err
	}

	opts := snapshots.CreateOpts{
		VolumeID:    volume.ID,
		Force:       true,
		Name:        "snapshot-" + uuid.New().String(),
		Description: snapshotDescription(metadata, volume),
	}
	m.logger.Debug("Using volume snapshot params",
		"name", opts.Name,
		"volume_id", opts.VolumeID,
		"description", opts.Description)

	var snapshot *snapshots.Snapshot
	err = m.caller.Do(ctx, "CreateVolumeSnapshot", func(ctx context.Context) error {
		var err error
		snapshot, err = m.storage.CreateSnapshot(ctx, opts)
		return err
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("Creating new volume snapshot", "snapshot_id", snapshot.ID)

	if err := m.waiter.WaitFor(ctx, snapshotResource{api: m.storage, id: snapshot.ID}, WaitSpec{
		TargetStates: []string{"available"},
	}); err != nil {
		return nil, err
	}

	return m.Get(ctx, snapshot.ID)
}

// Delete removes an available snapshot and waits until it is gone.
func (m *VolumeSnapshotManager) Delete(ctx context.Context, snapshotID string) error {
	snapshot, err := m.Get(ctx, snapshotID)
	if err != nil {
		return err
	}

	if !isReady(snapshot.Status) {
		return cloud.StateError("Cannot delete volume snapshot `%s', state is `%s'", snapshot.ID, snapshot.Status)
	}

	err = m.caller.Do(ctx, "DeleteVolumeSnapshot", func(ctx context.Context) error {
		return m.storage.DeleteSnapshot(ctx, snapshot.ID)
	})
	if err != nil {
		return err
	}

	return m.waiter.WaitFor(ctx, snapshotResource{api: m.storage, id: snapshot.ID}, WaitSpec{
		TargetStates:  []string{"deleted"},
		AllowNotFound: true,
	})
}

func snapshotDescription(metadata map[string]any, volume *volumes.Volume) string {
	parts := make([]string, 0, 4)
	for _, key := range []string{"deployment", "job", "index"} {
		value := ""
		if v, ok := metadata[key]; ok && v != nil {
			value = fmt.Sprint(v)
		}
		parts = append(parts, value)
	}

	for _, attachment := range volume.Attachments {
		if attachment.Device != "" {
			parts = append(parts, path.Base(attachment.Device))
			break
		}
	}

	return strings.Join(parts, "/")
}
