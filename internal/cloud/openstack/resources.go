package openstack

import "context"

type serverResource struct {
	api ComputeAPI
	id  string
}

func (r serverResource) Kind() string     { return "server" }
func (r serverResource) Identity() string { return r.id }

func (r serverResource) Refresh(ctx context.Context) (string, bool, error) {
	s, err := r.api.GetServer(ctx, r.id)
	if isNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return s.Status, true, nil
}

type volumeResource struct {
	api BlockStorageAPI
	id  string
}

func (r volumeResource) Kind() string     { return "volume" }
func (r volumeResource) Identity() string { return r.id }

func (r volumeResource) Refresh(ctx context.Context) (string, bool, error) {
	v, err := r.api.GetVolume(ctx, r.id)
	if isNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v.Status, true, nil
}

type snapshotResource struct {
	api BlockStorageAPI
	id  string
}

func (r snapshotResource) Kind() string     { return "snapshot" }
func (r snapshotResource) Identity() string { return r.id }

func (r snapshotResource) Refresh(ctx context.Context) (string, bool, error) {
	s, err := r.api.GetSnapshot(ctx, r.id)
	if isNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return s.Status, true, nil
}
