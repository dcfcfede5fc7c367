package registry

import "maps"

// SystemDisk is the device of the root disk on every server.
const SystemDisk = "/dev/xvda"

// Settings is the agent settings record stored in the registry under the server name.
//
// It is kept as a generic JSON object so keys written by other actors (agent options,
// blobstore, mbus, ...) survive a read-modify-write untouched.
type Settings map[string]any

// NewSettings builds the initial record for a freshly created server. Agent options
// override the generated keys.
func NewSettings(serverName, agentID string, networks, env, agent map[string]any) Settings {
	s := Settings{
		"vm":       map[string]any{"name": serverName},
		"agent_id": agentID,
		"networks": networks,
		"disks": map[string]any{
			"system":     SystemDisk,
			"persistent": map[string]any{},
		},
	}
	if env != nil {
		s["env"] = env
	}
	maps.Copy(s, agent)
	return s
}

// SetPersistentDisk records the device a persistent volume is attached as. The record must
// be non-nil.
func (s Settings) SetPersistentDisk(volumeID, device string) {
	s.persistent()[volumeID] = device
}

// RemovePersistentDisk forgets a persistent volume.
func (s Settings) RemovePersistentDisk(volumeID string) {
	disks, _ := s["disks"].(map[string]any)
	persistent, _ := disks["persistent"].(map[string]any)
	delete(persistent, volumeID)
}

// PersistentDisks returns a copy of the volume id to device mapping. It never modifies
// the record.
func (s Settings) PersistentDisks() map[string]string {
	out := map[string]string{}
	disks, _ := s["disks"].(map[string]any)
	persistent, _ := disks["persistent"].(map[string]any)
	for id, device := range persistent {
		if d, ok := device.(string); ok {
			out[id] = d
		}
	}
	return out
}

// SetNetworks replaces the network spec.
func (s Settings) SetNetworks(networks map[string]any) {
	s["networks"] = networks
}

func (s Settings) disks() map[string]any {
	disks, ok := s["disks"].(map[string]any)
	if !ok {
		disks = map[string]any{}
		s["disks"] = disks
	}
	return disks
}

func (s Settings) persistent() map[string]any {
	disks := s.disks()
	persistent, ok := disks["persistent"].(map[string]any)
	if !ok {
		persistent = map[string]any{}
		disks["persistent"] = persistent
	}
	return persistent
}
