package openstack

import (
	"encoding/json"

	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/servers"
)

// UserDataPath is where the agent expects its bootstrap settings inside the guest.
const UserDataPath = "/var/vcap/bosh/user_data.json"

// UserData is injected into the server at boot and tells the agent where its settings live.
type UserData struct {
	Registry UserDataRegistry `json:"registry"`
	Server   UserDataServer   `json:"server"`
	DNS      *UserDataDNS     `json:"dns,omitempty"`
	OpenSSH  *UserDataOpenSSH `json:"openssh,omitempty"`
}

type UserDataRegistry struct {
	Endpoint string `json:"endpoint"`
}

type UserDataServer struct {
	Name string `json:"name"`
}

type UserDataDNS struct {
	Nameserver []string `json:"nameserver"`
}

type UserDataOpenSSH struct {
	PublicKey string `json:"public_key"`
}

// Personality renders the user data as the file list of a server create request.
// gophercloud base64-encodes the contents on the wire.
func (u UserData) Personality() (servers.Personality, error) {
	contents, err := json.Marshal(u)
	if err != nil {
		return nil, err
	}
	return servers.Personality{
		{Path: UserDataPath, Contents: contents},
	}, nil
}
