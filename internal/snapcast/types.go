package snapcast

// JSON-RPC method names.
const (
	MethodServerGetStatus     = "Server.GetStatus"
	MethodServerGetRPCVersion = "Server.GetRPCVersion"
	MethodServerDeleteClient  = "Server.DeleteClient"
	MethodClientSetVolume     = "Client.SetVolume"
	MethodClientSetLatency    = "Client.SetLatency"
	MethodClientSetName       = "Client.SetName"
	MethodGroupSetMute        = "Group.SetMute"
	MethodGroupSetStream      = "Group.SetStream"
	MethodGroupSetClients     = "Group.SetClients"
	MethodGroupSetName        = "Group.SetName"
)

// Notification method names.
const (
	NotifyClientConnect        = "Client.OnConnect"
	NotifyClientDisconnect     = "Client.OnDisconnect"
	NotifyClientVolumeChanged  = "Client.OnVolumeChanged"
	NotifyClientLatencyChanged = "Client.OnLatencyChanged"
	NotifyClientNameChanged    = "Client.OnNameChanged"
	NotifyGroupMute            = "Group.OnMute"
	NotifyGroupStreamChanged   = "Group.OnStreamChanged"
	NotifyGroupNameChanged     = "Group.OnNameChanged"
	NotifyStreamUpdate         = "Stream.OnUpdate"
	NotifyServerUpdate         = "Server.OnUpdate"
)

// Status is the result of Server.GetStatus.
type Status struct {
	Server Server `json:"server"`
}

// Server is the full snapserver state.
type Server struct {
	Groups  []Group    `json:"groups"`
	Server  ServerInfo `json:"server"`
	Streams []Stream   `json:"streams"`
}

// ServerInfo describes the snapserver host and software.
type ServerInfo struct {
	Host       Host       `json:"host"`
	Snapserver Snapserver `json:"snapserver"`
}

// Snapserver is the server software version.
type Snapserver struct {
	Name                   string `json:"name"`
	ProtocolVersion        int    `json:"protocolVersion"`
	ControlProtocolVersion int    `json:"controlProtocolVersion"`
	Version                string `json:"version"`
}

// Host describes a machine running a snapserver or snapclient.
type Host struct {
	Arch string `json:"arch"`
	IP   string `json:"ip"`
	MAC  string `json:"mac"`
	Name string `json:"name"`
	OS   string `json:"os"`
}

// Group is a set of clients playing the same stream.
type Group struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Muted    bool     `json:"muted"`
	StreamID string   `json:"stream_id"`
	Clients  []Client `json:"clients"`
}

// Client is one snapclient.
type Client struct {
	ID         string       `json:"id"`
	Connected  bool         `json:"connected"`
	Config     ClientConfig `json:"config"`
	Host       Host         `json:"host"`
	Snapclient Snapclient   `json:"snapclient"`
	LastSeen   LastSeen     `json:"lastSeen"`
}

// ClientConfig is the server-side configuration of a client.
type ClientConfig struct {
	Instance int    `json:"instance"`
	Latency  int    `json:"latency"`
	Name     string `json:"name"`
	Volume   Volume `json:"volume"`
}

// Snapclient is the client software version.
type Snapclient struct {
	Name            string `json:"name"`
	ProtocolVersion int    `json:"protocolVersion"`
	Version         string `json:"version"`
}

// LastSeen is the time the server last heard from a client.
type LastSeen struct {
	Sec  int64 `json:"sec"`
	Usec int64 `json:"usec"`
}

// Volume is a client's volume and mute state.
type Volume struct {
	Muted   bool `json:"muted"`
	Percent int  `json:"percent"`
}

// Stream is an audio source.
type Stream struct {
	ID         string         `json:"id"`
	Status     string         `json:"status"`
	URI        StreamURI      `json:"uri"`
	Properties map[string]any `json:"properties,omitempty"`
}

// StreamURI is the parsed source URI of a stream.
type StreamURI struct {
	Raw      string            `json:"raw"`
	Scheme   string            `json:"scheme"`
	Host     string            `json:"host"`
	Path     string            `json:"path"`
	Fragment string            `json:"fragment"`
	Query    map[string]string `json:"query"`
}

// RPCVersion is the result of Server.GetRPCVersion.
type RPCVersion struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
	Patch int `json:"patch"`
}

// FindClient returns the client with id and the group containing it.
func (s Server) FindClient(id string) (Client, Group, bool) {
	for _, g := range s.Groups {
		for _, c := range g.Clients {
			if c.ID == id {
				return c, g, true
			}
		}
	}
	return Client{}, Group{}, false
}

// FindGroup returns the group with id.
func (s Server) FindGroup(id string) (Group, bool) {
	for _, g := range s.Groups {
		if g.ID == id {
			return g, true
		}
	}
	return Group{}, false
}

// FindStream returns the stream with id.
func (s Server) FindStream(id string) (Stream, bool) {
	for _, st := range s.Streams {
		if st.ID == id {
			return st, true
		}
	}
	return Stream{}, false
}
