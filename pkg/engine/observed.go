package engine

// ObservedDirectory is the live state of a directory.
type ObservedDirectory struct {
	Path        string            `json:"Path"`
	Attributes  FileAttributes    `json:"Attributes"`
	Permissions []PermissionEntry `json:"Permissions,omitempty"`
}

// ObservedShare is the live state of an SMB share.
type ObservedShare struct {
	Name        string            `json:"Name"`
	Path        string            `json:"Path"`
	Description string            `json:"Description,omitempty"`
	Permissions []PermissionEntry `json:"Permissions,omitempty"`
}

// ObservedAppPool is the live state of an application pool.
type ObservedAppPool struct {
	Name                  string `json:"Name"`
	ManagedRuntimeVersion string `json:"ManagedRuntimeVersion"`
	ManagedPipelineMode   string `json:"ManagedPipelineMode"`

	// Properties holds the values read for the requested advanced-setting addresses.
	Properties map[PropertyRef]Value `json:"-"`
}

// ObservedSite is the live state of a website.
type ObservedSite struct {
	Name         string                `json:"Name"`
	PhysicalPath string                `json:"PhysicalPath"`
	AppPool      string                `json:"AppPool"`
	Bindings     []BindingSpec         `json:"Bindings,omitempty"`
	Properties   map[PropertyRef]Value `json:"-"`
}

// ObservedWebApp is the live state of a web application under a site.
type ObservedWebApp struct {
	Site         string                `json:"Site"`
	Name         string                `json:"Name"`
	PhysicalPath string                `json:"PhysicalPath"`
	AppPool      string                `json:"AppPool"`
	Properties   map[PropertyRef]Value `json:"-"`
}

// ObservedFeatures maps feature names to their enabled state.
// Names absent from the map are unknown to the machine.
type ObservedFeatures map[string]bool

// ObservedHosts maps hostnames to addresses as found in the hosts file.
type ObservedHosts map[string]string

// ObservedEventSource is the live registration of an event source.
type ObservedEventSource struct {
	Source  string `json:"Source"`
	LogName string `json:"LogName"`
}
