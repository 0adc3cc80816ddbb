package domain

// Container describes a container started by a deployment.
type Container struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image"`

	// HostPort is published to ContainerPort.
	HostPort      int `json:"host_port"`
	ContainerPort int `json:"container_port"`
}
