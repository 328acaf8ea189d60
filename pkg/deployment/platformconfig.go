package deployment

type DockerConfig struct {
	MemoryLimit string  `json:"memory_limit"`
	CPULimit    float64 `json:"cpu_limit"`
	PublicHost  string  `json:"public_host"`
}

func (*DockerConfig) Platform() Platform { return PlatformDocker }

func DockerSchema() Schema {
	return Schema{
		Platform: PlatformDocker,
		New:      func() PlatformConfig { return &DockerConfig{} },
		Fields: []Field{
			{Name: "memory_limit", Kind: KindString, Default: "2g", Description: "Container memory limit, e.g. 512m or 2g."},
			{Name: "cpu_limit", Kind: KindFloat, Default: 2.0, Description: "Number of CPUs the container may use."},
			{Name: "public_host", Kind: KindString, Description: "Host name used in the access URL. Defaults to the service setting."},
		},
	}
}

type KubernetesConfig struct {
	Kubeconfig       Secret `json:"kubeconfig"`
	Namespace        string `json:"namespace"`
	Replicas         int    `json:"replicas"`
	Registry         string `json:"registry"`
	RegistryUsername string `json:"registry_username"`
	RegistryPassword Secret `json:"registry_password"`
	IngressEnabled   bool   `json:"ingress_enabled"`
	IngressHost      string `json:"ingress_host"`
	IngressClass     string `json:"ingress_class"`
	CPURequest       string `json:"cpu_request"`
	MemoryRequest    string `json:"memory_request"`
	CPULimit         string `json:"cpu_limit"`
	MemoryLimit      string `json:"memory_limit"`
}

func (*KubernetesConfig) Platform() Platform { return PlatformKubernetes }

func KubernetesSchema() Schema {
	return Schema{
		Platform: PlatformKubernetes,
		New:      func() PlatformConfig { return &KubernetesConfig{} },
		Fields: []Field{
			{Name: "kubeconfig", Kind: KindSecret, Required: true, Description: "Base64 encoded kubeconfig for the target cluster."},
			{Name: "namespace", Kind: KindString, Default: "default", Description: "Namespace to install into."},
			{Name: "replicas", Kind: KindInt, Default: 1, Description: "Number of pods."},
			{Name: "registry", Kind: KindString, Default: "docker.io/postqode", Description: "Registry the agent image is pushed to."},
			{Name: "registry_username", Kind: KindString, Description: "Registry user for the image push."},
			{Name: "registry_password", Kind: KindSecret, Description: "Registry password for the image push."},
			{Name: "ingress_enabled", Kind: KindBool, Default: false, Description: "Expose the agent through an ingress."},
			{Name: "ingress_host", Kind: KindString, Description: "Ingress host name, required when ingress is enabled."},
			{Name: "ingress_class", Kind: KindString, Default: "nginx", Description: "Ingress class name."},
			{Name: "cpu_request", Kind: KindString, Default: "500m", Description: "CPU request."},
			{Name: "memory_request", Kind: KindString, Default: "512Mi", Description: "Memory request."},
			{Name: "cpu_limit", Kind: KindString, Default: "2", Description: "CPU limit."},
			{Name: "memory_limit", Kind: KindString, Default: "2Gi", Description: "Memory limit."},
		},
	}
}

var AzureLocations = []string{"eastus", "westus", "westeurope", "eastasia", "australiaeast"}

type AzureFunctionsConfig struct {
	SubscriptionID  string `json:"subscription_id"`
	ResourceGroup   string `json:"resource_group"`
	FunctionAppName string `json:"function_app_name"`
	Location        string `json:"location"`
	Runtime         string `json:"runtime"`
	RuntimeVersion  string `json:"runtime_version"`
	StorageAccount  string `json:"storage_account"`
	TenantID        string `json:"tenant_id"`
	ClientID        string `json:"client_id"`
	ClientSecret    Secret `json:"client_secret"`
}

func (*AzureFunctionsConfig) Platform() Platform { return PlatformAzureFunctions }

func AzureFunctionsSchema() Schema {
	return Schema{
		Platform: PlatformAzureFunctions,
		New:      func() PlatformConfig { return &AzureFunctionsConfig{} },
		Fields: []Field{
			{Name: "subscription_id", Kind: KindString, Required: true, Description: "Azure subscription id."},
			{Name: "resource_group", Kind: KindString, Required: true, Description: "Resource group holding the function app."},
			{Name: "function_app_name", Kind: KindString, Required: true, Description: "Globally unique function app name."},
			{Name: "location", Kind: KindEnum, Default: "eastus", Enum: AzureLocations, Description: "Azure region."},
			{Name: "runtime", Kind: KindEnum, Default: "python", Enum: []string{"python"}, Description: "Functions worker runtime."},
			{Name: "runtime_version", Kind: KindString, Default: "3.11", Description: "Runtime version."},
			{Name: "storage_account", Kind: KindString, Description: "Storage account. Generated from the agent id when empty."},
			{Name: "tenant_id", Kind: KindString, Description: "Service principal tenant. Defaults to the service credentials."},
			{Name: "client_id", Kind: KindString, Description: "Service principal client id."},
			{Name: "client_secret", Kind: KindSecret, Description: "Service principal secret."},
		},
	}
}

type VMConfig struct {
	Host               string `json:"host"`
	SSHPort            int    `json:"ssh_port"`
	Username           string `json:"username"`
	SSHKey             Secret `json:"ssh_key"`
	InstallPath        string `json:"install_path"`
	UseSupervisor      bool   `json:"use_supervisor"`
	UseReverseProxy    bool   `json:"use_reverse_proxy"`
	ProxyDomain        string `json:"proxy_domain"`
	HostKeyFingerprint string `json:"host_key_fingerprint"`
}

func (*VMConfig) Platform() Platform { return PlatformVM }

func VMSchema() Schema {
	return Schema{
		Platform: PlatformVM,
		New:      func() PlatformConfig { return &VMConfig{} },
		Fields: []Field{
			{Name: "host", Kind: KindString, Required: true, Description: "Host name or IP address of the machine."},
			{Name: "ssh_port", Kind: KindInt, Default: 22, Description: "SSH port."},
			{Name: "username", Kind: KindString, Default: "root", Description: "SSH user."},
			{Name: "ssh_key", Kind: KindSecret, Required: true, Description: "Base64 encoded PEM private key."},
			{Name: "install_path", Kind: KindString, Default: "/opt/postqode/agents", Description: "Directory agents are installed under."},
			{Name: "use_supervisor", Kind: KindBool, Default: true, Description: "Run the agent as a systemd unit."},
			{Name: "use_reverse_proxy", Kind: KindBool, Default: false, Description: "Publish the agent through nginx."},
			{Name: "proxy_domain", Kind: KindString, Description: "Domain served by the reverse proxy."},
			{Name: "host_key_fingerprint", Kind: KindString, Description: "Expected SHA256 host key fingerprint."},
		},
	}
}

type EdgeConfig struct {
	DeviceID       string `json:"device_id"`
	DeviceGroup    string `json:"device_group"`
	OfflineCapable bool   `json:"offline_capable"`
	SyncInterval   int    `json:"sync_interval"`
	MemoryMB       int    `json:"memory_mb"`
	CPUPercent     int    `json:"cpu_percent"`
	MaxPayloadMB   int    `json:"max_payload_mb"`
	Registry       string `json:"registry"`
}

func (*EdgeConfig) Platform() Platform { return PlatformEdge }

func EdgeSchema() Schema {
	return Schema{
		Platform: PlatformEdge,
		New:      func() PlatformConfig { return &EdgeConfig{} },
		Fields: []Field{
			{Name: "device_id", Kind: KindString, Description: "Target device. Either this or device_group is required."},
			{Name: "device_group", Kind: KindString, Description: "Target device group."},
			{Name: "offline_capable", Kind: KindBool, Default: false, Description: "Accept the deployment while the device is offline."},
			{Name: "sync_interval", Kind: KindInt, Default: 60, Description: "Seconds between device synchronisations."},
			{Name: "memory_mb", Kind: KindInt, Default: 256, Description: "Memory ceiling on the device."},
			{Name: "cpu_percent", Kind: KindInt, Default: 50, Description: "CPU ceiling on the device."},
			{Name: "max_payload_mb", Kind: KindInt, Default: 64, Description: "Largest payload the device accepts."},
			{Name: "registry", Kind: KindString, Description: "OCI repository prefix devices pull from. Defaults to the service setting."},
		},
	}
}
