package gcp

import "fmt"

// Configuration keys understood by this package.
const (
	KeyProjectID   = "gcp_project_id"
	KeyClusterName = "gcp_gke_cluster_name"
	KeyRegion      = "gcp_region"
	KeyZone        = "gcp_zone"
	KeyParent      = "gcp_parent"

	// KeyContextProvider selects the ContextProvider, see BuildContextProvider.
	KeyContextProvider = "gcp_context_provider"
)

// Secrets keys understood by LoadCredentials.
const (
	SecretServiceAccountFile = "service_account_file"
	SecretServiceAccountInfo = "service_account_info"

	// SecretKubeconfig points at the kubeconfig used to reach a GKE cluster.
	SecretKubeconfig = "kubeconfig_path"
)

// Configuration is the free form configuration handed to an activity.
type Configuration map[string]any

// String returns the value stored at key as a string, or an empty string.
func (c Configuration) String(key string) string {
	return stringValue(c, key)
}

// Secrets holds the sensitive values handed to an activity.
type Secrets map[string]any

func (s Secrets) String(key string) string {
	return stringValue(s, key)
}

func stringValue(values map[string]any, key string) string {
	v, ok := values[key]
	if !ok || v == nil {
		return ""
	}

	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}
