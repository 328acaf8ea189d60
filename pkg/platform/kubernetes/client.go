package kubernetes

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	_ "k8s.io/client-go/plugin/pkg/client/auth" // Needed for auth side effect
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/postqode/agentdeploy/pkg/k8sutils"
)

const requestTimeout = 30 * time.Second

// Client bundles the typed and dynamic clients for one cluster.
type Client struct {
	Static  kubernetes.Interface
	Dynamic dynamic.Interface
}

// ConnectFunc returns a client for the cluster described by a kubeconfig.
type ConnectFunc func(kubeconfig []byte) (*Client, error)

// Connect parses a kubeconfig and builds clients for its current context.
func Connect(kubeconfig []byte) (*Client, error) {
	config, err := clientcmd.RESTConfigFromKubeConfig(kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("parse kubeconfig: %w", err)
	}
	return NewClient(config)
}

func NewClient(config *rest.Config) (*Client, error) {
	config = rest.CopyConfig(config)
	if config.Timeout == 0 {
		config.Timeout = requestTimeout
	}

	static, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, err
	}

	dyn, err := dynamic.NewForConfig(config)
	if err != nil {
		return nil, err
	}

	return &Client{
		Static:  static,
		Dynamic: dyn,
	}, nil
}

// ResourceInterface returns a dynamic client scoped to the resource's kind and namespace.
func (c *Client) ResourceInterface(resource *unstructured.Unstructured) (dynamic.ResourceInterface, error) {
	gvr, err := k8sutils.GroupVersionResource(resource.GroupVersionKind())
	if err != nil {
		return nil, err
	}

	resourceInterface := c.Dynamic.Resource(gvr)
	ns := resource.GetNamespace()

	if len(ns) == 0 {
		return resourceInterface, nil
	}

	return resourceInterface.Namespace(ns), nil
}

// DecodeKubeconfig accepts a base64 encoded kubeconfig. Surrounding whitespace is ignored.
func DecodeKubeconfig(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if len(encoded) == 0 {
		return nil, fmt.Errorf("kubeconfig is required")
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("kubeconfig is not valid base64: %w", err)
	}
	return data, nil
}
