// Package k8sutils turns rendered chart documents into Kubernetes objects and
// knows where each supported kind lives in the API.
package k8sutils

import (
	"encoding/json"
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

var (
	DeploymentKind = schema.GroupVersionKind{Group: "apps", Version: "v1", Kind: "Deployment"}
	ServiceKind    = schema.GroupVersionKind{Version: "v1", Kind: "Service"}
	IngressKind    = schema.GroupVersionKind{Group: "networking.k8s.io", Version: "v1", Kind: "Ingress"}
	ConfigMapKind  = schema.GroupVersionKind{Version: "v1", Kind: "ConfigMap"}
	SecretKind     = schema.GroupVersionKind{Version: "v1", Kind: "Secret"}
)

// Resources maps every kind an agent chart may contain to its API resource.
// Discovery is not used, the set of kinds is closed.
var Resources = map[schema.GroupVersionKind]schema.GroupVersionResource{
	DeploymentKind: {Group: "apps", Version: "v1", Resource: "deployments"},
	ServiceKind:    {Version: "v1", Resource: "services"},
	IngressKind:    {Group: "networking.k8s.io", Version: "v1", Resource: "ingresses"},
	ConfigMapKind:  {Version: "v1", Resource: "configmaps"},
	SecretKind:     {Version: "v1", Resource: "secrets"},
}

type Identifier struct {
	schema.GroupVersionKind
	Namespace string
	Name      string
}

func (id Identifier) String() string {
	return fmt.Sprintf("%s/%s/%s", id.Kind, id.Namespace, id.Name)
}

func ResourceIdentifier(resource unstructured.Unstructured) Identifier {
	return Identifier{
		GroupVersionKind: resource.GroupVersionKind(),
		Namespace:        resource.GetNamespace(),
		Name:             resource.GetName(),
	}
}

func GroupVersionResource(gvk schema.GroupVersionKind) (schema.GroupVersionResource, error) {
	gvr, ok := Resources[gvk]
	if !ok {
		return schema.GroupVersionResource{}, fmt.Errorf("unsupported resource kind %s", gvk)
	}
	return gvr, nil
}

func ResourcesFromJSON(json []json.RawMessage) ([]unstructured.Unstructured, error) {
	resources := make([]unstructured.Unstructured, len(json))
	for i := range resources {
		err := resources[i].UnmarshalJSON(json[i])
		if err != nil {
			return nil, fmt.Errorf("resource %d: decoding payload: %s", i+1, err)
		}
	}
	return resources, nil
}
