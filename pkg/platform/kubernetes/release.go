package kubernetes

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/postqode/agentdeploy/pkg/builder"
	"github.com/postqode/agentdeploy/pkg/k8sutils"
	"github.com/postqode/agentdeploy/pkg/platform"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

const (
	releaseRevision     = "revision"
	releaseChartVersion = "chart_version"
	releaseAppVersion   = "app_version"
	releaseImage        = "image"
	releaseDeploymentID = "deployment_id"
	releaseResources    = "resources"
	releaseUpdated      = "updated"
)

// releaseRecord is the content of a release ConfigMap, or empty for a new release.
type releaseRecord map[string]string

func (r releaseRecord) revision() int {
	revision, _ := strconv.Atoi(r[releaseRevision])
	return revision
}

func (r releaseRecord) resources() []string {
	if len(r[releaseResources]) == 0 {
		return nil
	}
	return strings.Split(r[releaseResources], "\n")
}

func objectKey(kind, name string) string {
	return kind + "/" + name
}

func splitObjectKey(key string) (schema.GroupVersionKind, string) {
	kind, name, _ := strings.Cut(key, "/")
	for gvk := range k8sutils.Resources {
		if gvk.Kind == kind {
			return gvk, name
		}
	}
	return schema.GroupVersionKind{Kind: kind}, name
}

func readRelease(ctx context.Context, client *Client, ns, release string) (releaseRecord, error) {
	gvr := k8sutils.Resources[k8sutils.ConfigMapKind]
	obj, err := client.Dynamic.Resource(gvr).Namespace(ns).Get(ctx, releaseConfigMap(release), metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return releaseRecord{}, nil
	} else if err != nil {
		return nil, mapError(err, "read release")
	}
	data, _, _ := unstructured.NestedStringMap(obj.Object, "data")
	return data, nil
}

func writeRelease(ctx context.Context, client *Client, target platform.Target, ns, release string, revision int, image string, applied []string) error {
	data := map[string]interface{}{
		releaseRevision:     strconv.Itoa(revision),
		releaseChartVersion: builder.ChartVersion,
		releaseAppVersion:   target.Config.Version,
		releaseImage:        image,
		releaseDeploymentID: target.DeploymentID,
		releaseResources:    strings.Join(applied, "\n"),
		releaseUpdated:      time.Now().UTC().Format(time.RFC3339),
	}

	cm := unstructured.Unstructured{Object: map[string]interface{}{"data": data}}
	cm.SetGroupVersionKind(k8sutils.ConfigMapKind)
	cm.SetName(releaseConfigMap(release))
	cm.SetNamespace(ns)
	cm.SetLabels(labels(target, release))

	resourceInterface, err := client.ResourceInterface(&cm)
	if err != nil {
		return err
	}
	_, err = createOrUpdate(ctx, resourceInterface, cm)
	if err != nil {
		return mapError(err, "record release")
	}
	return nil
}

func deleteObject(ctx context.Context, client *Client, gvk schema.GroupVersionKind, ns, name string) error {
	gvr, err := k8sutils.GroupVersionResource(gvk)
	if err != nil {
		return nil
	}
	propagation := metav1.DeletePropagationBackground
	err = client.Dynamic.Resource(gvr).Namespace(ns).Delete(ctx, name, metav1.DeleteOptions{
		PropagationPolicy: &propagation,
	})
	if err != nil && !apierrors.IsNotFound(err) {
		return mapError(err, fmt.Sprintf("delete %s/%s", gvk.Kind, name))
	}
	return nil
}
