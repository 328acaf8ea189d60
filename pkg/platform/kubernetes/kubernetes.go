// Package kubernetes installs agents into a Kubernetes cluster from a generated chart.
package kubernetes

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/postqode/agentdeploy/pkg/builder"
	"github.com/postqode/agentdeploy/pkg/deployment"
	"github.com/postqode/agentdeploy/pkg/k8sutils"
	"github.com/postqode/agentdeploy/pkg/platform"
	"github.com/postqode/agentdeploy/pkg/templating"
	log "github.com/sirupsen/logrus"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/util/validation"
)

const (
	InstanceLabel   = "app.kubernetes.io/instance"
	ManagedByLabel  = "app.kubernetes.io/managed-by"
	ManagedBy       = "agentdeploy"
	AgentIDLabel    = "postqode.io/agent-id"
	DeploymentLabel = "postqode.io/deployment-id"

	// ReplicasAnnotation holds the replica count a stopped release is restored to.
	ReplicasAnnotation = "postqode.io/replicas"

	containerName = "agent"
	maxReleaseLen = 53
)

type Deployer struct {
	connect ConnectFunc
}

var _ platform.Deployer = &Deployer{}

func New(connect ConnectFunc) *Deployer {
	if connect == nil {
		connect = Connect
	}
	return &Deployer{connect: connect}
}

var (
	invalidReleaseChars = regexp.MustCompile(`[^a-z0-9-]+`)
	repeatedDashes      = regexp.MustCompile(`-{2,}`)
)

// ReleaseName is the DNS-1123 label naming every object of a deployment.
func ReleaseName(agentName, environment string) string {
	name := strings.ToLower(fmt.Sprintf("pq-%s-%s", agentName, environment))
	name = invalidReleaseChars.ReplaceAllString(name, "-")
	name = repeatedDashes.ReplaceAllString(name, "-")
	if len(name) > maxReleaseLen {
		name = name[:maxReleaseLen]
	}
	return strings.Trim(name, "-")
}

func releaseConfigMap(release string) string {
	return release + "-release"
}

func envSecret(release string) string {
	return release + "-env"
}

func (d *Deployer) Platform() deployment.Platform {
	return deployment.PlatformKubernetes
}

func (d *Deployer) ArtifactKind() deployment.ArtifactKind {
	return deployment.ArtifactChart
}

func (d *Deployer) Schema() deployment.Schema {
	return deployment.KubernetesSchema()
}

func (d *Deployer) ValidateConfig(cfg deployment.Config) deployment.ValidationResult {
	result := deployment.ValidationResult{}

	settings, ok := cfg.Settings.(*deployment.KubernetesConfig)
	if !ok {
		result.AddError("kubernetes settings missing")
		return result
	}

	kubeconfig, err := DecodeKubeconfig(settings.Kubeconfig.Reveal())
	if err != nil {
		result.AddError("%s", err)
	} else if _, err := d.connect(kubeconfig); err != nil {
		result.AddError("kubeconfig is not usable: %s", err)
	}

	for _, msg := range validation.IsDNS1123Label(settings.Namespace) {
		result.AddError("namespace %q: %s", settings.Namespace, msg)
	}
	if len(ReleaseName(cfg.AgentName, cfg.EnvironmentName)) == 0 {
		result.AddError("agent name and environment do not form a valid release name")
	}
	if settings.Replicas < 1 {
		result.AddError("replicas must be at least 1")
	}
	if settings.IngressEnabled && len(settings.IngressHost) == 0 {
		result.AddError("ingress_host is required when ingress is enabled")
	}
	for name, value := range map[string]string{
		"cpu_request":    settings.CPURequest,
		"memory_request": settings.MemoryRequest,
		"cpu_limit":      settings.CPULimit,
		"memory_limit":   settings.MemoryLimit,
	} {
		if len(value) == 0 {
			continue
		}
		if _, err := resource.ParseQuantity(value); err != nil {
			result.AddError("%s %q is not a valid quantity", name, value)
		}
	}
	if len(settings.RegistryUsername) > 0 && settings.RegistryPassword.Empty() {
		result.AddWarning("registry_username is set without registry_password")
	}

	return result
}

func (d *Deployer) client(target platform.Target) (*Client, *deployment.KubernetesConfig, error) {
	settings, err := platform.Settings[*deployment.KubernetesConfig](target)
	if err != nil {
		return nil, nil, err
	}
	kubeconfig, err := DecodeKubeconfig(settings.Kubeconfig.Reveal())
	if err != nil {
		return nil, nil, deployment.ErrorWrap(deployment.KindValidation, err)
	}
	client, err := d.connect(kubeconfig)
	if err != nil {
		return nil, nil, deployment.ErrorWrap(deployment.KindValidation, err)
	}
	return client, settings, nil
}

func (d *Deployer) release(target platform.Target) string {
	if len(target.ExternalID) > 0 {
		return target.ExternalID
	}
	return ReleaseName(target.Config.AgentName, target.Config.EnvironmentName)
}

func labels(target platform.Target, release string) map[string]string {
	return map[string]string{
		"app.kubernetes.io/name":    builder.ImageName(target.Config.AgentName),
		InstanceLabel:               release,
		"app.kubernetes.io/version": target.Config.Version,
		ManagedByLabel:              ManagedBy,
		AgentIDLabel:                target.Config.AgentID,
		DeploymentLabel:             target.DeploymentID,
	}
}

func values(target platform.Target, settings *deployment.KubernetesConfig, release, image string) templating.Variables {
	env := []map[string]string{
		{"name": "POSTQODE_DEPLOYMENT_ID", "value": target.DeploymentID},
		{"name": "POSTQODE_AGENT_ID", "value": target.Config.AgentID},
		{"name": "POSTQODE_ADAPTER", "value": target.Config.Adapter},
	}
	for _, e := range target.Config.EnvVars {
		if !e.Secret {
			env = append(env, map[string]string{"name": e.Name, "value": e.Value})
		}
	}

	return templating.Variables{
		"release":   release,
		"namespace": settings.Namespace,
		"labels":    labels(target, release),
		"replicas":  settings.Replicas,
		"image":     image,
		"env":       env,
		"resources": map[string]interface{}{
			"requests": map[string]string{"cpu": settings.CPURequest, "memory": settings.MemoryRequest},
			"limits":   map[string]string{"cpu": settings.CPULimit, "memory": settings.MemoryLimit},
		},
		"ingress": map[string]interface{}{
			"enabled":   settings.IngressEnabled,
			"host":      settings.IngressHost,
			"className": settings.IngressClass,
		},
	}
}

func (d *Deployer) Deploy(ctx context.Context, target platform.Target, build deployment.BuildResult) (deployment.DeployResult, error) {
	start := time.Now()
	result := deployment.DeployResult{}

	client, settings, err := d.client(target)
	if err != nil {
		return result, err
	}
	if len(build.ArtifactPath) == 0 || len(build.ImageRef) == 0 {
		return result, deployment.Errorf(deployment.KindDeploy, "no chart to install")
	}

	release := ReleaseName(target.Config.AgentName, target.Config.EnvironmentName)
	result.ExternalID = release
	ns := settings.Namespace
	logger := log.WithFields(log.Fields{
		"deployment_id": target.DeploymentID,
		"release":       release,
		"namespace":     ns,
	})
	buf := &bytes.Buffer{}

	err = ensureNamespace(ctx, client, ns)
	if err != nil {
		return result, err
	}

	vars := values(target, settings, release, build.ImageRef)
	resources := make([]unstructured.Unstructured, 0)

	secret := secretEnv(target, release, ns)
	if secret != nil {
		vars["secretEnv"] = secret.GetName()
		resources = append(resources, *secret)
	}

	for _, name := range builder.ChartTemplates {
		docs, err := templating.DocumentsFromFile(filepath.Join(build.ArtifactPath, "templates", name), vars)
		if err != nil {
			return result, deployment.Errorf(deployment.KindDeploy, "render chart: %w", err)
		}
		rendered, err := k8sutils.ResourcesFromJSON(docs)
		if err != nil {
			return result, deployment.Errorf(deployment.KindDeploy, "render chart: %w", err)
		}
		resources = append(resources, rendered...)
	}

	previous, err := readRelease(ctx, client, ns, release)
	if err != nil {
		return result, err
	}

	applied := make([]string, 0, len(resources))
	for i := range resources {
		if len(resources[i].GetNamespace()) == 0 {
			resources[i].SetNamespace(ns)
		}
		id := k8sutils.ResourceIdentifier(resources[i])
		resourceInterface, err := client.ResourceInterface(&resources[i])
		if err != nil {
			return result, deployment.Errorf(deployment.KindDeploy, "%s: %w", id, err)
		}
		_, err = createOrUpdate(ctx, resourceInterface, resources[i])
		if err != nil {
			return result, mapError(err, "apply "+id.String())
		}
		applied = append(applied, objectKey(id.Kind, id.Name))
		fmt.Fprintf(buf, "applied %s\n", id)
		logger.Debugf("Applied %s", id)
	}

	for _, key := range previous.resources() {
		if contains(applied, key) {
			continue
		}
		kind, name := splitObjectKey(key)
		err = deleteObject(ctx, client, kind, ns, name)
		if err != nil {
			return result, err
		}
		fmt.Fprintf(buf, "pruned %s/%s/%s\n", kind.Kind, ns, name)
	}

	revision := previous.revision() + 1
	err = writeRelease(ctx, client, target, ns, release, revision, build.ImageRef, applied)
	if err != nil {
		return result, err
	}
	fmt.Fprintf(buf, "release %s revision %d installed into %s\n", release, revision, ns)
	logger.Infof("Installed release revision %d", revision)

	url := accessURL(settings)
	result.State = "deployed"
	result.AccessURL = url
	result.Endpoints = map[string]string{
		"service":      fmt.Sprintf("http://%s.%s.svc.cluster.local:8080", release, ns),
		"logs":         fmt.Sprintf("kubectl logs -n %s -l %s=%s", ns, InstanceLabel, release),
		"port_forward": fmt.Sprintf("kubectl port-forward -n %s svc/%s %d:8080", ns, release, target.Config.Port),
	}
	if len(url) > 0 {
		result.Endpoints["web"] = url
		result.Endpoints["health"] = url + "/health"
		result.Endpoints["invoke"] = url + "/invoke"
	}
	result.Log = buf.String()
	result.Duration = time.Since(start)

	return result, nil
}

func secretEnv(target platform.Target, release, ns string) *unstructured.Unstructured {
	data := make(map[string]interface{})
	for _, e := range target.Config.EnvVars {
		if e.Secret {
			data[e.Name] = e.Value
		}
	}
	if len(data) == 0 {
		return nil
	}

	secret := &unstructured.Unstructured{Object: map[string]interface{}{"stringData": data, "type": "Opaque"}}
	secret.SetGroupVersionKind(k8sutils.SecretKind)
	secret.SetName(envSecret(release))
	secret.SetNamespace(ns)
	secret.SetLabels(labels(target, release))
	return secret
}

func ensureNamespace(ctx context.Context, client *Client, ns string) error {
	_, err := client.Static.CoreV1().Namespaces().Get(ctx, ns, metav1.GetOptions{})
	if err == nil || apierrors.IsForbidden(err) {
		return nil
	}
	if !apierrors.IsNotFound(err) {
		return mapError(err, "get namespace")
	}
	_, err = client.Static.CoreV1().Namespaces().Create(ctx, &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name:   ns,
			Labels: map[string]string{ManagedByLabel: ManagedBy},
		},
	}, metav1.CreateOptions{})
	if err != nil && !apierrors.IsAlreadyExists(err) {
		return mapError(err, "create namespace")
	}
	return nil
}

func accessURL(settings *deployment.KubernetesConfig) string {
	if !settings.IngressEnabled || len(settings.IngressHost) == 0 {
		return ""
	}
	return "https://" + settings.IngressHost
}

func (d *Deployer) deploymentObject(ctx context.Context, target platform.Target) (*Client, *deployment.KubernetesConfig, *unstructured.Unstructured, error) {
	client, settings, err := d.client(target)
	if err != nil {
		return nil, nil, nil, err
	}
	gvr := k8sutils.Resources[k8sutils.DeploymentKind]
	obj, err := client.Dynamic.Resource(gvr).Namespace(settings.Namespace).Get(ctx, d.release(target), metav1.GetOptions{})
	if err != nil {
		return client, settings, nil, mapError(err, "get deployment")
	}
	return client, settings, obj, nil
}

func (d *Deployer) scale(ctx context.Context, client *Client, ns string, obj *unstructured.Unstructured, replicas int64, restore int64) error {
	err := unstructured.SetNestedField(obj.Object, replicas, "spec", "replicas")
	if err != nil {
		return deployment.ErrorWrap(deployment.KindDeploy, err)
	}
	annotations := obj.GetAnnotations()
	if annotations == nil {
		annotations = make(map[string]string)
	}
	if restore > 0 {
		annotations[ReplicasAnnotation] = strconv.FormatInt(restore, 10)
	} else {
		delete(annotations, ReplicasAnnotation)
	}
	obj.SetAnnotations(annotations)

	gvr := k8sutils.Resources[k8sutils.DeploymentKind]
	_, err = client.Dynamic.Resource(gvr).Namespace(ns).Update(ctx, obj, metav1.UpdateOptions{})
	if err != nil {
		return mapError(err, "scale deployment")
	}
	return nil
}

func (d *Deployer) Start(ctx context.Context, target platform.Target) (deployment.StatusResult, error) {
	client, settings, obj, err := d.deploymentObject(ctx, target)
	if err != nil {
		return deployment.StatusResult{}, err
	}

	replicas := int64(settings.Replicas)
	if stored, err := strconv.ParseInt(obj.GetAnnotations()[ReplicasAnnotation], 10, 64); err == nil && stored > 0 {
		replicas = stored
	}
	if replicas < 1 {
		replicas = 1
	}

	err = d.scale(ctx, client, settings.Namespace, obj, replicas, 0)
	if err != nil {
		return deployment.StatusResult{}, err
	}
	return statusOf(obj), nil
}

// Stop scales the release to zero and remembers the previous replica count.
func (d *Deployer) Stop(ctx context.Context, target platform.Target) (deployment.StatusResult, error) {
	stopped := deployment.StatusResult{
		State:       "stopped",
		Health:      deployment.HealthUnknown,
		Settled:     true,
		Message:     "Scaled to 0 replicas",
		LastUpdated: time.Now(),
	}

	client, settings, obj, err := d.deploymentObject(ctx, target)
	if platform.IsNotFound(err) {
		return stopped, nil
	} else if err != nil {
		return deployment.StatusResult{}, err
	}

	current, found, _ := unstructured.NestedInt64(obj.Object, "spec", "replicas")
	if found && current == 0 {
		return stopped, nil
	}
	if !found || current < 1 {
		current = int64(settings.Replicas)
	}

	err = d.scale(ctx, client, settings.Namespace, obj, 0, current)
	if err != nil {
		return deployment.StatusResult{}, err
	}
	return stopped, nil
}

func (d *Deployer) Status(ctx context.Context, target platform.Target) (deployment.StatusResult, error) {
	_, _, obj, err := d.deploymentObject(ctx, target)
	if err != nil {
		return deployment.StatusResult{}, err
	}
	return statusOf(obj), nil
}

func statusOf(obj *unstructured.Unstructured) deployment.StatusResult {
	result := deployment.StatusResult{
		Health:      deployment.HealthUnknown,
		LastUpdated: time.Now(),
	}

	replicas, found, _ := unstructured.NestedInt64(obj.Object, "spec", "replicas")
	if !found {
		replicas = 1
	}
	ready, _, _ := unstructured.NestedInt64(obj.Object, "status", "readyReplicas")

	conditions, _, _ := unstructured.NestedSlice(obj.Object, "status", "conditions")
	for _, c := range conditions {
		condition, ok := c.(map[string]interface{})
		if !ok {
			continue
		}
		switch {
		case condition["type"] == "Progressing" && condition["reason"] == "ProgressDeadlineExceeded":
			result.Failed = true
			result.Message = fmt.Sprint(condition["message"])
		case condition["type"] == "Available" && condition["status"] == "True":
			if at, err := time.Parse(time.RFC3339, fmt.Sprint(condition["lastTransitionTime"])); err == nil {
				result.UptimeSeconds = int64(time.Since(at).Seconds())
			}
		}
	}

	result.Running = ready > 0
	switch {
	case replicas == 0:
		result.State = "stopped"
		result.Settled = true
		result.UptimeSeconds = 0
	case ready >= replicas:
		result.State = "running"
		result.Health = deployment.HealthHealthy
		result.Settled = true
	case ready > 0:
		result.State = "degraded"
	default:
		result.State = "pending"
		result.UptimeSeconds = 0
	}
	if result.Failed {
		result.Health = deployment.HealthUnhealthy
		result.Settled = false
	}
	if len(result.Message) == 0 {
		result.Message = fmt.Sprintf("%d/%d replicas ready", ready, replicas)
	}

	return result
}

func (d *Deployer) Logs(ctx context.Context, target platform.Target, lines int) (string, error) {
	client, settings, err := d.client(target)
	if err != nil {
		return "", err
	}
	release := d.release(target)

	pods, err := client.Static.CoreV1().Pods(settings.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("%s=%s", InstanceLabel, release),
	})
	if err != nil {
		return "", mapError(err, "list pods")
	}
	if len(pods.Items) == 0 {
		return fmt.Sprintf("No pods found for release %s", release), nil
	}

	sort.Slice(pods.Items, func(i, j int) bool {
		ri, rj := pods.Items[i].Status.Phase == corev1.PodRunning, pods.Items[j].Status.Phase == corev1.PodRunning
		if ri != rj {
			return ri
		}
		return pods.Items[i].Name < pods.Items[j].Name
	})
	pod := pods.Items[0]

	tail := int64(lines)
	stream, err := client.Static.CoreV1().Pods(settings.Namespace).GetLogs(pod.Name, &corev1.PodLogOptions{
		Container:  containerName,
		TailLines:  &tail,
		Timestamps: true,
	}).Stream(ctx)
	if err != nil {
		return "", mapError(err, "stream logs of "+pod.Name)
	}
	defer stream.Close()

	data, err := io.ReadAll(stream)
	if err != nil {
		return string(data), platform.Unreachable(err)
	}
	return string(data), nil
}

func (d *Deployer) AccessURL(ctx context.Context, target platform.Target) (string, error) {
	settings, err := platform.Settings[*deployment.KubernetesConfig](target)
	if err != nil {
		return "", err
	}
	return accessURL(settings), nil
}

// Delete removes every object of the release. Objects that are already gone are skipped.
func (d *Deployer) Delete(ctx context.Context, target platform.Target) error {
	client, settings, err := d.client(target)
	if err != nil {
		return err
	}
	ns := settings.Namespace
	release := d.release(target)

	rel, err := readRelease(ctx, client, ns, release)
	if err != nil {
		return err
	}

	keys := rel.resources()
	if len(keys) == 0 {
		keys = []string{
			objectKey(k8sutils.IngressKind.Kind, release),
			objectKey(k8sutils.ServiceKind.Kind, release),
			objectKey(k8sutils.DeploymentKind.Kind, release),
			objectKey(k8sutils.SecretKind.Kind, envSecret(release)),
		}
	}
	keys = append(keys, objectKey(k8sutils.ConfigMapKind.Kind, releaseConfigMap(release)))

	for _, key := range keys {
		kind, name := splitObjectKey(key)
		err = deleteObject(ctx, client, kind, ns, name)
		if err != nil {
			return err
		}
	}

	log.WithField("release", release).Infof("Deleted release from namespace %s", ns)
	return nil
}

func mapError(err error, action string) error {
	var status apierrors.APIStatus
	switch {
	case apierrors.IsNotFound(err):
		return fmt.Errorf("%s: %w", action, platform.ErrNotFound)
	case apierrors.IsInvalid(err), apierrors.IsBadRequest(err):
		return deployment.Errorf(deployment.KindValidation, "%s: %w", action, err)
	case apierrors.IsUnauthorized(err), apierrors.IsForbidden(err):
		return deployment.Errorf(deployment.KindDeploy, "%s: access denied: %w", action, err)
	case errors.As(err, &status):
		return deployment.Errorf(deployment.KindDeploy, "%s: %w", action, err)
	default:
		return platform.Unreachablef("%s: %w", action, err)
	}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
