package kubernetes

import (
	"context"
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/client-go/dynamic"
)

// createOrUpdate creates the resource, or replaces the existing one while keeping
// its resourceVersion.
func createOrUpdate(ctx context.Context, client dynamic.ResourceInterface, resource unstructured.Unstructured) (*unstructured.Unstructured, error) {
	existing, err := client.Get(ctx, resource.GetName(), metav1.GetOptions{})
	if errors.IsNotFound(err) {
		deployed, err := client.Create(ctx, &resource, metav1.CreateOptions{
			FieldValidation: metav1.FieldValidationStrict,
		})
		if err != nil {
			return nil, fmt.Errorf("creating resource: %w", transformStrictDecodingError(err))
		}
		return deployed, nil
	} else if err != nil {
		return nil, fmt.Errorf("get existing resource: %w", err)
	}

	resource.SetResourceVersion(existing.GetResourceVersion())
	updated, err := client.Update(ctx, &resource, metav1.UpdateOptions{
		FieldValidation: metav1.FieldValidationStrict,
	})
	if err != nil {
		return nil, fmt.Errorf("updating resource: %w", transformStrictDecodingError(err))
	}

	return updated, nil
}

// transformStrictDecodingError strips the verbose prefix of strict decoding
// failures and lists one unknown field per line.
func transformStrictDecodingError(err error) error {
	msg := err.Error()

	// Kubernetes doesn't expose any error types, so we have to rely on the error message for now
	const strictDecodingError = "strict decoding error:"

	if !strings.Contains(msg, strictDecodingError) {
		return err
	}

	parts := strings.SplitAfterN(msg, strictDecodingError, 2)
	s := &strings.Builder{}
	s.WriteString(strictDecodingError)
	for _, e := range strings.Split(parts[1], ",") {
		s.WriteString("\n| ")
		s.WriteString(strings.TrimSpace(e))
	}
	s.WriteString("\n| The chart template does not match the cluster's API version.")

	return fmt.Errorf("%s: %w", s.String(), err)
}
