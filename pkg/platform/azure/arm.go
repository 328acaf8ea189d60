package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/postqode/agentdeploy/pkg/deployment"
	"github.com/postqode/agentdeploy/pkg/platform"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/oauth2/microsoft"
)

const managementScope = "https://management.azure.com/.default"

// credentials identify a service principal.
type credentials struct {
	tenantID     string
	clientID     string
	clientSecret string
}

// tokens caches one token source per service principal.
type tokens struct {
	lock      sync.Mutex
	authority string
	base      *http.Client
	sources   map[credentials]oauth2.TokenSource
}

func (t *tokens) tokenURL(tenantID string) string {
	if len(t.authority) > 0 {
		return fmt.Sprintf("%s/%s/oauth2/v2.0/token", t.authority, tenantID)
	}
	return microsoft.AzureADEndpoint(tenantID).TokenURL
}

func (t *tokens) httpclient(ctx context.Context, creds credentials) *http.Client {
	t.lock.Lock()
	defer t.lock.Unlock()

	source, ok := t.sources[creds]
	if !ok {
		conf := clientcredentials.Config{
			ClientID:     creds.clientID,
			ClientSecret: creds.clientSecret,
			Scopes:       []string{managementScope},
			TokenURL:     t.tokenURL(creds.tenantID),
		}
		// The token source must not capture a request context.
		source = conf.TokenSource(context.WithValue(context.Background(), oauth2.HTTPClient, t.base))
		t.sources[creds] = source
	}

	return oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, t.base), source)
}

type armError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// request is one authenticated conversation with ARM or Kudu.
type request struct {
	client *http.Client
}

// do sends a request and decodes a JSON answer into out, if given.
// Non-2xx answers are mapped onto the error taxonomy.
func (r *request) do(ctx context.Context, method, url string, body io.Reader, contentType string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return deployment.ErrorWrap(deployment.KindDeploy, err)
	}
	if len(contentType) > 0 {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		var retrieve *oauth2.RetrieveError
		if errors.As(err, &retrieve) {
			return deployment.Errorf(deployment.KindValidation, "azure rejected the service principal credentials: %s", retrieve.ErrorDescription)
		}
		return platform.Unreachablef("%s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return platform.Unreachablef("%s %s: read response: %w", method, req.URL.Path, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out != nil && len(data) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				return deployment.Errorf(deployment.KindDeploy, "%s %s: decode response: %w", method, req.URL.Path, err)
			}
		}
		return nil
	}

	message := http.StatusText(resp.StatusCode)
	armErr := armError{}
	if json.Unmarshal(data, &armErr) == nil && len(armErr.Error.Message) > 0 {
		message = fmt.Sprintf("%s: %s", armErr.Error.Code, armErr.Error.Message)
	} else if len(data) > 0 && len(data) < 512 {
		message = string(bytes.TrimSpace(data))
	}

	err = fmt.Errorf("%s %s: %d %s", method, req.URL.Path, resp.StatusCode, message)
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", platform.ErrNotFound, err)
	case resp.StatusCode == http.StatusBadRequest:
		return deployment.ErrorWrap(deployment.KindValidation, err)
	case resp.StatusCode == http.StatusBadGateway, resp.StatusCode == http.StatusServiceUnavailable, resp.StatusCode == http.StatusGatewayTimeout:
		return platform.Unreachable(err)
	default:
		return deployment.ErrorWrap(deployment.KindDeploy, err)
	}
}

func (r *request) json(ctx context.Context, method, url string, body interface{}, out interface{}) error {
	if body == nil {
		return r.do(ctx, method, url, nil, "", out)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return deployment.ErrorWrap(deployment.KindDeploy, err)
	}
	return r.do(ctx, method, url, bytes.NewReader(data), "application/json", out)
}
