package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

type testClient struct {
	baseURL string
	apiKey  string
	userID  string
	client  *http.Client
}

func newTestClient(baseURL, apiKey, userID string) *testClient {
	return &testClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		userID:  userID,
		client:  &http.Client{},
	}
}

func (c *testClient) doRequest(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	require.NoError(t, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.userID != "" {
		req.Header.Set("X-User-ID", c.userID)
		req.Header.Set("X-User-Email", c.userID+"@example.com")
	}

	resp, err := c.client.Do(req)
	require.NoError(t, err)
	return resp
}

func (c *testClient) execute(t *testing.T, sessionID, language, code string) (map[string]any, int) {
	t.Helper()
	resp := c.doRequest(t, "POST", fmt.Sprintf("/v1/sessions/%s/execute", sessionID), map[string]any{
		"language": language,
		"code":     code,
	})
	status := resp.StatusCode
	return decodeResponse(t, resp), status
}

func (c *testClient) uploadFile(t *testing.T, sessionID, filename, contentBase64 string) int {
	t.Helper()
	resp := c.doRequest(t, "POST", fmt.Sprintf("/v1/sessions/%s/files", sessionID), map[string]any{
		"filename":       filename,
		"content_base64": contentBase64,
	})
	resp.Body.Close()
	return resp.StatusCode
}

func (c *testClient) listFiles(t *testing.T, sessionID string) []string {
	t.Helper()
	resp := c.doRequest(t, "GET", fmt.Sprintf("/v1/sessions/%s/files", sessionID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeResponse(t, resp)

	var files []string
	for _, f := range body["files"].([]any) {
		files = append(files, f.(string))
	}
	return files
}

func (c *testClient) downloadFile(t *testing.T, sessionID, path string) ([]byte, int) {
	t.Helper()
	resp := c.doRequest(t, "GET", fmt.Sprintf("/v1/sessions/%s/files/content?path=%s", sessionID, path), nil)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return data, resp.StatusCode
}

func decodeResponse(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var result map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return result
}
