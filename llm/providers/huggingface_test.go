package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/c360studio/concepteng/llm"
	"github.com/c360studio/concepteng/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHuggingFaceCodec_BuildURL(t *testing.T) {
	c := &HuggingFaceCodec{}
	assert.Equal(t,
		"https://api-inference.huggingface.co/models/google/flan-t5-xxl",
		c.BuildURL("", "google/flan-t5-xxl"))
	assert.Equal(t,
		"http://tgi:8080/models/meta-llama/Llama-2-70b-chat-hf",
		c.BuildURL("http://tgi:8080/", "meta-llama/Llama-2-70b-chat-hf"))
}

func TestHuggingFaceCodec_BuildRequestBody(t *testing.T) {
	temp := 0.0
	body, err := (&HuggingFaceCodec{}).BuildRequestBody("google/flan-t5-xxl",
		[]llm.Message{{Role: "user", Content: "Is a tomato a fruit?"}}, &temp, 64)
	require.NoError(t, err)

	var req hfRequest
	require.NoError(t, json.Unmarshal(body, &req))
	assert.Equal(t, "Is a tomato a fruit?", req.Inputs)
	require.NotNil(t, req.Parameters.Temperature)
	assert.Equal(t, minHFTemperature, *req.Parameters.Temperature)
	assert.Equal(t, 64, req.Parameters.MaxNewTokens)
	assert.False(t, req.Parameters.ReturnFullText)
	assert.True(t, req.Options.WaitForModel)
}

func TestHuggingFaceCodec_ParseResponse(t *testing.T) {
	c := &HuggingFaceCodec{}

	resp, err := c.ParseResponse([]byte(`[{"generated_text": "True"}]`), "google/flan-t5-xxl")
	require.NoError(t, err)
	assert.Equal(t, "True", resp.Content)
	assert.Equal(t, "google/flan-t5-xxl", resp.Model)

	resp, err = c.ParseResponse([]byte(`{"generated_text": "False"}`), "m")
	require.NoError(t, err)
	assert.Equal(t, "False", resp.Content)

	_, err = c.ParseResponse([]byte(`[]`), "m")
	assert.Error(t, err)
}

func TestHuggingFace_ClientRoundTrip(t *testing.T) {
	t.Setenv("HUGGINGFACEHUB_API_TOKEN", "hf_test")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/google/flan-t5-xxl", r.URL.Path)
		assert.Equal(t, "Bearer hf_test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"generated_text": " Unknown "}]`))
	}))
	defer server.Close()

	registry := model.NewRegistry(map[string]*model.EndpointConfig{
		"google/flan-t5-xxl": {Provider: "huggingface", URL: server.URL, Model: "google/flan-t5-xxl"},
	})

	client, err := llm.NewClient(registry, "google/flan-t5-xxl", llm.WithRetryConfig(llm.NoRetry()))
	require.NoError(t, err)

	out, err := client.Generate(context.Background(), "Is a virus alive?", 0.1)
	require.NoError(t, err)
	assert.Equal(t, " Unknown ", out)
}
