package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manash/imgvault/internal/gallery"
	"github.com/manash/imgvault/internal/logger"
	"github.com/manash/imgvault/internal/provider"
	"github.com/manash/imgvault/internal/state"
	"github.com/manash/imgvault/pkg/models"
)

type stubProvider struct {
	result *provider.Result
	err    error
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Generate(context.Context, *provider.Request) (*provider.Result, error) {
	return p.result, p.err
}

func (p *stubProvider) Edit(context.Context, *provider.Request) (*provider.Result, error) {
	return p.result, p.err
}

func (p *stubProvider) Variation(context.Context, *provider.Request) (*provider.Result, error) {
	return p.result, p.err
}

func testServer(t *testing.T, prov provider.Provider) (*Server, *state.State) {
	t.Helper()
	st := state.New(nil, logger.Nop())
	t.Cleanup(st.Close)

	hydrator := state.NewHydrator(st, nil, logger.Nop())
	require.NoError(t, hydrator.Run(context.Background()))

	svc := gallery.NewService(st, prov, models.DefaultRegistry(), logger.Nop())
	return New(&Config{State: st, Gallery: svc, Hydrator: hydrator, Log: logger.Nop()}), st
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	srv, _ := testServer(t, &stubProvider{})

	rec := doRequest(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_ListEmptyCollection(t *testing.T) {
	srv, _ := testServer(t, &stubProvider{})

	rec := doRequest(t, srv, http.MethodGet, "/api/images", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestServer_UnknownCollection(t *testing.T) {
	srv, _ := testServer(t, &stubProvider{})

	rec := doRequest(t, srv, http.MethodGet, "/api/bogus", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_GenerateAndList(t *testing.T) {
	prov := &stubProvider{result: &provider.Result{URL: "data:image/png;base64,aGVsbG8=", RevisedPrompt: "a refined cat"}}
	srv, _ := testServer(t, prov)

	rec := doRequest(t, srv, http.MethodPost, "/api/generate", `{"prompt":"a cat"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created models.GeneratedImage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "a cat", created.Prompt)

	rec = doRequest(t, srv, http.MethodGet, "/api/images", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var listed []models.GeneratedImage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, created.ID, listed[0].ID)
}

func TestServer_GenerateEmptyPrompt(t *testing.T) {
	srv, _ := testServer(t, &stubProvider{result: &provider.Result{URL: "data:image/png;base64,aGVsbG8="}})

	rec := doRequest(t, srv, http.MethodPost, "/api/generate", `{"prompt":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_GenerateProviderFailure(t *testing.T) {
	srv, _ := testServer(t, &stubProvider{err: provider.ErrGenerationFailed})

	rec := doRequest(t, srv, http.MethodPost, "/api/generate", `{"prompt":"a cat"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestServer_EditMissingSource(t *testing.T) {
	srv, _ := testServer(t, &stubProvider{result: &provider.Result{URL: "data:image/png;base64,aGVsbG8="}})

	rec := doRequest(t, srv, http.MethodPost, "/api/edit", `{"prompt":"add a hat","sourceId":"missing"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ClearCollection(t *testing.T) {
	prov := &stubProvider{result: &provider.Result{URL: "data:image/png;base64,aGVsbG8="}}
	srv, st := testServer(t, prov)

	doRequest(t, srv, http.MethodPost, "/api/generate", `{"prompt":"a cat"}`)
	require.Len(t, st.Records(models.CollectionImages), 1)

	rec := doRequest(t, srv, http.MethodDelete, "/api/images", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, st.Records(models.CollectionImages))
}

func TestServer_ClearAll(t *testing.T) {
	prov := &stubProvider{result: &provider.Result{URL: "data:image/png;base64,aGVsbG8="}}
	srv, st := testServer(t, prov)

	doRequest(t, srv, http.MethodPost, "/api/generate", `{"prompt":"a cat"}`)

	rec := doRequest(t, srv, http.MethodDelete, "/api/gallery", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	for _, col := range models.AllCollections() {
		assert.Empty(t, st.Records(col))
	}
}

func TestServer_State(t *testing.T) {
	srv, st := testServer(t, &stubProvider{})
	st.SetError("boom")

	rec := doRequest(t, srv, http.MethodGet, "/api/state", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Operation state.OperationState `json:"operation"`
		Hydration string               `json:"hydration"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "boom", payload.Operation.Error)
	assert.Equal(t, "hydrated", payload.Hydration)
}
