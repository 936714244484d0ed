package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/manash/imgvault/internal/provider"
	"github.com/manash/imgvault/internal/store"
)

type fakeProvider struct {
	result *provider.Result
	err    error
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Generate(context.Context, *provider.Request) (*provider.Result, error) {
	return p.result, p.err
}

func (p *fakeProvider) Edit(context.Context, *provider.Request) (*provider.Result, error) {
	return p.result, p.err
}

func (p *fakeProvider) Variation(context.Context, *provider.Request) (*provider.Result, error) {
	return p.result, p.err
}

func resetFlags() {
	flagConfig = ""
	flagDBPath = ""
	flagListen = ""
	flagEndpoint = ""
	flagModel = ""
	flagSize = ""
	flagQuality = ""
	flagFormat = ""
	flagTransparent = false
	flagAll = false
}

func testApp(t *testing.T, prov provider.Provider) (*App, *bytes.Buffer, string) {
	t.Helper()
	resetFlags()
	// Keep the test away from any real user config.
	t.Setenv("IMGVAULT_CONFIG_DIR", t.TempDir())
	t.Setenv("IMGVAULT_DB_PATH", "")
	t.Setenv("IMGVAULT_PROVIDER_ENDPOINT", "")

	out := &bytes.Buffer{}
	dbPath := filepath.Join(t.TempDir(), "gallery.db")

	app := &App{
		Out:       out,
		Err:       &bytes.Buffer{},
		GetEnv:    func(string) string { return "" },
		OpenStore: openStore,
		NewProvider: func(*provider.Config) (provider.Provider, error) {
			return prov, nil
		},
	}
	return app, out, dbPath
}

func execute(t *testing.T, app *App, args ...string) error {
	t.Helper()
	cmd := newRootCmd(app)
	cmd.SetOut(app.Out)
	cmd.SetErr(app.Err)
	cmd.SetArgs(args)
	return cmd.Execute()
}

func TestGenerateCommand(t *testing.T) {
	prov := &fakeProvider{result: &provider.Result{
		URL:           "data:image/png;base64,aGVsbG8=",
		RevisedPrompt: "a refined cat",
	}}
	app, out, dbPath := testApp(t, prov)

	if err := execute(t, app, "generate", "--db", dbPath, "a cat"); err != nil {
		t.Fatalf("generate error = %v", err)
	}

	if !strings.Contains(out.String(), "Added ") {
		t.Errorf("generate output missing record id: %q", out.String())
	}
	if !strings.Contains(out.String(), "Revised prompt: a refined cat") {
		t.Errorf("generate output missing revised prompt: %q", out.String())
	}

	// The record must have been written through to the database.
	st, err := store.OpenPath(dbPath)
	if err != nil {
		t.Fatalf("OpenPath() error = %v", err)
	}
	defer st.Close()

	count, err := st.CountRecords(context.Background(), "images")
	if err != nil {
		t.Fatalf("CountRecords() error = %v", err)
	}
	if count != 1 {
		t.Errorf("stored records = %d, want 1", count)
	}
}

func TestGenerateCommand_ProviderFailure(t *testing.T) {
	prov := &fakeProvider{err: provider.ErrGenerationFailed}
	app, _, dbPath := testApp(t, prov)

	if err := execute(t, app, "generate", "--db", dbPath, "a cat"); err == nil {
		t.Error("generate with failing provider should return error")
	}
}

func TestListCommand(t *testing.T) {
	prov := &fakeProvider{result: &provider.Result{URL: "data:image/png;base64,aGVsbG8="}}
	app, out, dbPath := testApp(t, prov)

	if err := execute(t, app, "generate", "--db", dbPath, "a dog on a skateboard"); err != nil {
		t.Fatalf("generate error = %v", err)
	}

	out.Reset()
	resetFlags()
	if err := execute(t, app, "list", "--db", dbPath, "images"); err != nil {
		t.Fatalf("list error = %v", err)
	}

	if !strings.Contains(out.String(), "a dog on a skateboard") {
		t.Errorf("list output missing prompt: %q", out.String())
	}
}

func TestListCommand_Empty(t *testing.T) {
	app, out, dbPath := testApp(t, &fakeProvider{})

	if err := execute(t, app, "list", "--db", dbPath); err != nil {
		t.Fatalf("list error = %v", err)
	}
	if !strings.Contains(out.String(), "No records") {
		t.Errorf("list output = %q, want empty notice", out.String())
	}
}

func TestListCommand_UnknownCollection(t *testing.T) {
	app, _, dbPath := testApp(t, &fakeProvider{})

	if err := execute(t, app, "list", "--db", dbPath, "bogus"); err == nil {
		t.Error("list with unknown collection should return error")
	}
}

func TestClearCommand(t *testing.T) {
	prov := &fakeProvider{result: &provider.Result{URL: "data:image/png;base64,aGVsbG8="}}
	app, out, dbPath := testApp(t, prov)

	if err := execute(t, app, "generate", "--db", dbPath, "a cat"); err != nil {
		t.Fatalf("generate error = %v", err)
	}

	out.Reset()
	resetFlags()
	if err := execute(t, app, "clear", "--db", dbPath, "images"); err != nil {
		t.Fatalf("clear error = %v", err)
	}
	if !strings.Contains(out.String(), "Cleared images") {
		t.Errorf("clear output = %q", out.String())
	}

	st, err := store.OpenPath(dbPath)
	if err != nil {
		t.Fatalf("OpenPath() error = %v", err)
	}
	defer st.Close()

	count, err := st.CountRecords(context.Background(), "images")
	if err != nil {
		t.Fatalf("CountRecords() error = %v", err)
	}
	if count != 0 {
		t.Errorf("stored records after clear = %d, want 0", count)
	}
}

func TestClearCommand_All(t *testing.T) {
	prov := &fakeProvider{result: &provider.Result{URL: "data:image/png;base64,aGVsbG8="}}
	app, out, dbPath := testApp(t, prov)

	if err := execute(t, app, "generate", "--db", dbPath, "a cat"); err != nil {
		t.Fatalf("generate error = %v", err)
	}

	out.Reset()
	resetFlags()
	if err := execute(t, app, "clear", "--db", dbPath, "--all"); err != nil {
		t.Fatalf("clear --all error = %v", err)
	}
	if !strings.Contains(out.String(), "Cleared all collections") {
		t.Errorf("clear --all output = %q", out.String())
	}
}

func TestCollectionArg(t *testing.T) {
	tests := []struct {
		args    []string
		want    string
		wantErr bool
	}{
		{nil, "images", false},
		{[]string{"images"}, "images", false},
		{[]string{"edited-images"}, "editedImages", false},
		{[]string{"variations"}, "variations", false},
		{[]string{"bogus"}, "", true},
	}

	for _, tt := range tests {
		got, err := collectionArg(tt.args)
		if tt.wantErr {
			if err == nil {
				t.Errorf("collectionArg(%v) expected error", tt.args)
			}
			continue
		}
		if err != nil {
			t.Errorf("collectionArg(%v) error = %v", tt.args, err)
			continue
		}
		if got.String() != tt.want {
			t.Errorf("collectionArg(%v) = %v, want %v", tt.args, got, tt.want)
		}
	}
}
