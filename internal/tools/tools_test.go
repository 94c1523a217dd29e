package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/workmesh/ndp/internal/ids"
	"github.com/workmesh/ndp/internal/kv"
	"github.com/workmesh/ndp/internal/llm"
	"github.com/workmesh/ndp/internal/process"
	"github.com/workmesh/ndp/internal/signals"
	"github.com/workmesh/ndp/pkg/models"
)

func testURI(t *testing.T) ids.ProcessURI {
	t.Helper()
	u, err := ids.ParseProcessURI("ndp://internal/main/" + ids.NewProcessID())
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func runTool(t *testing.T, p *Provider, args string) (*models.ProcessStatus, []json.RawMessage) {
	t.Helper()
	stop := signals.NewStopping()
	m := process.NewManager(kv.NewMemoryStore(stop), stop)

	h, err := m.SpawnProcess(context.Background(), process.Spawn{
		URI:       testURI(t),
		Name:      p.Name,
		Arguments: json.RawMessage(args),
		Schema:    p.Compiled(),
		Runner:    p.Factory(json.RawMessage(args)),
	})
	if err != nil {
		t.Fatalf("spawn %s: %v", p.Name, err)
	}
	l := h.Listen()
	defer h.Unlisten(l)
	if err := l.WaitResult(nil); err != nil {
		t.Fatalf("wait result: %v", err)
	}
	return h.Status(), h.Status().Progress
}

func TestEchoSuccess(t *testing.T) {
	p := Echo()
	reg := NewRegistry()
	if err := reg.Register(p); err != nil {
		t.Fatal(err)
	}

	status, progress := runTool(t, p, `{"text": "Hello, world!"}`)
	if status.Result == nil || status.Result.Kind != models.ResultSuccess {
		t.Fatalf("result: %+v", status.Result)
	}
	var content string
	if err := json.Unmarshal(status.Result.Success.Content, &content); err != nil || content != "Hello, world!" {
		t.Errorf("content = %q (%v)", content, err)
	}

	if len(progress) != 1 {
		t.Fatalf("progress entries = %d, want 1", len(progress))
	}
	var item struct {
		ReceivedText string `json:"received_text"`
	}
	if err := json.Unmarshal(progress[0], &item); err != nil || item.ReceivedText != "Hello, world!" {
		t.Errorf("progress = %s (%v)", progress[0], err)
	}
}

func TestEchoErrorPrefixFails(t *testing.T) {
	status, _ := runTool(t, Echo(), `{"text": "ERROR: boom"}`)
	if status.Result == nil || status.Result.Kind != models.ResultFailure {
		t.Fatalf("result: %+v", status.Result)
	}
	var env struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(status.Result.Failure.Error, &env); err != nil {
		t.Fatalf("decode failure envelope: %v", err)
	}
	if env.Code != 400 || env.Message != "boom" {
		t.Errorf("failure envelope = %+v", env)
	}
}

func TestEchoSchemaRejectsBadArguments(t *testing.T) {
	p := Echo()
	reg := NewRegistry()
	if err := reg.Register(p); err != nil {
		t.Fatal(err)
	}
	stop := signals.NewStopping()
	m := process.NewManager(kv.NewMemoryStore(stop), stop)

	args := json.RawMessage(`{"text": 42}`)
	_, err := m.SpawnProcess(context.Background(), process.Spawn{
		URI:       testURI(t),
		Name:      p.Name,
		Arguments: args,
		Schema:    p.Compiled(),
		Runner:    p.Factory(args),
	})
	if err == nil {
		t.Fatal("spawn must reject arguments that fail the schema")
	}
}

func TestRegistryLookupAndSpecs(t *testing.T) {
	reg, err := Builtins(ImageConfig{}, ReadDocsConfig{Root: t.TempDir()}, WebSearchConfig{})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := reg.Lookup("echo"); err != nil {
		t.Errorf("echo lookup: %v", err)
	}
	if _, err := reg.Lookup("no_such_tool"); err == nil {
		t.Error("unknown tool must fail lookup")
	}

	specs := reg.Specs()
	want := []string{"echo", "generate_image", "read_docs", "web_search"}
	if len(specs) != len(want) {
		t.Fatalf("specs = %d, want %d", len(specs), len(want))
	}
	for i, name := range want {
		if specs[i].Name != name {
			t.Errorf("specs[%d] = %s, want %s", i, specs[i].Name, name)
		}
	}
}

func TestGenerateImageUnconfigured(t *testing.T) {
	status, _ := runTool(t, GenerateImage(ImageConfig{}), `{"prompt": "a greenhouse on a spaceship"}`)
	if status.Result == nil || status.Result.Kind != models.ResultFailure {
		t.Fatalf("result: %+v", status.Result)
	}
}

func TestReadDocs(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "guide.md"), []byte("# Guide\nHello."), 0o644); err != nil {
		t.Fatal(err)
	}
	p := ReadDocs(ReadDocsConfig{Root: root})

	t.Run("list", func(t *testing.T) {
		status, _ := runTool(t, p, `{}`)
		if status.Result.Kind != models.ResultSuccess {
			t.Fatalf("result: %+v", status.Result)
		}
		contents := DecodeOutput(status.Result.Success.Content)
		if len(contents) != 1 || contents[0].Text != "guide.md" {
			t.Errorf("listing: %+v", contents)
		}
	})

	t.Run("read", func(t *testing.T) {
		status, _ := runTool(t, p, `{"path": "guide.md"}`)
		if status.Result.Kind != models.ResultSuccess {
			t.Fatalf("result: %+v", status.Result)
		}
		contents := DecodeOutput(status.Result.Success.Content)
		if len(contents) != 2 || contents[1].Text != "# Guide\nHello." {
			t.Errorf("contents: %+v", contents)
		}
		if contents[1].Mode != llm.ModeTemp {
			t.Errorf("document body mode = %s, want temp", contents[1].Mode)
		}
	})

	t.Run("escape rejected", func(t *testing.T) {
		status, _ := runTool(t, p, `{"path": "../outside.txt"}`)
		if status.Result.Kind != models.ResultFailure {
			t.Fatalf("result: %+v", status.Result)
		}
	})
}

func TestDecodeOutputFallbacks(t *testing.T) {
	structured, err := MarshalOutput(llm.Content{Mode: llm.ModeRequired, Text: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if got := DecodeOutput(structured); len(got) != 1 || got[0].Text != "hi" {
		t.Errorf("structured: %+v", got)
	}

	if got := DecodeOutput(json.RawMessage(`"bare string"`)); len(got) != 1 || got[0].Text != "bare string" {
		t.Errorf("bare string: %+v", got)
	}
	if got := DecodeOutput(json.RawMessage(`{"some":"object"}`)); len(got) != 1 || got[0].Text != `{"some":"object"}` {
		t.Errorf("raw object: %+v", got)
	}
	if got := DecodeOutput(nil); got != nil {
		t.Errorf("nil: %+v", got)
	}
}
