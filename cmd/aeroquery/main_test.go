package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"aeroquery/internal/config"
	"aeroquery/internal/index"
	"aeroquery/internal/logging"
	"aeroquery/internal/record"
	"aeroquery/internal/transport"
	"aeroquery/internal/transport/memory"
)

func newPeople() *memory.Cluster {
	c := memory.New("7.0.0.0")
	for i, name := range []string{"Ann", "Bob", "Cid"} {
		c.Put(record.Record{
			Key:  record.Key{Namespace: "test", Set: "people", UserKey: int64(i)},
			Bins: map[string]any{"name": name, "age": int64(30 + 10*i)},
		})
	}
	c.CreateIndex(index.Metadata{Name: "idx_age", Namespace: "test", Set: "people", Bin: "age", Type: index.TypeNumeric})
	return c
}

// execute runs the CLI against c and releases it the way main does.
func execute(t *testing.T, c *memory.Cluster, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	dial := func(cfg config.Config, _ *slog.Logger) (transport.Client, error) {
		if cfg.Namespace != "test" {
			t.Errorf("namespace = %q", cfg.Namespace)
		}
		return c, nil
	}

	var out bytes.Buffer
	filter := logging.NewComponentFilterHandler(nil, slog.LevelWarn)
	root, closeApp := newRootCmd(&out, filter, dial)
	root.SetArgs(append([]string{"--namespace", "test"}, args...))
	root.SetErr(&bytes.Buffer{})
	err := root.Execute()
	if cerr := closeApp(); cerr != nil {
		t.Errorf("close: %v", cerr)
	}
	return out.String(), err
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	out, err := execute(t, newPeople(), args...)
	if err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	return out
}

func TestExplainCommand(t *testing.T) {
	out := run(t, "explain", "--set", "people", "--where",
		`{"op":"and","children":[{"bin":"age","op":"gt","values":[30]},{"bin":"name","op":"startswith","values":["C"]}]}`)
	if !strings.Contains(out, "idx_age") || !strings.Contains(out, "residual:") {
		t.Errorf("explain output:\n%s", out)
	}
}

func TestQueryCommandJSON(t *testing.T) {
	out := run(t, "-o", "json", "query", "--set", "people",
		"--where", `{"bin":"age","op":"gteq","values":[40]}`, "--sort", "age:desc")

	var rows []struct {
		Key  string         `json:"key"`
		Bins map[string]any `json:"bins"`
	}
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("%v\n%s", err, out)
	}
	if len(rows) != 2 || rows[0].Bins["name"] != "Cid" || rows[1].Bins["name"] != "Bob" {
		t.Errorf("rows = %+v", rows)
	}
}

func TestIndexesCommand(t *testing.T) {
	out := run(t, "indexes", "--bin", "a*")
	if !strings.Contains(out, "idx_age") || !strings.Contains(out, "numeric") {
		t.Errorf("indexes output:\n%s", out)
	}
	if out := run(t, "indexes", "--bin", "name"); strings.Contains(out, "idx_age") {
		t.Errorf("bin glob ignored:\n%s", out)
	}
}

func TestServerVersionCommand(t *testing.T) {
	out := run(t, "server-version")
	if !strings.Contains(out, "7.0.0.0") || !strings.Contains(out, "batch-write") {
		t.Errorf("server-version output:\n%s", out)
	}
}

func TestGetCommand(t *testing.T) {
	out := run(t, "get", "--set", "people", "--bins", "name", "1", "99")
	if !strings.Contains(out, "Bob") || strings.Contains(out, "Ann") {
		t.Errorf("get output:\n%s", out)
	}
}

func TestVersionCommandSkipsConnect(t *testing.T) {
	var out bytes.Buffer
	dial := func(config.Config, *slog.Logger) (transport.Client, error) {
		t.Fatal("version must not connect")
		return nil, nil
	}
	root, closeApp := newRootCmd(&out, logging.NewComponentFilterHandler(nil, slog.LevelWarn), dial)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
	if err := closeApp(); err != nil {
		t.Errorf("close without connect: %v", err)
	}
	if strings.TrimSpace(out.String()) != version {
		t.Errorf("version output = %q", out.String())
	}
}

func TestConnectionReleased(t *testing.T) {
	for _, tt := range []struct {
		name string
		args []string
		fail bool
	}{
		{"success", []string{"server-version"}, false},
		{"command error", []string{"query", "--set", "people", "--where", "{"}, true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			c := newPeople()
			if _, err := execute(t, c, tt.args...); (err != nil) != tt.fail {
				t.Fatalf("execute error = %v, want failure %v", err, tt.fail)
			}
			if _, err := c.RequestInfo(context.Background(), "build"); !errors.Is(err, memory.ErrClosed) {
				t.Errorf("cluster still open after command: %v", err)
			}
		})
	}
}
