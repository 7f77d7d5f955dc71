package console

import (
	"bytes"
	"context"
	"encoding/json"
	"net/netip"
	"strings"
	"testing"

	"firestige.xyz/shredtap/internal/core"
	"firestige.xyz/shredtap/internal/core/decoder"
	"firestige.xyz/shredtap/internal/log"
	"firestige.xyz/shredtap/internal/testutil"
)

func testShred(t *testing.T) *core.DecodedShred {
	t.Helper()
	s, err := decoder.Decode(testutil.DataShred(42, 7, []byte("entries")))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	s.Source = netip.MustParseAddrPort("10.0.0.7:8001")
	return &s
}

func TestConsoleOutput_Init(t *testing.T) {
	tests := []struct {
		name    string
		config  map[string]any
		wantErr bool
		wantFmt string
	}{
		{name: "nil config defaults to text", config: nil, wantFmt: "text"},
		{name: "json format", config: map[string]any{"format": "json"}, wantFmt: "json"},
		{name: "log target", config: map[string]any{"target": "log"}, wantFmt: "text"},
		{name: "invalid format", config: map[string]any{"format": "xml"}, wantErr: true},
		{name: "invalid target", config: map[string]any{"target": "file"}, wantErr: true},
		{name: "unknown key", config: map[string]any{"colour": true}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := New().(*Output)
			err := o.Init(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Init() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && o.config.Format != tt.wantFmt {
				t.Errorf("Init() format = %v, want %v", o.config.Format, tt.wantFmt)
			}
		})
	}
}

func TestConsoleOutput_HandleText(t *testing.T) {
	var buf bytes.Buffer
	o := New().(*Output)
	o.out = &buf
	if err := o.Init(nil); err != nil {
		t.Fatalf("Init: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := o.Handle(context.Background(), testShred(t)); err != nil {
			t.Fatalf("Handle: %v", err)
		}
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", buf.String())
	}
	want := "SHRED #2: Slot:42 Index:7 Type:data"
	if !strings.HasPrefix(lines[1], want) {
		t.Errorf("line = %q, want prefix %q", lines[1], want)
	}
	if !strings.HasSuffix(lines[1], "from 10.0.0.7:8001") {
		t.Errorf("line does not name the source: %q", lines[1])
	}
}

func TestConsoleOutput_HandleJSON(t *testing.T) {
	var buf bytes.Buffer
	o := New().(*Output)
	o.out = &buf
	if err := o.Init(map[string]any{"format": "json", "payload": "true"}); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := o.Handle(context.Background(), testShred(t)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if rec["slot"] != float64(42) || rec["type"] != "data" || rec["payload"] == nil {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestConsoleOutput_HandleLogTarget(t *testing.T) {
	old := log.GetLogger()
	defer log.SetLogger(old)
	var buf bytes.Buffer
	log.SetLogger(log.NewForTest(&buf))

	o := New().(*Output)
	o.SetName("debug-console")
	if err := o.Init(map[string]any{"target": "log"}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := o.Handle(context.Background(), testShred(t)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if !strings.Contains(buf.String(), "plugin=debug-console") || !strings.Contains(buf.String(), "SHRED #1") {
		t.Errorf("unexpected log output: %q", buf.String())
	}
}
