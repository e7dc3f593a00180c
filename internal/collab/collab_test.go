package collab

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeScript creates an executable shell script and returns its path.
func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseCommand(t *testing.T) {
	argv, err := ParseCommand("python3 /opt/satori/extractor.py --verbose")
	if err != nil {
		t.Fatal(err)
	}
	if len(argv) != 3 || argv[0] != "python3" || argv[2] != "--verbose" {
		t.Fatalf("unexpected argv: %v", argv)
	}
	if _, err := ParseCommand("   "); err == nil {
		t.Fatal("expected error for blank command")
	}
}

func TestExtractFile(t *testing.T) {
	script := writeScript(t, "extractor", `
if [ "$1" != "extract" ]; then
  echo "bad subcommand" >&2
  exit 2
fi
echo "{\"status\":\"ok\",\"quality_score\":91,\"entities\":{\"plaintiff\":\"Jane Doe\"}}"
`)
	e := &Extractor{Argv: []string{script}, ExtractTimeout: 5 * time.Second}
	res, err := e.ExtractFile(context.Background(), "alpha", "/in/alpha", "job1", "/in/alpha/complaint.pdf")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !res.Succeeded() || res.QualityScore != 91 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Duration <= 0 {
		t.Fatal("duration must be measured")
	}
}

func TestExtractFile_EnvPassedThrough(t *testing.T) {
	script := writeScript(t, "extractor", `
echo "{\"status\":\"ok\",\"quality_score\":1,\"entities\":{\"case\":\"$SATORI_CASE_ID\",\"job\":\"$SATORI_JOB_ID\"}}"
`)
	e := &Extractor{Argv: []string{script}, ExtractTimeout: 5 * time.Second}
	res, err := e.ExtractFile(context.Background(), "alpha", "/in/alpha", "job42", "/in/alpha/a.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(res.Entities), "alpha") || !strings.Contains(string(res.Entities), "job42") {
		t.Fatalf("env not visible to collaborator: %s", res.Entities)
	}
}

func TestExtractFile_BadOutput(t *testing.T) {
	e := &Extractor{Argv: []string{writeScript(t, "extractor", `echo "garbage"`)}, ExtractTimeout: 5 * time.Second}
	if _, err := e.ExtractFile(context.Background(), "a", "/in/a", "j", "/in/a/x.pdf"); err == nil {
		t.Fatal("expected JSON error")
	}

	e = &Extractor{Argv: []string{writeScript(t, "extractor2", `echo "{\"quality_score\":10}"`)}, ExtractTimeout: 5 * time.Second}
	if _, err := e.ExtractFile(context.Background(), "a", "/in/a", "j", "/in/a/x.pdf"); err == nil {
		t.Fatal("expected missing-status error")
	}

	e = &Extractor{Argv: []string{writeScript(t, "extractor3", `echo "{\"status\":\"ok\",\"quality_score\":400}"`)}, ExtractTimeout: 5 * time.Second}
	if _, err := e.ExtractFile(context.Background(), "a", "/in/a", "j", "/in/a/x.pdf"); err == nil {
		t.Fatal("expected out-of-range score error")
	}
}

func TestExtractFile_NonZeroExitIncludesStderr(t *testing.T) {
	script := writeScript(t, "extractor", `
echo "cannot open document" >&2
exit 3
`)
	e := &Extractor{Argv: []string{script}, ExtractTimeout: 5 * time.Second}
	_, err := e.ExtractFile(context.Background(), "a", "/in/a", "j", "/in/a/x.pdf")
	if err == nil {
		t.Fatal("expected failure")
	}
	if !strings.Contains(err.Error(), "cannot open document") {
		t.Fatalf("stderr not surfaced: %v", err)
	}
}

func TestExtractFile_Timeout(t *testing.T) {
	script := writeScript(t, "extractor", `sleep 10`)
	e := &Extractor{Argv: []string{script}, ExtractTimeout: 200 * time.Millisecond}
	start := time.Now()
	_, err := e.ExtractFile(context.Background(), "a", "/in/a", "j", "/in/a/x.pdf")
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("timeout did not kill the subprocess promptly")
	}
}

func TestConsolidate(t *testing.T) {
	// Echo the stdin payload back inside the hydrated document so we can
	// verify the contract end to end.
	script := writeScript(t, "extractor", `
if [ "$1" != "consolidate" ]; then exit 2; fi
input=$(cat)
echo "{\"case_id\":\"alpha\",\"input_seen\":true}"
`)
	e := &Extractor{Argv: []string{script}, ExtractTimeout: 5 * time.Second}
	out, err := e.Consolidate(context.Background(), "alpha", []string{"/out/alpha/extract/a.pdf.json"})
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if !strings.Contains(string(out), "input_seen") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestConsolidate_EmptyOutput(t *testing.T) {
	e := &Extractor{Argv: []string{writeScript(t, "extractor", `exit 0`)}, ExtractTimeout: 5 * time.Second}
	if _, err := e.Consolidate(context.Background(), "alpha", nil); err == nil {
		t.Fatal("expected error for empty consolidator output")
	}
}

func TestRender(t *testing.T) {
	script := writeScript(t, "renderer", `
echo "[{\"kind\":\"complaint\",\"relative_path\":\"complaint.html\"},{\"kind\":\"summons\",\"relative_path\":\"summons.html\"}]"
`)
	r := &Renderer{Argv: []string{script}, Timeout: 5 * time.Second}
	arts, err := r.Render(context.Background(), "alpha", "/out/alpha/hydrated.json", "/out/alpha")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(arts) != 2 || arts[0].Kind != "complaint" || arts[1].RelativePath != "summons.html" {
		t.Fatalf("unexpected artifacts: %+v", arts)
	}
}

func TestRender_RejectsIncompleteEntries(t *testing.T) {
	script := writeScript(t, "renderer", `echo "[{\"kind\":\"complaint\"}]"`)
	r := &Renderer{Argv: []string{script}, Timeout: 5 * time.Second}
	if _, err := r.Render(context.Background(), "alpha", "/h.json", "/out"); err == nil {
		t.Fatal("expected error for entry missing relative_path")
	}
}

func TestPDFConvert(t *testing.T) {
	script := writeScript(t, "pdf", `cp "$1" "$2"`)
	dir := t.TempDir()
	html := filepath.Join(dir, "complaint.html")
	pdf := filepath.Join(dir, "complaint.pdf")
	if err := os.WriteFile(html, []byte("<html></html>"), 0o644); err != nil {
		t.Fatal(err)
	}
	p := &PDFConverter{Argv: []string{script}, Timeout: 5 * time.Second}
	if err := p.Convert(context.Background(), html, pdf); err != nil {
		t.Fatalf("convert: %v", err)
	}
	if _, err := os.Stat(pdf); err != nil {
		t.Fatalf("pdf not produced: %v", err)
	}
}
