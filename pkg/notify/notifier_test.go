package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/yourusername/grafana-reporter/pkg/model"
	"go.uber.org/zap"
)

func testArtifact(format model.Format) *model.Artifact {
	return &model.Artifact{
		Title:       "Overview-CPU",
		Format:      format,
		FilePath:    "files/Overview-CPU_1.png",
		FileURL:     "https://files.example.com/Overview-CPU_1.png",
		ViewURL:     "https://grafana.example.com/goto/abc",
		Description: "hourly report",
	}
}

func TestMarkdownBody(t *testing.T) {
	png := markdownBody(testArtifact(model.FormatPNG))
	if !strings.Contains(png, "![Overview-CPU](https://files.example.com/Overview-CPU_1.png)") {
		t.Errorf("png body lacks image embed:\n%s", png)
	}

	pdf := markdownBody(testArtifact(model.FormatPDF))
	if strings.Contains(pdf, "![") {
		t.Errorf("pdf body embeds an image:\n%s", pdf)
	}
	if !strings.Contains(pdf, "[https://files.example.com/Overview-CPU_1.png]") {
		t.Errorf("pdf body lacks file link:\n%s", pdf)
	}

	if !strings.Contains(png, "> source: [https://grafana.example.com/goto/abc]") {
		t.Errorf("body lacks source quote:\n%s", png)
	}

	// Without a remote URL the local path is the link.
	local := testArtifact(model.FormatPNG)
	local.FileURL = ""
	if !strings.Contains(markdownBody(local), "(files/Overview-CPU_1.png)") {
		t.Error("body does not fall back to the local path")
	}
}

func TestGotifySendPerReceiver(t *testing.T) {
	var tokens []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokens = append(tokens, r.URL.Query().Get("token"))
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		if payload["title"] != "Overview-CPU" {
			t.Errorf("title = %v", payload["title"])
		}
		if payload["priority"] != float64(5) {
			t.Errorf("priority = %v", payload["priority"])
		}
	}))
	defer srv.Close()

	g := NewGotify(GotifyConfig{URL: srv.URL}, zap.NewNop())
	err := g.Send(context.Background(), testArtifact(model.FormatPNG), []string{"tok1", "tok2"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(tokens) != 2 || tokens[0] != "tok1" || tokens[1] != "tok2" {
		t.Errorf("tokens = %v, want one request per receiver", tokens)
	}
}

func TestGotifySendPartialFailure(t *testing.T) {
	n := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n++
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	g := NewGotify(GotifyConfig{URL: srv.URL}, zap.NewNop())
	err := g.Send(context.Background(), testArtifact(model.FormatPNG), []string{"tok1", "tok2"})
	if err == nil {
		t.Fatal("Send swallowed a delivery failure")
	}
	if n != 2 {
		t.Errorf("got %d requests, want delivery attempted for every receiver", n)
	}
}

func TestDingTalkSend(t *testing.T) {
	var gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.URL.Query().Get("access_token")
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		if payload["msgtype"] != "markdown" {
			t.Errorf("msgtype = %v", payload["msgtype"])
		}
	}))
	defer srv.Close()

	d := NewDingTalk(DingTalkConfig{URL: srv.URL}, zap.NewNop())
	if err := d.Send(context.Background(), testArtifact(model.FormatPNG), []string{"webhook-token"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotToken != "webhook-token" {
		t.Errorf("access_token = %q", gotToken)
	}
}

func TestWorktoolSendBatches(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.URL.Query().Get("robotId") != "robot-1" {
			t.Errorf("robotId = %q", r.URL.Query().Get("robotId"))
		}
		var payload struct {
			List []map[string]any `json:"list"`
		}
		json.NewDecoder(r.Body).Decode(&payload)
		if len(payload.List) != 2 {
			t.Errorf("got %d actions, want one per receiver in a single batch", len(payload.List))
		}
		for _, action := range payload.List {
			if action["fileType"] != "image" {
				t.Errorf("fileType = %v for png artifact", action["fileType"])
			}
			name, _ := action["objectName"].(string)
			if !strings.HasSuffix(name, ".png") {
				t.Errorf("objectName = %q, want format extension", name)
			}
		}
	}))
	defer srv.Close()

	w := NewWorktool(WorktoolConfig{URL: srv.URL, RobotID: "robot-1"}, zap.NewNop())
	if err := w.Send(context.Background(), testArtifact(model.FormatPNG), []string{"Ops Group", "Dev Group"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if requests != 1 {
		t.Errorf("got %d requests, want a single batch", requests)
	}
}

func TestBuildEnabledKinds(t *testing.T) {
	notifiers := Build(Config{
		Gotify:      &GotifyConfig{URL: "http://gotify"},
		DingTalkApp: &DingTalkAppConfig{AppKey: "k", AppSecret: "s"},
		Worktool:    &WorktoolConfig{URL: "http://worktool", RobotID: "r"},
	}, zap.NewNop())

	if len(notifiers) != 3 {
		t.Fatalf("got %d notifiers, want 3", len(notifiers))
	}
	for _, kind := range []string{"gotify", "dingtalk_app", "worktool"} {
		n, ok := notifiers[kind]
		if !ok {
			t.Errorf("missing notifier %q", kind)
			continue
		}
		if n.Name() != kind {
			t.Errorf("Name() = %q, want %q", n.Name(), kind)
		}
	}
	if _, ok := notifiers["dingtalk"]; ok {
		t.Error("disabled notifier was built")
	}
}
