package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/wordcut/internal/collab"
	"github.com/MrWong99/wordcut/internal/correct"
	"github.com/MrWong99/wordcut/internal/health"
	"github.com/MrWong99/wordcut/internal/observe"
	"github.com/MrWong99/wordcut/internal/store"
	"github.com/MrWong99/wordcut/internal/takes"
	"github.com/MrWong99/wordcut/internal/workspace"
	"github.com/MrWong99/wordcut/pkg/provider/llm"
	"github.com/MrWong99/wordcut/pkg/provider/llm/mock"
	"github.com/MrWong99/wordcut/pkg/transcript"
)

type testEnv struct {
	srv *httptest.Server
	ws  *workspace.Manager
	llm *mock.Provider
}

func newEnv(t *testing.T, classifier takes.Classifier) *testEnv {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	met, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	st := store.NewMemStore()
	ws := workspace.New(workspace.Config{Store: st, Classifier: classifier, Metrics: met})
	p := &mock.Provider{}
	s := New(Config{
		Workspace: ws,
		Hub:       collab.NewHub(collab.WithMetrics(met)),
		Suggester: correct.NewSuggester(p, correct.WithMetrics(met)),
		Health:    health.New(health.StoreChecker(st)),
		Metrics:   met,
		FPS:       25,
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, ws: ws, llm: p}
}

// do sends body as JSON and decodes a JSON answer into out when out is not
// nil. It returns the status code.
func (e *testEnv) do(t *testing.T, method, path string, body, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func rawTranscript(texts ...string) map[string]any {
	words := make([]map[string]any, len(texts))
	for i, s := range texts {
		words[i] = map[string]any{"word": s, "start_time": float64(i), "duration": 1.0, "confidence": 0.9}
	}
	return map[string]any{"confidence": 0.9, "words": words}
}

func (e *testEnv) create(t *testing.T, media string, texts ...string) projectView {
	t.Helper()
	var pv projectView
	code := e.do(t, http.MethodPost, "/projects", map[string]any{
		"name":          "interview",
		"mediaSource":   media,
		"totalDuration": float64(len(texts)),
		"transcript":    rawTranscript(texts...),
	}, &pv)
	if code != http.StatusCreated {
		t.Fatalf("create status = %d", code)
	}
	return pv
}

func texts(words []transcript.Word) []string {
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = w.Text
	}
	return out
}

func TestCreateGetListDelete(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)

	pv := e.create(t, "", "hello", "world")
	if pv.ID == "" || len(pv.Snapshot.Transcription.Words) != 2 || pv.Dirty {
		t.Fatalf("created = %+v", pv)
	}

	var got projectView
	if code := e.do(t, http.MethodGet, "/projects/"+pv.ID, nil, &got); code != http.StatusOK {
		t.Fatalf("get status = %d", code)
	}
	if got.Name != "interview" || got.Snapshot.OutputDuration != 2 {
		t.Errorf("get = %+v", got)
	}

	var list struct {
		Projects []store.Summary `json:"projects"`
	}
	e.do(t, http.MethodGet, "/projects", nil, &list)
	if len(list.Projects) != 1 || list.Projects[0].WordCount != 2 {
		t.Errorf("list = %+v", list.Projects)
	}

	if code := e.do(t, http.MethodDelete, "/projects/"+pv.ID, nil, nil); code != http.StatusNoContent {
		t.Errorf("delete status = %d", code)
	}
	var eb errorBody
	if code := e.do(t, http.MethodGet, "/projects/"+pv.ID, nil, &eb); code != http.StatusNotFound || eb.Error == "" {
		t.Errorf("get after delete = %d %+v", code, eb)
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)

	tests := []struct {
		name string
		body any
	}{
		{"missing name", map[string]any{"transcript": rawTranscript("a")}},
		{"unknown field", map[string]any{"name": "x", "bogus": 1, "transcript": rawTranscript("a")}},
		{"negative duration", map[string]any{"name": "x", "totalDuration": -1, "transcript": rawTranscript("a")}},
		{"malformed words", map[string]any{"name": "x", "transcript": map[string]any{"words": []any{map[string]any{"word": "a"}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := e.do(t, http.MethodPost, "/projects", tt.body, nil); code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", code)
			}
		})
	}
}

func TestOpsUndoRedo(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)
	pv := e.create(t, "", "one", "two", "three")
	base := "/projects/" + pv.ID

	var res editResponse
	code := e.do(t, http.MethodPost, base+"/ops", map[string]any{
		"kind":   "delete",
		"ranges": []map[string]int{{"startIndex": 1, "endIndex": 2}},
	}, &res)
	if code != http.StatusOK || !res.Changed || !res.Snapshot.Transcription.Words[1].Deleted {
		t.Fatalf("delete = %d %+v", code, res)
	}
	if res.Snapshot.OutputDuration != 2 {
		t.Errorf("output duration = %v, want 2", res.Snapshot.OutputDuration)
	}

	code = e.do(t, http.MethodPost, base+"/ops", map[string]any{"kind": "correct", "index": 0, "text": "One"}, &res)
	if code != http.StatusOK || res.Snapshot.Transcription.Words[0].Text != "One" {
		t.Fatalf("correct = %d %+v", code, res)
	}

	code = e.do(t, http.MethodPost, base+"/ops", map[string]any{"kind": "edit", "index": 0, "text": "One"}, &res)
	if code != http.StatusOK || res.Changed {
		t.Errorf("unchanged word edit = %d changed=%v", code, res.Changed)
	}

	e.do(t, http.MethodPost, base+"/undo", nil, &res)
	if !res.Changed || res.Snapshot.Transcription.Words[0].Text != "one" || !res.Snapshot.CanRedo {
		t.Errorf("undo = %+v", res)
	}
	e.do(t, http.MethodPost, base+"/redo", nil, &res)
	if !res.Changed || res.Snapshot.Transcription.Words[0].Text != "One" {
		t.Errorf("redo = %+v", res)
	}

	stale := uint64(0)
	if code := e.do(t, http.MethodPost, base+"/ops", map[string]any{
		"kind": "split", "index": 0, "baseVersion": stale,
	}, nil); code != http.StatusConflict {
		t.Errorf("stale base version status = %d, want 409", code)
	}
}

func TestConcurrentOpsUndoCleanly(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)
	const n = 8
	words := make([]string, n+2)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	pv := e.create(t, "", words...)
	base := "/projects/" + pv.ID
	if code := e.do(t, http.MethodPost, base+"/copy", map[string]any{
		"ranges": []map[string]int{{"startIndex": 0, "endIndex": 1}},
	}, nil); code != http.StatusOK {
		t.Fatalf("copy status = %d", code)
	}

	// Only the status matters here; t.Fatal is not safe off the test goroutine.
	post := func(path string, body any) (int, error) {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		resp, err := http.Post(e.srv.URL+path, "application/json", bytes.NewReader(data))
		if err != nil {
			return 0, err
		}
		resp.Body.Close()
		return resp.StatusCode, nil
	}

	var wg sync.WaitGroup
	for range n {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if code, err := post(base+"/paste", map[string]any{"after": -1}); err != nil || code != http.StatusOK {
				t.Errorf("paste = %d, %v", code, err)
			}
		}()
		go func() {
			defer wg.Done()
			code, err := post(base+"/ops", map[string]any{"kind": "merge", "range": map[string]int{"startIndex": 0, "endIndex": 2}})
			if err != nil || code != http.StatusOK {
				t.Errorf("merge = %d, %v", code, err)
			}
		}()
	}
	wg.Wait()

	var res editResponse
	for i := 0; i < 2*n; i++ {
		if code := e.do(t, http.MethodPost, base+"/undo", nil, &res); code != http.StatusOK || !res.Changed {
			t.Fatalf("undo %d = %d changed=%v", i, code, res.Changed)
		}
	}
	if got := texts(res.Snapshot.Transcription.Words); strings.Join(got, " ") != strings.Join(words, " ") {
		t.Errorf("words after undoing everything = %v, want %v", got, words)
	}
	if res.Snapshot.CanUndo {
		t.Error("history not empty after undoing every op")
	}

	// A matching base version is accepted.
	v := res.Snapshot.Version
	if code := e.do(t, http.MethodPost, base+"/ops", map[string]any{
		"kind": "correct", "index": 0, "text": "W0", "baseVersion": v,
	}, &res); code != http.StatusOK || !res.Changed {
		t.Errorf("current base version = %d changed=%v", code, res.Changed)
	}
}

func TestOpErrors(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)
	pv := e.create(t, "", "one", "two")
	base := "/projects/" + pv.ID

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"unknown kind", map[string]any{"kind": "explode"}, http.StatusBadRequest},
		{"delete without ranges", map[string]any{"kind": "delete"}, http.StatusBadRequest},
		{"merge without range", map[string]any{"kind": "merge"}, http.StatusBadRequest},
		{"range out of bounds", map[string]any{"kind": "delete", "ranges": []map[string]int{{"startIndex": 0, "endIndex": 9}}}, http.StatusUnprocessableEntity},
		{"merge single word", map[string]any{"kind": "merge", "range": map[string]int{"startIndex": 0, "endIndex": 1}}, http.StatusUnprocessableEntity},
		{"correct out of range", map[string]any{"kind": "correct", "index": 5, "text": "x"}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := e.do(t, http.MethodPost, base+"/ops", tt.body, nil); code != tt.want {
				t.Errorf("status = %d, want %d", code, tt.want)
			}
		})
	}

	if code := e.do(t, http.MethodPost, "/projects/missing/ops", map[string]any{"kind": "split"}, nil); code != http.StatusNotFound {
		t.Errorf("unknown project status = %d, want 404", code)
	}
}

func TestCopyPaste(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)
	pv := e.create(t, "", "a", "b", "c")
	base := "/projects/" + pv.ID

	if code := e.do(t, http.MethodPost, base+"/paste", map[string]any{"after": 0}, nil); code != http.StatusConflict {
		t.Errorf("paste with empty clipboard = %d, want 409", code)
	}

	var cp copyResponse
	e.do(t, http.MethodPost, base+"/copy", map[string]any{"ranges": []map[string]int{{"startIndex": 1, "endIndex": 3}}}, &cp)
	if cp.Copied != 2 || cp.Text != "b c" {
		t.Fatalf("copy = %+v", cp)
	}

	var res editResponse
	e.do(t, http.MethodPost, base+"/paste", map[string]any{"after": -1}, &res)
	got := strings.Join(texts(res.Snapshot.Transcription.Words), " ")
	if !res.Changed || got != "b c a b c" {
		t.Errorf("after paste = %q", got)
	}
	if res.Snapshot.Transcription.Words[0].PasteKey == 0 {
		t.Error("pasted word kept original paste key")
	}
}

func TestChunksAndActiveTake(t *testing.T) {
	t.Parallel()
	classifier := takes.ClassifierFunc(func(context.Context, []transcript.Word) ([]takes.Descriptor, error) {
		return []takes.Descriptor{{Takes: []transcript.IndexRange{{StartIndex: 0, EndIndex: 2}, {StartIndex: 2, EndIndex: 4}}}}, nil
	})
	e := newEnv(t, classifier)
	pv := e.create(t, "", "a", "b", "a", "b", "end")
	base := "/projects/" + pv.ID

	var res editResponse
	if code := e.do(t, http.MethodPost, base+"/classify", nil, &res); code != http.StatusOK || len(res.Snapshot.Takes.Groups) != 1 {
		t.Fatalf("classify = %d %+v", code, res.Snapshot.Takes)
	}

	var ch chunksResponse
	e.do(t, http.MethodGet, base+"/chunks", nil, &ch)
	if len(ch.Chunks) != 2 || ch.Chunks[0].Kind != "takeGroup" || ch.Chunks[1].Kind != "word" {
		t.Fatalf("chunks = %+v", ch.Chunks)
	}
	if ch.Chunks[1].Word.Index != 4 || len(ch.Chunks[0].Group.Takes) != 2 {
		t.Errorf("chunk contents = %+v", ch.Chunks)
	}

	groupID := ch.Chunks[0].Group.Group.ID
	path := fmt.Sprintf("%s/takes/%d", base, groupID)
	if code := e.do(t, http.MethodPost, path, map[string]any{"take": 1}, &res); code != http.StatusOK {
		t.Fatalf("set active take status = %d", code)
	}
	if res.Snapshot.CanUndo {
		t.Error("take selection entered the undo history")
	}
	if res.Snapshot.OutputDuration != 3 {
		t.Errorf("output duration = %v, want 3", res.Snapshot.OutputDuration)
	}

	if code := e.do(t, http.MethodPost, path, map[string]any{"take": 5}, nil); code != http.StatusUnprocessableEntity {
		t.Errorf("invalid take status = %d, want 422", code)
	}
	if code := e.do(t, http.MethodPost, base+"/takes/x", map[string]any{"take": 0}, nil); code != http.StatusBadRequest {
		t.Errorf("non-numeric group status = %d, want 400", code)
	}
}

func TestClassifyWithoutClassifier(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)
	pv := e.create(t, "", "a")
	if code := e.do(t, http.MethodPost, "/projects/"+pv.ID+"/classify", nil, nil); code != http.StatusConflict {
		t.Errorf("status = %d, want 409", code)
	}
}

func TestEDL(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)

	noMedia := e.create(t, "", "a")
	if code := e.do(t, http.MethodGet, "/projects/"+noMedia.ID+"/edl", nil, nil); code != http.StatusConflict {
		t.Errorf("EDL without media = %d, want 409", code)
	}

	pv := e.create(t, "tape.wav", "a", "b", "c")
	e.do(t, http.MethodPost, "/projects/"+pv.ID+"/ops", map[string]any{
		"kind": "delete", "ranges": []map[string]int{{"startIndex": 1, "endIndex": 2}},
	}, nil)

	resp, err := http.Get(e.srv.URL + "/projects/" + pv.ID + "/edl?fps=10")
	if err != nil {
		t.Fatalf("GET edl: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain") {
		t.Fatalf("edl = %d %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	edl := string(body)
	if !strings.Contains(edl, "TITLE: interview") || strings.Count(edl, "FROM CLIP NAME: tape.wav") != 2 {
		t.Errorf("edl = %q", edl)
	}
	if !strings.Contains(edl, "00:00:02:00 00:00:03:00 00:00:01:00 00:00:02:00") {
		t.Errorf("second cut missing from %q", edl)
	}

	if code := e.do(t, http.MethodGet, "/projects/"+pv.ID+"/edl?fps=-3", nil, nil); code != http.StatusBadRequest {
		t.Errorf("bad fps status = %d, want 400", code)
	}
}

func TestSuggestions(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)

	var pv projectView
	e.do(t, http.MethodPost, "/projects", map[string]any{
		"name":          "interview",
		"totalDuration": 3.0,
		"transcript": map[string]any{"words": []map[string]any{
			{"word": "the", "start_time": 0.0, "duration": 1.0, "confidence": 0.95},
			{"word": "teh", "start_time": 1.0, "duration": 1.0, "confidence": 0.3},
			{"word": "end", "start_time": 2.0, "duration": 1.0, "confidence": 0.95},
		}},
	}, &pv)
	e.llm.CompleteResponse = &llm.CompletionResponse{Content: `[{"index": 1, "corrected": "the", "confidence": 0.9}]`}

	var sr suggestionsResponse
	if code := e.do(t, http.MethodGet, "/projects/"+pv.ID+"/suggestions", nil, &sr); code != http.StatusOK {
		t.Fatalf("suggestions status = %d", code)
	}
	if len(sr.Suggestions) != 1 || sr.Suggestions[0].Original != "teh" {
		t.Fatalf("suggestions = %+v", sr.Suggestions)
	}

	var res editResponse
	if code := e.do(t, http.MethodPost, "/projects/"+pv.ID+"/suggestions/apply", sr.Suggestions[0], &res); code != http.StatusOK {
		t.Fatalf("apply status = %d", code)
	}
	if res.Snapshot.Transcription.Words[1].Text != "the" {
		t.Errorf("word after apply = %q", res.Snapshot.Transcription.Words[1].Text)
	}

	if code := e.do(t, http.MethodPost, "/projects/"+pv.ID+"/suggestions/apply", sr.Suggestions[0], nil); code != http.StatusConflict {
		t.Errorf("reapplying stale suggestion = %d, want 409", code)
	}
}

func TestSaveAndClose(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)
	pv := e.create(t, "", "a", "b")
	base := "/projects/" + pv.ID

	e.do(t, http.MethodPost, base+"/ops", map[string]any{"kind": "split", "index": 0}, nil)
	var got projectView
	e.do(t, http.MethodGet, base, nil, &got)
	if got.Dirty {
		// Single-letter words cannot be split; nothing changed.
		t.Fatalf("project dirty after no-op split")
	}

	e.do(t, http.MethodPost, base+"/ops", map[string]any{"kind": "delete", "ranges": []map[string]int{{"startIndex": 0, "endIndex": 1}}}, nil)
	e.do(t, http.MethodGet, base, nil, &got)
	if !got.Dirty {
		t.Fatal("project clean after delete")
	}
	if code := e.do(t, http.MethodPost, base+"/save", nil, nil); code != http.StatusNoContent {
		t.Fatalf("save status = %d", code)
	}
	if code := e.do(t, http.MethodPost, base+"/close", nil, nil); code != http.StatusNoContent {
		t.Fatalf("close status = %d", code)
	}
	if code := e.do(t, http.MethodPost, base+"/close", nil, nil); code != http.StatusConflict {
		t.Errorf("closing twice = %d, want 409", code)
	}

	// Reopening reads the saved state.
	e.do(t, http.MethodGet, base, nil, &got)
	if !got.Snapshot.Transcription.Words[0].Deleted || got.Dirty {
		t.Errorf("reopened = %+v", got)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(e.srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d", path, resp.StatusCode)
		}
	}
}

func TestCollabRoute(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)
	pv := e.create(t, "", "a", "b")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/projects/" + pv.ID + "/collab?peer=bob"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	var hello collab.Message
	if err := wsjson.Read(ctx, conn, &hello); err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if hello.Type != collab.MsgHello || hello.Peer != "bob" {
		t.Fatalf("hello = %+v", hello)
	}

	e.do(t, http.MethodPost, "/projects/"+pv.ID+"/ops", map[string]any{
		"kind": "delete", "ranges": []map[string]int{{"startIndex": 0, "endIndex": 1}},
	}, nil)

	var msg collab.Message
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("read op: %v", err)
	}
	if msg.Type != collab.MsgOp || msg.Op == nil || msg.Op.Op.Kind() != "deleteSelection" {
		t.Errorf("broadcast = %+v", msg)
	}
}
