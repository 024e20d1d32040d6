package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"testing"
	"time"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/coordinator"
	"github.com/Tyrowin/roomchat/test/testhelpers"
)

func TestHealthAndTestPage(t *testing.T) {
	srv := testhelpers.NewChatServer(t, nil)

	resp := testhelpers.MakeRequest(t, http.MethodGet, srv.HTTP.URL+"/")
	defer func() { _ = resp.Body.Close() }()
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	testhelpers.AssertContentType(t, resp, "text/plain")
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "RoomChat server is running!" {
		t.Errorf("Unexpected health body %q", string(body))
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("Expected a request id header")
	}

	page := testhelpers.MakeRequest(t, http.MethodGet, srv.HTTP.URL+"/test")
	defer func() { _ = page.Body.Close() }()
	testhelpers.AssertStatusCode(t, page, http.StatusOK)
	testhelpers.AssertContentType(t, page, "text/html")

	missing := testhelpers.MakeRequest(t, http.MethodGet, srv.HTTP.URL+"/nope")
	defer func() { _ = missing.Body.Close() }()
	testhelpers.AssertStatusCode(t, missing, http.StatusNotFound)

	post := testhelpers.MakeRequest(t, http.MethodPost, srv.HTTP.URL+"/ws")
	defer func() { _ = post.Body.Close() }()
	testhelpers.AssertStatusCode(t, post, http.StatusMethodNotAllowed)
}

func TestReadAPI(t *testing.T) {
	srv := testhelpers.NewChatServer(t, nil)

	alice := srv.Connect(t)
	testhelpers.Identify(t, alice, "alice")
	testhelpers.SendEvent(t, alice, coordinator.EventSendMessage, map[string]string{"text": "hello api"})
	testhelpers.WaitForEvent(t, alice, coordinator.EventMessageReceived, eventTimeout)

	var messages []chat.Message
	getJSON(t, srv.HTTP.URL+"/api/messages", &messages)
	if len(messages) != 1 || messages[0].Text != "hello api" {
		t.Fatalf("Unexpected history: %+v", messages)
	}

	getJSON(t, srv.HTTP.URL+"/api/messages?room=tech", &messages)
	if len(messages) != 0 {
		t.Fatalf("Expected empty tech history, got %d", len(messages))
	}

	var users []chat.OnlineEntry
	getJSON(t, srv.HTTP.URL+"/api/users", &users)
	if len(users) != 1 || users[0].Username != "alice" {
		t.Fatalf("Unexpected users: %+v", users)
	}

	var rooms []chat.RoomSummary
	getJSON(t, srv.HTTP.URL+"/api/rooms", &rooms)
	counts := map[string]int64{}
	for _, r := range rooms {
		counts[r.Name] = r.MessageCount
	}
	if counts["general"] != 1 || len(counts) < 4 {
		t.Fatalf("Unexpected rooms: %+v", rooms)
	}
}

func TestUploadThenAttach(t *testing.T) {
	srv := testhelpers.NewChatServer(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="notes.txt"`)
	h.Set("Content-Type", "text/plain")
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write([]byte("attached"))
	_ = mw.Close()

	resp, err := http.Post(srv.HTTP.URL+"/api/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)

	var file chat.FileAttachment
	if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
		t.Fatalf("Failed to decode upload response: %v", err)
	}

	served := testhelpers.MakeRequest(t, http.MethodGet, srv.HTTP.URL+file.URL)
	defer func() { _ = served.Body.Close() }()
	testhelpers.AssertStatusCode(t, served, http.StatusOK)
	body, _ := io.ReadAll(served.Body)
	if string(body) != "attached" {
		t.Fatalf("Unexpected served file %q", string(body))
	}

	alice := srv.Connect(t)
	testhelpers.Identify(t, alice, "alice")
	testhelpers.SendEvent(t, alice, coordinator.EventSendMessage, map[string]interface{}{"text": "see file", "file": file})
	f := testhelpers.WaitForEvent(t, alice, coordinator.EventMessageReceived, eventTimeout)
	var msg chat.Message
	f.Decode(t, &msg)
	if msg.File == nil || msg.File.Filename != file.Filename {
		t.Fatalf("Expected attachment %s, got %+v", file.Filename, msg.File)
	}

	missing := chat.FileAttachment{Filename: "0-missing.txt", MimeType: "text/plain", Size: 1, URL: "/uploads/0-missing.txt"}
	testhelpers.SendEvent(t, alice, coordinator.EventSendMessage, map[string]interface{}{"text": "ghost", "file": missing})
	var e coordinator.ErrorPayload
	testhelpers.WaitForEvent(t, alice, coordinator.EventError, eventTimeout).Decode(t, &e)
	if e.Code != coordinator.CodeUploadFailed {
		t.Fatalf("Expected %s, got %s", coordinator.CodeUploadFailed, e.Code)
	}
	testhelpers.ExpectNoEvent(t, alice, coordinator.EventMessageReceived, 200*time.Millisecond)
}

func getJSON(t *testing.T, url string, v interface{}) {
	t.Helper()
	resp := testhelpers.MakeRequest(t, http.MethodGet, url)
	defer func() { _ = resp.Body.Close() }()
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	testhelpers.AssertContentType(t, resp, "application/json")
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode %s: %v", url, err)
	}
}
