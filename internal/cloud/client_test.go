package cloud

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"duoxme-bridge/internal/model"
)

func TestPairings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pairing/api/v3/pairings/me" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{
				"deviceId": "dev1",
				"tag":      "Home",
				"accessDoorMap": map[string]any{
					"ZERO": map[string]any{
						"title":    "Street door",
						"accessId": map[string]int{"block": 1, "subblock": 2, "number": 3},
						"visible":  true,
					},
				},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL)
	pairings, err := c.Pairings(context.Background(), "tok")
	if err != nil {
		t.Fatalf("Pairings: %v", err)
	}
	if len(pairings) != 1 || pairings[0].DeviceID != "dev1" {
		t.Fatalf("unexpected pairings: %+v", pairings)
	}
	door, ok := pairings[0].AccessDoorMap["ZERO"]
	if !ok || door.AccessID.Number != 3 || !door.Visible {
		t.Fatalf("unexpected door: %+v", door)
	}
}

func TestOpenDoor_FailureIsErrorNotPanic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL)
	err := c.OpenDoor(context.Background(), "tok", "dev1", model.AccessID{Block: 1, Subblock: 2, Number: 3})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestOpenDoor_PayloadAndPath(t *testing.T) {
	var gotPath string
	var gotBody model.AccessID
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL)
	if err := c.OpenDoor(context.Background(), "tok", "dev1", model.AccessID{Block: 1, Subblock: 2, Number: 3}); err != nil {
		t.Fatalf("OpenDoor: %v", err)
	}
	if gotPath != "/deviceaction/api/v1/device/dev1/directed-opendoor" {
		t.Fatalf("unexpected path: %s", gotPath)
	}
	if gotBody != (model.AccessID{Block: 1, Subblock: 2, Number: 3}) {
		t.Fatalf("unexpected body: %+v", gotBody)
	}
}

func TestAcknowledgeNotification_Body(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/callmanager/api/v1/message/ack" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL)
	if err := c.AcknowledgeNotification(context.Background(), "tok", "msg-1"); err != nil {
		t.Fatalf("AcknowledgeNotification: %v", err)
	}
	if got["attended"] != true || got["fcmMessageId"] != "msg-1" {
		t.Fatalf("unexpected ack body: %v", got)
	}
}

func TestPhoto_TwoStepFetch(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/callManager/api/v1/photocall", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("photoId") != "ph1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"url": srv.URL + "/signed/ph1"})
	})
	mux.HandleFunc("/signed/ph1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("jpeg-bytes"))
	})

	c := NewClient(srv.Client(), srv.URL)
	data, err := c.Photo(context.Background(), "tok", "ph1")
	if err != nil {
		t.Fatalf("Photo: %v", err)
	}
	if string(data) != "jpeg-bytes" {
		t.Fatalf("unexpected photo bytes: %q", string(data))
	}
}

func TestRegisterPushToken_ActiveFlag(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/notification/api/v1/apptoken" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL)
	if err := c.RegisterPushToken(context.Background(), "tok", "device-token", false); err != nil {
		t.Fatalf("RegisterPushToken: %v", err)
	}
	if got["token"] != "device-token" || got["active"] != false {
		t.Fatalf("unexpected body: %v", got)
	}
	if got["appVersion"] != "3.3.2" || got["os"] != "Android" {
		t.Fatalf("unexpected client fields: %v", got)
	}
}
