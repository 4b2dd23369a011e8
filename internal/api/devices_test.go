package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/riotcore/riot/internal/auth"
	"github.com/riotcore/riot/internal/device"
)

func TestDeviceCRUD(t *testing.T) {
	env := testServer(t)
	u := env.seedUser(t, "alice", auth.PrivilegeNormal, true)
	token := env.token(t, u.ID)

	// Create.
	w := env.do(t, http.MethodPost, "/api/v1/devices", token, map[string]any{
		"name":  "garden sensor",
		"dtype": 1,
		"topic": "/garden/temp/", // slashes get trimmed
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", w.Code, w.Body.String())
	}
	var d device.Device
	decode(t, w, &d)
	if d.Topic != "garden/temp" {
		t.Errorf("topic = %q, want trimmed garden/temp", d.Topic)
	}
	if !d.Activated {
		t.Error("new device should be activated")
	}

	// Duplicate topic under the same owner conflicts.
	w = env.do(t, http.MethodPost, "/api/v1/devices", token, map[string]any{
		"name": "dupe", "topic": "garden/temp",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate topic status = %d, want 409", w.Code)
	}

	// List includes it.
	w = env.do(t, http.MethodGet, "/api/v1/devices", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var list []device.Device
	decode(t, w, &list)
	if len(list) != 1 || list[0].ID != d.ID {
		t.Fatalf("list = %+v, want the created device", list)
	}

	// Get.
	w = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/devices/%d", d.ID), token, nil)
	if w.Code != http.StatusOK {
		t.Errorf("get status = %d", w.Code)
	}

	// Partial update.
	w = env.do(t, http.MethodPatch, fmt.Sprintf("/api/v1/devices/%d", d.ID), token, map[string]any{
		"name": "renamed",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", w.Code, w.Body.String())
	}
	decode(t, w, &d)
	if d.Name != "renamed" || d.Topic != "garden/temp" {
		t.Errorf("after update: name=%q topic=%q", d.Name, d.Topic)
	}

	// Soft delete.
	w = env.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/devices/%d", d.ID), token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
	w = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/devices/%d", d.ID), token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get after delete status = %d", w.Code)
	}
	decode(t, w, &d)
	if d.Activated {
		t.Error("device still activated after delete")
	}
}

func TestDevice_ForeignIsNotFound(t *testing.T) {
	env := testServer(t)
	alice := env.seedUser(t, "alice", auth.PrivilegeNormal, true)
	bob := env.seedUser(t, "bob", auth.PrivilegeNormal, true)
	bobToken := env.token(t, bob.ID)

	w := env.do(t, http.MethodPost, "/api/v1/devices", env.token(t, alice.ID), map[string]any{
		"name": "private", "topic": "home/secret",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d", w.Code)
	}
	var d device.Device
	decode(t, w, &d)

	paths := []struct {
		method, path string
		body         any
	}{
		{http.MethodGet, fmt.Sprintf("/api/v1/devices/%d", d.ID), nil},
		{http.MethodPatch, fmt.Sprintf("/api/v1/devices/%d", d.ID), map[string]any{"name": "stolen"}},
		{http.MethodDelete, fmt.Sprintf("/api/v1/devices/%d", d.ID), nil},
		{http.MethodGet, fmt.Sprintf("/api/v1/devices/%d/records", d.ID), nil},
		{http.MethodPost, fmt.Sprintf("/api/v1/devices/%d/records", d.ID), map[string]any{"payload": "42"}},
	}
	for _, p := range paths {
		w := env.do(t, p.method, p.path, bobToken, p.body)
		if w.Code != http.StatusNotFound {
			t.Errorf("%s %s as bob: status = %d, want 404", p.method, p.path, w.Code)
		}
	}
}

func TestRecordsOverHTTP(t *testing.T) {
	env := testServer(t)
	u := env.seedUser(t, "alice", auth.PrivilegeNormal, true)
	token := env.token(t, u.ID)

	w := env.do(t, http.MethodPost, "/api/v1/devices", token, map[string]any{
		"name": "meter", "topic": "home/meter",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d", w.Code)
	}
	var d device.Device
	decode(t, w, &d)

	for i := 0; i < 3; i++ {
		w = env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/devices/%d/records", d.ID), token, map[string]any{
			"payload": fmt.Sprintf("reading-%d", i),
		})
		if w.Code != http.StatusCreated {
			t.Fatalf("insert %d status = %d, body %s", i, w.Code, w.Body.String())
		}
	}

	w = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/devices/%d/records", d.ID), token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var records []device.Record
	decode(t, w, &records)
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	if string(records[0].Payload) != "reading-2" {
		t.Errorf("first record = %q, want newest first", records[0].Payload)
	}

	// Limit applies.
	w = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/devices/%d/records?limit=1", d.ID), token, nil)
	decode(t, w, &records)
	if len(records) != 1 {
		t.Errorf("got %d records with limit=1", len(records))
	}

	// Inserting touched last_update.
	w = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/devices/%d", d.ID), token, nil)
	decode(t, w, &d)
	if d.LastUpdate.IsZero() {
		t.Error("last_update not touched by record insert")
	}
}
