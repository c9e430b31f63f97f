package rpcshim

import (
	"encoding/json"
	"testing"
)

func TestWriteConfig(t *testing.T) {
	p := DefaultCreateParams()
	p.Name = "ubi0"
	p.BaseBdev = "nvme0n1"
	p.ImagePath = "/images/disk.raw"

	out, err := WriteConfig(p)
	if err != nil {
		t.Fatalf("WriteConfig: %v", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc["method"] != "bdev_ubi_create" {
		t.Errorf("method = %v, want bdev_ubi_create", doc["method"])
	}
	params, ok := doc["params"].(map[string]any)
	if !ok {
		t.Fatalf("params missing or wrong type")
	}
	if params["name"] != "ubi0" {
		t.Errorf("params.name = %v, want ubi0", params["name"])
	}
	if params["base_bdev"] != "nvme0n1" {
		t.Errorf("params.base_bdev = %v, want nvme0n1", params["base_bdev"])
	}
}

func TestCreateResponseRoundTrip(t *testing.T) {
	resp := CreateResponse{Name: "ubi0"}
	out, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got CreateResponse
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Name != "ubi0" || got.Error != "" {
		t.Errorf("got %+v, want Name=ubi0", got)
	}
}

func TestDeleteParams(t *testing.T) {
	out, err := json.Marshal(DeleteParams{Name: "ubi0"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"name":"ubi0"}` {
		t.Errorf("got %s", out)
	}
}
