// Package rpcshim defines the JSON request/response shapes of spec §6's RPC
// surface and its configuration write-back, modeled on the teacher's
// ctrl.DeviceParams struct-tagging idiom (there driving ioctl parameters;
// here plain JSON, since this module has no RPC transport of its own —
// that transport is out of scope per spec §1).
package rpcshim

import "encoding/json"

// CreateParams mirrors the bdev_ubi_create RPC params (§6).
type CreateParams struct {
	Name         string `json:"name"`
	BaseBdev     string `json:"base_bdev"`
	ImagePath    string `json:"image_path"`
	StripeSizeKB uint32 `json:"stripe_size_kb"`
	NoSync       bool   `json:"no_sync"`
	CopyOnRead   bool   `json:"copy_on_read"`
	DirectIO     bool   `json:"directio"`
}

// DefaultCreateParams returns CreateParams with the §6 defaults applied.
func DefaultCreateParams() CreateParams {
	return CreateParams{
		StripeSizeKB: 1024,
		NoSync:       false,
		CopyOnRead:   true,
		DirectIO:     true,
	}
}

// CreateResponse carries either the created bdev's name or an error.
type CreateResponse struct {
	Name  string `json:"name,omitempty"`
	Error string `json:"error,omitempty"`
}

// DeleteParams mirrors the bdev_ubi_delete RPC params (§6).
type DeleteParams struct {
	Name string `json:"name"`
}

// DeleteResponse carries a boolean success or an error.
type DeleteResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// configDoc is the write_config wire shape: a single "create" method call
// sufficient to reconstruct the device on restart (§6).
type configDoc struct {
	Method string       `json:"method"`
	Params CreateParams `json:"params"`
}

// WriteConfig produces the JSON object spec §6 names for a device's
// create parameters, suitable for persisting alongside a host framework's
// own config file.
func WriteConfig(p CreateParams) ([]byte, error) {
	doc := configDoc{Method: "bdev_ubi_create", Params: p}
	return json.MarshalIndent(doc, "", "  ")
}
